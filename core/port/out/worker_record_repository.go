package out

import (
	"context"
	"time"

	"inbox_worker/core/domain"

	"github.com/google/uuid"
)

// RecordRepository persists messages and emails. Every status transition
// is a conditional update keyed on the current status.
type RecordRepository interface {
	Create(ctx context.Context, record *domain.Record) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Record, error)
	List(ctx context.Context, filter *domain.RecordFilter) (*domain.RecordPage, error)

	// Claim moves the record to in_flight when its status is one of from.
	// When claimed is false the returned record is the current state.
	Claim(ctx context.Context, id uuid.UUID, from []domain.ClassificationStatus, at time.Time) (record *domain.Record, claimed bool, err error)

	// ApplyClassification writes every classification field and sets
	// status=classified. Returns domain.ErrClaimLost if not in_flight.
	ApplyClassification(ctx context.Context, id uuid.UUID, c *domain.Classification, at time.Time) (*domain.Record, error)

	// RecordFailure increments retry_count and moves an in_flight record to
	// failed (terminal) or back to unclassified.
	RecordFailure(ctx context.Context, id uuid.UUID, reason string, terminal bool) (*domain.Record, error)

	// ReleaseStale resets in_flight claims older than claimedBefore.
	ReleaseStale(ctx context.Context, claimedBefore time.Time) ([]uuid.UUID, error)

	// ListPending returns unclassified records whose status has not changed
	// since idleSince. A failed attempt counts as a change.
	ListPending(ctx context.Context, idleSince time.Time, limit int) ([]uuid.UUID, error)

	MarkRead(ctx context.Context, id uuid.UUID, read bool) (*domain.Record, error)
	ToggleFlag(ctx context.Context, id uuid.UUID) (*domain.Record, error)
}
