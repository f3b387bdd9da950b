package in

import (
	"context"
	"time"

	"inbox_worker/core/domain"

	"github.com/google/uuid"
)

// IngestRequest is the body of a record creation request.
type IngestRequest struct {
	Kind        domain.RecordKind `json:"kind"`
	Platform    domain.Platform   `json:"platform"`
	ExternalID  string            `json:"external_id,omitempty"`
	SenderID    string            `json:"sender_id,omitempty"`
	SenderName  string            `json:"sender_name,omitempty"`
	SenderEmail string            `json:"sender_email,omitempty"`
	Recipients  []string          `json:"recipients,omitempty"`
	Subject     string            `json:"subject,omitempty"`
	Content     string            `json:"content"`
	ContentType string            `json:"content_type,omitempty"` // "text" (default) or "html"
	ReceivedAt  *time.Time        `json:"received_at,omitempty"`
	Metadata    map[string]any    `json:"metadata,omitempty"`
}

// RecordService is the synchronous record surface: ingestion plus the
// query and UI state operations.
type RecordService interface {
	Ingest(ctx context.Context, req *IngestRequest) (*domain.Record, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Record, error)
	List(ctx context.Context, filter *domain.RecordFilter) (*domain.RecordPage, error)
	MarkRead(ctx context.Context, id uuid.UUID, read bool) (*domain.Record, error)
	ToggleFlag(ctx context.Context, id uuid.UUID) (*domain.Record, error)
	Redispatch(ctx context.Context, id uuid.UUID, force bool) error
}
