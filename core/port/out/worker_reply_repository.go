package out

import (
	"context"
	"time"

	"inbox_worker/core/domain"

	"github.com/google/uuid"
)

type ReplyRepository interface {
	Create(ctx context.Context, reply *domain.SuggestedReply) error
	ListByRecord(ctx context.Context, recordID uuid.UUID) ([]*domain.SuggestedReply, error)
	MarkUsed(ctx context.Context, id uuid.UUID) (*domain.SuggestedReply, error)
}

// KnowledgeRepository is read-only for the pipeline. Upsert serves the seed loader.
type KnowledgeRepository interface {
	List(ctx context.Context) ([]*domain.KnowledgeEntry, error)
	Upsert(ctx context.Context, entries []*domain.KnowledgeEntry) (int, error)
}

// KnowledgeCache holds a snapshot of the corpus.
type KnowledgeCache interface {
	Get(ctx context.Context) ([]*domain.KnowledgeEntry, bool)
	Set(ctx context.Context, entries []*domain.KnowledgeEntry, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}
