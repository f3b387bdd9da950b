package in

import (
	"context"

	"inbox_worker/core/domain"

	"github.com/google/uuid"
)

type ReplyService interface {
	Suggest(ctx context.Context, recordID uuid.UUID) (*domain.SuggestedReply, error)
	ListForRecord(ctx context.Context, recordID uuid.UUID) ([]*domain.SuggestedReply, error)
	MarkUsed(ctx context.Context, replyID uuid.UUID) (*domain.SuggestedReply, error)
}
