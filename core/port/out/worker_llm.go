package out

import (
	"context"

	"inbox_worker/core/domain"
)

// Classifier calls the external classification service.
// Failures are *domain.ClassifierError.
type Classifier interface {
	Classify(ctx context.Context, text string, kind domain.RecordKind) (*domain.Classification, error)
}

// ReplyGenerator drafts a reply grounded on knowledge context.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, req *ReplyPrompt) (string, error)
}

type ReplyPrompt struct {
	Kind     domain.RecordKind
	Sender   string
	Subject  string
	Content  string
	Category domain.Category
	Context  string
}
