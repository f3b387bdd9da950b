package domain

import (
	"time"

	"github.com/google/uuid"
)

// SuggestedReply is a generated draft for a record. Only IsUsed changes
// after creation.
type SuggestedReply struct {
	ID          uuid.UUID `json:"id"`
	RecordID    uuid.UUID `json:"record_id"`
	Text        string    `json:"suggested_text"`
	Confidence  float64   `json:"confidence"`
	ContextUsed string    `json:"context_used"`
	IsUsed      bool      `json:"is_used"`
	CreatedAt   time.Time `json:"created_at"`
}

// KnowledgeEntry is a curated corpus item used as grounding context.
type KnowledgeEntry struct {
	ID        uuid.UUID `json:"id" yaml:"-"`
	Title     string    `json:"title" yaml:"title"`
	Content   string    `json:"content" yaml:"content"`
	Category  string    `json:"category" yaml:"category"`
	Tags      []string  `json:"tags" yaml:"tags"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

const (
	DefaultReplyTopN         = 5
	DefaultReplyContextLimit = 500
	SuggestedReplyConfidence = 0.85
)
