package out

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DispatchJob schedules classification of one record.
type DispatchJob struct {
	RecordID   uuid.UUID `json:"record_id"`
	Force      bool      `json:"force,omitempty"`
	Attempt    int       `json:"attempt,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// DispatchQueue accepts dispatch jobs without blocking the caller.
type DispatchQueue interface {
	Enqueue(ctx context.Context, job *DispatchJob) error
}

// DelayedDispatchQueue can schedule a job for later.
type DelayedDispatchQueue interface {
	DispatchQueue
	EnqueueAfter(job *DispatchJob, delay time.Duration)
}
