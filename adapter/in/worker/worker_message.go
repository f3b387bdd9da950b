package worker

import (
	"time"

	"inbox_worker/core/port/out"

	"github.com/google/uuid"
)

// Message is one unit of work handed to the pool.
type Message struct {
	ID        string
	Job       out.DispatchJob
	CreatedAt time.Time

	// done is called once the dispatch attempt finished. The stream
	// consumer uses it to acknowledge the entry.
	done func(err error)
}

func NewMessage(job *out.DispatchJob) *Message {
	msg := &Message{
		ID:        uuid.New().String(),
		Job:       *job,
		CreatedAt: time.Now(),
	}
	if msg.Job.EnqueuedAt.IsZero() {
		msg.Job.EnqueuedAt = msg.CreatedAt
	}
	return msg
}

// WithDone sets the completion callback.
func (m *Message) WithDone(fn func(err error)) *Message {
	m.done = fn
	return m
}

func (m *Message) finish(err error) {
	if m.done != nil {
		m.done(err)
	}
}
