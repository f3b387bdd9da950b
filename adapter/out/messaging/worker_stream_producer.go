// Package messaging carries dispatch jobs over Redis Streams when the API
// and the workers run as separate processes.
package messaging

import (
	"context"
	"fmt"
	"time"

	"inbox_worker/core/port/out"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Stream names
const (
	StreamDispatch = "dispatch:classify"

	dlqPrefix = "dlq:"
)

// streamWriter is the part of *redis.Client the producer uses.
type streamWriter interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisProducer implements out.DelayedDispatchQueue using Redis Streams.
type RedisProducer struct {
	client streamWriter
	stream string
	maxLen int64
	log    zerolog.Logger
}

// NewRedisProducer creates a producer for the dispatch stream. maxLen caps
// the stream approximately; 0 leaves it unbounded.
func NewRedisProducer(client *redis.Client, maxLen int64, log zerolog.Logger) *RedisProducer {
	return newProducer(client, maxLen, log)
}

func newProducer(client streamWriter, maxLen int64, log zerolog.Logger) *RedisProducer {
	return &RedisProducer{
		client: client,
		stream: StreamDispatch,
		maxLen: maxLen,
		log:    log.With().Str("component", "stream_producer").Logger(),
	}
}

// Enqueue publishes a dispatch job.
func (p *RedisProducer) Enqueue(ctx context.Context, job *out.DispatchJob) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	return p.publish(ctx, p.stream, job)
}

// EnqueueAfter publishes the job once delay has passed. The timer lives in
// this process; if it exits first the reconcile sweep re-dispatches the
// record.
func (p *RedisProducer) EnqueueAfter(job *out.DispatchJob, delay time.Duration) {
	copied := *job
	time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		copied.EnqueuedAt = time.Time{}
		if err := p.Enqueue(ctx, &copied); err != nil {
			p.log.Warn().
				Err(err).
				Str("record_id", copied.RecordID.String()).
				Int("attempt", copied.Attempt).
				Msg("delayed dispatch not published")
		}
	})
}

// publish publishes a job to a stream using go-redis.
func (p *RedisProducer) publish(ctx context.Context, stream string, job interface{}) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: stream,
		ID:     "*",
		Values: map[string]interface{}{
			"data": string(data),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", stream, err)
	}
	return nil
}

var _ out.DelayedDispatchQueue = (*RedisProducer)(nil)
