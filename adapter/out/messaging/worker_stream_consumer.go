package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"inbox_worker/core/port/out"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// JobHandler takes ownership of a decoded job. ack is called once the job
// has been processed; a nil error acknowledges the stream entry. A non-nil
// return means the job was not accepted and the entry stays pending.
type JobHandler interface {
	HandleJob(ctx context.Context, job *out.DispatchJob, ack func(err error)) error
}

// streamClient is the part of *redis.Client the consumer uses.
type streamClient interface {
	streamWriter
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XPendingExt(ctx context.Context, a *redis.XPendingExtArgs) *redis.XPendingExtCmd
	XClaim(ctx context.Context, a *redis.XClaimArgs) *redis.XMessageSliceCmd
	XRange(ctx context.Context, stream, start, stop string) *redis.XMessageSliceCmd
}

// Consumer reads the dispatch stream through a consumer group and hands the
// jobs to the worker pool.
type Consumer struct {
	client   streamClient
	group    string
	consumer string
	stream   string
	handler  JobHandler
	log      zerolog.Logger

	readCount            int64
	block                time.Duration
	pendingCheckInterval time.Duration
	pendingIdleTime      time.Duration
	maxRetries           int
}

// ConsumerConfig holds consumer configuration.
type ConsumerConfig struct {
	Group    string
	Consumer string
	Stream   string
	Handler  JobHandler
	Logger   zerolog.Logger

	// optional
	ReadCount            int64
	Block                time.Duration
	PendingCheckInterval time.Duration
	PendingIdleTime      time.Duration
	MaxRetries           int
}

// NewConsumer creates a new Consumer.
func NewConsumer(client *redis.Client, cfg *ConsumerConfig) *Consumer {
	return newConsumer(client, cfg)
}

func newConsumer(client streamClient, cfg *ConsumerConfig) *Consumer {
	c := &Consumer{
		client:               client,
		group:                cfg.Group,
		consumer:             cfg.Consumer,
		stream:               cfg.Stream,
		handler:              cfg.Handler,
		log:                  cfg.Logger.With().Str("component", "stream_consumer").Logger(),
		readCount:            cfg.ReadCount,
		block:                cfg.Block,
		pendingCheckInterval: cfg.PendingCheckInterval,
		pendingIdleTime:      cfg.PendingIdleTime,
		maxRetries:           cfg.MaxRetries,
	}
	if c.stream == "" {
		c.stream = StreamDispatch
	}
	if c.group == "" {
		c.group = "dispatchers"
	}
	if c.readCount <= 0 {
		c.readCount = 10
	}
	if c.block <= 0 {
		c.block = 5 * time.Second
	}
	if c.pendingCheckInterval <= 0 {
		c.pendingCheckInterval = 30 * time.Second
	}
	if c.pendingIdleTime <= 0 {
		c.pendingIdleTime = 2 * time.Minute
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 3
	}
	return c
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	c.log.Info().
		Str("group", c.group).
		Str("consumer", c.consumer).
		Str("stream", c.stream).
		Msg("starting consumer")

	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	go c.processPendingMessages(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msgs, err := c.readMessages(ctx)
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error().Err(err).Msg("error reading from stream")
			sleepCtx(ctx, time.Second)
			continue
		}

		for _, msg := range msgs {
			if !c.handleMessage(ctx, msg) {
				// pool is full: stop reading, the rest stay pending
				sleepCtx(ctx, 100*time.Millisecond)
				break
			}
		}
	}
}

// ensureGroup creates the consumer group if it doesn't exist.
func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s: %w", c.group, err)
	}
	return nil
}

func (c *Consumer) readMessages(ctx context.Context) ([]redis.XMessage, error) {
	result, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.readCount,
		Block:    c.block,
	}).Result()
	if err != nil {
		return nil, err
	}

	var msgs []redis.XMessage
	for _, s := range result {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

// handleMessage decodes one entry and passes it on. It returns false when
// the handler refused the job.
func (c *Consumer) handleMessage(ctx context.Context, msg redis.XMessage) bool {
	job, err := decodeJob(msg)
	if err != nil {
		// a malformed entry never gets better; park it and move on
		c.log.Error().Err(err).Str("id", msg.ID).Msg("invalid stream entry")
		if err := c.moveToDeadLetterQueue(ctx, msg, err.Error()); err != nil {
			c.log.Error().Err(err).Str("id", msg.ID).Msg("error moving message to DLQ")
			return true
		}
		c.ack(msg.ID)
		return true
	}

	id := msg.ID
	err = c.handler.HandleJob(ctx, job, func(err error) {
		if err != nil {
			c.log.Warn().Err(err).Str("id", id).Msg("dispatch failed, leaving entry pending")
			return
		}
		c.ack(id)
	})
	if err != nil {
		c.log.Warn().Err(err).Str("id", id).Msg("job not accepted")
		return false
	}
	return true
}

func (c *Consumer) ack(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.client.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		c.log.Error().Err(err).Str("id", id).Msg("error acknowledging message")
	}
}

func (c *Consumer) processPendingMessages(ctx context.Context) {
	ticker := time.NewTicker(c.pendingCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.claimPending(ctx)
		}
	}
}

// claimPending claims entries left pending by crashed consumers or failed
// dispatches. Entries delivered maxRetries times go to the DLQ.
func (c *Consumer) claimPending(ctx context.Context) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Idle:   c.pendingIdleTime,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Error().Err(err).Msg("error getting pending messages")
		}
		return
	}

	for _, p := range pending {
		if p.Idle < c.pendingIdleTime {
			continue
		}

		if int(p.RetryCount) >= c.maxRetries {
			c.log.Warn().
				Str("id", p.ID).
				Int64("retries", p.RetryCount).
				Msg("message exceeded max retries, moving to DLQ")

			msgs, err := c.client.XRange(ctx, c.stream, p.ID, p.ID).Result()
			if err != nil {
				c.log.Error().Err(err).Str("id", p.ID).Msg("error reading message for DLQ")
				continue
			}
			if len(msgs) > 0 {
				if err := c.moveToDeadLetterQueue(ctx, msgs[0], "max retries exceeded"); err != nil {
					c.log.Error().Err(err).Str("id", p.ID).Msg("error moving message to DLQ")
					continue
				}
			}
			c.ack(p.ID)
			continue
		}

		claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   c.stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  c.pendingIdleTime,
			Messages: []string{p.ID},
		}).Result()
		if err != nil {
			c.log.Error().Err(err).Str("id", p.ID).Msg("error claiming message")
			continue
		}

		for _, msg := range claimed {
			c.log.Info().
				Str("id", msg.ID).
				Str("previous_consumer", p.Consumer).
				Int64("retries", p.RetryCount).
				Msg("reprocessing pending message")
			if !c.handleMessage(ctx, msg) {
				return
			}
		}
	}
}

// moveToDeadLetterQueue copies an entry to dlq:{stream}.
func (c *Consumer) moveToDeadLetterQueue(ctx context.Context, msg redis.XMessage, reason string) error {
	dlqStream := dlqPrefix + c.stream

	values := map[string]interface{}{
		"original_stream": c.stream,
		"original_id":     msg.ID,
		"failed_at":       time.Now().UTC().Format(time.RFC3339),
		"consumer":        c.consumer,
		"group":           c.group,
		"reason":          reason,
	}
	for k, v := range msg.Values {
		values["original_"+k] = v
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{Stream: dlqStream, Values: values}).Err(); err != nil {
		return fmt.Errorf("failed to add message to DLQ: %w", err)
	}

	c.log.Info().
		Str("dlq_stream", dlqStream).
		Str("original_id", msg.ID).
		Str("reason", reason).
		Msg("message moved to DLQ")
	return nil
}

func decodeJob(msg redis.XMessage) (*out.DispatchJob, error) {
	data, ok := msg.Values["data"]
	if !ok {
		return nil, fmt.Errorf("invalid message format: missing data field")
	}
	dataStr, ok := data.(string)
	if !ok {
		return nil, fmt.Errorf("invalid message format: data is not a string")
	}

	var job out.DispatchJob
	if err := json.Unmarshal([]byte(dataStr), &job); err != nil {
		return nil, fmt.Errorf("invalid job payload: %w", err)
	}
	if job.RecordID == uuid.Nil {
		return nil, fmt.Errorf("invalid job payload: missing record_id")
	}
	return &job, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
