package realtime

import (
	"context"
	"fmt"

	"inbox_worker/core/domain"
	"inbox_worker/core/port/out"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ChannelRecordEvents is the pub/sub channel carrying record events between
// worker and API processes.
const ChannelRecordEvents = "realtime:records"

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisRelay publishes events through Redis pub/sub so that events raised in
// a worker process reach SSE clients connected to an API process. Local
// subscriptions are served by the wrapped SSEAdapter; Run feeds it.
type RedisRelay struct {
	client  publisher
	sub     *redis.Client
	local   *SSEAdapter
	channel string
	log     zerolog.Logger
}

// NewRedisRelay creates a relay over client delivering into local.
func NewRedisRelay(client *redis.Client, local *SSEAdapter, log zerolog.Logger) *RedisRelay {
	r := newRelay(client, local, log)
	r.sub = client
	return r
}

func newRelay(client publisher, local *SSEAdapter, log zerolog.Logger) *RedisRelay {
	return &RedisRelay{
		client:  client,
		local:   local,
		channel: ChannelRecordEvents,
		log:     log.With().Str("component", "realtime_relay").Logger(),
	}
}

func (r *RedisRelay) Subscribe(clientID string) <-chan *domain.RealtimeEvent {
	return r.local.Subscribe(clientID)
}

func (r *RedisRelay) Unsubscribe(clientID string, ch <-chan *domain.RealtimeEvent) {
	r.local.Unsubscribe(clientID, ch)
}

func (r *RedisRelay) ConnectedCount() int {
	return r.local.ConnectedCount()
}

// Broadcast publishes the event. Sequence numbers are assigned by the
// receiving adapter.
func (r *RedisRelay) Broadcast(ctx context.Context, event *domain.RealtimeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal realtime event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish realtime event: %w", err)
	}
	return nil
}

// Run delivers published events to local subscribers until ctx ends.
func (r *RedisRelay) Run(ctx context.Context) error {
	if r.sub == nil {
		return fmt.Errorf("realtime relay has no subscriber connection")
	}

	ps := r.sub.Subscribe(ctx, r.channel)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.log.Info().Str("channel", r.channel).Msg("realtime relay started")

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.deliver(ctx, []byte(msg.Payload))
		}
	}
}

func (r *RedisRelay) deliver(ctx context.Context, payload []byte) {
	var event domain.RealtimeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		r.log.Warn().Err(err).Msg("dropping malformed realtime event")
		return
	}
	r.local.Broadcast(ctx, &event)
}

var _ out.RealtimePort = (*RedisRelay)(nil)
