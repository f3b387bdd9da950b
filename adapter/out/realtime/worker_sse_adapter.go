// Package realtime fans record events out to SSE subscribers.
package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"inbox_worker/core/domain"
	"inbox_worker/core/port/out"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// SSEAdapter implements out.RealtimePort using Server-Sent Events.
type SSEAdapter struct {
	clients    map[string]chan *domain.RealtimeEvent // clientID -> channel
	mu         sync.RWMutex
	bufferSize int
	log        zerolog.Logger

	messagesSent    int64
	messagesDropped int64
	seqCounter      int64
}

// NewSSEAdapter creates a new SSE adapter.
func NewSSEAdapter(log zerolog.Logger) *SSEAdapter {
	return &SSEAdapter{
		clients:    make(map[string]chan *domain.RealtimeEvent),
		bufferSize: 256,
		log:        log.With().Str("component", "sse_adapter").Logger(),
	}
}

// Subscribe creates a subscription channel. Subscribing twice with the same
// id replaces the old channel, which is closed.
func (a *SSEAdapter) Subscribe(clientID string) <-chan *domain.RealtimeEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	if old, ok := a.clients[clientID]; ok {
		close(old)
	}
	ch := make(chan *domain.RealtimeEvent, a.bufferSize)
	a.clients[clientID] = ch

	a.log.Debug().
		Str("client_id", clientID).
		Int("total_connections", len(a.clients)).
		Msg("client subscribed")

	return ch
}

// Unsubscribe removes a subscription channel.
func (a *SSEAdapter) Unsubscribe(clientID string, ch <-chan *domain.RealtimeEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if current, ok := a.clients[clientID]; ok && (ch == nil || (<-chan *domain.RealtimeEvent)(current) == ch) {
		delete(a.clients, clientID)
		close(current)
	}

	a.log.Debug().
		Str("client_id", clientID).
		Msg("client unsubscribed")
}

// Broadcast sends an event to every subscriber. A subscriber whose buffer is
// full misses the event; the sequence number lets it notice the gap.
func (a *SSEAdapter) Broadcast(_ context.Context, event *domain.RealtimeEvent) error {
	event.Seq = atomic.AddInt64(&a.seqCounter, 1)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	for clientID, ch := range a.clients {
		select {
		case ch <- event:
			atomic.AddInt64(&a.messagesSent, 1)
		default:
			atomic.AddInt64(&a.messagesDropped, 1)
			a.log.Warn().
				Str("client_id", clientID).
				Str("event_type", string(event.Type)).
				Int64("seq", event.Seq).
				Msg("dropped event due to full buffer")
		}
	}

	return nil
}

// ConnectedCount returns the number of connected clients.
func (a *SSEAdapter) ConnectedCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.clients)
}

// GetMetrics returns adapter metrics.
func (a *SSEAdapter) GetMetrics() SSEMetrics {
	return SSEMetrics{
		Connections:     a.ConnectedCount(),
		MessagesSent:    atomic.LoadInt64(&a.messagesSent),
		MessagesDropped: atomic.LoadInt64(&a.messagesDropped),
		LastSeq:         atomic.LoadInt64(&a.seqCounter),
	}
}

// SSEMetrics holds SSE adapter metrics.
type SSEMetrics struct {
	Connections     int   `json:"connections"`
	MessagesSent    int64 `json:"messages_sent"`
	MessagesDropped int64 `json:"messages_dropped"`
	LastSeq         int64 `json:"last_seq"`
}

// =============================================================================
// SSE Hub - HTTP handler side
// =============================================================================

// SSEHub manages SSE connections for HTTP handlers.
type SSEHub struct {
	adapter           *SSEAdapter
	heartbeatInterval time.Duration
}

// NewSSEHub creates a new SSE hub.
func NewSSEHub(adapter *SSEAdapter, heartbeat time.Duration) *SSEHub {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &SSEHub{
		adapter:           adapter,
		heartbeatInterval: heartbeat,
	}
}

// Adapter returns the underlying adapter.
func (h *SSEHub) Adapter() *SSEAdapter {
	return h.adapter
}

// CreateClient registers a new SSE client.
func (h *SSEHub) CreateClient(clientID string) *SSEClient {
	return &SSEClient{
		ID:     clientID,
		Events: h.adapter.Subscribe(clientID),
		Done:   make(chan struct{}),
		hub:    h,
	}
}

// SSEClient represents an SSE client connection.
type SSEClient struct {
	ID     string
	Events <-chan *domain.RealtimeEvent
	Done   chan struct{}
	hub    *SSEHub
	once   sync.Once
}

// Close closes the client connection.
func (c *SSEClient) Close() {
	c.once.Do(func() {
		close(c.Done)
		c.hub.adapter.Unsubscribe(c.ID, c.Events)
	})
}

// HeartbeatInterval returns the heartbeat interval.
func (c *SSEClient) HeartbeatInterval() time.Duration {
	return c.hub.heartbeatInterval
}

// SerializeEvent converts a RealtimeEvent to the SSE data payload.
func SerializeEvent(event *domain.RealtimeEvent) ([]byte, error) {
	payload := map[string]interface{}{
		"type":      event.Type,
		"seq":       event.Seq,
		"data":      event.Data,
		"timestamp": event.Timestamp.Format(time.RFC3339),
	}
	return json.Marshal(payload)
}

var _ out.RealtimePort = (*SSEAdapter)(nil)
