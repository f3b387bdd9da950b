package out

import (
	"context"

	"inbox_worker/core/domain"
)

// RealtimePort fans record events out to subscribers.
type RealtimePort interface {
	Subscribe(clientID string) <-chan *domain.RealtimeEvent
	Unsubscribe(clientID string, ch <-chan *domain.RealtimeEvent)
	Broadcast(ctx context.Context, event *domain.RealtimeEvent) error
	ConnectedCount() int
}
