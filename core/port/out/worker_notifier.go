package out

import (
	"context"

	"inbox_worker/core/domain"
)

// NotificationChannel delivers one alert to one outbound endpoint.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, event *domain.NotificationEvent) error
}

// Notifier is the router as seen by the dispatcher.
type Notifier interface {
	NotifyAsync(event *domain.NotificationEvent)
}
