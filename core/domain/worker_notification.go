package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// NotificationEvent - outbound alert derived from a classified record
// =============================================================================

type AlertType string

const (
	AlertUrgentMessage AlertType = "urgent_message"
	AlertSalesLead     AlertType = "sales_lead"
	AlertHighPriority  AlertType = "high_priority"
)

// NotificationEvent carries what a channel needs to render an alert.
// It is not persisted.
type NotificationEvent struct {
	Type       AlertType  `json:"type"`
	RecordID   uuid.UUID  `json:"record_id"`
	Kind       RecordKind `json:"kind"`
	Platform   Platform   `json:"platform"`
	Sender     string     `json:"sender"`
	Subject    string     `json:"subject,omitempty"`
	Excerpt    string     `json:"excerpt"`
	Category   Category   `json:"category"`
	Confidence float64    `json:"confidence"`
	Sentiment  float64    `json:"sentiment"`
	Priority   float64    `json:"priority"`
	Urgent     bool       `json:"urgent"`
	Timestamp  time.Time  `json:"timestamp"`
	Link       string     `json:"link,omitempty"`
}

// DefaultExcerptLength caps alert excerpts, in runes.
const DefaultExcerptLength = 280

// NewNotificationEvent builds an event from a classified record.
// It returns nil when the record carries no classification.
func NewNotificationEvent(r *Record, excerptLen int) *NotificationEvent {
	if r == nil || r.Classification == nil {
		return nil
	}
	if excerptLen <= 0 {
		excerptLen = DefaultExcerptLength
	}
	c := r.Classification
	ts := r.ReceivedAt
	if r.ClassifiedAt != nil {
		ts = *r.ClassifiedAt
	}
	return &NotificationEvent{
		Type:       c.AlertType(),
		RecordID:   r.ID,
		Kind:       r.Kind,
		Platform:   r.Platform,
		Sender:     r.SenderLabel(),
		Subject:    r.Subject,
		Excerpt:    Excerpt(r.Content, excerptLen),
		Category:   c.Category,
		Confidence: c.Confidence,
		Sentiment:  c.Sentiment,
		Priority:   c.Priority,
		Urgent:     c.Urgent,
		Timestamp:  ts.UTC(),
	}
}

// Excerpt truncates s to at most n runes, ending with "..." when cut.
func Excerpt(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	if n <= 3 {
		return string(runes[:n])
	}
	return string(runes[:n-3]) + "..."
}

// DeliveryResult reports one channel's outcome for one event.
type DeliveryResult struct {
	Channel  string        `json:"channel"`
	Attempts int           `json:"attempts"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
}

func (d DeliveryResult) Delivered() bool { return d.Err == nil }

// =============================================================================
// RealtimeEvent - pushed to SSE subscribers
// =============================================================================

type EventType string

const (
	EventRecordInserted   EventType = "record.inserted"
	EventRecordUpdated    EventType = "record.updated"
	EventRecordClassified EventType = "record.classified"
	EventReplySuggested   EventType = "reply.suggested"

	EventConnected EventType = "connected"
)

type RealtimeEvent struct {
	Type      EventType `json:"type"`
	Seq       int64     `json:"seq"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}
