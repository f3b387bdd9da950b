package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Record - inbound message or email
// =============================================================================

type RecordKind string

const (
	RecordKindMessage RecordKind = "message"
	RecordKindEmail   RecordKind = "email"
)

func (k RecordKind) Valid() bool {
	return k == RecordKindMessage || k == RecordKindEmail
}

// Platform is the chat platform for messages or the mail provider for emails.
type Platform string

const (
	PlatformWhatsApp Platform = "whatsapp"
	PlatformTelegram Platform = "telegram"
	PlatformSlack    Platform = "slack"
	PlatformDiscord  Platform = "discord"

	ProviderGmail    Platform = "gmail"
	ProviderOutlook  Platform = "outlook"
	ProviderYahoo    Platform = "yahoo"
	ProviderIMAP     Platform = "imap"
	ProviderExchange Platform = "exchange"
)

var platformsByKind = map[RecordKind][]Platform{
	RecordKindMessage: {PlatformWhatsApp, PlatformTelegram, PlatformSlack, PlatformDiscord},
	RecordKindEmail:   {ProviderGmail, ProviderOutlook, ProviderYahoo, ProviderIMAP, ProviderExchange},
}

// PlatformsFor returns the platforms accepted for a record kind.
func PlatformsFor(kind RecordKind) []Platform {
	return platformsByKind[kind]
}

// ValidPlatform reports whether p belongs to kind.
func ValidPlatform(kind RecordKind, p Platform) bool {
	for _, candidate := range platformsByKind[kind] {
		if candidate == p {
			return true
		}
	}
	return false
}

// ClassificationStatus tracks a record through dispatch.
type ClassificationStatus string

const (
	StatusUnclassified ClassificationStatus = "unclassified"
	StatusInFlight     ClassificationStatus = "in_flight"
	StatusClassified   ClassificationStatus = "classified"
	StatusFailed       ClassificationStatus = "failed"
)

func (s ClassificationStatus) Valid() bool {
	switch s {
	case StatusUnclassified, StatusInFlight, StatusClassified, StatusFailed:
		return true
	}
	return false
}

// Record generalizes chat messages and emails.
// Classification is nil unless Status is StatusClassified.
type Record struct {
	ID          uuid.UUID      `json:"id"`
	Kind        RecordKind     `json:"kind"`
	Platform    Platform       `json:"platform"`
	ExternalID  string         `json:"external_id,omitempty"`
	SenderID    string         `json:"sender_id,omitempty"`
	SenderName  string         `json:"sender_name"`
	SenderEmail string         `json:"sender_email,omitempty"`
	Recipients  []string       `json:"recipients,omitempty"`
	Subject     string         `json:"subject,omitempty"`
	Content     string         `json:"content"`
	ContentHTML string         `json:"content_html,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ReceivedAt  time.Time      `json:"received_at"`

	Status         ClassificationStatus `json:"status"`
	Classification *Classification      `json:"classification,omitempty"`
	ClassifiedAt   *time.Time           `json:"classified_at,omitempty"`
	RetryCount     int                  `json:"retry_count"`
	LastError      string               `json:"last_error,omitempty"`
	ClaimedAt      *time.Time           `json:"claimed_at,omitempty"`

	IsRead    bool      `json:"is_read"`
	IsFlagged bool      `json:"is_flagged"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Text returns the content sent to the classifier. Emails carry their subject.
func (r *Record) Text() string {
	if r.Kind == RecordKindEmail && strings.TrimSpace(r.Subject) != "" {
		return "Subject: " + r.Subject + "\n\n" + r.Content
	}
	return r.Content
}

// SenderLabel picks the most readable sender identity.
func (r *Record) SenderLabel() string {
	switch {
	case r.SenderName != "":
		return r.SenderName
	case r.SenderEmail != "":
		return r.SenderEmail
	case r.SenderID != "":
		return r.SenderID
	}
	return "unknown"
}

// =============================================================================
// Query filter
// =============================================================================

// PriorityBucket groups priority scores for filtering.
type PriorityBucket string

const (
	PriorityHigh   PriorityBucket = "high"
	PriorityMedium PriorityBucket = "medium"
	PriorityLow    PriorityBucket = "low"
)

// Bucket thresholds: high is strictly above 0.7, low strictly below 0.3.
const (
	PriorityHighThreshold = 0.7
	PriorityLowThreshold  = 0.3
)

// BucketFor returns the bucket a priority score falls into.
func BucketFor(priority float64) PriorityBucket {
	switch {
	case priority > PriorityHighThreshold:
		return PriorityHigh
	case priority < PriorityLowThreshold:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

func (b PriorityBucket) Valid() bool {
	return b == PriorityHigh || b == PriorityMedium || b == PriorityLow
}

type RecordFilter struct {
	Kind      RecordKind
	Platform  Platform
	Category  Category
	Status    ClassificationStatus
	Priority  PriorityBucket
	IsRead    *bool
	IsFlagged *bool
	Search    string
	Limit     int
	Offset    int
}

const (
	DefaultRecordLimit = 50
	MaxRecordLimit     = 200
)

// Normalize clamps paging values.
func (f *RecordFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultRecordLimit
	}
	if f.Limit > MaxRecordLimit {
		f.Limit = MaxRecordLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	f.Search = strings.TrimSpace(f.Search)
}

// Matches applies the filter to a single record. Stores that cannot push
// the filter down use it directly.
func (f *RecordFilter) Matches(r *Record) bool {
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	if f.Platform != "" && r.Platform != f.Platform {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Category != "" && (r.Classification == nil || r.Classification.Category != f.Category) {
		return false
	}
	if f.Priority != "" && (r.Classification == nil || BucketFor(r.Classification.Priority) != f.Priority) {
		return false
	}
	if f.IsRead != nil && r.IsRead != *f.IsRead {
		return false
	}
	if f.IsFlagged != nil && r.IsFlagged != *f.IsFlagged {
		return false
	}
	if f.Search != "" {
		q := strings.ToLower(f.Search)
		fields := []string{r.Subject, r.SenderName, r.SenderEmail, r.Content}
		found := false
		for _, field := range fields {
			if strings.Contains(strings.ToLower(field), q) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// RecordPage is a page of query results.
type RecordPage struct {
	Records []*Record `json:"records"`
	Total   int       `json:"total"`
	Limit   int       `json:"limit"`
	Offset  int       `json:"offset"`
}
