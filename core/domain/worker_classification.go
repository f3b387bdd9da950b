package domain

import (
	"fmt"
	"math"
)

// Category is a member of one of the two record taxonomies.
type Category string

// Message taxonomy
const (
	CategorySupportRequest Category = "support_request"
	CategorySalesLead      Category = "sales_lead"
	CategoryGeneralQuery   Category = "general_query"
	CategorySpam           Category = "spam"
	CategoryUrgent         Category = "urgent"
)

// Email taxonomy. sales_lead and spam are shared names, but the sets are
// validated per kind and never mixed.
const (
	CategoryInterested    Category = "interested"
	CategoryMeetingBooked Category = "meeting_booked"
	CategoryNotInterested Category = "not_interested"
	CategoryOutOfOffice   Category = "out_of_office"
	CategorySupport       Category = "support"
)

var taxonomies = map[RecordKind][]Category{
	RecordKindMessage: {
		CategorySupportRequest,
		CategorySalesLead,
		CategoryGeneralQuery,
		CategorySpam,
		CategoryUrgent,
	},
	RecordKindEmail: {
		CategoryInterested,
		CategoryMeetingBooked,
		CategoryNotInterested,
		CategorySpam,
		CategoryOutOfOffice,
		CategorySupport,
		CategorySalesLead,
	},
}

// Taxonomy returns the category set for a record kind.
func Taxonomy(kind RecordKind) []Category {
	return taxonomies[kind]
}

// ValidCategory reports whether c is in kind's taxonomy.
func ValidCategory(kind RecordKind, c Category) bool {
	for _, candidate := range taxonomies[kind] {
		if candidate == c {
			return true
		}
	}
	return false
}

// messagePriorityWeight scores message categories, which carry no priority
// of their own upstream.
var messagePriorityWeight = map[Category]float64{
	CategoryUrgent:         1.0,
	CategorySalesLead:      0.8,
	CategorySupportRequest: 0.5,
	CategoryGeneralQuery:   0.3,
	CategorySpam:           0.0,
}

// MessagePriority derives a priority score for a message classification.
func MessagePriority(category Category, confidence float64, urgent bool) float64 {
	if urgent {
		return 1.0
	}
	return clamp01(messagePriorityWeight[category] * confidence)
}

// Classification is the full set of classification fields. It is written
// to a record as a unit.
type Classification struct {
	Category   Category `json:"category"`
	Confidence float64  `json:"confidence"`
	Sentiment  float64  `json:"sentiment"`
	Priority   float64  `json:"priority"`
	Urgent     bool     `json:"urgent"`
	Rationale  string   `json:"rationale,omitempty"`
}

// Validate checks the taxonomy and every numeric range.
func (c *Classification) Validate(kind RecordKind) error {
	if c == nil {
		return fmt.Errorf("classification is nil")
	}
	if !ValidCategory(kind, c.Category) {
		return fmt.Errorf("category %q is not in the %s taxonomy", c.Category, kind)
	}
	if !inRange(c.Confidence, 0, 1) {
		return fmt.Errorf("confidence %v out of range [0,1]", c.Confidence)
	}
	if !inRange(c.Sentiment, -1, 1) {
		return fmt.Errorf("sentiment %v out of range [-1,1]", c.Sentiment)
	}
	if !inRange(c.Priority, 0, 1) {
		return fmt.Errorf("priority %v out of range [0,1]", c.Priority)
	}
	return nil
}

// NotifyPriorityThreshold is exclusive: a priority of exactly 0.7 does not notify.
const NotifyPriorityThreshold = 0.7

// ShouldNotify is the dispatch notification rule.
func (c *Classification) ShouldNotify() bool {
	if c == nil {
		return false
	}
	return c.Urgent || c.Category == CategorySalesLead || c.Priority > NotifyPriorityThreshold
}

// AlertType picks the alert type for a classification that notifies.
func (c *Classification) AlertType() AlertType {
	switch {
	case c.Urgent:
		return AlertUrgentMessage
	case c.Category == CategorySalesLead:
		return AlertSalesLead
	default:
		return AlertHighPriority
	}
}

func inRange(v, lo, hi float64) bool {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false
	}
	return v >= lo && v <= hi
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
