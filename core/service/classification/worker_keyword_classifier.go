package classification

import (
	"context"
	"strings"

	"inbox_worker/core/domain"
	"inbox_worker/core/port/out"
)

// =============================================================================
// Keyword Classifier - deterministic, no upstream call
// =============================================================================

// KeywordClassifier classifies by keyword patterns. It runs when no LLM is
// configured and in the simulate command.
type KeywordClassifier struct {
	patterns map[domain.RecordKind][]keywordPattern
}

type keywordPattern struct {
	keywords   []string
	category   domain.Category
	confidence float64
	sentiment  float64
	urgent     bool
	// email priority; messages derive theirs from the category
	priority float64
}

var _ out.Classifier = (*KeywordClassifier)(nil)

// Critical phrases force urgent, whatever else matches.
var criticalPhrases = []string{
	"is down",
	"server down",
	"service down",
	"outage",
	"crashed",
	"security breach",
	"data breach",
	"unauthorized access",
}

func NewKeywordClassifier() *KeywordClassifier {
	c := &KeywordClassifier{}
	c.initPatterns()
	return c
}

func (c *KeywordClassifier) Classify(ctx context.Context, text string, kind domain.RecordKind) (*domain.Classification, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewClassifierError(domain.ClassifierTimeout, err)
	}
	patterns, ok := c.patterns[kind]
	if !ok {
		return nil, domain.NewValidationError("kind", "unknown record kind")
	}

	lower := strings.ToLower(text)

	if kind == domain.RecordKindMessage {
		for _, phrase := range criticalPhrases {
			if strings.Contains(lower, phrase) {
				return &domain.Classification{
					Category:   domain.CategoryUrgent,
					Confidence: 0.95,
					Sentiment:  -0.8,
					Priority:   domain.MessagePriority(domain.CategoryUrgent, 0.95, true),
					Urgent:     true,
					Rationale:  "keyword:critical:" + phrase,
				}, nil
			}
		}
	}

	for _, p := range patterns {
		for _, kw := range p.keywords {
			if !strings.Contains(lower, kw) {
				continue
			}
			return c.result(kind, p, "keyword:"+kw), nil
		}
	}

	// nothing matched: the catch-all of each taxonomy, low confidence
	fallback := keywordPattern{category: domain.CategoryGeneralQuery, confidence: 0.4}
	if kind == domain.RecordKindEmail {
		fallback = keywordPattern{category: domain.CategorySupport, confidence: 0.3, priority: 0.4}
	}
	return c.result(kind, fallback, "keyword:none"), nil
}

func (c *KeywordClassifier) result(kind domain.RecordKind, p keywordPattern, rationale string) *domain.Classification {
	priority := p.priority
	if kind == domain.RecordKindMessage {
		priority = domain.MessagePriority(p.category, p.confidence, p.urgent)
	}
	return &domain.Classification{
		Category:   p.category,
		Confidence: p.confidence,
		Sentiment:  p.sentiment,
		Priority:   priority,
		Urgent:     p.urgent,
		Rationale:  rationale,
	}
}

// Pattern order matters: the first match wins.
func (c *KeywordClassifier) initPatterns() {
	c.patterns = map[domain.RecordKind][]keywordPattern{
		domain.RecordKindMessage: {
			{
				keywords:   []string{"urgent", "asap", "emergency", "immediately"},
				category:   domain.CategoryUrgent,
				confidence: 0.85,
				sentiment:  -0.5,
				urgent:     true,
			},
			{
				keywords:   []string{"free money", "click here", "winner", "crypto giveaway", "limited offer"},
				category:   domain.CategorySpam,
				confidence: 0.9,
				sentiment:  0.1,
			},
			{
				keywords:   []string{"pricing", "quote", "purchase", "enterprise plan", "demo", "buy"},
				category:   domain.CategorySalesLead,
				confidence: 0.8,
				sentiment:  0.5,
			},
			{
				keywords:   []string{"error", "bug", "not working", "broken", "help", "issue", "can't log in"},
				category:   domain.CategorySupportRequest,
				confidence: 0.75,
				sentiment:  -0.3,
			},
		},
		domain.RecordKindEmail: {
			{
				keywords:   []string{"out of office", "on vacation", "automatic reply", "away until"},
				category:   domain.CategoryOutOfOffice,
				confidence: 0.95,
				priority:   0.1,
			},
			{
				keywords:   []string{"unsubscribe", "you have won", "click here", "limited offer"},
				category:   domain.CategorySpam,
				confidence: 0.9,
				priority:   0.05,
			},
			{
				keywords:   []string{"meeting confirmed", "calendar invite", "booked", "see you on"},
				category:   domain.CategoryMeetingBooked,
				confidence: 0.85,
				sentiment:  0.6,
				priority:   0.8,
			},
			{
				keywords:   []string{"not interested", "no thanks", "remove me", "stop emailing"},
				category:   domain.CategoryNotInterested,
				confidence: 0.85,
				sentiment:  -0.4,
				priority:   0.2,
			},
			{
				keywords:   []string{"pricing", "quote", "proposal", "purchase order"},
				category:   domain.CategorySalesLead,
				confidence: 0.8,
				sentiment:  0.5,
				priority:   0.75,
			},
			{
				keywords:   []string{"interested", "tell me more", "sounds great", "let's talk"},
				category:   domain.CategoryInterested,
				confidence: 0.8,
				sentiment:  0.6,
				priority:   0.7,
			},
			{
				keywords:   []string{"help", "issue", "problem", "ticket", "not working"},
				category:   domain.CategorySupport,
				confidence: 0.75,
				sentiment:  -0.2,
				priority:   0.5,
			},
		},
	}
}
