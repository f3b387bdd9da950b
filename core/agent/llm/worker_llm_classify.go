package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"inbox_worker/core/domain"
	"inbox_worker/core/port/out"

	"github.com/tidwall/gjson"
)

// DefaultClassifyTimeout bounds a single classification call.
const DefaultClassifyTimeout = 30 * time.Second

const maxClassifyInput = 4000

type jsonCompleter interface {
	CompleteJSON(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Classifier implements out.Classifier on top of a chat completion model.
type Classifier struct {
	llm     jsonCompleter
	timeout time.Duration
}

var _ out.Classifier = (*Classifier)(nil)

func NewClassifier(llm jsonCompleter, timeout time.Duration) *Classifier {
	if timeout <= 0 {
		timeout = DefaultClassifyTimeout
	}
	return &Classifier{llm: llm, timeout: timeout}
}

const messageSystemPrompt = `You classify short chat messages received by a business. Respond with JSON only.

Categories (pick ONE):
- support_request: a customer needs help with an existing product, order or account
- sales_lead: interest in buying, upgrading or a demo
- general_query: general questions such as hours or policies
- spam: unsolicited promotion, scams, phishing
- urgent: an outage or a problem that needs immediate attention

Respond with this exact JSON format:
{
  "category": "support_request|sales_lead|general_query|spam|urgent",
  "confidence": 0.0-1.0,
  "sentiment": -1.0-1.0,
  "is_urgent": true|false,
  "reasoning": "one sentence"
}`

const emailSystemPrompt = `You classify replies received in a business email inbox. Respond with JSON only.

Categories (pick ONE):
- interested: the sender wants to continue the conversation
- meeting_booked: the sender confirmed or scheduled a meeting
- not_interested: the sender declined
- spam: unsolicited promotion, scams, phishing
- out_of_office: an automatic absence reply
- support: the sender needs technical or account help
- sales_lead: a new buying inquiry

Priority: 0.0 (lowest) to 1.0 (act now)

Respond with this exact JSON format:
{
  "category": "interested|meeting_booked|not_interested|spam|out_of_office|support|sales_lead",
  "confidence": 0.0-1.0,
  "sentiment": -1.0-1.0,
  "priority": 0.0-1.0,
  "needs_attention": true|false,
  "reasoning": "one sentence"
}`

// Classify labels text for the given record kind. Empty text is a
// *domain.ValidationError; every other failure is a *domain.ClassifierError.
func (c *Classifier) Classify(ctx context.Context, text string, kind domain.RecordKind) (*domain.Classification, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.NewValidationError("text", "must not be empty")
	}
	systemPrompt, err := promptFor(kind)
	if err != nil {
		return nil, domain.NewClassifierError(domain.ClassifierInvalidResponse, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.llm.CompleteJSON(callCtx, systemPrompt, truncateBody(text, maxClassifyInput))
	if err != nil {
		return nil, classifyCallError(callCtx, err)
	}

	result, err := ParseClassification(resp, kind)
	if err != nil {
		return nil, domain.NewClassifierError(domain.ClassifierInvalidResponse, err)
	}
	return result, nil
}

func promptFor(kind domain.RecordKind) (string, error) {
	switch kind {
	case domain.RecordKindMessage:
		return messageSystemPrompt, nil
	case domain.RecordKindEmail:
		return emailSystemPrompt, nil
	default:
		return "", fmt.Errorf("unknown record kind %q", kind)
	}
}

func classifyCallError(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.NewClassifierError(domain.ClassifierTimeout, err)
	}
	if errors.Is(err, ErrEmptyCompletion) {
		return domain.NewClassifierError(domain.ClassifierInvalidResponse, err)
	}
	return domain.NewClassifierError(domain.ClassifierUpstreamUnavailable, err)
}

// ParseClassification validates a raw model answer strictly: every field
// must be present with the right JSON type and in range. Nothing is
// defaulted.
func ParseClassification(raw string, kind domain.RecordKind) (*domain.Classification, error) {
	raw = stripFences(raw)
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("response is not valid JSON")
	}
	doc := gjson.Parse(raw)
	if !doc.IsObject() {
		return nil, fmt.Errorf("response is not a JSON object")
	}

	category, err := requireString(doc, "category")
	if err != nil {
		return nil, err
	}
	confidence, err := requireNumber(doc, "confidence")
	if err != nil {
		return nil, err
	}
	sentiment, err := requireNumber(doc, "sentiment")
	if err != nil {
		return nil, err
	}

	result := &domain.Classification{
		Category:   domain.Category(category),
		Confidence: confidence,
		Sentiment:  sentiment,
		Rationale:  doc.Get("reasoning").String(),
	}

	switch kind {
	case domain.RecordKindMessage:
		urgent, err := requireBool(doc, "is_urgent")
		if err != nil {
			return nil, err
		}
		result.Urgent = urgent
		result.Priority = domain.MessagePriority(result.Category, confidence, urgent)
	case domain.RecordKindEmail:
		priority, err := requireNumber(doc, "priority")
		if err != nil {
			return nil, err
		}
		attention, err := requireBool(doc, "needs_attention")
		if err != nil {
			return nil, err
		}
		result.Priority = priority
		result.Urgent = attention
	default:
		return nil, fmt.Errorf("unknown record kind %q", kind)
	}

	if err := result.Validate(kind); err != nil {
		return nil, err
	}
	return result, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func requireString(doc gjson.Result, field string) (string, error) {
	v := doc.Get(field)
	if !v.Exists() {
		return "", fmt.Errorf("missing field %q", field)
	}
	if v.Type != gjson.String {
		return "", fmt.Errorf("field %q must be a string", field)
	}
	return v.Str, nil
}

func requireNumber(doc gjson.Result, field string) (float64, error) {
	v := doc.Get(field)
	if !v.Exists() {
		return 0, fmt.Errorf("missing field %q", field)
	}
	if v.Type != gjson.Number {
		return 0, fmt.Errorf("field %q must be a number", field)
	}
	return v.Num, nil
}

func requireBool(doc gjson.Result, field string) (bool, error) {
	v := doc.Get(field)
	if !v.Exists() {
		return false, fmt.Errorf("missing field %q", field)
	}
	if v.Type != gjson.True && v.Type != gjson.False {
		return false, fmt.Errorf("field %q must be a boolean", field)
	}
	return v.Bool(), nil
}
