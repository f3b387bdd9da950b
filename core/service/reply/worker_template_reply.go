package reply

import (
	"context"
	"fmt"
	"strings"

	"inbox_worker/core/domain"
	"inbox_worker/core/port/out"
)

// TemplateGenerator drafts replies from fixed templates and the first
// grounding entry. It is used when no LLM is configured.
type TemplateGenerator struct{}

var _ out.ReplyGenerator = TemplateGenerator{}

var categoryOpeners = map[domain.Category]string{
	domain.CategoryUrgent:         "We are on it and will update you shortly.",
	domain.CategorySupportRequest: "Sorry for the trouble, we are looking into it.",
	domain.CategorySupport:        "Sorry for the trouble, we are looking into it.",
	domain.CategorySalesLead:      "Thanks for your interest in working with us.",
	domain.CategoryInterested:     "Great to hear from you.",
	domain.CategoryMeetingBooked:  "Looking forward to our meeting.",
}

func (TemplateGenerator) GenerateReply(ctx context.Context, req *out.ReplyPrompt) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	opener, ok := categoryOpeners[req.Category]
	if !ok {
		opener = "Thanks for your message."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n%s", req.Sender, opener)

	// first "title: content" block of the grounding context
	if first, _, _ := strings.Cut(req.Context, "\n\n"); first != "" {
		if _, content, found := strings.Cut(first, ": "); found {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(content))
		}
	}

	if req.Kind == domain.RecordKindEmail {
		b.WriteString("\n\nBest regards")
	}
	return b.String(), nil
}
