package llm

import (
	"context"
	"fmt"
	"strings"

	"inbox_worker/core/domain"
	"inbox_worker/core/port/out"
)

type textCompleter interface {
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ReplyWriter implements out.ReplyGenerator.
type ReplyWriter struct {
	llm textCompleter
}

var _ out.ReplyGenerator = (*ReplyWriter)(nil)

func NewReplyWriter(llm textCompleter) *ReplyWriter {
	return &ReplyWriter{llm: llm}
}

// GenerateReply drafts a reply grounded on req.Context.
func (w *ReplyWriter) GenerateReply(ctx context.Context, req *out.ReplyPrompt) (string, error) {
	systemPrompt := replySystemPrompt(req)

	var b strings.Builder
	if req.Kind == domain.RecordKindEmail {
		fmt.Fprintf(&b, "Original email from %s:\nSubject: %s\n\n", req.Sender, req.Subject)
	} else {
		fmt.Fprintf(&b, "Original message from %s:\n\n", req.Sender)
	}
	b.WriteString(truncateBody(req.Content, 2000))
	if req.Category != "" {
		fmt.Fprintf(&b, "\n\nClassified as: %s", req.Category)
	}
	b.WriteString("\n\nGenerate a reply:")

	reply, err := w.llm.CompleteWithSystem(ctx, systemPrompt, b.String())
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", ErrEmptyCompletion
	}
	return reply, nil
}

func replySystemPrompt(req *out.ReplyPrompt) string {
	length := "2-4 sentences"
	channel := "chat message"
	if req.Kind == domain.RecordKindEmail {
		length = "3-6 sentences"
		channel = "email"
	}

	knowledge := "No company knowledge is available. Do not invent facts, prices or dates."
	if strings.TrimSpace(req.Context) != "" {
		knowledge = "Use only this company knowledge for facts:\n\n" + req.Context
	}

	return fmt.Sprintf(`You are a customer communication assistant. Write a reply to the %s below.

Tone: professional and friendly
Length: %s

%s

Only output the reply body. Do not include a subject line or headers.`, channel, length, knowledge)
}
