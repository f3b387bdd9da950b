package notifier

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"inbox_worker/core/domain"
	"inbox_worker/core/port/out"
	"inbox_worker/pkg/httputil"

	slackapi "github.com/slack-go/slack"
)

// SlackChannel posts Block Kit alerts to an incoming webhook.
type SlackChannel struct {
	url    string
	client *http.Client
}

var _ out.NotificationChannel = (*SlackChannel)(nil)

func NewSlackChannel(webhookURL string, client *http.Client) (*SlackChannel, error) {
	if !strings.HasPrefix(webhookURL, "http://") && !strings.HasPrefix(webhookURL, "https://") {
		return nil, fmt.Errorf("invalid slack webhook url")
	}
	if client == nil {
		client = httputil.WebhookClient()
	}
	return &SlackChannel{url: webhookURL, client: client}, nil
}

func (c *SlackChannel) Name() string { return "slack" }

func (c *SlackChannel) Send(ctx context.Context, ev *domain.NotificationEvent) error {
	err := slackapi.PostWebhookCustomHTTPContext(ctx, c.url, c.client, buildSlackMessage(ev))
	if err == nil {
		return nil
	}
	var sce slackapi.StatusCodeError
	if errors.As(err, &sce) {
		return &HTTPError{StatusCode: sce.Code, Body: sce.Status}
	}
	var rle *slackapi.RateLimitedError
	if errors.As(err, &rle) {
		return &HTTPError{StatusCode: http.StatusTooManyRequests, Body: rle.Error()}
	}
	return err
}

func alertHeadline(t domain.AlertType) string {
	switch t {
	case domain.AlertUrgentMessage:
		return "🚨 Urgent Message Received"
	case domain.AlertSalesLead:
		return "💼 New Sales Lead"
	default:
		return "⚠️ High Priority Message"
	}
}

func buildSlackMessage(ev *domain.NotificationEvent) *slackapi.WebhookMessage {
	header := slackapi.NewHeaderBlock(
		slackapi.NewTextBlockObject(slackapi.PlainTextType, alertHeadline(ev.Type), true, false),
	)

	fields := []*slackapi.TextBlockObject{
		slackapi.NewTextBlockObject(slackapi.MarkdownType, "*Platform:*\n"+strings.ToUpper(string(ev.Platform)), false, false),
		slackapi.NewTextBlockObject(slackapi.MarkdownType, "*Sender:*\n"+ev.Sender, false, false),
		slackapi.NewTextBlockObject(slackapi.MarkdownType, "*Category:*\n"+string(ev.Category), false, false),
		slackapi.NewTextBlockObject(slackapi.MarkdownType, fmt.Sprintf("*Priority:*\n%.2f", ev.Priority), false, false),
	}
	details := slackapi.NewSectionBlock(nil, fields, nil)

	text := "*Message:*\n" + ev.Excerpt
	if ev.Subject != "" {
		text = "*Subject:* " + ev.Subject + "\n" + text
	}
	body := slackapi.NewSectionBlock(slackapi.NewTextBlockObject(slackapi.MarkdownType, text, false, false), nil, nil)

	meta := slackapi.NewContextBlock("",
		slackapi.NewTextBlockObject(slackapi.MarkdownType,
			fmt.Sprintf("Record ID: %s | Time: %s", ev.RecordID, ev.Timestamp.UTC().Format(time.RFC3339)), false, false),
	)

	blocks := []slackapi.Block{header, details, body, meta}
	if ev.Link != "" {
		button := slackapi.NewButtonBlockElement("view_record", ev.RecordID.String(),
			slackapi.NewTextBlockObject(slackapi.PlainTextType, "View in Dashboard", false, false))
		button.URL = ev.Link
		button.Style = slackapi.StylePrimary
		blocks = append(blocks, slackapi.NewActionBlock("", button))
	}

	return &slackapi.WebhookMessage{
		Text:   fmt.Sprintf("%s from %s", alertHeadline(ev.Type), ev.Sender),
		Blocks: &slackapi.Blocks{BlockSet: blocks},
	}
}
