package notifier

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"inbox_worker/core/domain"
	"inbox_worker/core/port/out"
	"inbox_worker/pkg/httputil"

	"github.com/bwmarrin/discordgo"
)

// webhookExecutor abstracts the discordgo.Session method we use, enabling test mocks.
type webhookExecutor interface {
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordChannel posts an embed through a Discord webhook.
type DiscordChannel struct {
	webhookID string
	token     string
	sess      webhookExecutor
}

var _ out.NotificationChannel = (*DiscordChannel)(nil)

func NewDiscordChannel(webhookURL string) (*DiscordChannel, error) {
	id, token, err := parseDiscordWebhook(webhookURL)
	if err != nil {
		return nil, err
	}
	// webhooks need no bot token
	sess, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	sess.Client = httputil.WebhookClient()
	sess.ShouldRetryOnRateLimit = false
	return &DiscordChannel{webhookID: id, token: token, sess: sess}, nil
}

// parseDiscordWebhook extracts id and token from
// https://discord.com/api/webhooks/{id}/{token}.
func parseDiscordWebhook(raw string) (string, string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", "", fmt.Errorf("invalid discord webhook url")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("discord webhook url has no id/token")
}

func (c *DiscordChannel) Name() string { return "discord" }

func (c *DiscordChannel) Send(ctx context.Context, ev *domain.NotificationEvent) error {
	params := &discordgo.WebhookParams{
		Content: alertHeadline(ev.Type),
		Embeds:  []*discordgo.MessageEmbed{eventToEmbed(ev)},
	}
	_, err := c.sess.WebhookExecute(c.webhookID, c.token, false, params, discordgo.WithContext(ctx))
	if err == nil {
		return nil
	}
	if restErr, ok := err.(*discordgo.RESTError); ok && restErr.Response != nil {
		return &HTTPError{StatusCode: restErr.Response.StatusCode, Body: string(restErr.ResponseBody)}
	}
	return err
}

var embedColors = map[domain.AlertType]int{
	domain.AlertUrgentMessage: 0xE01E5A,
	domain.AlertSalesLead:     0x2EB67D,
	domain.AlertHighPriority:  0xECB22E,
}

func eventToEmbed(ev *domain.NotificationEvent) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title:       alertHeadline(ev.Type),
		Description: ev.Excerpt,
		URL:         ev.Link,
		Color:       embedColors[ev.Type],
		Timestamp:   ev.Timestamp.UTC().Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: "Record " + ev.RecordID.String()},
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Platform", Value: strings.ToUpper(string(ev.Platform)), Inline: true},
			{Name: "Sender", Value: orDash(ev.Sender), Inline: true},
			{Name: "Category", Value: orDash(string(ev.Category)), Inline: true},
			{Name: "Priority", Value: fmt.Sprintf("%.2f", ev.Priority), Inline: true},
		},
	}
	if ev.Subject != "" {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{Name: "Subject", Value: ev.Subject})
	}
	return embed
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
