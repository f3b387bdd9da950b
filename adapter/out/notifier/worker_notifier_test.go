package notifier

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"inbox_worker/core/domain"

	"github.com/bwmarrin/discordgo"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

func sampleEvent() *domain.NotificationEvent {
	return &domain.NotificationEvent{
		Type:       domain.AlertUrgentMessage,
		RecordID:   uuid.MustParse("7b0c2a4e-5b7e-4a8e-9a51-3f1b2c9d0e11"),
		Kind:       domain.RecordKindMessage,
		Platform:   domain.PlatformTelegram,
		Sender:     "Bob Smith",
		Excerpt:    "URGENT: Our website is completely down!",
		Category:   domain.CategoryUrgent,
		Confidence: 0.95,
		Sentiment:  -0.8,
		Priority:   1,
		Urgent:     true,
		Timestamp:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Link:       "http://localhost:3000?recordId=7b0c2a4e-5b7e-4a8e-9a51-3f1b2c9d0e11",
	}
}

func TestWebhookChannel_Send(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch, err := NewWebhookChannel(srv.URL+"/hooks/alerts", srv.Client())
	if err != nil {
		t.Fatalf("NewWebhookChannel: %v", err)
	}
	if !strings.HasPrefix(ch.Name(), "webhook:127.0.0.1") {
		t.Errorf("name = %q", ch.Name())
	}
	if err := ch.Send(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	for _, key := range []string{"type", "platform", "sender", "excerpt", "record_id", "timestamp"} {
		if _, ok := got[key]; !ok {
			t.Errorf("payload missing %q: %v", key, got)
		}
	}
	if got["timestamp"] != "2024-05-01T12:00:00Z" {
		t.Errorf("timestamp = %v", got["timestamp"])
	}
}

func TestWebhookChannel_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ch, _ := NewWebhookChannel(srv.URL, srv.Client())
	err := ch.Send(context.Background(), sampleEvent())
	var herr *HTTPError
	if !errors.As(err, &herr) || herr.HTTPStatus() != 500 || herr.Body != "boom" {
		t.Errorf("err = %v", err)
	}
}

func TestNewWebhookChannel_InvalidURL(t *testing.T) {
	for _, raw := range []string{"", "not a url", "ftp://example.com/x", "/relative"} {
		if _, err := NewWebhookChannel(raw, nil); err == nil {
			t.Errorf("NewWebhookChannel(%q) should fail", raw)
		}
	}
}

func TestSlackChannel_Send(t *testing.T) {
	var payload map[string]any
	var status int32 = http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &payload)
		w.WriteHeader(int(atomic.LoadInt32(&status)))
	}))
	defer srv.Close()

	ch, err := NewSlackChannel(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewSlackChannel: %v", err)
	}
	if err := ch.Send(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Send: %v", err)
	}

	blocks, _ := payload["blocks"].([]any)
	if len(blocks) != 5 {
		t.Fatalf("blocks = %d, want 5 (header, fields, message, context, actions)", len(blocks))
	}
	if header := blocks[0].(map[string]any); header["type"] != "header" {
		t.Errorf("first block = %v", header)
	}
	raw, _ := json.Marshal(payload)
	for _, want := range []string{"Urgent Message Received", "TELEGRAM", "View in Dashboard", "recordId="} {
		if !strings.Contains(string(raw), want) {
			t.Errorf("payload missing %q", want)
		}
	}

	atomic.StoreInt32(&status, http.StatusInternalServerError)
	err = ch.Send(context.Background(), sampleEvent())
	var herr *HTTPError
	if !errors.As(err, &herr) || herr.StatusCode != 500 {
		t.Errorf("err = %v, want HTTPError 500", err)
	}
}

func TestBuildSlackMessage_NoLink(t *testing.T) {
	ev := sampleEvent()
	ev.Link = ""
	msg := buildSlackMessage(ev)
	if len(msg.Blocks.BlockSet) != 4 {
		t.Errorf("blocks = %d, want 4 without a dashboard link", len(msg.Blocks.BlockSet))
	}
}

type fakeWebhook struct {
	id, token string
	params    *discordgo.WebhookParams
	err       error
}

func (f *fakeWebhook) WebhookExecute(id, token string, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.id, f.token, f.params = id, token, data
	return nil, f.err
}

func TestDiscordChannel_Send(t *testing.T) {
	fake := &fakeWebhook{}
	ch := &DiscordChannel{webhookID: "123", token: "abc", sess: fake}

	if err := ch.Send(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if fake.id != "123" || fake.token != "abc" {
		t.Errorf("executed against %s/%s", fake.id, fake.token)
	}
	embed := fake.params.Embeds[0]
	if embed.Color != embedColors[domain.AlertUrgentMessage] || embed.Timestamp != "2024-05-01T12:00:00Z" {
		t.Errorf("embed = %+v", embed)
	}
	if embed.Fields[0].Value != "TELEGRAM" {
		t.Errorf("platform field = %q", embed.Fields[0].Value)
	}

	fake.err = &discordgo.RESTError{Response: &http.Response{StatusCode: 404}, ResponseBody: []byte(`{"message":"Unknown Webhook"}`)}
	err := ch.Send(context.Background(), sampleEvent())
	var herr *HTTPError
	if !errors.As(err, &herr) || herr.StatusCode != 404 {
		t.Errorf("err = %v, want HTTPError 404", err)
	}
}

func TestParseDiscordWebhook(t *testing.T) {
	tests := []struct {
		raw       string
		id, token string
		wantErr   bool
	}{
		{"https://discord.com/api/webhooks/123/abc-def", "123", "abc-def", false},
		{"https://discordapp.com/api/v10/webhooks/9/tok/", "9", "tok", false},
		{"https://discord.com/api/webhooks/123", "", "", true},
		{"not-a-url", "", "", true},
	}
	for _, tt := range tests {
		id, token, err := parseDiscordWebhook(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseDiscordWebhook(%q) err = %v", tt.raw, err)
			continue
		}
		if id != tt.id || token != tt.token {
			t.Errorf("parseDiscordWebhook(%q) = %q, %q", tt.raw, id, token)
		}
	}
}
