package bootstrap

import (
	"context"
	"testing"
	"time"

	"inbox_worker/config"
	"inbox_worker/core/domain"
	"inbox_worker/core/port/in"
)

func testConfig() *config.Config {
	return &config.Config{
		Environment:         "test",
		LLMProvider:         config.ProviderKeywords,
		DispatchMaxAttempts: 3,
		DispatchBackoffBase: 10 * time.Millisecond,
		DispatchBackoffMax:  50 * time.Millisecond,
		WorkerCount:         2,
		WorkerQueueSize:     16,
		WorkerJobTimeout:    5 * time.Second,
		NotifyMaxAttempts:   1,
		NotifyTimeout:       time.Second,
		NotifyConcurrency:   2,
		ExcerptLength:       200,
		ReplyTopN:           5,
		ReplyContextLimit:   500,
		KnowledgeCacheTTL:   time.Minute,
		ReconcileSchedule:   "@every 1m",
		StaleClaimAfter:     5 * time.Minute,
		ReconcileBatch:      100,
		IngestRateLimit:     10,
		IngestRateWindow:    time.Minute,
		SSEHeartbeat:        time.Second,
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"all", ModeAll, false},
		{"api", ModeAPI, false},
		{"worker", ModeWorker, false},
		{"", "", true},
		{"both", "", true},
	}

	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplitModesRequireBackends(t *testing.T) {
	for _, mode := range []Mode{ModeAPI, ModeWorker} {
		if _, _, err := NewDependencies(context.Background(), testConfig(), mode); err == nil {
			t.Errorf("mode %s without Redis or Postgres should fail", mode)
		}
	}
}

func TestNotificationChannels(t *testing.T) {
	cfg := testConfig()
	cfg.NotifyWebhookURLs = []string{"https://hooks.example.com/a", "not a url"}
	cfg.SlackWebhookURL = "https://hooks.slack.com/services/T000/B000/XXXX"
	cfg.DiscordWebhookURL = "https://example.com/not-discord"

	channels := NotificationChannels(cfg)
	if len(channels) != 2 {
		names := make([]string, 0, len(channels))
		for _, ch := range channels {
			names = append(names, ch.Name())
		}
		t.Fatalf("got channels %v, want the valid webhook and slack only", names)
	}
}

// The in-memory stack classifies an ingested record end to end.
func TestInMemoryPipeline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	deps, cleanup, err := NewDependencies(ctx, testConfig(), ModeAll)
	if err != nil {
		t.Fatalf("NewDependencies() error = %v", err)
	}
	defer cleanup()

	if err := deps.Pool.Start(); err != nil {
		t.Fatal(err)
	}
	defer deps.Pool.Stop(context.Background())

	rec, err := deps.RecordService.Ingest(ctx, &in.IngestRequest{
		Kind:       domain.RecordKindMessage,
		Platform:   domain.PlatformSlack,
		SenderName: "Dana",
		Content:    "URGENT: server is down",
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	var got *domain.Record
	for {
		got, err = deps.RecordService.Get(ctx, rec.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status == domain.StatusClassified || got.Status == domain.StatusFailed {
			break
		}
		select {
		case <-ctx.Done():
			t.Fatalf("record still %s", got.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	if got.Status != domain.StatusClassified {
		t.Fatalf("status = %s, last error %q", got.Status, got.LastError)
	}
	if got.Classification.Category != domain.CategoryUrgent || !got.Classification.Urgent {
		t.Errorf("classification = %+v, want urgent", got.Classification)
	}

	reply, err := deps.ReplyService.Suggest(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Suggest() error = %v", err)
	}
	if reply.Confidence != domain.SuggestedReplyConfidence {
		t.Errorf("confidence = %v", reply.Confidence)
	}
	if reply.ContextUsed == "" {
		t.Error("seeded corpus should ground the reply")
	}
}
