package record

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"inbox_worker/adapter/out/persistence"
	"inbox_worker/core/domain"
	"inbox_worker/core/port/in"
	"inbox_worker/core/port/out"

	"github.com/rs/zerolog"
)

type fakeQueue struct {
	jobs []*out.DispatchJob
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, job *out.DispatchJob) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func newService() (*Service, *persistence.MemoryRecordAdapter, *fakeQueue) {
	store := persistence.NewMemoryRecordAdapter()
	q := &fakeQueue{}
	return NewService(store, q, zerolog.Nop()), store, q
}

func TestIngest_Message(t *testing.T) {
	svc, store, q := newService()

	rec, err := svc.Ingest(context.Background(), &in.IngestRequest{
		Kind:       "message",
		Platform:   "Telegram",
		SenderName: "Bob Smith",
		Content:    "  URGENT: Our website is completely down!  ",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if rec.Status != domain.StatusUnclassified || rec.Platform != domain.PlatformTelegram {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.Content != "URGENT: Our website is completely down!" {
		t.Errorf("content = %q", rec.Content)
	}
	if rec.ReceivedAt.IsZero() {
		t.Error("received_at should default to now")
	}

	if _, err := store.GetByID(context.Background(), rec.ID); err != nil {
		t.Errorf("record not stored: %v", err)
	}
	if len(q.jobs) != 1 || q.jobs[0].RecordID != rec.ID || q.jobs[0].Force {
		t.Errorf("jobs = %+v", q.jobs)
	}
}

func TestIngest_QueueFullStillStores(t *testing.T) {
	svc, store, q := newService()
	q.err = domain.ErrQueueFull

	rec, err := svc.Ingest(context.Background(), &in.IngestRequest{
		Kind: "message", Platform: "slack", SenderID: "U123", Content: "hello",
	})
	if err != nil {
		t.Fatalf("Ingest should not fail when the queue is full: %v", err)
	}
	got, _ := store.GetByID(context.Background(), rec.ID)
	if got.Status != domain.StatusUnclassified {
		t.Errorf("status = %s, want unclassified", got.Status)
	}
}

func TestIngest_HTMLEmail(t *testing.T) {
	svc, _, _ := newService()
	received := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	rec, err := svc.Ingest(context.Background(), &in.IngestRequest{
		Kind:        "email",
		Platform:    "outlook",
		SenderEmail: "Business Corp Support <support@businesscorp.com>",
		Recipients:  []string{"demo@yourcompany.com"},
		Subject:     "URGENT: System Integration Issue",
		ContentType: "html",
		Content:     "<html><head><style>p{}</style></head><body><p>Hello,</p><p>Our integration   is <b>failing</b>.</p><script>x()</script></body></html>",
		ReceivedAt:  &received,
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if rec.Content != "Hello,\nOur integration is failing." {
		t.Errorf("content = %q", rec.Content)
	}
	if rec.ContentHTML == "" {
		t.Error("raw html should be kept")
	}
	if rec.SenderEmail != "support@businesscorp.com" || rec.SenderName != "Business Corp Support" {
		t.Errorf("sender = %q <%s>", rec.SenderName, rec.SenderEmail)
	}
	if !rec.ReceivedAt.Equal(received) {
		t.Errorf("received_at = %v", rec.ReceivedAt)
	}
}

func TestIngest_Validation(t *testing.T) {
	tests := []struct {
		name  string
		req   *in.IngestRequest
		field string
	}{
		{"nil", nil, "body"},
		{"bad kind", &in.IngestRequest{Kind: "fax", Platform: "gmail", Content: "x"}, "kind"},
		{"platform of other kind", &in.IngestRequest{Kind: "message", Platform: "gmail", SenderName: "a", Content: "x"}, "platform"},
		{"empty content", &in.IngestRequest{Kind: "message", Platform: "discord", SenderName: "a", Content: "   "}, "content"},
		{"empty html", &in.IngestRequest{Kind: "email", Platform: "gmail", SenderEmail: "a@b.c", ContentType: "html", Content: "<p> </p>"}, "content"},
		{"bad content type", &in.IngestRequest{Kind: "message", Platform: "discord", SenderName: "a", Content: "x", ContentType: "rtf"}, "content_type"},
		{"email without sender", &in.IngestRequest{Kind: "email", Platform: "gmail", Content: "x"}, "sender_email"},
		{"bad sender email", &in.IngestRequest{Kind: "email", Platform: "gmail", SenderEmail: "nope", Content: "x"}, "sender_email"},
		{"bad recipient", &in.IngestRequest{Kind: "email", Platform: "gmail", SenderEmail: "a@b.c", Recipients: []string{"x"}, Content: "x"}, "recipients"},
		{"message without sender", &in.IngestRequest{Kind: "message", Platform: "whatsapp", Content: "x"}, "sender"},
		{"huge content", &in.IngestRequest{Kind: "message", Platform: "whatsapp", SenderName: "a", Content: strings.Repeat("a", maxContentLength+1)}, "content"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, q := newService()
			_, err := svc.Ingest(context.Background(), tt.req)
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if ve.Field != tt.field {
				t.Errorf("field = %q, want %q", ve.Field, tt.field)
			}
			if len(q.jobs) != 0 {
				t.Error("rejected input must not be dispatched")
			}
		})
	}
}

func TestRedispatch(t *testing.T) {
	svc, store, q := newService()
	rec, _ := svc.Ingest(context.Background(), &in.IngestRequest{Kind: "message", Platform: "slack", SenderName: "a", Content: "hi"})

	if err := svc.Redispatch(context.Background(), rec.ID, true); err != nil {
		t.Fatalf("Redispatch: %v", err)
	}
	if last := q.jobs[len(q.jobs)-1]; !last.Force || last.Reason != "manual" {
		t.Errorf("last job = %+v", last)
	}

	store.Claim(context.Background(), rec.ID, []domain.ClassificationStatus{domain.StatusUnclassified}, time.Now())
	if err := svc.Redispatch(context.Background(), rec.ID, true); !errors.Is(err, domain.ErrAlreadyInFlight) {
		t.Errorf("err = %v, want ErrAlreadyInFlight", err)
	}
}

func TestMarkReadAndFlag(t *testing.T) {
	svc, _, _ := newService()
	rec, _ := svc.Ingest(context.Background(), &in.IngestRequest{Kind: "message", Platform: "slack", SenderName: "a", Content: "hi"})

	got, err := svc.MarkRead(context.Background(), rec.ID, true)
	if err != nil || !got.IsRead {
		t.Fatalf("MarkRead = %+v, %v", got, err)
	}
	got, err = svc.ToggleFlag(context.Background(), rec.ID)
	if err != nil || !got.IsFlagged {
		t.Fatalf("ToggleFlag = %+v, %v", got, err)
	}

	page, err := svc.List(context.Background(), nil)
	if err != nil || page.Total != 1 || page.Limit != 50 {
		t.Errorf("List = %+v, %v", page, err)
	}
}

func TestHTMLToText(t *testing.T) {
	got, err := htmlToText("<div>Line one<br>Line two</div><ul><li>a</li><li>b</li></ul>")
	if err != nil {
		t.Fatalf("htmlToText: %v", err)
	}
	if got != "Line one\nLine two\na\nb" {
		t.Errorf("htmlToText = %q", got)
	}
}
