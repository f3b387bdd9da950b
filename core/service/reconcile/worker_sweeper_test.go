package reconcile

import (
	"context"
	"testing"
	"time"

	"inbox_worker/adapter/out/persistence"
	"inbox_worker/core/domain"
	"inbox_worker/core/port/out"

	"github.com/rs/zerolog"
)

type fakeQueue struct {
	jobs  []*out.DispatchJob
	limit int
}

func (q *fakeQueue) Enqueue(_ context.Context, job *out.DispatchJob) error {
	if q.limit > 0 && len(q.jobs) >= q.limit {
		return domain.ErrQueueFull
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func insert(t *testing.T, store *persistence.MemoryRecordAdapter, content string) *domain.Record {
	t.Helper()
	rec := &domain.Record{Kind: domain.RecordKindMessage, Platform: domain.PlatformSlack, SenderName: "a", Content: content, ReceivedAt: time.Now()}
	if err := store.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return rec
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryRecordAdapter()
	q := &fakeQueue{}

	stale := insert(t, store, "stale")
	fresh := insert(t, store, "fresh")
	pending := insert(t, store, "pending")

	store.Claim(ctx, stale.ID, []domain.ClassificationStatus{domain.StatusUnclassified}, time.Now().Add(-10*time.Minute))
	store.Claim(ctx, fresh.ID, []domain.ClassificationStatus{domain.StatusUnclassified}, time.Now())

	s, err := NewSweeper(store, q, Config{Schedule: "@every 1m", StaleAfter: 5 * time.Minute}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	// look far enough ahead that every record counts as old
	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	res, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Released != 1 {
		t.Errorf("released = %d, want 1", res.Released)
	}
	if res.Requeued != 2 {
		t.Fatalf("requeued = %d, want 2", res.Requeued)
	}

	ids := map[string]bool{}
	for _, j := range q.jobs {
		ids[j.RecordID.String()] = true
		if j.Reason != "reconcile" || j.Force {
			t.Errorf("unexpected job %+v", j)
		}
	}
	if !ids[stale.ID.String()] || !ids[pending.ID.String()] || ids[fresh.ID.String()] {
		t.Errorf("requeued wrong records: %v", ids)
	}
}

func TestSweep_StopsWhenQueueFull(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryRecordAdapter()
	for i := 0; i < 5; i++ {
		insert(t, store, "x")
	}
	q := &fakeQueue{limit: 2}
	s, _ := NewSweeper(store, q, DefaultConfig(), zerolog.Nop())
	s.now = func() time.Time { return time.Now().Add(time.Hour) }

	res, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Requeued != 2 {
		t.Errorf("requeued = %d, want 2", res.Requeued)
	}
}

func TestNewSweeper_Schedule(t *testing.T) {
	if _, err := NewSweeper(nil, nil, Config{Schedule: "not a schedule"}, zerolog.Nop()); err == nil {
		t.Error("invalid schedule should be rejected")
	}

	s, err := NewSweeper(nil, nil, Config{Schedule: "*/5 * * * *"}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	if got := s.Interval(); got != 5*time.Minute {
		t.Errorf("interval = %v, want 5m", got)
	}
}

func TestSweep_LeavesRecentFailuresToRetry(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryRecordAdapter()
	rec := &domain.Record{
		Kind:       domain.RecordKindMessage,
		Platform:   domain.PlatformSlack,
		SenderName: "a",
		Content:    "old record",
		ReceivedAt: time.Now().Add(-10 * time.Minute),
		CreatedAt:  time.Now().Add(-10 * time.Minute),
	}
	if err := store.Create(ctx, rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, ok, _ := store.Claim(ctx, rec.ID, []domain.ClassificationStatus{domain.StatusUnclassified}, time.Now()); !ok {
		t.Fatal("claim failed")
	}
	if _, err := store.RecordFailure(ctx, rec.ID, "upstream 503", false); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	tests := []struct {
		name  string
		grace time.Duration
		ahead time.Duration
		want  int
	}{
		{"right after the failure", 0, 0, 0},
		{"within the retry grace", 5 * time.Minute, 2 * time.Minute, 0},
		{"after interval and grace", 90 * time.Second, 2 * time.Minute, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := &fakeQueue{}
			s, err := NewSweeper(store, q, Config{Schedule: "@every 1m", RetryGrace: tt.grace}, zerolog.Nop())
			if err != nil {
				t.Fatalf("NewSweeper: %v", err)
			}
			s.now = func() time.Time { return time.Now().Add(tt.ahead) }

			res, err := s.Sweep(ctx)
			if err != nil {
				t.Fatalf("Sweep: %v", err)
			}
			if res.Requeued != tt.want {
				t.Errorf("requeued = %d, want %d", res.Requeued, tt.want)
			}
		})
	}
}
