package classification

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"inbox_worker/adapter/out/persistence"
	"inbox_worker/core/domain"
	"inbox_worker/core/port/in"
	"inbox_worker/core/port/out"
	"inbox_worker/pkg/resilience"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fakeClassifier struct {
	fn    func(ctx context.Context, text string, kind domain.RecordKind) (*domain.Classification, error)
	calls int32
}

func (f *fakeClassifier) Classify(ctx context.Context, text string, kind domain.RecordKind) (*domain.Classification, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.fn(ctx, text, kind)
}

func returning(c domain.Classification) *fakeClassifier {
	return &fakeClassifier{fn: func(context.Context, string, domain.RecordKind) (*domain.Classification, error) {
		result := c
		return &result, nil
	}}
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []*domain.NotificationEvent
}

func (f *fakeNotifier) NotifyAsync(ev *domain.NotificationEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

type fakeRetryQueue struct {
	mu     sync.Mutex
	jobs   []*out.DispatchJob
	delays []time.Duration
}

func (q *fakeRetryQueue) Enqueue(_ context.Context, job *out.DispatchJob) error {
	q.EnqueueAfter(job, 0)
	return nil
}

func (q *fakeRetryQueue) EnqueueAfter(job *out.DispatchJob, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	q.delays = append(q.delays, delay)
}

type harness struct {
	store      *persistence.MemoryRecordAdapter
	notifier   *fakeNotifier
	retries    *fakeRetryQueue
	dispatcher *Dispatcher
}

func newHarness(c out.Classifier) *harness {
	h := &harness{
		store:    persistence.NewMemoryRecordAdapter(),
		notifier: &fakeNotifier{},
		retries:  &fakeRetryQueue{},
	}
	cfg := Config{
		MaxAttempts: 3,
		Backoff:     resilience.Backoff{Base: 100 * time.Millisecond, Max: time.Second},
	}
	h.dispatcher = NewDispatcher(h.store, c, h.notifier, cfg, zerolog.Nop())
	h.dispatcher.SetRetryQueue(h.retries)
	return h
}

func (h *harness) insert(t *testing.T, kind domain.RecordKind, content string) uuid.UUID {
	t.Helper()
	platform := domain.PlatformTelegram
	if kind == domain.RecordKindEmail {
		platform = domain.ProviderGmail
	}
	rec := &domain.Record{Kind: kind, Platform: platform, SenderName: "Bob Smith", Content: content, ReceivedAt: time.Now()}
	if err := h.store.Create(context.Background(), rec); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return rec.ID
}

func TestDispatch_UrgentMessageNotifiesOnce(t *testing.T) {
	h := newHarness(returning(domain.Classification{
		Category: domain.CategoryUrgent, Confidence: 0.95, Sentiment: -0.8, Priority: 1, Urgent: true,
	}))
	id := h.insert(t, domain.RecordKindMessage, "URGENT: server is down")

	outcome, err := h.dispatcher.Dispatch(context.Background(), id, in.DispatchOptions{})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if outcome != in.OutcomeClassified {
		t.Fatalf("outcome = %s, want classified", outcome)
	}

	rec, _ := h.store.GetByID(context.Background(), id)
	if rec.Status != domain.StatusClassified || rec.Classification == nil || !rec.Classification.Urgent {
		t.Errorf("unexpected record: %+v", rec)
	}
	if h.notifier.count() != 1 {
		t.Fatalf("notifications = %d, want 1", h.notifier.count())
	}
	ev := h.notifier.events[0]
	if ev.Type != domain.AlertUrgentMessage || ev.RecordID != id || ev.Excerpt != "URGENT: server is down" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestDispatch_TimeoutExhaustsBudget(t *testing.T) {
	clf := &fakeClassifier{fn: func(context.Context, string, domain.RecordKind) (*domain.Classification, error) {
		return nil, domain.NewClassifierError(domain.ClassifierTimeout, context.DeadlineExceeded)
	}}
	h := newHarness(clf)
	id := h.insert(t, domain.RecordKindMessage, "hello")

	want := []in.DispatchOutcome{in.OutcomeRetrying, in.OutcomeRetrying, in.OutcomeFailed}
	for i, w := range want {
		outcome, err := h.dispatcher.Dispatch(context.Background(), id, in.DispatchOptions{})
		if err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
		if outcome != w {
			t.Fatalf("attempt %d outcome = %s, want %s", i+1, outcome, w)
		}
	}

	rec, _ := h.store.GetByID(context.Background(), id)
	if rec.Status != domain.StatusFailed || rec.RetryCount != 3 || rec.Classification != nil {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.LastError == "" {
		t.Error("last error should be recorded")
	}
	if h.notifier.count() != 0 {
		t.Errorf("notifications = %d, want 0", h.notifier.count())
	}
	if len(h.retries.jobs) != 2 {
		t.Fatalf("retries scheduled = %d, want 2", len(h.retries.jobs))
	}
	if h.retries.delays[0] != 100*time.Millisecond || h.retries.delays[1] != 200*time.Millisecond {
		t.Errorf("backoff delays = %v", h.retries.delays)
	}

	// failed records are not picked up again without force
	if outcome, _ := h.dispatcher.Dispatch(context.Background(), id, in.DispatchOptions{}); outcome != in.OutcomeSkipped {
		t.Errorf("dispatch of failed record = %s, want skipped", outcome)
	}
	if clf.calls != 3 {
		t.Errorf("classifier calls = %d, want 3", clf.calls)
	}
}

func TestDispatch_ConcurrentClaim(t *testing.T) {
	release := make(chan struct{})
	clf := &fakeClassifier{fn: func(context.Context, string, domain.RecordKind) (*domain.Classification, error) {
		<-release
		return &domain.Classification{Category: domain.CategoryGeneralQuery, Confidence: 0.8, Priority: 0.24}, nil
	}}
	h := newHarness(clf)
	id := h.insert(t, domain.RecordKindMessage, "What are your business hours?")

	first := make(chan in.DispatchOutcome, 1)
	go func() {
		o, _ := h.dispatcher.Dispatch(context.Background(), id, in.DispatchOptions{})
		first <- o
	}()

	// wait for the first dispatch to hold the claim
	deadline := time.Now().Add(2 * time.Second)
	for atomic.LoadInt32(&clf.calls) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first dispatch never reached the classifier")
		}
		time.Sleep(time.Millisecond)
	}

	var inFlight int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := h.dispatcher.Dispatch(context.Background(), id, in.DispatchOptions{Force: true})
			if err != nil {
				t.Errorf("Dispatch: %v", err)
			}
			if o == in.OutcomeAlreadyInFlight {
				atomic.AddInt32(&inFlight, 1)
			}
		}()
	}
	wg.Wait()
	close(release)

	if o := <-first; o != in.OutcomeClassified {
		t.Errorf("first outcome = %s, want classified", o)
	}
	if inFlight != 10 {
		t.Errorf("already_in_flight = %d, want 10", inFlight)
	}
	if clf.calls != 1 {
		t.Errorf("classifier calls = %d, want 1", clf.calls)
	}
}

func TestDispatch_ClassifiedIsNoopUnlessForced(t *testing.T) {
	clf := returning(domain.Classification{Category: domain.CategorySpam, Confidence: 0.99})
	h := newHarness(clf)
	id := h.insert(t, domain.RecordKindMessage, "FREE CRYPTO")

	h.dispatcher.Dispatch(context.Background(), id, in.DispatchOptions{})
	outcome, err := h.dispatcher.Dispatch(context.Background(), id, in.DispatchOptions{})
	if err != nil || outcome != in.OutcomeSkipped {
		t.Fatalf("second dispatch = %s, %v; want skipped", outcome, err)
	}
	if clf.calls != 1 {
		t.Errorf("classifier calls = %d, want 1", clf.calls)
	}

	outcome, _ = h.dispatcher.Dispatch(context.Background(), id, in.DispatchOptions{Force: true})
	if outcome != in.OutcomeClassified || clf.calls != 2 {
		t.Errorf("forced dispatch = %s (calls %d)", outcome, clf.calls)
	}
}

func TestDispatch_NotificationRule(t *testing.T) {
	tests := []struct {
		name   string
		kind   domain.RecordKind
		result domain.Classification
		want   int
	}{
		{"sales lead", domain.RecordKindMessage, domain.Classification{Category: domain.CategorySalesLead, Confidence: 0.3, Priority: 0.24}, 1},
		{"general query", domain.RecordKindMessage, domain.Classification{Category: domain.CategoryGeneralQuery, Confidence: 0.9, Priority: 0.27}, 0},
		{"high priority email", domain.RecordKindEmail, domain.Classification{Category: domain.CategoryInterested, Confidence: 0.9, Priority: 0.75}, 1},
		{"medium priority email", domain.RecordKindEmail, domain.Classification{Category: domain.CategoryInterested, Confidence: 0.9, Priority: 0.5}, 0},
		{"boundary priority email", domain.RecordKindEmail, domain.Classification{Category: domain.CategorySupport, Confidence: 0.9, Priority: 0.7}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(returning(tt.result))
			id := h.insert(t, tt.kind, "content")
			if outcome, err := h.dispatcher.Dispatch(context.Background(), id, in.DispatchOptions{}); err != nil || outcome != in.OutcomeClassified {
				t.Fatalf("Dispatch = %s, %v", outcome, err)
			}
			if got := h.notifier.count(); got != tt.want {
				t.Errorf("notifications = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDispatch_ValidationErrorIsTerminal(t *testing.T) {
	clf := &fakeClassifier{fn: func(context.Context, string, domain.RecordKind) (*domain.Classification, error) {
		return nil, domain.NewValidationError("text", "must not be empty")
	}}
	h := newHarness(clf)
	id := h.insert(t, domain.RecordKindMessage, " ")

	outcome, err := h.dispatcher.Dispatch(context.Background(), id, in.DispatchOptions{})
	if err != nil || outcome != in.OutcomeFailed {
		t.Fatalf("Dispatch = %s, %v; want failed", outcome, err)
	}
	if len(h.retries.jobs) != 0 {
		t.Error("validation failures must not be retried")
	}
}

func TestDispatch_StoreErrorsSurface(t *testing.T) {
	h := newHarness(returning(domain.Classification{Category: domain.CategorySpam}))
	_, err := h.dispatcher.Dispatch(context.Background(), uuid.New(), in.DispatchOptions{})
	if !domain.IsNotFound(err) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestDispatch_CanceledLeavesClaimForSweep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	clf := &fakeClassifier{fn: func(ctx context.Context, _ string, _ domain.RecordKind) (*domain.Classification, error) {
		cancel()
		return nil, domain.NewClassifierError(domain.ClassifierUpstreamUnavailable, ctx.Err())
	}}
	h := newHarness(clf)
	id := h.insert(t, domain.RecordKindMessage, "hello")

	_, err := h.dispatcher.Dispatch(ctx, id, in.DispatchOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	rec, _ := h.store.GetByID(context.Background(), id)
	if rec.Status != domain.StatusInFlight || rec.RetryCount != 0 {
		t.Errorf("canceled dispatch should leave the claim: %+v", rec)
	}
}
