package messaging

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"inbox_worker/core/domain"
	"inbox_worker/core/port/out"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type fakeStream struct {
	mu       sync.Mutex
	added    []*redis.XAddArgs
	acked    []string
	claimed  []string
	pending  []redis.XPendingExt
	entries  map[string]redis.XMessage
	addErr   error
	groupErr error
}

func newFakeStream() *fakeStream {
	return &fakeStream{entries: make(map[string]redis.XMessage)}
}

func (f *fakeStream) XAdd(_ context.Context, a *redis.XAddArgs) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return redis.NewStringResult("", f.addErr)
	}
	f.added = append(f.added, a)
	return redis.NewStringResult("1-0", nil)
}

func (f *fakeStream) XGroupCreateMkStream(context.Context, string, string, string) *redis.StatusCmd {
	return redis.NewStatusResult("OK", f.groupErr)
}

func (f *fakeStream) XReadGroup(context.Context, *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	return redis.NewXStreamSliceCmdResult(nil, redis.Nil)
}

func (f *fakeStream) XAck(_ context.Context, _, _ string, ids ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, ids...)
	return redis.NewIntResult(int64(len(ids)), nil)
}

func (f *fakeStream) XPendingExt(context.Context, *redis.XPendingExtArgs) *redis.XPendingExtCmd {
	return redis.NewXPendingExtResult(f.pending, nil)
}

func (f *fakeStream) XClaim(_ context.Context, a *redis.XClaimArgs) *redis.XMessageSliceCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var msgs []redis.XMessage
	for _, id := range a.Messages {
		f.claimed = append(f.claimed, id)
		msgs = append(msgs, f.entries[id])
	}
	return redis.NewXMessageSliceCmdResult(msgs, nil)
}

func (f *fakeStream) XRange(_ context.Context, _, start, _ string) *redis.XMessageSliceCmd {
	if msg, ok := f.entries[start]; ok {
		return redis.NewXMessageSliceCmdResult([]redis.XMessage{msg}, nil)
	}
	return redis.NewXMessageSliceCmdResult(nil, nil)
}

func (f *fakeStream) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...)
}

type fakeHandler struct {
	mu     sync.Mutex
	jobs   []*out.DispatchJob
	reject error
	result error
}

func (h *fakeHandler) HandleJob(_ context.Context, job *out.DispatchJob, ack func(err error)) error {
	if h.reject != nil {
		return h.reject
	}
	h.mu.Lock()
	h.jobs = append(h.jobs, job)
	h.mu.Unlock()
	ack(h.result)
	return nil
}

func entry(t *testing.T, id string, job *out.DispatchJob) redis.XMessage {
	t.Helper()
	data, err := json.Marshal(job)
	if err != nil {
		t.Fatal(err)
	}
	return redis.XMessage{ID: id, Values: map[string]interface{}{"data": string(data)}}
}

func TestRedisProducer_Enqueue(t *testing.T) {
	fs := newFakeStream()
	p := newProducer(fs, 10000, zerolog.Nop())

	job := &out.DispatchJob{RecordID: uuid.New(), Force: true, Reason: "manual"}
	if err := p.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if len(fs.added) != 1 {
		t.Fatalf("XAdd calls = %d, want 1", len(fs.added))
	}
	args := fs.added[0]
	if args.Stream != StreamDispatch || args.MaxLen != 10000 || !args.Approx {
		t.Errorf("unexpected XAdd args: %+v", args)
	}

	decoded, err := decodeJob(redis.XMessage{ID: "1-0", Values: args.Values.(map[string]interface{})})
	if err != nil {
		t.Fatalf("decodeJob: %v", err)
	}
	if decoded.RecordID != job.RecordID || !decoded.Force || decoded.Reason != "manual" || decoded.EnqueuedAt.IsZero() {
		t.Errorf("round trip lost fields: %+v", decoded)
	}

	fs.addErr = errors.New("connection refused")
	if err := p.Enqueue(context.Background(), job); err == nil || !strings.Contains(err.Error(), StreamDispatch) {
		t.Errorf("expected wrapped publish error, got %v", err)
	}
}

func TestRedisProducer_EnqueueAfter(t *testing.T) {
	fs := newFakeStream()
	p := newProducer(fs, 0, zerolog.Nop())

	p.EnqueueAfter(&out.DispatchJob{RecordID: uuid.New(), Attempt: 2}, 10*time.Millisecond)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		fs.mu.Lock()
		n := len(fs.added)
		fs.mu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("delayed job never published")
}

func TestDecodeJob(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]interface{}
		ok     bool
	}{
		{"valid", map[string]interface{}{"data": `{"record_id":"` + uuid.NewString() + `"}`}, true},
		{"missing data", map[string]interface{}{"other": "x"}, false},
		{"not a string", map[string]interface{}{"data": 42}, false},
		{"bad json", map[string]interface{}{"data": "{"}, false},
		{"nil record id", map[string]interface{}{"data": `{"force":true}`}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeJob(redis.XMessage{ID: "1-0", Values: tt.values})
			if (err == nil) != tt.ok {
				t.Errorf("err = %v, ok %v", err, tt.ok)
			}
		})
	}
}

func TestConsumer_HandleMessage(t *testing.T) {
	job := &out.DispatchJob{RecordID: uuid.New(), Reason: "ingest"}

	t.Run("acked after successful dispatch", func(t *testing.T) {
		fs := newFakeStream()
		h := &fakeHandler{}
		c := newConsumer(fs, &ConsumerConfig{Consumer: "w1", Handler: h, Logger: zerolog.Nop()})

		if !c.handleMessage(context.Background(), entry(t, "1-0", job)) {
			t.Fatal("handleMessage refused a valid job")
		}
		if len(h.jobs) != 1 || h.jobs[0].RecordID != job.RecordID {
			t.Fatalf("handler jobs = %+v", h.jobs)
		}
		if got := fs.ackedIDs(); len(got) != 1 || got[0] != "1-0" {
			t.Errorf("acked = %v, want [1-0]", got)
		}
	})

	t.Run("failed dispatch stays pending", func(t *testing.T) {
		fs := newFakeStream()
		h := &fakeHandler{result: domain.NewStoreError("claim", errors.New("down"))}
		c := newConsumer(fs, &ConsumerConfig{Consumer: "w1", Handler: h, Logger: zerolog.Nop()})

		c.handleMessage(context.Background(), entry(t, "1-0", job))
		if got := fs.ackedIDs(); len(got) != 0 {
			t.Errorf("acked = %v, want none", got)
		}
	})

	t.Run("rejected job is not acked", func(t *testing.T) {
		fs := newFakeStream()
		h := &fakeHandler{reject: domain.ErrQueueFull}
		c := newConsumer(fs, &ConsumerConfig{Consumer: "w1", Handler: h, Logger: zerolog.Nop()})

		if c.handleMessage(context.Background(), entry(t, "1-0", job)) {
			t.Error("handleMessage should report the rejection")
		}
		if got := fs.ackedIDs(); len(got) != 0 {
			t.Errorf("acked = %v, want none", got)
		}
	})

	t.Run("malformed entry goes to DLQ", func(t *testing.T) {
		fs := newFakeStream()
		h := &fakeHandler{}
		c := newConsumer(fs, &ConsumerConfig{Consumer: "w1", Handler: h, Logger: zerolog.Nop()})

		c.handleMessage(context.Background(), redis.XMessage{ID: "2-0", Values: map[string]interface{}{"data": "nope"}})
		if len(fs.added) != 1 || fs.added[0].Stream != "dlq:"+StreamDispatch {
			t.Fatalf("expected one DLQ entry, got %+v", fs.added)
		}
		if got := fs.ackedIDs(); len(got) != 1 || got[0] != "2-0" {
			t.Errorf("acked = %v, want [2-0]", got)
		}
		if len(h.jobs) != 0 {
			t.Error("handler must not see malformed entries")
		}
	})
}

func TestConsumer_ClaimPending(t *testing.T) {
	fs := newFakeStream()
	job := &out.DispatchJob{RecordID: uuid.New()}
	fs.entries["1-0"] = entry(t, "1-0", job)
	fs.entries["2-0"] = entry(t, "2-0", job)
	fs.pending = []redis.XPendingExt{
		{ID: "1-0", Consumer: "dead", Idle: time.Hour, RetryCount: 1},
		{ID: "2-0", Consumer: "dead", Idle: time.Hour, RetryCount: 3},
		{ID: "3-0", Consumer: "busy", Idle: time.Second, RetryCount: 1},
	}
	h := &fakeHandler{}
	c := newConsumer(fs, &ConsumerConfig{Consumer: "w1", Handler: h, Logger: zerolog.Nop(), PendingIdleTime: time.Minute})

	c.claimPending(context.Background())

	if len(fs.claimed) != 1 || fs.claimed[0] != "1-0" {
		t.Errorf("claimed = %v, want [1-0]", fs.claimed)
	}
	if len(h.jobs) != 1 {
		t.Errorf("reprocessed = %d, want 1", len(h.jobs))
	}
	if len(fs.added) != 1 || fs.added[0].Stream != "dlq:"+StreamDispatch {
		t.Errorf("expected 2-0 in DLQ, got %+v", fs.added)
	}
	acked := fs.ackedIDs()
	if len(acked) != 2 {
		t.Errorf("acked = %v, want 1-0 and 2-0", acked)
	}
}

func TestConsumer_EnsureGroup(t *testing.T) {
	fs := newFakeStream()
	c := newConsumer(fs, &ConsumerConfig{Consumer: "w1", Handler: &fakeHandler{}, Logger: zerolog.Nop()})

	fs.groupErr = errors.New("BUSYGROUP Consumer Group name already exists")
	if err := c.ensureGroup(context.Background()); err != nil {
		t.Errorf("BUSYGROUP should be ignored, got %v", err)
	}
	fs.groupErr = errors.New("NOAUTH Authentication required")
	if err := c.ensureGroup(context.Background()); err == nil {
		t.Error("expected error for NOAUTH")
	}
}
