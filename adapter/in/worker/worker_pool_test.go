package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"inbox_worker/core/domain"
	"inbox_worker/core/port/in"
	"inbox_worker/core/port/out"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type fakeDispatcher struct {
	mu     sync.Mutex
	calls  map[uuid.UUID]int
	forced int32
	block  chan struct{}
	err    error
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{calls: make(map[uuid.UUID]int)}
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, id uuid.UUID, opts in.DispatchOptions) (in.DispatchOutcome, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	f.calls[id]++
	f.mu.Unlock()
	if opts.Force {
		atomic.AddInt32(&f.forced, 1)
	}
	if f.err != nil {
		return "", f.err
	}
	return in.OutcomeClassified, nil
}

func (f *fakeDispatcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func testPoolConfig() *PoolConfig {
	return &PoolConfig{Workers: 4, QueueSize: 100, JobTimeout: time.Second, WorkerChanSize: 1}
}

func TestPool_DispatchesEveryJob(t *testing.T) {
	d := newFakeDispatcher()
	p := NewPool(d, testPoolConfig(), zerolog.Nop())
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Stop(context.Background())

	for i := 0; i < 50; i++ {
		if err := p.Enqueue(context.Background(), &out.DispatchJob{RecordID: uuid.New(), Force: i%10 == 0}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if got := d.total(); got != 50 {
		t.Errorf("dispatched = %d, want 50", got)
	}
	if got := atomic.LoadInt32(&d.forced); got != 5 {
		t.Errorf("forced = %d, want 5", got)
	}
	m := p.GetMetrics()
	if m.JobsProcessed != 50 || m.JobsFailed != 0 || m.QueueSize != 0 {
		t.Errorf("unexpected metrics: %+v", m)
	}
	if p.Latency()["classified"].Count != 50 {
		t.Errorf("latency not recorded: %+v", p.Latency())
	}
}

func TestPool_EnqueueDoesNotBlockWhenFull(t *testing.T) {
	d := newFakeDispatcher()
	p := NewPool(d, &PoolConfig{Workers: 1, QueueSize: 2, JobTimeout: time.Second}, zerolog.Nop())

	// not started: the queue fills and the next Enqueue is rejected at once
	for i := 0; i < 2; i++ {
		if err := p.Enqueue(context.Background(), &out.DispatchJob{RecordID: uuid.New()}); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}

	done := make(chan error, 1)
	go func() { done <- p.Enqueue(context.Background(), &out.DispatchJob{RecordID: uuid.New()}) }()

	select {
	case err := <-done:
		if !errors.Is(err, domain.ErrQueueFull) {
			t.Errorf("err = %v, want ErrQueueFull", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
	if got := p.GetMetrics().JobsDropped; got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}

	// queued jobs run once the pool starts
	if err := p.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := d.total(); got != 2 {
		t.Errorf("dispatched = %d, want 2", got)
	}
	p.Stop(context.Background())
}

func TestPool_EnqueueAfter(t *testing.T) {
	d := newFakeDispatcher()
	p := NewPool(d, testPoolConfig(), zerolog.Nop())
	p.Start()
	defer p.Stop(context.Background())

	id := uuid.New()
	job := &out.DispatchJob{RecordID: id, Attempt: 2, Reason: "retry"}
	p.EnqueueAfter(job, 20*time.Millisecond)
	job.RecordID = uuid.New() // the scheduled job holds its own copy

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		d.mu.Lock()
		n := d.calls[id]
		d.mu.Unlock()
		if n == 1 {
			if got := p.GetMetrics().JobsScheduled; got != 1 {
				t.Errorf("scheduled = %d, want 1", got)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("delayed job never dispatched")
}

func TestPool_DispatchErrorIsCounted(t *testing.T) {
	d := newFakeDispatcher()
	d.err = domain.NewStoreError("claim", errors.New("connection refused"))
	p := NewPool(d, testPoolConfig(), zerolog.Nop())
	p.Start()
	defer p.Stop(context.Background())

	var acked []error
	var mu sync.Mutex
	msg := NewMessage(&out.DispatchJob{RecordID: uuid.New()}).WithDone(func(err error) {
		mu.Lock()
		acked = append(acked, err)
		mu.Unlock()
	})
	if err := p.Submit(msg); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p.Wait(ctx)

	if got := p.GetMetrics().JobsFailed; got != 1 {
		t.Errorf("failed = %d, want 1", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(acked) != 1 || acked[0] == nil {
		t.Errorf("done callback = %v, want one error", acked)
	}
}

func TestPool_StopRejectsNewJobs(t *testing.T) {
	d := newFakeDispatcher()
	d.block = make(chan struct{})
	p := NewPool(d, testPoolConfig(), zerolog.Nop())
	p.Start()

	p.Enqueue(context.Background(), &out.DispatchJob{RecordID: uuid.New()})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	close(d.block)
	if err := p.Stop(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop: %v", err)
	}

	if err := p.Enqueue(context.Background(), &out.DispatchJob{RecordID: uuid.New()}); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Enqueue after stop = %v, want ErrPoolClosed", err)
	}
	if err := p.Start(); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Start after stop = %v, want ErrPoolClosed", err)
	}
}

func TestNewMessage(t *testing.T) {
	job := &out.DispatchJob{RecordID: uuid.New(), Reason: "ingest"}
	msg := NewMessage(job)
	if msg.ID == "" || msg.Job.EnqueuedAt.IsZero() {
		t.Errorf("message not initialised: %+v", msg)
	}
	if !job.EnqueuedAt.IsZero() {
		t.Error("NewMessage must not mutate the caller's job")
	}
	msg.finish(nil) // no callback set
}
