package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"inbox_worker/core/domain"
	"inbox_worker/core/port/in"
	"inbox_worker/core/port/out"
	"inbox_worker/pkg/metrics"

	"github.com/go-pkgz/pool"
	"github.com/rs/zerolog"
)

// ErrPoolClosed is returned when submitting to a stopped pool.
var ErrPoolClosed = errors.New("worker pool closed")

// PoolConfig holds worker pool configuration.
type PoolConfig struct {
	Workers         int           // concurrent dispatches
	QueueSize       int           // pending jobs before Enqueue rejects
	JobTimeout      time.Duration // upper bound for one dispatch
	WorkerChanSize  int           // go-pkgz/pool per-worker buffer
	MetricsInterval time.Duration // 0 disables the periodic metrics log
}

// DefaultPoolConfig returns default pool configuration.
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:         8,
		QueueSize:       1000,
		JobTimeout:      2 * time.Minute,
		WorkerChanSize:  16,
		MetricsInterval: time.Minute,
	}
}

// Pool runs dispatch jobs on a bounded go-pkgz/pool worker group. It is the
// in-process DispatchQueue: Enqueue never blocks and drops when full.
type Pool struct {
	dispatcher in.DispatchService
	config     *PoolConfig

	queue chan *Message
	pool  *pool.WorkerGroup[*Message]

	// feedCtx stops the feeder before the worker group is closed, so the
	// group drains what it already holds.
	ctx        context.Context
	cancel     context.CancelFunc
	feedCtx    context.Context
	feedCancel context.CancelFunc
	feedWg     sync.WaitGroup

	metrics *PoolMetrics
	latency *metrics.LatencyRegistry
	log     zerolog.Logger

	started bool
	closed  atomic.Bool
	mu      sync.Mutex
}

// PoolMetrics holds pool counters.
type PoolMetrics struct {
	JobsProcessed  int64 `json:"jobs_processed"`
	JobsFailed     int64 `json:"jobs_failed"`
	JobsDropped    int64 `json:"jobs_dropped"`
	JobsScheduled  int64 `json:"jobs_scheduled"`
	AvgProcessTime int64 `json:"avg_process_ms"`
	QueueSize      int32 `json:"queue_size"`
	Workers        int32 `json:"workers"`
}

type messageWorker struct {
	pool *Pool
}

// Do implements pool.Worker.
func (w *messageWorker) Do(ctx context.Context, msg *Message) error {
	return w.pool.processJob(ctx, msg)
}

// NewPool creates a dispatch pool. Jobs may be enqueued before Start; they
// wait in the queue.
func NewPool(dispatcher in.DispatchService, config *PoolConfig, log zerolog.Logger) *Pool {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	feedCtx, feedCancel := context.WithCancel(ctx)

	return &Pool{
		dispatcher: dispatcher,
		config:     config,
		queue:      make(chan *Message, config.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
		feedCtx:    feedCtx,
		feedCancel: feedCancel,
		metrics:    &PoolMetrics{Workers: int32(config.Workers)},
		latency:    metrics.NewLatencyRegistry(500),
		log:        log.With().Str("component", "worker_pool").Logger(),
	}
}

// Start starts the worker group and the feeder.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}
	if p.closed.Load() {
		return ErrPoolClosed
	}

	// no WithBatchSize: a batch waits until it fills, and dispatch jobs
	// trickle in one at a time
	p.pool = pool.New[*Message](p.config.Workers, &messageWorker{pool: p}).
		WithWorkerChanSize(p.config.WorkerChanSize).
		WithContinueOnError()

	if err := p.pool.Go(p.ctx); err != nil {
		return err
	}
	p.started = true

	p.feedWg.Add(1)
	go p.feed()

	if p.config.MetricsInterval > 0 {
		go p.metricsReporter()
	}

	p.log.Info().
		Int("workers", p.config.Workers).
		Int("queue_size", p.config.QueueSize).
		Dur("job_timeout", p.config.JobTimeout).
		Msg("dispatch pool started")
	return nil
}

// Stop stops accepting jobs, lets the worker group finish what it already
// holds (bounded by ctx) and cancels the rest. Jobs still queued are
// abandoned; their records stay unclassified for the reconcile sweep.
func (p *Pool) Stop(ctx context.Context) error {
	p.log.Info().Msg("stopping dispatch pool...")

	p.closed.Store(true)

	p.mu.Lock()
	started := p.started
	p.started = false
	p.mu.Unlock()

	p.feedCancel()
	p.feedWg.Wait()

	var err error
	if started && p.pool != nil {
		if err = p.pool.Close(ctx); err != nil && !errors.Is(err, context.Canceled) {
			p.log.Warn().Err(err).Msg("error closing worker group")
		}
	}
	p.cancel()

	abandoned := len(p.queue)
	p.log.Info().
		Int64("processed", atomic.LoadInt64(&p.metrics.JobsProcessed)).
		Int64("failed", atomic.LoadInt64(&p.metrics.JobsFailed)).
		Int64("dropped", atomic.LoadInt64(&p.metrics.JobsDropped)).
		Int("abandoned", abandoned).
		Msg("dispatch pool stopped")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Enqueue implements out.DispatchQueue.
func (p *Pool) Enqueue(_ context.Context, job *out.DispatchJob) error {
	return p.Submit(NewMessage(job))
}

// EnqueueAfter implements out.DelayedDispatchQueue.
func (p *Pool) EnqueueAfter(job *out.DispatchJob, delay time.Duration) {
	atomic.AddInt64(&p.metrics.JobsScheduled, 1)
	copied := *job
	time.AfterFunc(delay, func() {
		if err := p.Enqueue(context.Background(), &copied); err != nil {
			p.log.Warn().
				Err(err).
				Str("record_id", copied.RecordID.String()).
				Int("attempt", copied.Attempt).
				Msg("delayed dispatch not queued")
		}
	})
}

// HandleJob accepts a job read from the dispatch stream. ack runs after the
// dispatch attempt.
func (p *Pool) HandleJob(_ context.Context, job *out.DispatchJob, ack func(err error)) error {
	return p.Submit(NewMessage(job).WithDone(ack))
}

// Submit queues a message without blocking.
func (p *Pool) Submit(msg *Message) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	select {
	case p.queue <- msg:
		atomic.AddInt32(&p.metrics.QueueSize, 1)
		return nil
	default:
		atomic.AddInt64(&p.metrics.JobsDropped, 1)
		p.log.Warn().
			Str("job_id", msg.ID).
			Str("record_id", msg.Job.RecordID.String()).
			Str("reason", msg.Job.Reason).
			Msg("job dropped, queue full")
		return domain.ErrQueueFull
	}
}

// Wait blocks until no job is queued or running, or ctx ends.
func (p *Pool) Wait(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for atomic.LoadInt32(&p.metrics.QueueSize) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// feed moves queued messages into the worker group. It is the only
// goroutine calling WorkerGroup.Submit.
func (p *Pool) feed() {
	defer p.feedWg.Done()

	for {
		select {
		case <-p.feedCtx.Done():
			return
		case msg := <-p.queue:
			p.pool.Submit(msg)
		}
	}
}

// processJob runs one dispatch with the job timeout. Errors are logged and
// counted here; the worker group never sees them.
func (p *Pool) processJob(ctx context.Context, msg *Message) error {
	start := time.Now()
	defer atomic.AddInt32(&p.metrics.QueueSize, -1)

	jobCtx := ctx
	if p.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, p.config.JobTimeout)
		defer cancel()
	}

	outcome, err := p.dispatcher.Dispatch(jobCtx, msg.Job.RecordID, in.DispatchOptions{Force: msg.Job.Force})

	elapsed := time.Since(start)
	p.updateAvgProcessTime(elapsed.Milliseconds())
	key := string(outcome)
	if err != nil {
		key = "error"
	}
	p.latency.Record(key, elapsed)

	msg.finish(err)

	if err != nil {
		atomic.AddInt64(&p.metrics.JobsFailed, 1)
		p.log.Error().
			Err(err).
			Str("job_id", msg.ID).
			Str("record_id", msg.Job.RecordID.String()).
			Str("reason", msg.Job.Reason).
			Dur("elapsed", elapsed).
			Msg("dispatch failed")
		return nil
	}

	atomic.AddInt64(&p.metrics.JobsProcessed, 1)
	p.log.Debug().
		Str("job_id", msg.ID).
		Str("record_id", msg.Job.RecordID.String()).
		Str("outcome", string(outcome)).
		Dur("elapsed", elapsed).
		Msg("dispatch finished")
	return nil
}

func (p *Pool) updateAvgProcessTime(elapsed int64) {
	current := atomic.LoadInt64(&p.metrics.AvgProcessTime)
	if current == 0 {
		atomic.StoreInt64(&p.metrics.AvgProcessTime, elapsed)
	} else {
		atomic.StoreInt64(&p.metrics.AvgProcessTime, (current*9+elapsed)/10)
	}
}

func (p *Pool) metricsReporter() {
	ticker := time.NewTicker(p.config.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			m := p.GetMetrics()
			p.log.Info().
				Int64("processed", m.JobsProcessed).
				Int64("failed", m.JobsFailed).
				Int64("dropped", m.JobsDropped).
				Int64("scheduled", m.JobsScheduled).
				Int64("avg_process_ms", m.AvgProcessTime).
				Int32("queue_size", m.QueueSize).
				Msg("dispatch pool metrics")
		}
	}
}

// GetMetrics returns current pool metrics.
func (p *Pool) GetMetrics() PoolMetrics {
	return PoolMetrics{
		JobsProcessed:  atomic.LoadInt64(&p.metrics.JobsProcessed),
		JobsFailed:     atomic.LoadInt64(&p.metrics.JobsFailed),
		JobsDropped:    atomic.LoadInt64(&p.metrics.JobsDropped),
		JobsScheduled:  atomic.LoadInt64(&p.metrics.JobsScheduled),
		AvgProcessTime: atomic.LoadInt64(&p.metrics.AvgProcessTime),
		QueueSize:      atomic.LoadInt32(&p.metrics.QueueSize),
		Workers:        p.metrics.Workers,
	}
}

// Latency returns dispatch latency by outcome.
func (p *Pool) Latency() map[string]metrics.LatencyStats {
	return p.latency.AllStats()
}
