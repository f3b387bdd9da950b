package bootstrap

import (
	"context"
	"errors"
	"sync"

	"inbox_worker/adapter/out/messaging"
	"inbox_worker/pkg/logger"

	"github.com/rs/zerolog"
)

// Worker runs the background side of the pipeline: the dispatch pool, the
// stream consumer feeding it, the reconcile sweeper and the realtime relay.
// Which parts run depends on the mode.
type Worker struct {
	deps     *Dependencies
	consumer *messaging.Consumer
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	zlog     zerolog.Logger
}

func NewWorker(deps *Dependencies) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		zlog:   logger.Zerolog("worker"),
	}

	cfg := deps.Config
	if deps.Mode == ModeWorker {
		w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
			Group:                "dispatchers",
			Consumer:             cfg.WorkerID,
			Stream:               messaging.StreamDispatch,
			Handler:              deps.Pool,
			Logger:               w.zlog,
			ReadCount:            int64(cfg.ConsumerBatchSize),
			Block:                cfg.ConsumerBlock,
			PendingCheckInterval: cfg.ConsumerPendingCheck,
			PendingIdleTime:      cfg.ConsumerPendingIdleTime,
			MaxRetries:           cfg.ConsumerMaxRetries,
		})
		logger.Info("Redis Stream Consumer configured (consumer %s)", cfg.WorkerID)
	}
	return w
}

// Start launches the background components and blocks until Stop is called.
func (w *Worker) Start() error {
	if w.deps.Pool != nil {
		if err := w.deps.Pool.Start(); err != nil {
			return err
		}
	}

	if w.consumer != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.zlog.Info().Msg("Starting Redis Stream Consumer...")
			if err := w.consumer.Run(w.ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.zlog.Error().Err(err).Msg("Redis Stream Consumer error")
			}
		}()
	}

	if w.deps.Relay != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.deps.Relay.Run(w.ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.zlog.Error().Err(err).Msg("Realtime relay error")
			}
		}()
	}

	// the API process only ingests; stale claims are swept where dispatch runs
	if w.deps.Mode != ModeAPI {
		w.deps.Sweeper.Start(w.ctx)
		w.zlog.Info().Dur("interval", w.deps.Sweeper.Interval()).Msg("Started reconcile sweeper")
	}

	<-w.ctx.Done()
	return nil
}

// Stop cancels the consumer first so no new jobs arrive, then drains the
// pool and the notification router within ctx.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()
	w.wg.Wait()

	var errs []error
	if w.deps.Mode != ModeAPI {
		if err := w.deps.Sweeper.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if w.deps.Pool != nil {
		if err := w.deps.Pool.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if w.deps.Router != nil {
		if err := w.deps.Router.Wait(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (w *Worker) Dependencies() *Dependencies {
	return w.deps
}
