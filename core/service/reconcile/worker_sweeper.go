// Package reconcile re-dispatches records that fell out of the pipeline:
// claims abandoned by a crashed or stopped worker and jobs dropped by a
// full queue.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"inbox_worker/core/domain"
	"inbox_worker/core/port/out"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Standard 5-field expressions plus descriptors such as "@every 1m".
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Config struct {
	Schedule   string
	StaleAfter time.Duration
	BatchSize  int
	// RetryGrace is the longest delay the dispatcher may wait before a
	// retry. Records that failed more recently are left to that retry.
	RetryGrace time.Duration
}

func DefaultConfig() Config {
	return Config{
		Schedule:   "@every 1m",
		StaleAfter: 5 * time.Minute,
		BatchSize:  500,
	}
}

type Result struct {
	Released int `json:"released"`
	Requeued int `json:"requeued"`
}

type Sweeper struct {
	records  out.RecordRepository
	queue    out.DispatchQueue
	cfg      Config
	schedule cron.Schedule
	cron     *cron.Cron
	now      func() time.Time
	log      zerolog.Logger
}

func NewSweeper(records out.RecordRepository, queue out.DispatchQueue, cfg Config, log zerolog.Logger) (*Sweeper, error) {
	def := DefaultConfig()
	if cfg.Schedule == "" {
		cfg.Schedule = def.Schedule
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	sched, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", cfg.Schedule, err)
	}
	return &Sweeper{
		records:  records,
		queue:    queue,
		cfg:      cfg,
		schedule: sched,
		now:      time.Now,
		log:      log.With().Str("component", "reconcile").Logger(),
	}, nil
}

// Interval is the time between two consecutive scheduled sweeps.
func (s *Sweeper) Interval() time.Duration {
	first := s.schedule.Next(s.now())
	return s.schedule.Next(first).Sub(first)
}

// Sweep releases stale claims, then re-enqueues unclassified records that
// have been idle for a sweep interval or the retry grace, whichever is longer.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	var res Result
	now := s.now()

	released, err := s.records.ReleaseStale(ctx, now.Add(-s.cfg.StaleAfter))
	if err != nil {
		return res, err
	}
	res.Released = len(released)

	pending, err := s.records.ListPending(ctx, now.Add(-s.idleAfter()), s.cfg.BatchSize)
	if err != nil {
		return res, err
	}

	seen := make(map[uuid.UUID]struct{}, len(released)+len(pending))
	for _, id := range append(released, pending...) {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		err := s.queue.Enqueue(ctx, &out.DispatchJob{
			RecordID:   id,
			Attempt:    1,
			Reason:     "reconcile",
			EnqueuedAt: now.UTC(),
		})
		if errors.Is(err, domain.ErrQueueFull) {
			s.log.Warn().Int("requeued", res.Requeued).Msg("dispatch queue full, stopping sweep early")
			break
		}
		if err != nil {
			return res, err
		}
		res.Requeued++
	}

	if res.Released > 0 || res.Requeued > 0 {
		s.log.Info().Int("released", res.Released).Int("requeued", res.Requeued).Msg("reconciliation sweep")
	}
	return res, nil
}

func (s *Sweeper) idleAfter() time.Duration {
	if d := s.Interval(); d > s.cfg.RetryGrace {
		return d
	}
	return s.cfg.RetryGrace
}

// Start runs Sweep on the configured schedule until Stop.
func (s *Sweeper) Start(ctx context.Context) {
	s.cron = cron.New(cron.WithParser(cronParser))
	s.cron.Schedule(s.schedule, cron.FuncJob(func() {
		if _, err := s.Sweep(ctx); err != nil {
			s.log.Error().Err(err).Msg("reconciliation sweep failed")
		}
	}))
	s.cron.Start()
	s.log.Info().Str("schedule", s.cfg.Schedule).Dur("stale_after", s.cfg.StaleAfter).Msg("reconciliation scheduled")
}

// Stop halts the schedule and waits for a running sweep.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
