// Package classification runs background classification of records.
package classification

import (
	"context"
	"errors"
	"time"

	"inbox_worker/core/domain"
	"inbox_worker/core/port/in"
	"inbox_worker/core/port/out"
	"inbox_worker/pkg/resilience"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const DefaultMaxAttempts = 3

type Config struct {
	MaxAttempts   int
	Backoff       resilience.Backoff
	ExcerptLength int
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:   DefaultMaxAttempts,
		Backoff:       resilience.Backoff{Base: 2 * time.Second, Max: time.Minute, Jitter: 0.1},
		ExcerptLength: domain.DefaultExcerptLength,
	}
}

// Dispatcher claims a record, classifies it, writes the result and hands
// notifiable results to the notifier. It is the only writer of
// classification fields.
type Dispatcher struct {
	records    out.RecordRepository
	classifier out.Classifier
	notifier   out.Notifier
	realtime   out.RealtimePort
	retries    out.DelayedDispatchQueue

	cfg Config
	now func() time.Time
	log zerolog.Logger
}

var _ in.DispatchService = (*Dispatcher)(nil)

func NewDispatcher(
	records out.RecordRepository,
	classifier out.Classifier,
	notifier out.Notifier,
	cfg Config,
	log zerolog.Logger,
) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Dispatcher{
		records:    records,
		classifier: classifier,
		notifier:   notifier,
		cfg:        cfg,
		now:        time.Now,
		log:        log.With().Str("component", "dispatcher").Logger(),
	}
}

// SetRetryQueue sets the queue used for delayed retries. Without one,
// retryable failures are left unclassified for the reconciliation sweep.
func (d *Dispatcher) SetRetryQueue(q out.DelayedDispatchQueue) {
	d.retries = q
}

// SetRealtime enables record update events.
func (d *Dispatcher) SetRealtime(rt out.RealtimePort) {
	d.realtime = rt
}

// Dispatch runs one classification attempt. Classifier failures are
// absorbed into the outcome; only store errors are returned.
func (d *Dispatcher) Dispatch(ctx context.Context, recordID uuid.UUID, opts in.DispatchOptions) (in.DispatchOutcome, error) {
	from := []domain.ClassificationStatus{domain.StatusUnclassified}
	if opts.Force {
		from = append(from, domain.StatusFailed, domain.StatusClassified)
	}

	rec, claimed, err := d.records.Claim(ctx, recordID, from, d.now())
	if err != nil {
		return "", err
	}
	if !claimed {
		if rec.Status == domain.StatusInFlight {
			return in.OutcomeAlreadyInFlight, nil
		}
		d.log.Debug().
			Str("record_id", recordID.String()).
			Str("status", string(rec.Status)).
			Msg("record not claimable, skipping")
		return in.OutcomeSkipped, nil
	}
	d.broadcast(ctx, domain.EventRecordUpdated, rec)

	start := d.now()
	result, err := d.classifier.Classify(ctx, rec.Text(), rec.Kind)
	if err != nil {
		if ctx.Err() != nil {
			// shutting down; the sweep releases the claim later
			return "", ctx.Err()
		}
		return d.fail(ctx, rec, err)
	}

	updated, err := d.records.ApplyClassification(ctx, recordID, result, d.now())
	if errors.Is(err, domain.ErrClaimLost) {
		d.log.Warn().Str("record_id", recordID.String()).Msg("claim lost before classification write")
		return in.OutcomeClaimLost, nil
	}
	if err != nil {
		return "", err
	}

	d.log.Info().
		Str("record_id", recordID.String()).
		Str("kind", string(updated.Kind)).
		Str("category", string(result.Category)).
		Float64("priority", result.Priority).
		Bool("urgent", result.Urgent).
		Dur("duration", d.now().Sub(start)).
		Msg("record classified")
	d.broadcast(ctx, domain.EventRecordClassified, updated)

	if result.ShouldNotify() && d.notifier != nil {
		if ev := domain.NewNotificationEvent(updated, d.cfg.ExcerptLength); ev != nil {
			d.notifier.NotifyAsync(ev)
		}
	}
	return in.OutcomeClassified, nil
}

func (d *Dispatcher) fail(ctx context.Context, rec *domain.Record, cause error) (in.DispatchOutcome, error) {
	attempt := rec.RetryCount + 1
	terminal := attempt >= d.cfg.MaxAttempts || !retryable(cause)

	updated, err := d.records.RecordFailure(ctx, rec.ID, cause.Error(), terminal)
	if errors.Is(err, domain.ErrClaimLost) {
		return in.OutcomeClaimLost, nil
	}
	if err != nil {
		return "", err
	}
	d.broadcast(ctx, domain.EventRecordUpdated, updated)

	logEvent := d.log.Warn().
		Err(cause).
		Str("record_id", rec.ID.String()).
		Int("attempt", attempt).
		Int("max_attempts", d.cfg.MaxAttempts)
	if terminal {
		logEvent.Msg("classification failed permanently")
		return in.OutcomeFailed, nil
	}

	delay := d.cfg.Backoff.Delay(attempt)
	logEvent.Dur("retry_in", delay).Msg("classification failed, retrying")
	if d.retries != nil {
		d.retries.EnqueueAfter(&out.DispatchJob{
			RecordID:   rec.ID,
			Attempt:    attempt + 1,
			Reason:     "retry",
			EnqueuedAt: d.now().UTC(),
		}, delay)
	}
	return in.OutcomeRetrying, nil
}

func retryable(err error) bool {
	var ve *domain.ValidationError
	return !errors.As(err, &ve)
}

func (d *Dispatcher) broadcast(ctx context.Context, t domain.EventType, rec *domain.Record) {
	if d.realtime == nil || rec == nil {
		return
	}
	ev := &domain.RealtimeEvent{Type: t, Data: rec, Timestamp: d.now().UTC()}
	if err := d.realtime.Broadcast(ctx, ev); err != nil {
		d.log.Debug().Err(err).Str("event", string(t)).Msg("realtime broadcast failed")
	}
}
