// Package notification routes alerts for classified records to the
// configured outbound channels.
package notification

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"inbox_worker/core/domain"
	"inbox_worker/core/port/out"
	"inbox_worker/pkg/resilience"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ErrNoChannels is returned by Notify when nothing is configured.
var ErrNoChannels = errors.New("no notification channels configured")

type Config struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	RetryDelay     time.Duration
	// Concurrency bounds in-flight deliveries per channel.
	Concurrency    int
	DashboardURL   string
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:    2,
		AttemptTimeout: 5 * time.Second,
		RetryDelay:     500 * time.Millisecond,
		Concurrency:    16,
		DashboardURL:   "http://localhost:3000",
	}
}

// Stats are cumulative delivery counters.
type Stats struct {
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
}

// Router fans one event out to every channel. Deliveries are independent:
// one failing channel never blocks or fails another.
type Router struct {
	channels []out.NotificationChannel
	breakers map[string]*gobreaker.CircuitBreaker
	sems     map[string]chan struct{}
	cfg      Config

	delivered atomic.Int64
	failed    atomic.Int64

	wg  sync.WaitGroup
	log zerolog.Logger
}

var _ out.Notifier = (*Router)(nil)

func NewRouter(channels []out.NotificationChannel, cfg Config, log zerolog.Logger) *Router {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.DashboardURL == "" {
		cfg.DashboardURL = def.DashboardURL
	}

	log = log.With().Str("component", "notification_router").Logger()
	breakers := make(map[string]*gobreaker.CircuitBreaker, len(channels))
	sems := make(map[string]chan struct{}, len(channels))
	for _, ch := range channels {
		bc := resilience.DefaultBreakerConfig("notify:" + ch.Name())
		bc.Logger = log
		breakers[ch.Name()] = resilience.NewBreaker(bc)
		// a slow endpoint only fills its own slots
		sems[ch.Name()] = make(chan struct{}, cfg.Concurrency)
	}

	return &Router{
		channels: channels,
		breakers: breakers,
		sems:     sems,
		cfg:      cfg,
		log:      log,
	}
}

// Channels returns the configured channel names.
func (r *Router) Channels() []string {
	names := make([]string, len(r.channels))
	for i, ch := range r.channels {
		names[i] = ch.Name()
	}
	return names
}

// NotifyAsync delivers ev in the background. Failures are logged and
// counted, never reported to the caller.
func (r *Router) NotifyAsync(ev *domain.NotificationEvent) {
	if ev == nil || len(r.channels) == 0 {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if _, err := r.Notify(context.Background(), ev); err != nil {
			r.log.Error().Err(err).Str("record_id", ev.RecordID.String()).Msg("alert not delivered to any channel")
		}
	}()
}

// Notify delivers ev to every channel and waits. The error is non-nil only
// when no channel succeeded.
func (r *Router) Notify(ctx context.Context, ev *domain.NotificationEvent) ([]domain.DeliveryResult, error) {
	if len(r.channels) == 0 {
		return nil, ErrNoChannels
	}
	ev = r.withLink(ev)

	results := make([]domain.DeliveryResult, len(r.channels))
	var wg sync.WaitGroup
	for i, ch := range r.channels {
		wg.Add(1)
		go func(i int, ch out.NotificationChannel) {
			defer wg.Done()
			results[i] = r.deliver(ctx, ch, ev)
		}(i, ch)
	}
	wg.Wait()

	var errs []error
	for _, res := range results {
		if res.Delivered() {
			return results, nil
		}
		errs = append(errs, res.Err)
	}
	return results, errors.Join(errs...)
}

// Wait blocks until background deliveries finish or ctx is done.
func (r *Router) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Router) Stats() Stats {
	return Stats{Delivered: r.delivered.Load(), Failed: r.failed.Load()}
}

func (r *Router) deliver(ctx context.Context, ch out.NotificationChannel, ev *domain.NotificationEvent) domain.DeliveryResult {
	start := time.Now()
	result := domain.DeliveryResult{Channel: ch.Name()}

	sem := r.sems[ch.Name()]
	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		result.Err = r.deliveryError(ch, ev, 0, ctx.Err())
		r.failed.Add(1)
		return result
	}

	cb := r.breakers[ch.Name()]
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if attempt > 1 && !sleepCtx(ctx, r.cfg.RetryDelay) {
			break
		}
		_, err := cb.Execute(func() (interface{}, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
			defer cancel()
			return nil, ch.Send(attemptCtx, ev)
		})
		result.Attempts++
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		if resilience.IsOpen(err) {
			break
		}
	}
	result.Duration = time.Since(start)

	if lastErr == nil {
		r.delivered.Add(1)
		r.log.Info().
			Str("channel", ch.Name()).
			Str("record_id", ev.RecordID.String()).
			Str("type", string(ev.Type)).
			Int("attempts", result.Attempts).
			Msg("alert delivered")
		return result
	}

	derr := r.deliveryError(ch, ev, result.Attempts, lastErr)
	result.Err = derr
	r.failed.Add(1)
	r.log.Warn().Err(derr).
		Str("channel", ch.Name()).
		Str("record_id", ev.RecordID.String()).
		Msg("alert delivery failed")
	return result
}

func (r *Router) deliveryError(ch out.NotificationChannel, ev *domain.NotificationEvent, attempts int, err error) *domain.DeliveryError {
	derr := &domain.DeliveryError{
		Channel:  ch.Name(),
		RecordID: ev.RecordID,
		Attempts: attempts,
		Err:      err,
	}
	var status interface{ HTTPStatus() int }
	if errors.As(err, &status) {
		derr.StatusCode = status.HTTPStatus()
	}
	return derr
}

// withLink returns a copy of ev carrying the dashboard deep link.
func (r *Router) withLink(ev *domain.NotificationEvent) *domain.NotificationEvent {
	cp := *ev
	if cp.Link == "" {
		cp.Link = DeepLink(r.cfg.DashboardURL, ev.RecordID.String())
	}
	return &cp
}

// DeepLink appends recordId to the dashboard URL, keeping any existing query.
func DeepLink(dashboardURL, recordID string) string {
	u, err := url.Parse(dashboardURL)
	if err != nil {
		return dashboardURL + "?recordId=" + url.QueryEscape(recordID)
	}
	q := u.Query()
	q.Set("recordId", recordID)
	u.RawQuery = q.Encode()
	return u.String()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
