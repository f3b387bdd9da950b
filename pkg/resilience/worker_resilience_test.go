package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{30, time.Second},
	}
	for _, tt := range tests {
		if got := b.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffJitterBounds(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Jitter: 0.5}
	for i := 0; i < 100; i++ {
		d := b.Delay(2)
		if d < 200*time.Millisecond || d > 300*time.Millisecond {
			t.Fatalf("jittered delay %v out of [200ms,300ms]", d)
		}
	}
}

func TestBreakerTripsOnConsecutiveFailures(t *testing.T) {
	cfg := DefaultBreakerConfig("test")
	cfg.ConsecutiveFailures = 2
	cb := NewBreaker(cfg)

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		cb.Execute(func() (interface{}, error) { return nil, boom })
	}
	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("state = %s, want open", cb.State())
	}

	_, err := cb.Execute(func() (interface{}, error) { return nil, nil })
	if !IsOpen(err) {
		t.Errorf("expected open-state error, got %v", err)
	}
}

func TestBreakerIsSuccessful(t *testing.T) {
	ignored := errors.New("caller error")
	cfg := DefaultBreakerConfig("test")
	cfg.ConsecutiveFailures = 1
	cfg.IsSuccessful = func(err error) bool { return err == nil || errors.Is(err, ignored) }
	cb := NewBreaker(cfg)

	cb.Execute(func() (interface{}, error) { return nil, ignored })
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("ignored errors must not trip the breaker")
	}
}
