package importer

import (
	"context"
	"errors"
	"time"

	"github.com/openxui/panelsync/internal/models"
)

// Policy is a bounded-retry budget with linear backoff. The same
// policy shape paces both upstream API calls and catalog writes; what
// differs per call site is the retryable predicate.
type Policy struct {
	Enabled     bool
	MaxAttempts int
	Backoff     time.Duration
	Retryable   func(error) bool

	sleep func(time.Duration)
}

func policyFrom(opts models.RetryOptions) Policy {
	return Policy{
		Enabled:     opts.Enabled,
		MaxAttempts: opts.MaxAttempts,
		Backoff:     time.Duration(opts.BackoffSeconds) * time.Second,
		Retryable:   retryableWrite,
		sleep:       time.Sleep,
	}
}

// retryableWrite treats everything except context cancellation as a
// transient database fault worth another attempt.
func retryableWrite(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Do runs op up to MaxAttempts times, sleeping backoff × attemptNumber
// between failing attempts. A disabled policy runs op exactly once.
func (p Policy) Do(ctx context.Context, op func() error) error {
	attempts := p.MaxAttempts
	if !p.Enabled || attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err = op(); err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt < attempts {
			p.sleep(p.Backoff * time.Duration(attempt))
		}
	}
	return err
}

// throttle paces catalog writes the way the HTTP client paces API
// calls: every maxParallel-th call sleeps throttleMs.
type throttle struct {
	every int
	pause time.Duration
	calls int

	sleep func(time.Duration)
}

func newThrottle(maxParallel, throttleMs int) *throttle {
	return &throttle{
		every: maxParallel,
		pause: time.Duration(throttleMs) * time.Millisecond,
		sleep: time.Sleep,
	}
}

func (t *throttle) tick() {
	if t.every <= 0 || t.pause <= 0 {
		return
	}
	t.calls++
	if t.calls%t.every == 0 {
		t.sleep(t.pause)
	}
}
