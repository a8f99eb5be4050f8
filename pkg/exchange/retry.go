package exchange

import (
	"context"
	"log"
	"time"
)

const (
	// DefaultMaxAttempts bounds how many times a rate-limited call is tried.
	DefaultMaxAttempts = 3
	// DefaultBaseDelay is the first backoff sleep; it doubles per attempt.
	DefaultBaseDelay = 2 * time.Second
)

// RetryPolicy controls backoff behavior for rate-limited calls.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns the policy applied to every remote call.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

// Retry runs fn, retrying with exponential backoff while the venue signals
// rate limiting. Any other error, or exhaustion of attempts, propagates
// immediately. Backoff sleeps honor ctx cancellation.
func (p RetryPolicy) Retry(ctx context.Context, op string, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if !IsRateLimited(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		delay := base << attempt
		log.Printf("retry: %s rate limited, backing off %s (attempt %d/%d)", op, delay, attempt+1, attempts)
		if serr := sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
