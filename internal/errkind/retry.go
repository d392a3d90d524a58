package errkind

import (
	"context"
	"math/rand/v2"
	"time"
)

// Policy is the retry policy applied uniformly by every external client.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// Jitter returns a value in [0, d); replaced in tests.
	Jitter func(d time.Duration) time.Duration
	// Sleep waits for d or until ctx is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultPolicy retries up to three attempts with exponential backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Do runs op until it succeeds, returns a non-retryable error, or attempts run out.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !KindOf(lastErr).Retryable() || attempt == attempts-1 {
			return lastErr
		}

		if err := p.sleep(ctx, p.Backoff(attempt, RetryAfterOf(lastErr))); err != nil {
			return lastErr
		}
	}
	return lastErr
}

// Backoff returns the delay before the attempt following the given one.
// A server hint wins when present; otherwise full jitter over an exponential cap.
func (p Policy) Backoff(attempt int, hint time.Duration) time.Duration {
	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}
	if hint > 0 {
		return min(hint, maxDelay)
	}

	base := p.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	ceiling := base << uint(attempt)
	if ceiling <= 0 || ceiling > maxDelay {
		ceiling = maxDelay
	}

	jitter := p.Jitter
	if jitter == nil {
		jitter = func(d time.Duration) time.Duration {
			return time.Duration(rand.Int64N(int64(d)))
		}
	}
	return jitter(ceiling)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
