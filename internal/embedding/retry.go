package embedding

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryPolicy controls exponential backoff for embedding calls.
type RetryPolicy struct {
	MaxRetries int           // max retry attempts (default 3, 0 = no retry)
	BaseDelay  time.Duration // initial backoff delay (default 2s)
	MaxDelay   time.Duration // maximum backoff delay (default 30s)
}

// DefaultRetryPolicy returns sensible defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// sleepFunc waits for d or until ctx is done. Tests replace it.
var sleepFunc = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry runs fn, retrying retryable errors with exponential backoff + jitter.
// Returns the number of attempts made and the last error.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) (attempts int, err error) {
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err = ctx.Err(); err != nil {
			return attempt, err
		}
		err = fn(ctx)
		if err == nil {
			return attempt + 1, nil
		}
		if !IsRetryable(err) {
			return attempt + 1, err
		}

		if attempt < p.MaxRetries {
			if serr := sleepFunc(ctx, backoffWithJitter(p.BaseDelay, p.MaxDelay, attempt)); serr != nil {
				return attempt + 1, err
			}
		}
	}
	return p.MaxRetries + 1, err
}

// backoffWithJitter computes delay = min(base * 2^attempt, max) + jitter(±25%).
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt) // base * 2^attempt
	if delay > max || delay <= 0 {
		delay = max
	}

	// Jitter: ±25% of delay
	quarter := delay / 4
	if quarter > 0 {
		jitter := time.Duration(rand.Int64N(int64(quarter*2))) - quarter
		delay += jitter
	}

	return delay
}
