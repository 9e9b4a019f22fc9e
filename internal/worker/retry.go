package worker

import (
	"context"
	"math"
	"time"
)

// RetryPolicy is an exponential backoff schedule. MaxRetries counts every
// attempt including the first.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// NextDelay returns the pause after the given 1-based attempt.
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	attempt = max(attempt, 1)
	initial := r.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	d := time.Duration(float64(initial) * math.Pow(factor, float64(attempt-1)))
	if r.MaxDelay > 0 && d > r.MaxDelay {
		return r.MaxDelay
	}
	if d <= 0 {
		return time.Second
	}
	return d
}

// Do calls fn until it succeeds, the attempts run out or ctx is done. fn
// receives the 0-based attempt number. The last error of fn is returned.
func (r RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	attempts := max(r.MaxRetries, 1)

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(attempt); err == nil {
			return nil
		}
		if attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(r.NextDelay(attempt + 1))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
