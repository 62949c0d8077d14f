// Package backoff provides exponential backoff with jitter for retrying
// transient failures.
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Policy defines the exponential backoff curve.
type Policy struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  float64 // 0.0 to 1.0
}

// Default returns the policy used for outbound deliveries: 500ms initial,
// 10s cap, doubling, 20% jitter.
func Default() Policy {
	return Policy{
		Initial: 500 * time.Millisecond,
		Max:     10 * time.Second,
		Factor:  2,
		Jitter:  0.2,
	}
}

// Delay returns the backoff duration for an attempt. Attempts start at 1.
func (p Policy) Delay(attempt int) time.Duration {
	return p.DelayWithRand(attempt, rand.Float64())
}

// DelayWithRand computes the delay using a caller-supplied random value in
// [0.0, 1.0), so tests can be deterministic.
func (p Policy) DelayWithRand(attempt int, random float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := float64(p.Initial) * math.Pow(p.Factor, exp)
	total := base + base*p.Jitter*random
	return time.Duration(math.Min(float64(p.Max), total))
}

// Sleep waits for d, returning early with ctx.Err() on cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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

// Permanent wraps an error that must not be retried.
type Permanent struct {
	Err error
}

func (p *Permanent) Error() string { return p.Err.Error() }

func (p *Permanent) Unwrap() error { return p.Err }

// Retry runs fn up to attempts times, sleeping per the policy between
// failures. It returns nil on the first success, the wrapped error when fn
// fails with a Permanent error, and the last error once attempts are
// exhausted or the context is cancelled.
func Retry(ctx context.Context, policy Policy, attempts int, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		var perm *Permanent
		if errors.As(err, &perm) {
			return perm.Err
		}
		lastErr = err
		if attempt < attempts {
			if serr := Sleep(ctx, policy.Delay(attempt)); serr != nil {
				return lastErr
			}
		}
	}
	return lastErr
}
