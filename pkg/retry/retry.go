package retry

import (
	"context"
	"math"
	"time"

	"codepulse/pkg/errors"
)

// Policy describes a bounded exponential backoff retry loop
type Policy struct {
	MaxAttempts    int           // total attempts including the first (0 = 1)
	InitialBackoff time.Duration // delay before the second attempt
	MaxBackoff     time.Duration // cap on the delay between attempts
	Multiplier     float64       // growth factor per attempt (0 = 2.0)
}

// DefaultPolicy is a reasonable policy for store writes
var DefaultPolicy = Policy{
	MaxAttempts:    6,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     30 * time.Second,
	Multiplier:     2.0,
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = 500 * time.Millisecond
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 30 * time.Second
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 2.0
	}
	return p
}

// Backoff returns the delay before the given attempt (1-based; attempt 1 has
// no delay)
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.normalized()
	if attempt <= 1 {
		return 0
	}
	d := time.Duration(float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(attempt-2)))
	if d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Do runs fn until it succeeds, the attempt budget runs out, or the context
// is cancelled. The last error is wrapped with ErrRetriesExhausted when the
// budget runs out so callers can distinguish exhaustion from cancellation.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	p = p.normalized()

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if delay := p.Backoff(attempt); delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "retry cancelled")
			}
		}

		if err := fn(ctx); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return errors.Wrapf(errors.ErrRetriesExhausted, "%d attempts: %v", p.MaxAttempts, lastErr)
}
