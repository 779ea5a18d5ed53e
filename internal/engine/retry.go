package engine

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy configures bounded exponential backoff for redelivery of
// unacknowledged messages. This replaces the original's unbounded,
// constant-interval retry loop, which its own header comment flags as a
// known problem ("we'll just keep retrying over and over until the host
// becomes reachable again"): see SPEC_FULL.md §2.
type RetryPolicy struct {
	InitialInterval time.Duration
	Multiplier      float64
	MaxInterval     time.Duration
	MaxElapsedTime  time.Duration
}

// DefaultRetryPolicy is the policy used when a Config doesn't override
// it: an 800ms first retry (matching the original's fixed interval),
// growing by 1.5x up to a 30s base interval, giving up after 5 minutes
// total. Intervals after the first are randomized by ±50% around that
// base (the backoff library's default RandomizationFactor, which
// newBackoff leaves unchanged), so two retries can be up to 45s apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 800 * time.Millisecond,
		Multiplier:      1.5,
		MaxInterval:     30 * time.Second,
		MaxElapsedTime:  5 * time.Minute,
	}
}

// clock adapts a Backend to backoff.Clock.
type clock struct{ b Backend }

func (c clock) Now() time.Time { return c.b.Now() }

func (p RetryPolicy) newBackoff(b Backend) *backoff.ExponentialBackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.Multiplier = p.Multiplier
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = p.MaxElapsedTime
	eb.Clock = clock{b}
	eb.Reset()
	return eb
}
