package remote

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy configures retries of idempotent reads.
//
// The delay before retry n (0-based) is min(MaxDelay, MinDelay*Factor^n),
// shifted by a uniform jitter of +-Jitter/2 of that delay.
type RetryPolicy struct {
	MinDelay   time.Duration
	MaxDelay   time.Duration
	Factor     float64
	Jitter     float64
	MaxRetries int
}

// DefaultRetryPolicy returns the policy used for list reads: 2s, 3s, ...
// capped at two minutes, 5% jitter band, two retries after the first attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MinDelay:   2 * time.Second,
		MaxDelay:   120 * time.Second,
		Factor:     1.5,
		Jitter:     0.05,
		MaxRetries: 2,
	}
}

// newBackOff builds the backoff schedule for one call. Delays are never
// negative: the jitter band is a fraction of the delay itself.
func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOffContext {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.MinDelay
	eb.MaxInterval = p.MaxDelay
	eb.Multiplier = p.Factor
	eb.RandomizationFactor = p.Jitter / 2
	eb.MaxElapsedTime = 0
	eb.Reset()

	retries := p.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
}

// Delay returns the un-jittered delay before retry n.
func (p RetryPolicy) Delay(n int) time.Duration {
	d := float64(p.MinDelay)
	for i := 0; i < n; i++ {
		d *= p.Factor
		if d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}
