package scheduler

import (
	"context"
	"math/rand"
	"time"

	pferrors "github.com/otherjamesbrown/triaged/pkg/errors"
)

// RetryPolicy defines retry behavior for the cycle's inference stage.
// Backoff grows exponentially from InitialBackoff by BackoffFactor up to
// MaxBackoff, with +/-JitterFraction uniform random jitter applied on top.
type RetryPolicy struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	BackoffFactor  float64       `yaml:"backoff_factor"`
	JitterFraction float64       `yaml:"jitter_fraction"`
}

// DefaultRetryPolicy returns the default retry policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		JitterFraction: 0.5,
	}
}

// CalculateBackoff returns the base backoff before attempt n (1-based: the
// wait before attempt 2 is the initial backoff), without jitter.
func (p RetryPolicy) CalculateBackoff(attempt int) time.Duration {
	backoff := p.InitialBackoff
	for i := 2; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * p.BackoffFactor)
		if backoff > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if backoff > p.MaxBackoff {
		return p.MaxBackoff
	}
	return backoff
}

// jittered applies the +/-JitterFraction band to a base backoff.
func (p RetryPolicy) jittered(base time.Duration) time.Duration {
	if p.JitterFraction <= 0 {
		return base
	}
	spread := p.JitterFraction * float64(base)
	delta := (rand.Float64()*2 - 1) * spread
	d := time.Duration(float64(base) + delta)
	if d < 0 {
		return 0
	}
	return d
}

// Execute runs fn under the policy. Only errors the pipeline taxonomy marks
// retryable (rate limit, server-class) are retried; everything else aborts
// on the first failure. Backoff waits are context-aware timer waits.
// onRetry, when non-nil, is told about each failed attempt before the wait.
func (p RetryPolicy) Execute(ctx context.Context, fn func(ctx context.Context) error, onRetry func(attempt int, err error)) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !pferrors.IsErrorRetryable(err) || attempt == attempts {
			return err
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}

		timer := time.NewTimer(p.jittered(p.CalculateBackoff(attempt + 1)))
		select {
		case <-ctx.Done():
			timer.Stop()
			return pferrors.New(pferrors.ErrContextCancelled, "scheduler", "retry wait cancelled", ctx.Err())
		case <-timer.C:
		}
	}
	return err
}
