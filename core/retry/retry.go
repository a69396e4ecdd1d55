// Package retry holds the backoff policy shared by every component that talks
// to the upstream API.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	coreerrors "github.com/davidahmann/retain/core/errors"
)

const (
	DefaultMaxAttempts = 4
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 30 * time.Second
	DefaultJitter      = 0.5
)

// Policy is exponential backoff with jitter over a bounded attempt count.
// Only errors classified as retryable are retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the fraction of each delay that is randomized, in [0,1].
	Jitter float64

	// Random and Sleep are overridable for tests.
	Random func() float64
	Sleep  func(ctx context.Context, d time.Duration) error
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		Jitter:      DefaultJitter,
	}
}

// Hinted is implemented by errors that carry a server-provided wait, such as
// Retry-After or a rate-limit reset.
type Hinted interface {
	RetryAfter() time.Duration
}

// Do runs op until it succeeds, fails with a non-retryable error, the attempt
// budget is spent, or ctx is done. It returns the number of attempts made.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) (int, error) {
	attempts := p.maxAttempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt - 1, fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return attempt - 1, err
		}
		err := op(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err
		if !coreerrors.RetryableOf(err) || attempt == attempts {
			return attempt, err
		}
		if sleepErr := p.sleep(ctx, p.Delay(attempt, err)); sleepErr != nil {
			return attempt, fmt.Errorf("%w (last error: %v)", sleepErr, lastErr)
		}
	}
	return attempts, lastErr
}

// Delay is the wait before the attempt following the given one.
func (p Policy) Delay(attempt int, err error) time.Duration {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}
	ceiling := p.MaxDelay
	if ceiling <= 0 {
		ceiling = DefaultMaxDelay
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for step := 1; step < attempt && delay < ceiling; step++ {
		delay *= 2
	}
	if delay > ceiling {
		delay = ceiling
	}
	jitter := p.Jitter
	if jitter < 0 {
		jitter = 0
	}
	if jitter > 1 {
		jitter = 1
	}
	if jitter > 0 {
		random := p.Random
		if random == nil {
			random = rand.Float64
		}
		fixed := time.Duration(float64(delay) * (1 - jitter))
		delay = fixed + time.Duration(float64(delay)*jitter*random())
	}

	var hinted Hinted
	if errors.As(err, &hinted) {
		if wait := hinted.RetryAfter(); wait > delay {
			delay = wait
		}
		if delay > ceiling {
			delay = ceiling
		}
	}
	return delay
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
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
