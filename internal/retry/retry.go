// Package retry provides the cross-cutting retry/backoff wrapper used
// when calling external systems (git, bus transport, PR host).
package retry

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Policy controls retry behavior. It is passed by value so call sites
// stay testable in isolation, rather than reading ambient config.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// Multiplier scales the delay after each failed attempt.
	Multiplier float64
	// Retryable reports whether an error is worth retrying. A nil
	// predicate retries every error.
	Retryable func(error) bool
}

// DefaultPolicy returns sensible defaults for external-call retries.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		Multiplier:  2.0,
	}
}

// Validate checks the policy for usable values.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("retry policy: max attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 {
		return fmt.Errorf("retry policy: base delay must be >= 0, got %v", p.BaseDelay)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("retry policy: multiplier must be >= 1, got %v", p.Multiplier)
	}
	return nil
}

// delay returns the backoff delay before the given retry (1-indexed
// over retries, so delay(1) follows the first failed attempt).
func (p Policy) delay(retry int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < retry; i++ {
		d *= p.Multiplier
	}
	return time.Duration(d)
}

// Do runs op under the policy, retrying retryable failures with
// exponential backoff. Every attempt is logged before sleeping. On
// exhaustion the last error is returned unchanged so callers still see
// the original failure kind.
func Do[T any](ctx context.Context, policy Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := policy.Validate(); err != nil {
		return zero, err
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if policy.Retryable != nil && !policy.Retryable(err) {
			return zero, err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		delay := policy.delay(attempt)
		log.Printf("[retry] %s: attempt %d/%d failed, retrying in %v: %v",
			name, attempt, policy.MaxAttempts, delay, err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	log.Printf("[retry] %s: exhausted %d attempts: %v", name, policy.MaxAttempts, lastErr)
	return zero, lastErr
}

// DoVoid runs an operation with no result under the policy.
func DoVoid(ctx context.Context, policy Policy, name string, op func(ctx context.Context) error) error {
	_, err := Do(ctx, policy, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
