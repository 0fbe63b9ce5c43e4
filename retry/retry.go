package retry

import (
	"context"
	"errors"
	"time"
)

// Operation is a single attempt of the guarded work. Implementations must
// honor ctx and return nil on success.
type Operation func(ctx context.Context) error

// Execute runs op under the policy. The operation is invoked at least once;
// with retries enabled it is invoked up to MaxAttempts times, waiting
// Delay(k) before attempt k. On success Execute returns nil immediately.
// After the final failed attempt the last error is returned unchanged.
//
// When ctx is cancelled during a wait, Execute stops without invoking the
// operation again and returns context.Cause(ctx).
func (p Policy) Execute(ctx context.Context, op Operation) error {
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}

	attempts := p.MaxAttempts
	if !p.Enabled {
		attempts = 1
	}

	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}

		var halt *haltErr
		if errors.As(err, &halt) {
			return halt.err
		}
		if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return context.Cause(ctx)
		}
		if attempt >= attempts {
			return err
		}

		delay := p.Delay(attempt + 1)
		if p.onRetry != nil {
			p.onRetry(attempt, err, delay)
		}

		if ctx.Err() != nil {
			return context.Cause(ctx)
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return context.Cause(ctx)
		case <-t.C:
		}
	}
}

// Do runs op under the policy and returns its result. It is Execute for
// operations that produce a value; on failure the zero value of T is returned
// together with the error of the final attempt.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var (
		zero T
		val  T
	)
	err := p.Execute(ctx, func(ctx context.Context) error {
		var opErr error
		val, opErr = op(ctx)
		return opErr
	})
	if err != nil {
		return zero, err
	}
	return val, nil
}
