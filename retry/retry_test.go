package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errAttempt = errors.New("attempt failed")

// enabledPolicy builds a small-interval policy so tests stay fast.
func enabledPolicy(attempts int, interval time.Duration) Policy {
	return Policy{
		Enabled:         true,
		MaxAttempts:     attempts,
		InitialInterval: interval,
		Multiplier:      1.0,
		MaxInterval:     10 * interval,
	}
}

func TestExecuteSuccessFirstAttempt(t *testing.T) {
	calls := 0
	err := DefaultPolicy().Execute(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestExecuteDisabledRunsExactlyOnce(t *testing.T) {
	p := DefaultPolicy()
	require.False(t, p.Enabled)

	calls := 0
	err := p.Execute(context.Background(), func(context.Context) error {
		calls++
		return errAttempt
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, errAttempt, err, "failure must propagate unchanged")
}

func TestExecuteDisabledMatchesSingleAttempt(t *testing.T) {
	run := func(p Policy) (int, error) {
		calls := 0
		err := p.Execute(context.Background(), func(context.Context) error {
			calls++
			return errAttempt
		})
		return calls, err
	}

	disabled := enabledPolicy(5, 0)
	disabled.Enabled = false
	single := enabledPolicy(1, 0)

	disabledCalls, disabledErr := run(disabled)
	singleCalls, singleErr := run(single)

	assert.Equal(t, singleCalls, disabledCalls)
	assert.Equal(t, singleErr, disabledErr)
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := enabledPolicy(3, time.Millisecond).Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errAttempt
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecuteReturnsLastErrorUnchanged(t *testing.T) {
	var attempts []error
	err := enabledPolicy(3, 0).Execute(context.Background(), func(context.Context) error {
		e := fmt.Errorf("attempt %d: %w", len(attempts)+1, errAttempt)
		attempts = append(attempts, e)
		return e
	})

	require.Len(t, attempts, 3)
	assert.Equal(t, attempts[2], err)
	assert.ErrorIs(t, err, errAttempt)
}

func TestExecuteHaltStopsImmediately(t *testing.T) {
	calls := 0
	err := enabledPolicy(5, 0).Execute(context.Background(), func(context.Context) error {
		calls++
		return Halt(errAttempt)
	})

	assert.Equal(t, 1, calls)
	assert.Equal(t, errAttempt, err, "halt must unwrap to the operation error")
	assert.False(t, IsHalted(err))
}

func TestHalt(t *testing.T) {
	assert.NoError(t, Halt(nil))
	assert.True(t, IsHalted(Halt(errAttempt)))
	assert.True(t, IsHalted(fmt.Errorf("wrapped: %w", Halt(errAttempt))))
	assert.False(t, IsHalted(errAttempt))
	assert.ErrorIs(t, Halt(errAttempt), errAttempt)
}

func TestExecuteCancelDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	start := time.Now()
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := enabledPolicy(3, 500*time.Millisecond).Execute(ctx, func(context.Context) error {
		calls++
		return errAttempt
	})
	elapsed := time.Since(start)

	assert.Equal(t, 1, calls, "no further attempts after cancellation")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, errAttempt, "cancellation must not look like an operation failure")
	assert.Less(t, elapsed, 400*time.Millisecond, "wait must abort promptly")
}

func TestExecuteCancelCause(t *testing.T) {
	cause := errors.New("relay shutting down")
	ctx, cancel := context.WithCancelCause(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel(cause)
	}()

	err := enabledPolicy(2, time.Second).Execute(ctx, func(context.Context) error {
		return errAttempt
	})

	assert.ErrorIs(t, err, cause)
}

func TestExecuteCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := DefaultPolicy().Execute(ctx, func(context.Context) error {
		calls++
		return nil
	})

	assert.Zero(t, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecuteCancelledDuringAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	err := enabledPolicy(5, 0).Execute(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return ctx.Err()
	})

	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestExecuteOperationTimeoutIsRetried(t *testing.T) {
	// A deadline on the attempt context alone must not stop the loop.
	calls := 0
	err := enabledPolicy(3, time.Millisecond).Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return fmt.Errorf("attempt timed out: %w", context.DeadlineExceeded)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestExecuteOnRetryObserver(t *testing.T) {
	type record struct {
		attempt int
		delay   time.Duration
	}
	var records []record

	p := Policy{
		Enabled:         true,
		MaxAttempts:     3,
		InitialInterval: 4 * time.Millisecond,
		Multiplier:      2.0,
		MaxInterval:     14 * time.Millisecond,
	}.WithOnRetry(func(attempt int, err error, delay time.Duration) {
		assert.ErrorIs(t, err, errAttempt)
		records = append(records, record{attempt: attempt, delay: delay})
	})

	err := p.Execute(context.Background(), func(context.Context) error {
		return errAttempt
	})

	assert.Equal(t, errAttempt, err)
	require.Len(t, records, 2, "observer fires only for attempts that will be retried")
	assert.Equal(t, record{attempt: 1, delay: 4 * time.Millisecond}, records[0])
	assert.Equal(t, record{attempt: 2, delay: 8 * time.Millisecond}, records[1])
}

func TestExecuteWaitsBetweenAttempts(t *testing.T) {
	p := Policy{
		Enabled:         true,
		MaxAttempts:     3,
		InitialInterval: 30 * time.Millisecond,
		Multiplier:      2.0,
		MaxInterval:     45 * time.Millisecond,
	}

	start := time.Now()
	err := p.Execute(context.Background(), func(context.Context) error {
		return errAttempt
	})
	elapsed := time.Since(start)

	assert.Equal(t, errAttempt, err)
	// Waits are 30ms then 45ms (60ms capped by the max interval).
	assert.GreaterOrEqual(t, elapsed, 70*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestExecuteConcurrentSharedPolicy(t *testing.T) {
	p := enabledPolicy(3, time.Millisecond)

	var wg sync.WaitGroup
	var succeeded atomic.Int32
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			calls := 0
			err := p.Execute(context.Background(), func(context.Context) error {
				calls++
				if calls < 2 {
					return errAttempt
				}
				return nil
			})
			if err == nil && calls == 2 {
				succeeded.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(16), succeeded.Load())
}

func TestDo(t *testing.T) {
	t.Run("returns value after retries", func(t *testing.T) {
		calls := 0
		val, err := Do(context.Background(), enabledPolicy(3, time.Millisecond), func(context.Context) (string, error) {
			calls++
			if calls < 2 {
				return "", errAttempt
			}
			return "reply", nil
		})

		require.NoError(t, err)
		assert.Equal(t, "reply", val)
		assert.Equal(t, 2, calls)
	})

	t.Run("returns zero value with final error", func(t *testing.T) {
		val, err := Do(context.Background(), enabledPolicy(2, 0), func(context.Context) (int, error) {
			return 42, errAttempt
		})

		assert.Equal(t, errAttempt, err)
		assert.Zero(t, val)
	})
}
