package resilience

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConflict = errors.New("conflict")

func fastRetry(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     attempts,
		InitialDelay:    time.Millisecond,
		MaxDelay:        2 * time.Millisecond,
		BackoffFactor:   2,
		RetryableErrors: func(err error) bool { return errors.Is(err, errConflict) },
	}
}

func TestRetrySucceedsAfterRetryableErrors(t *testing.T) {
	calls := 0
	var retried []int
	cfg := fastRetry(3)
	cfg.OnRetry = func(attempt int, err error) { retried = append(retried, attempt) }

	err := Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errConflict
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	boom := errors.New("boom")

	err := Retry(context.Background(), fastRetry(5), func() error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRetryExhaustionKeepsCause(t *testing.T) {
	err := Retry(context.Background(), fastRetry(2), func() error { return errConflict })

	assert.ErrorIs(t, err, errConflict)
	assert.Contains(t, err.Error(), "max retries (2)")
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig("kafka")
	cfg.FailureThreshold = 2
	var transitions []gobreaker.State
	cb := NewCircuitBreaker(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), func(_ string, _, to gobreaker.State) {
		transitions = append(transitions, to)
	})

	fail := func() (interface{}, error) { return nil, errors.New("broker down") }
	_, _ = cb.Execute(context.Background(), fail)
	_, _ = cb.Execute(context.Background(), fail)

	assert.Equal(t, gobreaker.StateOpen, cb.State())
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)

	_, err := cb.Execute(context.Background(), func() (interface{}, error) { return "ok", nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}
