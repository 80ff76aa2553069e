package ksk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kskmon/kskmon/internal/metrics"
)

func testRetry(maxTries int) RetryPolicy {
	return RetryPolicy{Timeout: time.Second, MaxTries: maxTries, Delay: time.Millisecond}
}

func runRetry(t *testing.T, p RetryPolicy, fn func(context.Context) (string, error)) (string, error) {
	t.Helper()
	return doWithRetry(context.Background(), newTestLogger(), metrics.New(prometheus.NewRegistry()), p, "test-op", fn)
}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	attempts := 0
	result, err := runRetry(t, testRetry(3), func(context.Context) (string, error) {
		attempts++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, attempts)
}

func TestRetryRecoversFromTimeouts(t *testing.T) {
	attempts := 0
	result, err := runRetry(t, testRetry(3), func(context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", &TransportError{Endpoint: "/x", Err: context.DeadlineExceeded}
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)
}

func TestRetryStopsAfterMaxTries(t *testing.T) {
	attempts := 0
	boom := errors.New("boom")
	_, err := runRetry(t, testRetry(3), func(context.Context) (string, error) {
		attempts++
		return "", boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, attempts)
}

func TestRetryAuthFailurePropagatesImmediately(t *testing.T) {
	attempts := 0
	_, err := runRetry(t, testRetry(5), func(context.Context) (string, error) {
		attempts++
		return "", &UnauthorizedError{Endpoint: "/x"}
	})
	var unauthorized *UnauthorizedError
	require.ErrorAs(t, err, &unauthorized)
	assert.Equal(t, 1, attempts)
}

func TestRetryInvalidCredentialsPropagateImmediately(t *testing.T) {
	attempts := 0
	_, err := runRetry(t, testRetry(5), func(context.Context) (string, error) {
		attempts++
		return "", &InvalidCredentialsError{Message: "rejected"}
	})
	assert.True(t, IsAuthError(err))
	assert.Equal(t, 1, attempts)
}

func TestRetryHonorsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{Timeout: time.Second, MaxTries: 3, Delay: time.Minute}

	_, err := doWithRetry(ctx, newTestLogger(), metrics.New(prometheus.NewRegistry()), p, "test-op", func(context.Context) (string, error) {
		cancel()
		return "", errors.New("transient")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, isTimeout(context.DeadlineExceeded))
	assert.True(t, isTimeout(&TransportError{Err: context.DeadlineExceeded}))
	assert.False(t, isTimeout(errors.New("boom")))
	assert.False(t, isTimeout(context.Canceled))
}

func TestRetryPolicyDefaults(t *testing.T) {
	p := RetryPolicy{}.withDefaults()
	assert.Equal(t, 30*time.Second, p.Timeout)
	assert.Equal(t, 3, p.MaxTries)
	assert.Equal(t, 10*time.Second, p.Delay)

	custom := RetryPolicy{Timeout: time.Second, MaxTries: 1, Delay: time.Millisecond}.withDefaults()
	assert.Equal(t, time.Second, custom.Timeout)
	assert.Equal(t, 1, custom.MaxTries)
}
