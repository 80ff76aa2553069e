package ksk

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kskmon/kskmon/internal/metrics"
)

// RetryPolicy bounds the retries around one authenticated API call. The
// upstream intermittently times out or returns malformed empty bodies
// under load; a few jittered retries absorb that without piling more load
// onto it.
type RetryPolicy struct {
	Timeout  time.Duration // base per-attempt timeout
	MaxTries int
	Delay    time.Duration // base backoff delay, also the jitter range
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.Timeout <= 0 {
		p.Timeout = 30 * time.Second
	}
	if p.MaxTries <= 0 {
		p.MaxTries = 3
	}
	if p.Delay <= 0 {
		p.Delay = 10 * time.Second
	}
	return p
}

// doWithRetry runs fn under the policy. Timeouts grow the next attempt's
// deadline linearly (T, 2T, 3T). Auth failures propagate immediately so
// the coordinator re-authenticates instead of hammering a dead token.
func doWithRetry[T any](ctx context.Context, logger logrus.FieldLogger, m *metrics.Metrics, p RetryPolicy, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	p = p.withDefaults()

	timeout := p.Timeout
	for attempt := 1; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		result, err := fn(attemptCtx)
		cancel()

		if err == nil {
			return result, nil
		}
		if IsAuthError(err) {
			return zero, err
		}
		if isTimeout(err) {
			timeout = time.Duration(attempt+1) * p.Timeout
			logger.WithField("operation", op).Debug("Timeout talking to the KSK API")
		}
		if attempt >= p.MaxTries {
			return zero, err
		}

		backoff := time.Duration(attempt)*p.Delay + time.Duration(rand.Int63n(int64(p.Delay)))
		logger.WithFields(logrus.Fields{
			"operation": op,
			"attempt":   attempt,
			"max":       p.MaxTries,
			"backoff":   backoff,
		}).Warn("KSK API call failed, will retry")
		m.APIRetries.WithLabelValues(op).Inc()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
