package scheduler

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRefresher struct {
	calls atomic.Int32
	err   error
}

func (r *countingRefresher) RequestRefresh(ctx context.Context) error {
	r.calls.Add(1)
	return r.err
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestSchedulerRunsPeriodically(t *testing.T) {
	refresher := &countingRefresher{}
	s := New(refresher, 100*time.Millisecond, testLogger())

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return refresher.calls.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerStopHaltsSchedule(t *testing.T) {
	refresher := &countingRefresher{}
	s := New(refresher, 50*time.Millisecond, testLogger())
	require.NoError(t, s.Start())

	assert.Eventually(t, func() bool {
		return refresher.calls.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)
	s.Stop()
	// drain a tick that may already be dispatched
	time.Sleep(60 * time.Millisecond)

	settled := refresher.calls.Load()
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, settled, refresher.calls.Load())
}

func TestSchedulerSurvivesRefreshErrors(t *testing.T) {
	refresher := &countingRefresher{err: errors.New("upstream down")}
	s := New(refresher, 50*time.Millisecond, testLogger())

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return refresher.calls.Load() >= 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSchedulerDefaultsInterval(t *testing.T) {
	s := New(&countingRefresher{}, 0, testLogger())
	assert.Equal(t, 30*time.Minute, s.interval)
}
