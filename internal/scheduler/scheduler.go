package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Refresher is what the scheduler drives; in practice a coordinator.
type Refresher interface {
	RequestRefresh(ctx context.Context) error
}

// maxCycleAge bounds how long one scheduled refresh may run before it is
// abandoned.
const maxCycleAge = 10 * time.Minute

type Scheduler struct {
	refresher Refresher
	interval  time.Duration
	logger    logrus.FieldLogger
	cron      *cron.Cron
}

func New(refresher Refresher, interval time.Duration, logger logrus.FieldLogger) *Scheduler {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Scheduler{
		refresher: refresher,
		interval:  interval,
		logger:    logger,
		cron:      cron.New(),
	}
}

// Start schedules periodic refreshes.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.refresh)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), maxCycleAge)
	defer cancel()

	if err := s.refresher.RequestRefresh(ctx); err != nil {
		s.logger.WithError(err).Error("Scheduled refresh failed")
	}
}

// Stop halts the schedule; an in-flight refresh finishes on its own.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
