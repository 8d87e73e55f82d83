package detector

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

type Runner interface {
	Run(ctx context.Context) error
}

// Scheduler invokes the detector at start-up and then on every tick until
// the context ends. Runs are sequential within one scheduler.
type Scheduler struct {
	runner   Runner
	interval time.Duration
	log      *logrus.Entry
}

func NewScheduler(logger *logrus.Logger, runner Runner, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Scheduler{
		runner:   runner,
		interval: interval,
		log:      logger.WithField("component", "detector_scheduler"),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.WithField("interval", s.interval).Info("Starting anomaly detector")
	s.runOnce(ctx)

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-ctx.Done():
			s.log.Info("Stopping anomaly detector")
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if err := s.runner.Run(ctx); err != nil && ctx.Err() == nil {
		s.log.WithError(err).Error("Anomaly detection run failed")
	}
}
