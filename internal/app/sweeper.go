package app

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// StartExpirySweep runs SweepExpired every interval in the background. The returned function stops
// the scheduler.
func (s *DuelService) StartExpirySweep(interval time.Duration) (func() error, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	_, err = sched.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			if _, err := s.SweepExpired(ctx); err != nil {
				s.log.WithError(err).Error("expiry sweep failed")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, err
	}
	sched.Start()
	s.log.WithField("interval", interval.String()).Info("expiry sweep scheduled")
	return sched.Shutdown, nil
}
