package snapshot

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler fires the snapshot runner once per day at a fixed local time.
type Scheduler struct {
	runner   *Runner
	location *time.Location
	logger   *slog.Logger
	hour     int
	minute   int
}

// NewScheduler creates a scheduler that runs daily at hour:minute in the
// given location (nil means UTC).
func NewScheduler(runner *Runner, hour, minute int, location *time.Location) *Scheduler {
	if location == nil {
		location = time.UTC
	}
	return &Scheduler{
		runner:   runner,
		hour:     hour,
		minute:   minute,
		location: location,
		logger:   slog.Default().With("component", "scheduler"),
	}
}

// Run blocks, firing the runner at each scheduled time until the context is
// canceled. Run failures are already absorbed by the runner; the scheduler
// only logs the summary and sleeps until the next slot.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := s.nextRun(time.Now().In(s.location))
		s.logger.Info("Next snapshot run scheduled", "at", next.Format(time.RFC3339))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("Scheduler stopped")
			return
		case <-timer.C:
			result := s.runner.RunDailySnapshots(ctx)
			s.logger.Info("Scheduled run complete",
				"success", result.Success,
				"failed", result.Failed)
		}
	}
}

// nextRun returns the next occurrence of hour:minute strictly after now.
func (s *Scheduler) nextRun(now time.Time) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), s.hour, s.minute, 0, 0, s.location)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
