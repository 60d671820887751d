package scheduler

import (
	"context"
	"time"

	"newroi/ledger-service/internal/service"
	"newroi/ledger-service/pkg/logger"
)

// Runner is the part of the distribution engine the scheduler triggers
type Runner interface {
	Run(ctx context.Context, req service.RunRequest) (*service.RunSummary, error)
}

// Scheduler fires the daily distribution at a fixed hour in a reference timezone
type Scheduler struct {
	runner   Runner
	log      *logger.Logger
	location *time.Location
	hour     int

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// New creates a daily scheduler firing at hour:00 in location
func New(runner Runner, location *time.Location, hour int, log *logger.Logger) *Scheduler {
	if location == nil {
		location = time.UTC
	}
	return &Scheduler{
		runner:   runner,
		log:      log,
		location: location,
		hour:     hour,
		now:      time.Now,
		after:    time.After,
	}
}

// NextRun returns the first firing time strictly after now.
// It is recomputed every cycle so DST shifts do not accumulate.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	local := now.In(s.location)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.hour, 0, 0, 0, s.location)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, s.hour, 0, 0, 0, s.location)
	}
	return next
}

// Start blocks until ctx is cancelled, running one distribution per day
func (s *Scheduler) Start(ctx context.Context) {
	s.log.WithField("timezone", s.location.String()).
		WithField("hour", s.hour).
		Info("Distribution scheduler started")

	for {
		if ctx.Err() != nil {
			s.log.Info("Distribution scheduler stopped")
			return
		}

		next := s.NextRun(s.now())
		wait := next.Sub(s.now())
		s.log.WithField("next_run", next.Format(time.RFC3339)).Debug("Waiting for next distribution")

		select {
		case <-ctx.Done():
			s.log.Info("Distribution scheduler stopped")
			return
		case <-s.after(wait):
		}

		s.fire(ctx, next)
	}
}

func (s *Scheduler) fire(ctx context.Context, at time.Time) {
	req := service.RunRequest{
		Date:     service.LedgerDate(at, s.location),
		IsManual: false,
	}

	summary, err := s.runner.Run(ctx, req)
	if err != nil {
		s.log.WithError(err).Error("Scheduled distribution failed")
		return
	}
	entry := s.log.WithField("run_id", summary.RunID).
		WithField("date", summary.Date).
		WithField("credited", summary.Credited).
		WithField("failed", summary.Failed)
	if summary.Stopped {
		entry.Warn("Scheduled distribution stopped before completion")
		return
	}
	entry.Info("Scheduled distribution finished")
}
