package server

import (
	"context"
	"errors"
	"time"

	"mysql-mirror/internal/logging"
)

// Scheduler starts a backup on every interval tick while the status
// record's auto-backup toggle is on
type Scheduler struct {
	runner   *Runner
	interval time.Duration
	logger   *logging.Logger
}

// NewScheduler creates a scheduler; a non-positive interval disables it
func NewScheduler(runner *Runner, interval time.Duration, logger *logging.Logger) *Scheduler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Scheduler{runner: runner, interval: interval, logger: logger}
}

// Run blocks until ctx is done
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("Auto-backup scheduler disabled")
		return
	}

	s.logger.WithField("interval", s.interval.String()).Info("Auto-backup scheduler started")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Auto-backup scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick reports whether a backup was started
func (s *Scheduler) tick(ctx context.Context) bool {
	status, err := s.runner.Status(ctx)
	if err != nil {
		s.logger.WithField("error", err.Error()).Warn("Auto-backup skipped: status unavailable")
		return false
	}
	if !status.IsEnabled {
		s.logger.Debug("Auto-backup is disabled, skipping tick")
		return false
	}

	report, err := s.runner.Backup(ctx)
	switch {
	case errors.Is(err, ErrBusy):
		s.logger.WithField("running", s.runner.Running()).Info("Auto-backup skipped: another run is in progress")
		return false
	case err != nil:
		// the engine has logged the failure and recorded it in the status record
		s.logger.WithField("error", err.Error()).Warn("Scheduled backup failed")
	default:
		s.logger.WithFields(map[string]interface{}{
			"run_id": report.RunID,
			"tables": len(report.Tables),
			"rows":   report.RowsCopied(),
		}).Info("Scheduled backup completed")
	}
	return true
}
