package worker

import (
	"context"
	"time"

	"github.com/mtr002/lm-jobs/internal/interfaces"
	"github.com/mtr002/lm-jobs/internal/logger"
	"github.com/mtr002/lm-jobs/internal/metrics"
)

// LeaseExpiredMessage is recorded on jobs whose worker disappeared mid-flight.
const LeaseExpiredMessage = "lease expired: worker presumed lost"

// Notifier re-announces a pending job on the queue.
type Notifier interface {
	Notify(ctx context.Context, job *interfaces.Job) error
}

// SweeperConfig tunes the sweeper.
type SweeperConfig struct {
	Interval     time.Duration
	PendingAfter time.Duration
	BatchSize    int
}

func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:     time.Minute,
		PendingAfter: 5 * time.Minute,
		BatchSize:    100,
	}
}

// SweepReport counts what one pass changed.
type SweepReport struct {
	Expired    int
	Renotified int
}

// Sweeper fails processing jobs whose lease ran out and re-notifies stale pending
// jobs. Expired jobs are never requeued, so status only moves forward.
type Sweeper struct {
	store    interfaces.JobStore
	notifier Notifier
	cfg      SweeperConfig
	now      func() time.Time
}

func NewSweeper(store interfaces.JobStore, notifier Notifier, cfg SweeperConfig) *Sweeper {
	def := DefaultSweeperConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.PendingAfter <= 0 {
		cfg.PendingAfter = def.PendingAfter
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	return &Sweeper{store: store, notifier: notifier, cfg: cfg, now: time.Now}
}

// SetClock replaces time.Now.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := s.Sweep(ctx); err != nil {
			logger.Logger.Error().Err(err).Msg("Sweep failed")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep runs one pass over every job family.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := s.now().UTC()

	for _, kind := range interfaces.Kinds {
		expired, err := s.store.ListExpiredLeases(ctx, kind, now, s.cfg.BatchSize)
		if err != nil {
			return report, err
		}
		for _, job := range expired {
			ok, err := s.store.ExpireLease(ctx, kind, job.ID, LeaseExpiredMessage, now)
			if err != nil {
				return report, err
			}
			if ok {
				report.Expired++
				metrics.LeasesExpired.WithLabelValues(string(kind)).Inc()
				logger.WithJobID(job.ID).Warn().Str("job_type", string(kind)).Msg("Lease expired, job failed")
			}
		}

		if s.notifier == nil {
			continue
		}
		stale, err := s.store.ListStalePending(ctx, kind, now.Add(-s.cfg.PendingAfter), s.cfg.BatchSize)
		if err != nil {
			return report, err
		}
		for _, job := range stale {
			if err := s.notifier.Notify(ctx, job); err != nil {
				logger.WithJobID(job.ID).Warn().Err(err).Msg("Failed to re-notify pending job")
				continue
			}
			report.Renotified++
			metrics.JobsRenotified.WithLabelValues(string(kind)).Inc()
		}
	}

	if report.Expired > 0 || report.Renotified > 0 {
		logger.Logger.Info().Int("expired", report.Expired).Int("renotified", report.Renotified).Msg("Sweep finished")
	}
	return report, nil
}
