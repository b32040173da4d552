package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/scribe/internal/config"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/events"
	"github.com/phrazzld/scribe/internal/store"
)

// OrphanedMessage is the error recorded on a processing job whose lease expired.
const OrphanedMessage = "orphaned: processing lease expired"

// SweeperConfig holds configuration for the reconciliation sweep
type SweeperConfig struct {
	// Interval defines how often to sweep.
	// If zero, defaults to 1 minute
	Interval time.Duration

	// LeaseTimeout is how long a processing job may go without a heartbeat
	// before it is failed as orphaned.
	LeaseTimeout time.Duration

	// PendingRequeueAge is how long a job may stay pending before its
	// message is published again.
	PendingRequeueAge time.Duration

	// BatchSize limits the jobs handled per status and sweep.
	BatchSize int
}

// DefaultSweeperConfig returns a SweeperConfig with reasonable defaults
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Interval:          time.Minute,
		LeaseTimeout:      5 * time.Minute,
		PendingRequeueAge: 10 * time.Minute,
		BatchSize:         100,
	}
}

// SweeperConfigFrom extracts the sweep settings from the task configuration.
func SweeperConfigFrom(cfg config.TaskConfig) SweeperConfig {
	c := DefaultSweeperConfig()
	c.Interval = cfg.SweepInterval
	c.LeaseTimeout = cfg.LeaseTimeout
	c.PendingRequeueAge = cfg.PendingRequeueAge
	return c
}

// SweepReport counts what one sweep changed.
type SweepReport struct {
	Orphaned int
	Requeued int
}

// Sweeper fails processing jobs abandoned by a dead worker and republishes
// pending jobs whose message never reached a worker.
type Sweeper struct {
	jobs    store.JobStore
	emitter events.EventEmitter
	config  SweeperConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewSweeper creates a Sweeper. Requeued jobs are announced through emitter
// as events.TypeJobRequeued.
func NewSweeper(jobs store.JobStore, emitter events.EventEmitter, config SweeperConfig, logger *slog.Logger) *Sweeper {
	defaults := DefaultSweeperConfig()
	if config.Interval <= 0 {
		config.Interval = defaults.Interval
	}
	if config.LeaseTimeout <= 0 {
		config.LeaseTimeout = defaults.LeaseTimeout
	}
	if config.PendingRequeueAge <= 0 {
		config.PendingRequeueAge = defaults.PendingRequeueAge
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}

	return &Sweeper{
		jobs:    jobs,
		emitter: emitter,
		config:  config,
		logger:  logger.With("component", "sweeper"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps once immediately, then every Interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("starting reconciliation sweeper",
		"interval", s.config.Interval,
		"lease_timeout", s.config.LeaseTimeout,
		"pending_requeue_age", s.config.PendingRequeueAge)

	s.sweepAndLog(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("stopping reconciliation sweeper")
			return nil
		case <-ticker.C:
			s.sweepAndLog(ctx)
		}
	}
}

func (s *Sweeper) sweepAndLog(ctx context.Context) {
	report, err := s.Sweep(ctx)
	if err != nil && ctx.Err() == nil {
		s.logger.Error("reconciliation sweep failed", "error", err)
	}
	if report.Orphaned > 0 || report.Requeued > 0 {
		s.logger.Info("reconciliation sweep finished",
			"orphaned", report.Orphaned,
			"requeued", report.Requeued)
	}
}

// Sweep performs one reconciliation pass. Failures on individual jobs are
// logged and do not stop the pass.
func (s *Sweeper) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := s.now()

	stale, err := s.jobs.ListByStatus(ctx, domain.JobStatusProcessing, now.Add(-s.config.LeaseTimeout), s.config.BatchSize)
	if err != nil {
		return report, fmt.Errorf("failed to list processing jobs: %w", err)
	}
	for _, job := range stale {
		_, err := s.jobs.Apply(ctx, job.ID, domain.MarkFailed(OrphanedMessage))
		switch {
		case errors.Is(err, store.ErrTransitionRejected):
			// Finished between the listing and the write.
			continue
		case err != nil:
			s.logger.Error("failed to fail orphaned job", "job_id", job.ID, "error", err)
			continue
		}
		report.Orphaned++
		s.logger.Warn("failed orphaned job",
			"job_id", job.ID,
			"last_heartbeat", job.UpdatedAt)
	}

	requeueBefore := now.Add(-s.config.PendingRequeueAge)
	pending, err := s.jobs.ListByStatus(ctx, domain.JobStatusPending, requeueBefore, s.config.BatchSize)
	if err != nil {
		return report, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	for _, job := range pending {
		marked, err := s.jobs.MarkRequeued(ctx, job.ID, requeueBefore)
		if err != nil {
			s.logger.Error("failed to stamp pending job", "job_id", job.ID, "error", err)
			continue
		}
		if !marked {
			// Claimed or requeued elsewhere since the listing.
			continue
		}

		event, err := events.NewJobEvent(events.TypeJobRequeued, job.ID, domain.NewMessage(job))
		if err != nil {
			s.logger.Error("failed to build requeue event", "job_id", job.ID, "error", err)
			continue
		}
		if err := s.emitter.EmitEvent(ctx, event); err != nil {
			s.logger.Error("failed to requeue pending job", "job_id", job.ID, "error", err)
			continue
		}
		report.Requeued++
		s.logger.Info("requeued pending job",
			"job_id", job.ID,
			"created_at", job.CreatedAt)
	}

	return report, nil
}
