package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/config"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/pipeline"
	"github.com/phrazzld/scribe/internal/queue"
	"github.com/phrazzld/scribe/internal/resource"
	"github.com/phrazzld/scribe/internal/store"
)

// SoftLimitMessage is the error recorded when a job runs past its soft limit.
const SoftLimitMessage = "timeout error: soft time limit exceeded"

// writeTimeout bounds the terminal write after the job context is gone.
const writeTimeout = 10 * time.Second

// Pipeline runs all stages for one job. *pipeline.Orchestrator implements it.
type Pipeline interface {
	Run(ctx context.Context, jobID uuid.UUID, inputRef string) pipeline.Outcome
}

// ExecutorConfig holds the time limits applied to each job.
type ExecutorConfig struct {
	// SoftLimit is the deadline of the pipeline context. Expiry fails the job.
	SoftLimit time.Duration

	// HardLimit is how long the executor waits for the pipeline before it
	// abandons the job without writing a terminal state.
	HardLimit time.Duration

	// HeartbeatInterval is how often a running job's lease is renewed.
	HeartbeatInterval time.Duration

	// LeaseTimeout is the age after which a processing job is considered
	// orphaned and may be claimed again.
	LeaseTimeout time.Duration
}

// DefaultExecutorConfig returns an ExecutorConfig with reasonable defaults
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		SoftLimit:         25 * time.Minute,
		HardLimit:         30 * time.Minute,
		HeartbeatInterval: 30 * time.Second,
		LeaseTimeout:      5 * time.Minute,
	}
}

// ExecutorConfigFrom extracts the executor settings from the task configuration.
func ExecutorConfigFrom(cfg config.TaskConfig) ExecutorConfig {
	return ExecutorConfig{
		SoftLimit:         cfg.SoftLimit,
		HardLimit:         cfg.HardLimit,
		HeartbeatInterval: cfg.HeartbeatInterval,
		LeaseTimeout:      cfg.LeaseTimeout,
	}
}

// Executor handles queue deliveries. Each delivery either runs the job to a
// terminal state or is recognised as a duplicate and skipped, so the broker
// may deliver the same message any number of times.
type Executor struct {
	jobs     store.JobStore
	pipeline Pipeline
	monitor  *resource.Monitor
	config   ExecutorConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewExecutor creates an Executor. A nil monitor disables admission control.
func NewExecutor(
	jobs store.JobStore,
	p Pipeline,
	monitor *resource.Monitor,
	config ExecutorConfig,
	logger *slog.Logger,
) *Executor {
	defaults := DefaultExecutorConfig()
	if config.SoftLimit <= 0 {
		config.SoftLimit = defaults.SoftLimit
	}
	if config.HardLimit <= config.SoftLimit {
		config.HardLimit = config.SoftLimit + defaults.HardLimit - defaults.SoftLimit
		logger.Warn("hard limit must exceed soft limit, adjusting",
			"soft_limit", config.SoftLimit,
			"hard_limit", config.HardLimit)
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if config.LeaseTimeout <= config.HeartbeatInterval {
		config.LeaseTimeout = 10 * config.HeartbeatInterval
	}

	return &Executor{
		jobs:     jobs,
		pipeline: p,
		monitor:  monitor,
		config:   config,
		logger:   logger.With("component", "executor"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Handle implements queue.Handler.
func (e *Executor) Handle(ctx context.Context, d queue.Delivery) queue.Ack {
	log := e.logger.With("message_id", d.ID, "attempt", d.Attempt)

	msg, jobID, err := domain.DecodeMessage(d.Payload)
	if err != nil {
		// Redelivering a poison message can never succeed.
		log.Error("discarding malformed message", "error", err, "payload_bytes", len(d.Payload))
		return queue.AckDone
	}
	log = log.With("job_id", jobID.String())

	if err := e.monitor.Admit(ctx); err != nil {
		log.Warn("job not admitted, requeueing", "error", err)
		return queue.AckRetry
	}

	job, claimed, err := e.jobs.Claim(ctx, jobID, e.now().Add(-e.config.LeaseTimeout))
	switch {
	case errors.Is(err, store.ErrJobNotFound):
		log.Warn("message refers to an unknown job, discarding")
		return queue.AckDone
	case err != nil:
		if ctx.Err() != nil {
			return queue.AckAbandon
		}
		log.Error("failed to claim job", "error", err)
		return queue.AckRetry
	case !claimed && job.Status.IsTerminal():
		log.Info("job already finished, skipping duplicate delivery", "status", job.Status)
		return queue.AckDone
	case !claimed:
		// The lease holder's own delivery stays pending with the broker.
		log.Info("job is leased by another worker, skipping duplicate delivery",
			"status", job.Status,
			"updated_at", job.UpdatedAt)
		return queue.AckDone
	}

	if msg.InputRef != job.InputRef {
		log.Warn("message input_ref differs from job record, using the record",
			"message_input_ref", msg.InputRef,
			"job_input_ref", job.InputRef)
	}

	// In-flight jobs are drained rather than interrupted when the consumer stops.
	return e.execute(context.WithoutCancel(ctx), log, job)
}

// execute runs the pipeline for a claimed job and records its outcome.
func (e *Executor) execute(ctx context.Context, log *slog.Logger, job *domain.Job) queue.Ack {
	start := time.Now()
	log.Info("processing job", "input_ref", job.InputRef)

	jobCtx, cancelJob := context.WithCancel(ctx)
	defer cancelJob()

	hb := e.startHeartbeat(jobCtx, log, job.ID, cancelJob)

	runCtx, cancelRun := context.WithTimeout(jobCtx, e.config.SoftLimit)
	defer cancelRun()

	results := make(chan pipeline.Outcome, 1)
	go func() {
		results <- e.pipeline.Run(runCtx, job.ID, job.InputRef)
	}()

	hardLimit := time.NewTimer(e.config.HardLimit)
	defer hardLimit.Stop()

	var out pipeline.Outcome
	select {
	case out = <-results:
	case <-hardLimit.C:
		cancelRun()
		hb.stop()
		log.Error("hard time limit exceeded, abandoning job",
			"hard_limit", e.config.HardLimit,
			"elapsed_ms", time.Since(start).Milliseconds())
		return queue.AckAbandon
	}

	if hb.stop() {
		log.Info("job left processing while running, not recording outcome",
			"elapsed_ms", time.Since(start).Milliseconds())
		return queue.AckDone
	}

	var patch domain.JobPatch
	switch {
	case out.OK():
		patch = domain.MarkCompleted(out.OutputRefs, e.now())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		patch = domain.MarkFailed(SoftLimitMessage)
	default:
		patch = domain.MarkFailed(out.Message)
	}

	return e.record(ctx, log, job.ID, patch, time.Since(start))
}

// record writes the terminal patch. Errors from the pipeline are not passed
// on to the broker; once recorded the message is acknowledged.
func (e *Executor) record(ctx context.Context, log *slog.Logger, id uuid.UUID, patch domain.JobPatch, elapsed time.Duration) queue.Ack {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	_, err := e.jobs.Apply(writeCtx, id, patch)
	switch {
	case errors.Is(err, store.ErrTransitionRejected):
		log.Info("job reached a terminal state elsewhere, outcome dropped",
			"status", patch.Status)
		return queue.AckDone
	case err != nil:
		// Leaving the message pending lets it be reclaimed once the lease expires.
		log.Error("failed to record job outcome",
			"status", patch.Status,
			"error", err)
		return queue.AckAbandon
	}

	if patch.Status == domain.JobStatusCompleted {
		log.Info("job completed",
			"output_refs", patch.OutputRefs,
			"elapsed_ms", elapsed.Milliseconds())
	} else {
		log.Warn("job failed",
			"error", patch.Error,
			"elapsed_ms", elapsed.Milliseconds())
	}
	return queue.AckDone
}

// heartbeat renews the lease of a running job.
type heartbeat struct {
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
	revoked bool
}

// stop ends the heartbeat and reports whether the job was taken away from
// this worker while it ran.
func (h *heartbeat) stop() bool {
	h.once.Do(func() {
		h.cancel()
		<-h.done
	})
	return h.revoked
}

func (e *Executor) startHeartbeat(ctx context.Context, log *slog.Logger, id uuid.UUID, cancelJob context.CancelFunc) *heartbeat {
	hbCtx, cancel := context.WithCancel(ctx)
	hb := &heartbeat{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(hb.done)

		ticker := time.NewTicker(e.config.HeartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				err := e.jobs.Touch(hbCtx, id)
				switch {
				case err == nil:
				case errors.Is(err, store.ErrTransitionRejected), errors.Is(err, store.ErrJobNotFound):
					log.Warn("job is no longer processing, cancelling pipeline", "error", err)
					hb.revoked = true
					cancelJob()
					return
				case hbCtx.Err() != nil:
					return
				default:
					log.Warn("heartbeat failed", "error", err)
				}
			}
		}
	}()

	return hb
}
