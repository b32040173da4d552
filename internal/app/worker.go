package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/phrazzld/scribe/internal/config"
	"github.com/phrazzld/scribe/internal/events"
	"github.com/phrazzld/scribe/internal/pipeline"
	"github.com/phrazzld/scribe/internal/queue"
	"github.com/phrazzld/scribe/internal/resource"
	"github.com/phrazzld/scribe/internal/task"
	"golang.org/x/sync/errgroup"
)

// NewEmitter returns an event emitter whose only handler publishes job
// messages to publisher.
func NewEmitter(publisher queue.Publisher, logger *slog.Logger) *events.InMemoryEventEmitter {
	emitter := events.NewInMemoryEventEmitter(logger)
	emitter.RegisterHandler(queue.NewDispatcher(publisher, logger))
	return emitter
}

// NewMonitor builds the resource monitor from cfg. Hosts without
// nvidia-smi sample memory only.
func NewMonitor(cfg config.ResourceConfig, logger *slog.Logger) *resource.Monitor {
	var accelerator resource.Probe
	if probe := resource.NewAcceleratorProbe(); probe.Available() {
		accelerator = probe
	}
	return resource.NewMonitor(resource.MonitorConfig{
		MemoryThreshold:      cfg.MemoryThreshold,
		AcceleratorThreshold: cfg.AcceleratorThreshold,
		Mode:                 cfg.Admission,
	}, resource.MemoryProbe{}, accelerator, logger)
}

// Worker consumes job messages and reconciles stale jobs.
type Worker struct {
	pool    *task.WorkerPool
	sweeper *task.Sweeper
	logger  *slog.Logger
}

// NewWorker wires the stage loader, orchestrator, executor, worker pool and
// sweeper on top of infra.
func NewWorker(cfg *config.Config, infra *Infra, logger *slog.Logger) *Worker {
	monitor := NewMonitor(cfg.Resources, logger)
	stages := pipeline.NewStagesLoader(cfg, http.DefaultClient, monitor, logger)
	orchestrator := pipeline.NewOrchestrator(infra.Objects, stages, cfg.Task.MaxErrorLength, logger)

	executor := task.NewExecutor(infra.Jobs, orchestrator, monitor, task.ExecutorConfigFrom(cfg.Task), logger)
	pool := task.NewWorkerPool(infra.Broker, executor.Handle,
		task.WorkerPoolConfig{WorkerCount: cfg.Task.WorkerCount}, logger)

	sweeper := task.NewSweeper(infra.Jobs, NewEmitter(infra.Broker, logger),
		task.SweeperConfigFrom(cfg.Task), logger)

	return &Worker{
		pool:    pool,
		sweeper: sweeper,
		logger:  logger.With("component", "worker"),
	}
}

// Run blocks until ctx is done. In-flight jobs finish before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.pool.Run(ctx) })
	g.Go(func() error { return w.sweeper.Run(ctx) })

	w.logger.Info("worker running")
	err := g.Wait()
	w.logger.Info("worker stopped")
	return err
}
