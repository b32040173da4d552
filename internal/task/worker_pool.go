package task

import (
	"context"
	"errors"
	"log/slog"

	"github.com/phrazzld/scribe/internal/queue"
	"golang.org/x/sync/errgroup"
)

// Consumer is the receiving side of a queue.Broker.
type Consumer interface {
	Consume(ctx context.Context, handler queue.Handler) error
}

// WorkerPool runs a fixed number of consumers, each handling one delivery
// at a time.
type WorkerPool struct {
	// consumer provides the deliveries to be processed
	consumer Consumer

	// handler decides the acknowledgement of each delivery
	handler queue.Handler

	// workerCount is the number of concurrent consumers to start
	workerCount int

	// logger for structured logging
	logger *slog.Logger
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent consumers to start
	// If zero or negative, defaults to 1
	WorkerCount int
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount: 2,
	}
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(consumer Consumer, handler queue.Handler, config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	// Apply defaults for invalid config values
	workerCount := config.WorkerCount
	if workerCount <= 0 {
		workerCount = 1
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
	}

	return &WorkerPool{
		consumer:    consumer,
		handler:     handler,
		workerCount: workerCount,
		logger:      logger.With("component", "worker_pool"),
	}
}

// Run starts the consumers and blocks until ctx is done and every consumer
// has returned. Deliveries in flight when ctx ends are finished first.
func (p *WorkerPool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < p.workerCount; i++ {
		id := i
		g.Go(func() error {
			return p.worker(ctx, id)
		})
	}

	p.logger.Info("worker pool started", "worker_count", p.workerCount)
	err := g.Wait()
	p.logger.Info("worker pool stopped")
	return err
}

// worker consumes deliveries until its context ends.
func (p *WorkerPool) worker(ctx context.Context, id int) error {
	log := p.logger.With("worker_id", id)
	log.Debug("starting worker")

	err := p.consumer.Consume(ctx, func(ctx context.Context, d queue.Delivery) queue.Ack {
		ack := p.handler(ctx, d)
		log.Debug("delivery handled",
			"message_id", d.ID,
			"attempt", d.Attempt,
			"ack", ack.String())
		return ack
	})

	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, queue.ErrBrokerClosed):
		log.Debug("stopping worker")
		return nil
	default:
		log.Error("consumer stopped unexpectedly", "error", err)
		return err
	}
}
