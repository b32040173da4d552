// Package main implements the scribe worker. It consumes job messages,
// runs the transcribe, summarize and render pipeline, and reconciles jobs
// whose worker disappeared.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/scribe/internal/api"
	"github.com/phrazzld/scribe/internal/app"
	"github.com/phrazzld/scribe/internal/config"
	"github.com/phrazzld/scribe/internal/platform/logger"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Printf("scribe worker: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	if cfg.Broker.Driver == "memory" {
		return fmt.Errorf("the memory broker only works in-process; run the server with -embedded-worker")
	}

	l.Info("worker configuration loaded",
		"worker_count", cfg.Task.WorkerCount,
		"soft_limit", cfg.Task.SoftLimit,
		"hard_limit", cfg.Task.HardLimit,
		"admission", cfg.Resources.Admission,
		"summarizer", cfg.Summarizer.Backend)

	infra, err := app.Open(ctx, cfg, l)
	if err != nil {
		return fmt.Errorf("failed to open infrastructure: %w", err)
	}
	defer func() { _ = infra.Close() }()

	checks := make(map[string]api.HealthCheck, len(infra.Checks))
	for name, check := range infra.Checks {
		checks[name] = check
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.NewWorker(cfg, infra, l).Run(ctx)
	})
	g.Go(func() error {
		return app.ServeHTTP(ctx, cfg.Server.HealthPort, api.HealthHandler(checks), l)
	})

	err = g.Wait()
	l.Info("worker process stopped")
	return err
}
