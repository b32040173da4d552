// Package main implements the scribe API server. It accepts job
// submissions, reports job status and results, and hands jobs to the
// workers through the broker.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/scribe/internal/api"
	"github.com/phrazzld/scribe/internal/app"
	"github.com/phrazzld/scribe/internal/config"
	"github.com/phrazzld/scribe/internal/platform/logger"
	"github.com/phrazzld/scribe/internal/service"
	"github.com/phrazzld/scribe/internal/service/auth"
	"golang.org/x/sync/errgroup"
)

func main() {
	embedded := flag.Bool("embedded-worker", false,
		"run the worker in this process; required with the memory broker")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *embedded); err != nil {
		log.Printf("scribe server: %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, embeddedWorker bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}
	l.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"embedded_worker", embeddedWorker,
		"auth_enabled", cfg.Auth.JWTSecret != "")

	if cfg.Broker.Driver == "memory" && !embeddedWorker {
		l.Warn("memory broker without an embedded worker; submitted jobs will not run")
	}

	infra, err := app.Open(ctx, cfg, l)
	if err != nil {
		return fmt.Errorf("failed to open infrastructure: %w", err)
	}
	defer func() { _ = infra.Close() }()

	handler, err := newRouter(cfg, infra, l)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.ServeHTTP(ctx, cfg.Server.Port, handler, l)
	})
	if embeddedWorker {
		worker := app.NewWorker(cfg, infra, l)
		g.Go(func() error { return worker.Run(ctx) })
	}

	err = g.Wait()
	l.Info("server stopped")
	return err
}

// newRouter builds the job service and the HTTP routes on top of infra.
func newRouter(cfg *config.Config, infra *app.Infra, l *slog.Logger) (http.Handler, error) {
	jobService, err := service.NewJobService(
		infra.Jobs,
		infra.Objects,
		app.NewEmitter(infra.Broker, l),
		cfg.Storage.PresignTTL,
		l,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job service: %w", err)
	}

	var jwtService auth.JWTService
	if cfg.Auth.JWTSecret != "" {
		jwtService, err = auth.NewJWTService(cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize JWT service: %w", err)
		}
	} else {
		l.Warn("authentication disabled; every request runs as the anonymous caller")
	}

	checks := make(map[string]api.HealthCheck, len(infra.Checks))
	for name, check := range infra.Checks {
		checks[name] = check
	}

	return api.NewRouter(api.RouterConfig{
		JobService:     jobService,
		JWTService:     jwtService,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		HealthChecks:   checks,
		Logger:         l,
	}), nil
}
