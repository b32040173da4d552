package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/scribe/internal/config"
	"github.com/phrazzld/scribe/internal/platform/database"
	"github.com/phrazzld/scribe/internal/platform/memory"
	"github.com/phrazzld/scribe/internal/platform/objstore"
	"github.com/phrazzld/scribe/internal/platform/redisq"
	"github.com/phrazzld/scribe/internal/queue"
	"github.com/phrazzld/scribe/internal/store"
)

// memoryBrokerSize bounds the in-process queue.
const memoryBrokerSize = 1024

// Infra holds the storage and queue backends selected by configuration.
type Infra struct {
	Jobs    store.JobStore
	Objects store.ObjectStore
	Broker  queue.Broker

	// Checks lists dependency probes for the health endpoint.
	Checks map[string]func(ctx context.Context) error

	db     *sql.DB
	logger *slog.Logger
}

// Open connects every backend named in cfg. Database migrations run before
// the job store is returned. On error, backends opened so far are closed.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Infra, err error) {
	infra := &Infra{
		Checks: make(map[string]func(ctx context.Context) error),
		logger: logger,
	}
	defer func() {
		if err != nil {
			_ = infra.Close()
		}
	}()

	if err := infra.openJobStore(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if err := infra.openObjectStore(ctx, cfg, logger); err != nil {
		return nil, err
	}
	if err := infra.openBroker(ctx, cfg, logger); err != nil {
		return nil, err
	}

	logger.Info("infrastructure ready",
		"database", cfg.Database.Driver,
		"storage", cfg.Storage.Driver,
		"broker", cfg.Broker.Driver)
	return infra, nil
}

func (i *Infra) openJobStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Database.Driver == "memory" {
		i.Jobs = memory.NewJobStore(cfg.Task.MaxErrorLength)
		return nil
	}

	db, dialect, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	i.db = db

	if err := database.Migrate(ctx, db, dialect, logger); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	i.Jobs = database.NewJobStore(db, dialect, cfg.Task.MaxErrorLength)
	i.Checks["database"] = db.PingContext
	return nil
}

func (i *Infra) openObjectStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Storage.Driver == "memory" {
		i.Objects = memory.NewObjectStore("memory://" + cfg.Storage.Bucket)
		return nil
	}

	objects, err := objstore.New(cfg.Storage, logger)
	if err != nil {
		return err
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to prepare bucket: %w", err)
	}
	i.Objects = objects
	i.Checks["storage"] = objects.EnsureBucket
	return nil
}

func (i *Infra) openBroker(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.Broker.Driver == "memory" {
		i.Broker = memory.NewBroker(memoryBrokerSize, logger)
		return nil
	}

	broker, err := redisq.Dial(ctx, cfg.Broker.URL, redisq.Config{
		Stream:    cfg.Broker.Stream,
		Group:     cfg.Broker.Group,
		Consumer:  cfg.Broker.Consumer,
		ClaimIdle: cfg.Broker.ClaimIdle,
		Block:     cfg.Broker.Block,
	}, logger)
	if err != nil {
		return err
	}
	i.Broker = broker
	i.Checks["broker"] = broker.Ping
	return nil
}

// Close releases the broker and database connections.
func (i *Infra) Close() error {
	var errs []error
	if i.Broker != nil {
		if err := i.Broker.Close(); err != nil && !errors.Is(err, queue.ErrBrokerClosed) {
			errs = append(errs, fmt.Errorf("close broker: %w", err))
		}
	}
	if i.db != nil {
		if err := i.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		i.logger.Error("failed to release infrastructure", "error", err)
		return err
	}
	return nil
}
