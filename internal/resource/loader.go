package resource

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Loader builds a heavyweight value once per process and shares it.
// Construction runs under a mutex; a failed build is not cached and the
// next caller tries again. With serialize set, Do runs one call at a time.
type Loader[T any] struct {
	name      string
	build     func(ctx context.Context) (T, error)
	monitor   *Monitor
	serialize bool
	logger    *slog.Logger

	mu    sync.Mutex
	value T
	ready bool

	invokeMu sync.Mutex
}

// NewLoader creates a Loader. monitor may be nil.
func NewLoader[T any](name string, build func(ctx context.Context) (T, error), monitor *Monitor, serialize bool, logger *slog.Logger) *Loader[T] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader[T]{
		name:      name,
		build:     build,
		monitor:   monitor,
		serialize: serialize,
		logger:    logger.With("component", "loader", "resource", name),
	}
}

// Get returns the shared value, building it on first use.
func (l *Loader[T]) Get(ctx context.Context) (T, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ready {
		return l.value, nil
	}

	l.monitor.Check(ctx, "load")

	start := time.Now()
	v, err := l.build(ctx)
	if err != nil {
		var zero T
		l.logger.ErrorContext(ctx, "failed to build resource", "error", err)
		return zero, fmt.Errorf("load %s: %w", l.name, err)
	}

	l.value = v
	l.ready = true
	l.logger.InfoContext(ctx, "resource loaded", "elapsed_ms", time.Since(start).Milliseconds())
	return v, nil
}

// Do runs fn with the shared value.
func (l *Loader[T]) Do(ctx context.Context, fn func(T) error) error {
	v, err := l.Get(ctx)
	if err != nil {
		return err
	}

	l.monitor.Check(ctx, "invoke")

	if l.serialize {
		l.invokeMu.Lock()
		defer l.invokeMu.Unlock()
	}
	return fn(v)
}
