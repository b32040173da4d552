// Package resource guards heavyweight per-process resources: a lazily built
// singleton and a monitor of memory and accelerator pressure.
package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrResourceExhausted is returned by Admit when pressure is above a
// threshold in enforce mode.
var ErrResourceExhausted = errors.New("resource exhausted")

// Admission modes.
const (
	ModeAdvisory = "advisory"
	ModeEnforce  = "enforce"
)

// MonitorConfig sets the warning thresholds in percent.
type MonitorConfig struct {
	MemoryThreshold      float64
	AcceleratorThreshold float64
	Mode                 string
}

// Pressure is one sample of resource utilization.
type Pressure struct {
	Memory          float64
	Accelerator     float64
	HasAccelerator  bool
	OverMemory      bool
	OverAccelerator bool
}

// Exceeded reports whether any resource is above its threshold.
func (p Pressure) Exceeded() bool {
	return p.OverMemory || p.OverAccelerator
}

func (p Pressure) String() string {
	if p.HasAccelerator {
		return fmt.Sprintf("memory %.1f%%, accelerator %.1f%%", p.Memory, p.Accelerator)
	}
	return fmt.Sprintf("memory %.1f%%", p.Memory)
}

// Monitor samples probes and compares them with thresholds.
type Monitor struct {
	cfg         MonitorConfig
	memory      Probe
	accelerator Probe
	logger      *slog.Logger
}

// NewMonitor creates a Monitor. A nil accelerator probe disables
// accelerator sampling.
func NewMonitor(cfg MonitorConfig, memory, accelerator Probe, logger *slog.Logger) *Monitor {
	if cfg.MemoryThreshold <= 0 {
		cfg.MemoryThreshold = 90
	}
	if cfg.AcceleratorThreshold <= 0 {
		cfg.AcceleratorThreshold = 85
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeAdvisory
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		cfg:         cfg,
		memory:      memory,
		accelerator: accelerator,
		logger:      logger.With("component", "resource_monitor"),
	}
}

// Sample reads the probes. Probe failures are logged and count as no pressure.
func (m *Monitor) Sample(ctx context.Context) Pressure {
	var p Pressure
	if m == nil {
		return p
	}

	if m.memory != nil {
		v, err := m.memory.Sample(ctx)
		if err != nil {
			m.logger.DebugContext(ctx, "memory probe failed", "error", err)
		} else {
			p.Memory = v
			p.OverMemory = v > m.cfg.MemoryThreshold
		}
	}

	if m.accelerator != nil {
		v, err := m.accelerator.Sample(ctx)
		switch {
		case errors.Is(err, ErrProbeUnavailable):
		case err != nil:
			m.logger.DebugContext(ctx, "accelerator probe failed", "error", err)
		default:
			p.Accelerator = v
			p.HasAccelerator = true
			p.OverAccelerator = v > m.cfg.AcceleratorThreshold
		}
	}

	return p
}

// Check samples and logs a warning when a threshold is exceeded.
func (m *Monitor) Check(ctx context.Context, phase string) Pressure {
	p := m.Sample(ctx)
	if m == nil || !p.Exceeded() {
		return p
	}
	m.logger.WarnContext(ctx, "resource pressure above threshold",
		"phase", phase,
		"memory_percent", p.Memory,
		"memory_threshold", m.cfg.MemoryThreshold,
		"accelerator_percent", p.Accelerator,
		"accelerator_threshold", m.cfg.AcceleratorThreshold,
		"mode", m.cfg.Mode)
	return p
}

// Admit checks pressure before a job is taken. In enforce mode it returns
// ErrResourceExhausted when a threshold is exceeded; in advisory mode it
// only logs.
func (m *Monitor) Admit(ctx context.Context) error {
	p := m.Check(ctx, "admit")
	if m != nil && m.cfg.Mode == ModeEnforce && p.Exceeded() {
		return fmt.Errorf("%w: %s", ErrResourceExhausted, p)
	}
	return nil
}
