package resource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/mem"
)

// ErrProbeUnavailable is returned by a probe that cannot sample on this host.
var ErrProbeUnavailable = errors.New("probe unavailable")

// Probe samples the utilization of one resource as a percentage.
type Probe interface {
	Name() string
	Sample(ctx context.Context) (float64, error)
}

// MemoryProbe samples system memory usage.
type MemoryProbe struct{}

// Name returns "memory".
func (MemoryProbe) Name() string { return "memory" }

// Sample returns the used share of virtual memory.
func (MemoryProbe) Sample(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("sample memory: %w", err)
	}
	return vm.UsedPercent, nil
}

// commandRunner runs an external command and returns its stdout.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// AcceleratorProbe samples GPU memory through nvidia-smi. On hosts without
// the tool it reports ErrProbeUnavailable.
type AcceleratorProbe struct {
	path   string
	runner commandRunner
}

// NewAcceleratorProbe looks up nvidia-smi on PATH.
func NewAcceleratorProbe() *AcceleratorProbe {
	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return &AcceleratorProbe{}
	}
	return &AcceleratorProbe{path: path, runner: execRunner{}}
}

// Name returns "accelerator".
func (p *AcceleratorProbe) Name() string { return "accelerator" }

// Available reports whether nvidia-smi was found.
func (p *AcceleratorProbe) Available() bool { return p.path != "" && p.runner != nil }

// Sample returns the highest memory usage across all devices.
func (p *AcceleratorProbe) Sample(ctx context.Context) (float64, error) {
	if p.path == "" || p.runner == nil {
		return 0, ErrProbeUnavailable
	}
	out, err := p.runner.Run(ctx, p.path,
		"--query-gpu=memory.used,memory.total",
		"--format=csv,noheader,nounits")
	if err != nil {
		return 0, err
	}
	return parseGPUMemory(out)
}

// parseGPUMemory reads "used, total" lines in MiB.
func parseGPUMemory(out []byte) (float64, error) {
	var (
		highest float64
		devices int
	)
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) != 2 {
			return 0, fmt.Errorf("unexpected nvidia-smi line %q", line)
		}
		used, err := strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
		if err != nil {
			return 0, fmt.Errorf("parse used memory: %w", err)
		}
		total, err := strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
		if err != nil {
			return 0, fmt.Errorf("parse total memory: %w", err)
		}
		if total <= 0 {
			continue
		}
		devices++
		if pct := used / total * 100; pct > highest {
			highest = pct
		}
	}
	if devices == 0 {
		return 0, ErrProbeUnavailable
	}
	return highest, nil
}
