package resource

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/scribe/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedProbe returns a preset value or error.
type fixedProbe struct {
	name  string
	value float64
	err   error
}

func (p fixedProbe) Name() string { return p.name }

func (p fixedProbe) Sample(context.Context) (float64, error) { return p.value, p.err }

// fakeRunner returns canned nvidia-smi output.
type fakeRunner struct {
	out  []byte
	err  error
	args []string
}

func (r *fakeRunner) Run(_ context.Context, _ string, args ...string) ([]byte, error) {
	r.args = args
	return r.out, r.err
}

func TestLoaderBuildsOnce(t *testing.T) {
	t.Parallel()

	var builds atomic.Int32
	l := NewLoader("model", func(ctx context.Context) (*int, error) {
		builds.Add(1)
		time.Sleep(10 * time.Millisecond)
		v := 42
		return &v, nil
	}, nil, false, nil)

	var wg sync.WaitGroup
	results := make([]*int, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := l.Get(context.Background())
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load())
	for _, r := range results {
		assert.Same(t, results[0], r, "all callers share one handle")
	}
	assert.True(t, l.ready)
}

func TestLoaderRetriesFailedBuild(t *testing.T) {
	t.Parallel()

	var builds atomic.Int32
	l := NewLoader("model", func(ctx context.Context) (string, error) {
		if builds.Add(1) == 1 {
			return "", errors.New("weights missing")
		}
		return "ready", nil
	}, nil, false, nil)

	_, err := l.Get(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load model: weights missing")
	assert.False(t, l.ready)

	v, err := l.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ready", v)
	assert.Equal(t, int32(2), builds.Load())
}

func TestLoaderSerializesInvoke(t *testing.T) {
	t.Parallel()

	l := NewLoader("model", func(ctx context.Context) (int, error) { return 1, nil }, nil, true, nil)

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Do(context.Background(), func(int) error {
				n := active.Add(1)
				for {
					m := maxActive.Load()
					if n <= m || maxActive.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				active.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestLoaderChecksPressureBeforeBuild(t *testing.T) {
	t.Parallel()

	log, buf := logger.NewTestLogger()
	m := NewMonitor(MonitorConfig{MemoryThreshold: 90}, fixedProbe{name: "memory", value: 95}, nil, log)
	l := NewLoader("model", func(ctx context.Context) (int, error) { return 1, nil }, m, false, log)

	require.NoError(t, l.Do(context.Background(), func(int) error { return nil }))

	entries, err := buf.GetLogEntries()
	require.NoError(t, err)
	var phases []string
	for _, e := range entries {
		if e["msg"] == "resource pressure above threshold" {
			phases = append(phases, e["phase"].(string))
		}
	}
	assert.Equal(t, []string{"load", "invoke"}, phases)
}

func TestMonitorThresholds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mem      Probe
		acc      Probe
		exceeded bool
		hasAcc   bool
	}{
		{name: "below", mem: fixedProbe{value: 50}, acc: fixedProbe{value: 10}, hasAcc: true},
		{name: "memory above", mem: fixedProbe{value: 91}, exceeded: true},
		{name: "memory at threshold", mem: fixedProbe{value: 90}},
		{name: "accelerator above", mem: fixedProbe{value: 10}, acc: fixedProbe{value: 86}, exceeded: true, hasAcc: true},
		{name: "accelerator unavailable", mem: fixedProbe{value: 10}, acc: fixedProbe{err: ErrProbeUnavailable}},
		{name: "memory probe error", mem: fixedProbe{err: errors.New("no /proc")}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			log, _ := logger.NewTestLogger()
			m := NewMonitor(MonitorConfig{}, tt.mem, tt.acc, log)

			p := m.Sample(context.Background())

			assert.Equal(t, tt.exceeded, p.Exceeded())
			assert.Equal(t, tt.hasAcc, p.HasAccelerator)
		})
	}
}

func TestMonitorAdmit(t *testing.T) {
	t.Parallel()

	log, _ := logger.NewTestLogger()
	hot := fixedProbe{value: 99}

	advisory := NewMonitor(MonitorConfig{Mode: ModeAdvisory}, hot, nil, log)
	assert.NoError(t, advisory.Admit(context.Background()))

	enforce := NewMonitor(MonitorConfig{Mode: ModeEnforce}, hot, nil, log)
	err := enforce.Admit(context.Background())
	assert.ErrorIs(t, err, ErrResourceExhausted)
	assert.Contains(t, err.Error(), "memory 99.0%")

	cool := NewMonitor(MonitorConfig{Mode: ModeEnforce}, fixedProbe{value: 20}, nil, log)
	assert.NoError(t, cool.Admit(context.Background()))

	var nilMonitor *Monitor
	assert.NoError(t, nilMonitor.Admit(context.Background()))
}

func TestAcceleratorProbe(t *testing.T) {
	t.Parallel()

	r := &fakeRunner{out: []byte("1024, 16384\n15000, 16384\n")}
	p := &AcceleratorProbe{path: "/usr/bin/nvidia-smi", runner: r}

	v, err := p.Sample(context.Background())

	require.NoError(t, err)
	assert.InDelta(t, 91.55, v, 0.01)
	assert.Contains(t, r.args, "--format=csv,noheader,nounits")
	assert.True(t, p.Available())

	missing := &AcceleratorProbe{}
	assert.False(t, missing.Available())
	_, err = missing.Sample(context.Background())
	assert.ErrorIs(t, err, ErrProbeUnavailable)
}

func TestParseGPUMemory(t *testing.T) {
	t.Parallel()

	_, err := parseGPUMemory([]byte("garbage"))
	assert.Error(t, err)

	_, err = parseGPUMemory([]byte(""))
	assert.ErrorIs(t, err, ErrProbeUnavailable)

	v, err := parseGPUMemory([]byte(" 512 , 1024 "))
	require.NoError(t, err)
	assert.InDelta(t, 50, v, 0.001)
}
