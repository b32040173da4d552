package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/phrazzld/scribe/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		want  slog.Level
		valid bool
	}{
		{"debug", slog.LevelDebug, true},
		{"INFO", slog.LevelInfo, true},
		{"warn", slog.LevelWarn, true},
		{"error", slog.LevelError, true},
		{"loud", slog.LevelInfo, false},
	}

	for _, tt := range tests {
		level, ok := ParseLevel(tt.name)
		assert.Equal(t, tt.want, level, tt.name)
		assert.Equal(t, tt.valid, ok, tt.name)
	}
}

func TestSetupWritesJSONAtConfiguredLevel(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	buf := &TestLogBuffer{}
	l := setupWithWriter(config.ServerConfig{LogLevel: "warn"}, buf)

	l.Info("dropped")
	l.Warn("kept", "job_id", "abc")

	entries, err := buf.GetLogEntries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "kept", entries[0]["msg"])
	assert.Equal(t, "abc", entries[0]["job_id"])
	assert.Same(t, l, slog.Default())
}

func TestSetupInvalidLevelWarns(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	buf := &TestLogBuffer{}
	setupWithWriter(config.ServerConfig{LogLevel: "verbose"}, buf)

	assert.Contains(t, buf.String(), "invalid log level configured")
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	l, _ := NewTestLogger()
	ctx := WithLogger(context.Background(), l)

	assert.Same(t, l, FromContext(ctx))

	fallback, _ := NewTestLogger()
	assert.Same(t, fallback, FromContextOrDefault(context.Background(), fallback))
	assert.NotNil(t, FromContext(context.Background()))
}
