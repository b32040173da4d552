package gemini

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/scribe/internal/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBackend(t *testing.T, handler http.HandlerFunc) *Backend {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	b, err := New(context.Background(), Config{
		APIKey:      "test-key",
		Model:       "gemini-2.0-flash",
		Temperature: 0.2,
		MaxTokens:   2048,
		Timeout:     time.Second,
		BaseURL:     srv.URL + "/",
	}, srv.Client(), discardLogger())
	require.NoError(t, err)
	return b
}

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{Model: "gemini-2.0-flash"}, nil, discardLogger())

	require.Error(t, err)
	assert.ErrorIs(t, err, stage.ErrConfiguration)
	assert.Contains(t, err.Error(), "configuration error: summarize:")
}

func TestNewRequiresModel(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{APIKey: "k"}, nil, discardLogger())
	assert.ErrorIs(t, err, stage.ErrConfiguration)
}

func TestNewRequiresLogger(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{APIKey: "k", Model: "m"}, nil, nil)
	assert.Error(t, err)
}

func TestCompleteReturnsText(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.True(t, strings.HasSuffix(r.URL.Path, "models/gemini-2.0-flash:generateContent"), r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "systemInstruction")
		assert.Contains(t, string(body), "be brief")
		assert.Contains(t, string(body), "2048")

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"## Notes\n"}]},"finishReason":"STOP"}]}`))
	})

	out, err := b.Complete(context.Background(), "be brief", "transcript text")

	require.NoError(t, err)
	assert.Equal(t, "## Notes\n", out)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "gemini", b.Name())
}

func TestCompleteErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
		code int
		want error
	}{
		{name: "server error", body: `{"error":{"code":500,"message":"internal","status":"INTERNAL"}}`, code: http.StatusInternalServerError, want: stage.ErrTransport},
		{name: "no candidates", body: `{"candidates":[]}`, code: http.StatusOK, want: stage.ErrMalformedResponse},
		{name: "safety block", body: `{"candidates":[{"finishReason":"SAFETY"}]}`, code: http.StatusOK, want: stage.ErrMalformedResponse},
		{name: "empty text", body: `{"candidates":[{"content":{"role":"model","parts":[{"text":"  "}]},"finishReason":"STOP"}]}`, code: http.StatusOK, want: stage.ErrMalformedResponse},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.code)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := b.Complete(context.Background(), "sys", "user")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
