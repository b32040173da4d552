package shared

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/phrazzld/scribe/internal/platform/logger"
	"github.com/phrazzld/scribe/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceID(t *testing.T) {
	t.Parallel()

	ctx := SetTraceID(context.Background(), "")
	traceID := GetTraceID(ctx)
	assert.Len(t, traceID, 32)
	_, err := hex.DecodeString(traceID)
	assert.NoError(t, err)

	inbound := strings.Repeat("ab", TraceIDLength)
	assert.Equal(t, inbound, GetTraceID(SetTraceID(context.Background(), inbound)))

	spoofed := GetTraceID(SetTraceID(context.Background(), "<script>"))
	assert.NotEqual(t, "<script>", spoofed)
	assert.Len(t, spoofed, 32)

	assert.Empty(t, GetTraceID(context.WithValue(context.Background(), TraceIDKey, 123)))
}

func TestCallerContext(t *testing.T) {
	t.Parallel()

	assert.True(t, GetCaller(context.Background()).Anonymous())

	ctx := WithCaller(context.Background(), service.Caller{Subject: "alice", Operator: true})
	caller := GetCaller(ctx)
	assert.Equal(t, "alice", caller.Subject)
	assert.True(t, caller.Operator)
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	type payload struct {
		Name string `json:"name" validate:"required"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"name":"a"}`, false},
		{"unknown field", `{"name":"a","extra":1}`, true},
		{"trailing data", `{"name":"a"}{"name":"b"}`, true},
		{"malformed", `{"name":`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var p payload
			err := DecodeJSON(req, &p)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "a", p.Name)
		})
	}

	assert.Error(t, ValidateRequest(payload{}))
	assert.NoError(t, ValidateRequest(payload{Name: "x"}))
}

func TestRespondWithErrorAndLog(t *testing.T) {
	t.Parallel()

	log, buf := logger.NewTestLogger()
	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	ctx := logger.WithLogger(SetTraceID(req.Context(), ""), log)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	RespondWithErrorAndLog(w, req, http.StatusInternalServerError, "Failed",
		errors.New("dial tcp: password=hunter2 sk-abcdefghijklmnopqrstuvwxyz"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Failed", resp.Error)
	assert.Equal(t, GetTraceID(ctx), resp.TraceID)
	assert.NotContains(t, w.Body.String(), "dial tcp")

	assert.Contains(t, buf.String(), "API error response")
	assert.NotContains(t, buf.String(), "sk-abcdefghijklmnopqrstuvwxyz")
}
