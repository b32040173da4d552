package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/phrazzld/scribe/internal/api/shared"
	"github.com/phrazzld/scribe/internal/platform/logger"
	"github.com/phrazzld/scribe/internal/service"
	"github.com/phrazzld/scribe/internal/service/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "middleware-secret-that-is-long-enough"

// stubJWTService returns a fixed error from ValidateToken.
type stubJWTService struct {
	auth.JWTService
	err error
}

func (s stubJWTService) ValidateToken(ctx context.Context, token string) (*auth.Claims, error) {
	return nil, s.err
}

func captureCaller(got *service.Caller) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = shared.GetCaller(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	now := time.Now()
	jwtService := auth.NewTestJWTService(testSecret, time.Hour, func() time.Time { return now })
	userToken, err := jwtService.GenerateToken(context.Background(), "alice", "")
	require.NoError(t, err)
	operatorToken, err := jwtService.GenerateToken(context.Background(), "ops", auth.RoleOperator)
	require.NoError(t, err)
	expired, err := auth.NewTestJWTService(testSecret, time.Hour,
		func() time.Time { return now.Add(-3 * time.Hour) }).GenerateToken(context.Background(), "alice", "")
	require.NoError(t, err)

	tests := []struct {
		name       string
		service    auth.JWTService
		header     string
		wantStatus int
		wantError  string
		wantCaller service.Caller
	}{
		{"user token", jwtService, "Bearer " + userToken, http.StatusNoContent, "", service.Caller{Subject: "alice"}},
		{"operator token", jwtService, "bearer " + operatorToken, http.StatusNoContent, "",
			service.Caller{Subject: "ops", Operator: true}},
		{"missing header", jwtService, "", http.StatusUnauthorized, "Authorization header required", service.Caller{}},
		{"wrong scheme", jwtService, "Basic abc", http.StatusUnauthorized, "Invalid authorization format", service.Caller{}},
		{"garbage token", jwtService, "Bearer abc", http.StatusUnauthorized, "Invalid token", service.Caller{}},
		{"expired token", jwtService, "Bearer " + expired, http.StatusUnauthorized, "Token expired", service.Caller{}},
		{"service failure", stubJWTService{err: errors.New("boom")}, "Bearer abc",
			http.StatusInternalServerError, "Authentication error", service.Caller{}},
		{"disabled", nil, "", http.StatusNoContent, "", service.Caller{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got service.Caller
			handler := NewAuthMiddleware(tt.service).Authenticate(captureCaller(&got))

			req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantError != "" {
				var resp shared.ErrorResponse
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
				assert.Equal(t, tt.wantError, resp.Error)
				return
			}
			assert.Equal(t, tt.wantCaller, got)
		})
	}
}

func TestTraceMiddleware(t *testing.T) {
	t.Parallel()

	log, buf := logger.NewTestLogger()
	var traceID string
	handler := NewTraceMiddleware(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = shared.GetTraceID(r.Context())
		logger.FromContext(r.Context()).Info("inside handler")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Len(t, traceID, 32)
	assert.Equal(t, traceID, w.Header().Get(TraceHeader))
	assert.Contains(t, buf.String(), `"trace_id":"`+traceID+`"`)

	inbound := "0123456789abcdef0123456789abcdef"
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(TraceHeader, inbound)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, inbound, traceID)
}
