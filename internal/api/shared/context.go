// Package shared holds request context keys, request decoding and response
// writers used by the api package and its middleware.
package shared

import (
	"context"
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/service"
)

// ContextKey is the type of request context keys set by this package.
type ContextKey string

const (
	// CallerContextKey holds the service.Caller of an authenticated request.
	CallerContextKey ContextKey = "caller"

	// TraceIDKey is the key for the trace ID in the request context
	TraceIDKey ContextKey = "traceID"

	// TraceIDLength is the number of bytes used to generate the trace ID
	TraceIDLength = 16 // 32 hex characters
)

// WithCaller returns a context carrying caller.
func WithCaller(ctx context.Context, caller service.Caller) context.Context {
	return context.WithValue(ctx, CallerContextKey, caller)
}

// GetCaller returns the caller stored by the auth middleware. Requests that
// passed no auth middleware get the anonymous caller.
func GetCaller(ctx context.Context) service.Caller {
	caller, _ := ctx.Value(CallerContextKey).(service.Caller)
	return caller
}

// SetTraceID adds a trace ID to the context, keeping an inbound one when
// the client supplied a valid value.
func SetTraceID(ctx context.Context, inbound string) context.Context {
	traceID := inbound
	if !validTraceID(traceID) {
		traceID = generateTraceID()
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID retrieves the trace ID from the context.
// If no trace ID exists, it returns an empty string.
func GetTraceID(ctx context.Context) string {
	traceID, ok := ctx.Value(TraceIDKey).(string)
	if !ok {
		return ""
	}
	return traceID
}

func validTraceID(s string) bool {
	if len(s) != TraceIDLength*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// generateTraceID creates a random 32-character hex trace ID. A failing
// entropy source falls back to a random UUID without dashes.
func generateTraceID() string {
	b := make([]byte, TraceIDLength)
	if _, err := rand.Read(b); err != nil {
		u := uuid.New()
		return hex.EncodeToString(u[:])
	}
	return hex.EncodeToString(b)
}
