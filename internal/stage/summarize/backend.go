// Package summarize turns a transcript into structured Markdown notes using
// a configurable language model backend.
package summarize

import (
	"context"
	"fmt"

	"github.com/phrazzld/scribe/internal/stage"
	"golang.org/x/time/rate"
)

// StageName identifies this stage in errors and logs.
const StageName = "summarize"

// Backend produces one completion for a system and a user prompt.
type Backend interface {
	Name() string
	Complete(ctx context.Context, system, user string) (string, error)
}

// limited throttles a backend with a token bucket.
type limited struct {
	Backend
	limiter *rate.Limiter
}

// RateLimited wraps b so that it issues at most rps requests per second.
// A non-positive rps returns b unchanged.
func RateLimited(b Backend, rps float64) Backend {
	if rps <= 0 {
		return b
	}
	return &limited{Backend: b, limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

// Complete waits for a token and calls the wrapped backend. A wait that
// would outlast the job deadline fails as a timeout before it starts.
func (l *limited) Complete(ctx context.Context, system, user string) (string, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		if _, ok := ctx.Deadline(); ok && ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return "", stage.Classify(StageName, err)
	}
	return l.Backend.Complete(ctx, system, user)
}
