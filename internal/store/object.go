package store

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ObjectStore stores job artifacts under keys of the form jobs/{id}/...
// Transport failures wrap ErrUnavailable; missing keys wrap ErrObjectNotFound.
type ObjectStore interface {
	// Put stores data under key and returns the key.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Upload streams size bytes from r under key and returns the key.
	Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)

	// Get returns the full content stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Stat reports whether key exists. Returns ErrObjectNotFound when it does not.
	Stat(ctx context.Context, key string) error

	// Presign returns a time-limited URL for reading key. It does not check
	// that the object exists.
	Presign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// jobsNamespace is the prefix shared by every job-owned key.
const jobsNamespace = "jobs/"

// JobPrefix returns the key prefix owned by a job.
func JobPrefix(jobID uuid.UUID) string {
	return jobsNamespace + jobID.String() + "/"
}

// JobKey joins name under the job's prefix. Only the base name of name is
// used so callers cannot escape the prefix.
func JobKey(jobID uuid.UUID, name string) string {
	return JobPrefix(jobID) + path.Base("/"+name)
}

// InputKey is where an uploaded input artifact is stored.
func InputKey(jobID uuid.UUID, filename string) string {
	return JobPrefix(jobID) + "input/" + path.Base("/"+filename)
}

// OwnsKey reports whether key lies under the job's prefix.
func OwnsKey(jobID uuid.UUID, key string) bool {
	return strings.HasPrefix(key, JobPrefix(jobID)) && !strings.Contains(key, "..")
}

// JobIDFromKey returns the job whose prefix holds key. ok is false for keys
// outside the jobs/ namespace. A jobs/ key without a valid job id is an error.
func JobIDFromKey(key string) (id uuid.UUID, ok bool, err error) {
	rest, found := strings.CutPrefix(key, jobsNamespace)
	if !found {
		return uuid.Nil, false, nil
	}
	idPart, _, _ := strings.Cut(rest, "/")
	id, err = uuid.Parse(idPart)
	if err != nil || !OwnsKey(id, key) {
		return uuid.Nil, true, fmt.Errorf("%w: key %q is not under a job prefix", ErrInvalidEntity, key)
	}
	return id, true, nil
}

// ValidateKey rejects keys that are empty or contain path traversal.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("%w: bad object key %q", ErrInvalidEntity, key)
	}
	return nil
}
