package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
)

// JobFilter narrows a job listing.
type JobFilter struct {
	OwnerID string
	Status  domain.JobStatus
	Limit   int
	Offset  int
}

// JobStore defines the interface for durable job records.
type JobStore interface {
	// Create saves a new pending job.
	// Returns ErrInvalidEntity if the job fails validation and ErrDuplicate
	// if the ID is taken.
	Create(ctx context.Context, job *domain.Job) error

	// Get retrieves a job by ID.
	// Returns ErrJobNotFound if the job does not exist.
	Get(ctx context.Context, id uuid.UUID) (*domain.Job, error)

	// Apply writes patch atomically, but only if the job is currently in a
	// status from which patch.Status may be reached. The error text is bounded
	// before writing and updated_at never decreases.
	// Returns ErrJobNotFound or ErrTransitionRejected when nothing was written.
	Apply(ctx context.Context, id uuid.UUID, patch domain.JobPatch) (*domain.Job, error)

	// Claim moves a pending job to processing, or takes over a processing job
	// whose updated_at is before staleBefore. claimed is false when the job is
	// terminal or another worker holds a fresh lease.
	Claim(ctx context.Context, id uuid.UUID, staleBefore time.Time) (job *domain.Job, claimed bool, err error)

	// Touch bumps updated_at of a processing job. It is the worker heartbeat.
	// Returns ErrTransitionRejected if the job is no longer processing.
	Touch(ctx context.Context, id uuid.UUID) error

	// MarkRequeued bumps updated_at of a pending job last updated before
	// staleBefore. marked is false when the job is no longer pending or was
	// stamped more recently, so concurrent sweepers requeue a job at most once
	// per window.
	MarkRequeued(ctx context.Context, id uuid.UUID, staleBefore time.Time) (marked bool, err error)

	// ListByStatus returns up to limit jobs in status whose updated_at is
	// before olderThan, oldest first.
	ListByStatus(ctx context.Context, status domain.JobStatus, olderThan time.Time, limit int) ([]*domain.Job, error)

	// List returns a page of jobs matching filter, newest first, and the
	// total number of matches.
	List(ctx context.Context, filter JobFilter) ([]*domain.Job, int, error)
}
