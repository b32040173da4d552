package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/store"
)

// JobStore is a mutex-guarded map of jobs implementing store.JobStore.
type JobStore struct {
	mu             sync.Mutex
	jobs           map[uuid.UUID]*domain.Job
	maxErrorLength int
	now            func() time.Time
}

// Compile-time check that JobStore implements store.JobStore.
var _ store.JobStore = (*JobStore)(nil)

// NewJobStore creates an empty JobStore.
func NewJobStore(maxErrorLength int) *JobStore {
	return &JobStore{
		jobs:           make(map[uuid.UUID]*domain.Job),
		maxErrorLength: maxErrorLength,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a copy of job.
func (s *JobStore) Create(ctx context.Context, job *domain.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: job %s", store.ErrDuplicate, job.ID)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

// Get returns a copy of the job.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}
	return job.Clone(), nil
}

// Apply validates and writes patch under the store lock.
func (s *JobStore) Apply(ctx context.Context, id uuid.UUID, patch domain.JobPatch) (*domain.Job, error) {
	patch = patch.Bounded(s.maxErrorLength)
	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrJobNotFound
	}

	next := job.Clone()
	if err := next.Apply(patch, s.now()); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrTransitionRejected, err)
	}
	s.jobs[id] = next
	return next.Clone(), nil
}

// Claim moves a pending job, or a processing job with a stale lease, to processing.
func (s *JobStore) Claim(ctx context.Context, id uuid.UUID, staleBefore time.Time) (*domain.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, false, store.ErrJobNotFound
	}

	switch {
	case job.Status == domain.JobStatusPending:
		if err := job.Apply(domain.MarkProcessing(), s.now()); err != nil {
			return nil, false, err
		}
	case job.Status == domain.JobStatusProcessing && job.UpdatedAt.Before(staleBefore):
		job.UpdatedAt = domain.LaterOf(job.UpdatedAt, s.now(), nil)
	default:
		return job.Clone(), false, nil
	}

	return job.Clone(), true, nil
}

// Touch bumps updated_at of a processing job.
func (s *JobStore) Touch(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	if job.Status != domain.JobStatusProcessing {
		return fmt.Errorf("%w: job %s is %s", store.ErrTransitionRejected, id, job.Status)
	}
	job.UpdatedAt = domain.LaterOf(job.UpdatedAt, s.now(), nil)
	return nil
}

// MarkRequeued stamps a stale pending job so the next sweep skips it.
func (s *JobStore) MarkRequeued(ctx context.Context, id uuid.UUID, staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok || job.Status != domain.JobStatusPending || !job.UpdatedAt.Before(staleBefore) {
		return false, nil
	}
	job.UpdatedAt = domain.LaterOf(job.UpdatedAt, s.now(), nil)
	return true, nil
}

// ListByStatus returns the oldest jobs in status last updated before olderThan.
func (s *JobStore) ListByStatus(
	ctx context.Context,
	status domain.JobStatus,
	olderThan time.Time,
	limit int,
) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Job
	for _, job := range s.jobs {
		if job.Status == status && job.UpdatedAt.Before(olderThan) {
			out = append(out, job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// List returns a page of jobs matching filter, newest first.
func (s *JobStore) List(ctx context.Context, filter store.JobFilter) ([]*domain.Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matches := make([]*domain.Job, 0)
	for _, job := range s.jobs {
		if filter.OwnerID != "" && job.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		matches = append(matches, job.Clone())
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].CreatedAt.After(matches[j].CreatedAt) })

	total := len(matches)
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	start := filter.Offset
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return matches[start:end], total, nil
}
