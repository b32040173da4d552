package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/store"
)

// Compile-time check that MockJobStore implements store.JobStore.
var _ store.JobStore = (*MockJobStore)(nil)

// MockJobStore implements store.JobStore. Methods without a function field
// delegate to Fallback when it is set and return store.ErrJobNotFound otherwise.
type MockJobStore struct {
	CreateFn       func(ctx context.Context, job *domain.Job) error
	GetFn          func(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	ApplyFn        func(ctx context.Context, id uuid.UUID, patch domain.JobPatch) (*domain.Job, error)
	ClaimFn        func(ctx context.Context, id uuid.UUID, staleBefore time.Time) (*domain.Job, bool, error)
	TouchFn        func(ctx context.Context, id uuid.UUID) error
	MarkRequeuedFn func(ctx context.Context, id uuid.UUID, staleBefore time.Time) (bool, error)
	ListByStatusFn func(ctx context.Context, status domain.JobStatus, olderThan time.Time, limit int) ([]*domain.Job, error)
	ListFn         func(ctx context.Context, filter store.JobFilter) ([]*domain.Job, int, error)

	// Fallback serves methods without a function field.
	Fallback store.JobStore

	mu      sync.Mutex
	Patches []domain.JobPatch
	Touches int
}

// Create implements store.JobStore.
func (m *MockJobStore) Create(ctx context.Context, job *domain.Job) error {
	if m.CreateFn != nil {
		return m.CreateFn(ctx, job)
	}
	if m.Fallback != nil {
		return m.Fallback.Create(ctx, job)
	}
	return nil
}

// Get implements store.JobStore.
func (m *MockJobStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	if m.GetFn != nil {
		return m.GetFn(ctx, id)
	}
	if m.Fallback != nil {
		return m.Fallback.Get(ctx, id)
	}
	return nil, store.ErrJobNotFound
}

// Apply records the patch and implements store.JobStore.
func (m *MockJobStore) Apply(ctx context.Context, id uuid.UUID, patch domain.JobPatch) (*domain.Job, error) {
	m.mu.Lock()
	m.Patches = append(m.Patches, patch)
	m.mu.Unlock()

	if m.ApplyFn != nil {
		return m.ApplyFn(ctx, id, patch)
	}
	if m.Fallback != nil {
		return m.Fallback.Apply(ctx, id, patch)
	}
	return nil, store.ErrJobNotFound
}

// Claim implements store.JobStore.
func (m *MockJobStore) Claim(ctx context.Context, id uuid.UUID, staleBefore time.Time) (*domain.Job, bool, error) {
	if m.ClaimFn != nil {
		return m.ClaimFn(ctx, id, staleBefore)
	}
	if m.Fallback != nil {
		return m.Fallback.Claim(ctx, id, staleBefore)
	}
	return nil, false, store.ErrJobNotFound
}

// Touch counts heartbeats and implements store.JobStore.
func (m *MockJobStore) Touch(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	m.Touches++
	m.mu.Unlock()

	if m.TouchFn != nil {
		return m.TouchFn(ctx, id)
	}
	if m.Fallback != nil {
		return m.Fallback.Touch(ctx, id)
	}
	return nil
}

// MarkRequeued implements store.JobStore.
func (m *MockJobStore) MarkRequeued(ctx context.Context, id uuid.UUID, staleBefore time.Time) (bool, error) {
	if m.MarkRequeuedFn != nil {
		return m.MarkRequeuedFn(ctx, id, staleBefore)
	}
	if m.Fallback != nil {
		return m.Fallback.MarkRequeued(ctx, id, staleBefore)
	}
	return false, store.ErrJobNotFound
}

// ListByStatus implements store.JobStore.
func (m *MockJobStore) ListByStatus(ctx context.Context, status domain.JobStatus, olderThan time.Time, limit int) ([]*domain.Job, error) {
	if m.ListByStatusFn != nil {
		return m.ListByStatusFn(ctx, status, olderThan, limit)
	}
	if m.Fallback != nil {
		return m.Fallback.ListByStatus(ctx, status, olderThan, limit)
	}
	return nil, nil
}

// List implements store.JobStore.
func (m *MockJobStore) List(ctx context.Context, filter store.JobFilter) ([]*domain.Job, int, error) {
	if m.ListFn != nil {
		return m.ListFn(ctx, filter)
	}
	if m.Fallback != nil {
		return m.Fallback.List(ctx, filter)
	}
	return nil, 0, nil
}

// AppliedPatches returns a copy of the recorded patches.
func (m *MockJobStore) AppliedPatches() []domain.JobPatch {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.JobPatch(nil), m.Patches...)
}

// TouchCount returns the number of Touch calls.
func (m *MockJobStore) TouchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Touches
}
