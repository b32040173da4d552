package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/platform/logger"
	"github.com/phrazzld/scribe/internal/store"
)

const jobColumns = `id, owner_id, status, input_ref, output_refs, error, created_at, updated_at, completed_at`

// JobStore implements store.JobStore on database/sql.
// Every transition is a single conditional UPDATE, so concurrent workers
// and operators can never overwrite a terminal state.
type JobStore struct {
	db             *sql.DB
	dialect        Dialect
	maxErrorLength int
	now            func() time.Time
}

// Compile-time check that JobStore implements store.JobStore.
var _ store.JobStore = (*JobStore)(nil)

// NewJobStore creates a JobStore. Error text written on failure is bounded
// to maxErrorLength runes.
func NewJobStore(db *sql.DB, dialect Dialect, maxErrorLength int) *JobStore {
	return &JobStore{
		db:             db,
		dialect:        dialect,
		maxErrorLength: maxErrorLength,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a new job.
func (s *JobStore) Create(ctx context.Context, job *domain.Job) error {
	log := logger.FromContext(ctx)

	if err := job.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	refs, err := encodeRefs(job.OutputRefs)
	if err != nil {
		return err
	}

	query := s.dialect.Rebind(`INSERT INTO jobs (` + jobColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, query,
		job.ID.String(),
		job.OwnerID,
		string(job.Status),
		job.InputRef,
		refs,
		job.Error,
		s.dialect.Time(job.CreatedAt),
		s.dialect.Time(job.UpdatedAt),
		s.dialect.NullTime(job.CompletedAt),
	)
	if err != nil {
		log.Error("failed to create job", "job_id", job.ID, "error", err)
		return store.NewStoreError("job", "create", "insert failed", MapError(err))
	}

	log.Debug("job created", "job_id", job.ID, "status", job.Status)
	return nil
}

// Get retrieves a job by ID.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return s.get(ctx, s.db, id)
}

func (s *JobStore) get(ctx context.Context, q store.DBTX, id uuid.UUID) (*domain.Job, error) {
	query := s.dialect.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE id = ?`)
	job, err := scanJob(q.QueryRowContext(ctx, query, id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrJobNotFound
	}
	if err != nil {
		return nil, store.NewStoreError("job", "get", "select failed", MapError(err))
	}
	return job, nil
}

// Apply writes patch in one conditional UPDATE guarded by the set of
// statuses from which patch.Status is reachable.
func (s *JobStore) Apply(ctx context.Context, id uuid.UUID, patch domain.JobPatch) (*domain.Job, error) {
	log := logger.FromContext(ctx).With("job_id", id, "status", patch.Status)

	patch = patch.Bounded(s.maxErrorLength)
	if err := patch.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	from := domain.Predecessors(patch.Status)
	refs, err := encodeRefs(patch.OutputRefs)
	if err != nil {
		return nil, err
	}

	stamp := domain.LaterOf(time.Time{}, s.now(), patch.CompletedAt)
	query := s.dialect.Rebind(fmt.Sprintf(`
		UPDATE jobs
		SET status = ?, output_refs = ?, error = ?, completed_at = ?, updated_at = %s(updated_at, ?)
		WHERE id = ? AND status IN (%s)
		RETURNING %s`, s.dialect.Greatest, placeholders(len(from)), jobColumns))

	args := []any{
		string(patch.Status),
		refs,
		patch.Error,
		s.dialect.NullTime(patch.CompletedAt),
		s.dialect.Time(stamp),
		id.String(),
	}
	for _, st := range from {
		args = append(args, string(st))
	}

	job, err := scanJob(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, s.explainMiss(ctx, id, patch.Status)
	}
	if err != nil {
		log.Error("failed to apply job patch", "error", err)
		return nil, store.NewStoreError("job", "apply", "update failed", MapError(err))
	}

	log.Debug("job patch applied")
	return job, nil
}

// Claim moves a job into processing for the calling worker.
func (s *JobStore) Claim(ctx context.Context, id uuid.UUID, staleBefore time.Time) (*domain.Job, bool, error) {
	query := s.dialect.Rebind(fmt.Sprintf(`
		UPDATE jobs
		SET status = ?, updated_at = %s(updated_at, ?)
		WHERE id = ? AND (status = ? OR (status = ? AND updated_at < ?))
		RETURNING %s`, s.dialect.Greatest, jobColumns))

	job, err := scanJob(s.db.QueryRowContext(ctx, query,
		string(domain.JobStatusProcessing),
		s.dialect.Time(s.now()),
		id.String(),
		string(domain.JobStatusPending),
		string(domain.JobStatusProcessing),
		s.dialect.Time(staleBefore),
	))
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.Get(ctx, id)
		if getErr != nil {
			return nil, false, getErr
		}
		return current, false, nil
	}
	if err != nil {
		return nil, false, store.NewStoreError("job", "claim", "update failed", MapError(err))
	}

	return job, true, nil
}

// Touch bumps updated_at while the job is processing.
func (s *JobStore) Touch(ctx context.Context, id uuid.UUID) error {
	query := s.dialect.Rebind(fmt.Sprintf(
		`UPDATE jobs SET updated_at = %s(updated_at, ?) WHERE id = ? AND status = ?`, s.dialect.Greatest))

	result, err := s.db.ExecContext(ctx, query,
		s.dialect.Time(s.now()), id.String(), string(domain.JobStatusProcessing))
	if err != nil {
		return store.NewStoreError("job", "touch", "update failed", MapError(err))
	}

	if err := CheckRowsAffected(result, "job"); err != nil {
		if store.IsNotFoundError(err) {
			return s.explainMiss(ctx, id, domain.JobStatusProcessing)
		}
		return err
	}
	return nil
}

// MarkRequeued stamps a stale pending job so the next sweep skips it.
func (s *JobStore) MarkRequeued(ctx context.Context, id uuid.UUID, staleBefore time.Time) (bool, error) {
	query := s.dialect.Rebind(fmt.Sprintf(
		`UPDATE jobs SET updated_at = %s(updated_at, ?) WHERE id = ? AND status = ? AND updated_at < ?`,
		s.dialect.Greatest))

	result, err := s.db.ExecContext(ctx, query,
		s.dialect.Time(s.now()), id.String(), string(domain.JobStatusPending), s.dialect.Time(staleBefore))
	if err != nil {
		return false, store.NewStoreError("job", "mark_requeued", "update failed", MapError(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, store.NewStoreError("job", "mark_requeued", "failed to read affected rows", MapError(err))
	}
	return rows > 0, nil
}

// ListByStatus returns the oldest jobs in status last updated before olderThan.
func (s *JobStore) ListByStatus(
	ctx context.Context,
	status domain.JobStatus,
	olderThan time.Time,
	limit int,
) ([]*domain.Job, error) {
	query := s.dialect.Rebind(`SELECT ` + jobColumns + `
		FROM jobs
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC
		LIMIT ?`)

	rows, err := s.db.QueryContext(ctx, query, string(status), s.dialect.Time(olderThan), limit)
	if err != nil {
		return nil, store.NewStoreError("job", "list_by_status", "select failed", MapError(err))
	}
	return collectJobs(rows)
}

// List returns one page of jobs matching filter and the total match count.
// Count and page are read in one transaction.
func (s *JobStore) List(ctx context.Context, filter store.JobFilter) ([]*domain.Job, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.OwnerID != "" {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var (
		jobs  []*domain.Job
		total int
	)
	err := store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		countQuery := s.dialect.Rebind(`SELECT COUNT(*) FROM jobs` + clause)
		if err := tx.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
			return err
		}

		pageQuery := s.dialect.Rebind(`SELECT ` + jobColumns + ` FROM jobs` + clause +
			` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`)
		rows, err := tx.QueryContext(ctx, pageQuery, append(args, limit, filter.Offset)...)
		if err != nil {
			return err
		}
		jobs, err = collectJobs(rows)
		return err
	})
	if err != nil {
		return nil, 0, store.NewStoreError("job", "list", "select failed", MapError(err))
	}

	return jobs, total, nil
}

// explainMiss distinguishes a missing job from a rejected transition after
// a conditional update matched nothing.
func (s *JobStore) explainMiss(ctx context.Context, id uuid.UUID, target domain.JobStatus) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: job %s is %s, cannot become %s",
		store.ErrTransitionRejected, id, current.Status, target)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job    domain.Job
		status string
		refs   sql.NullString
	)

	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&status,
		&job.InputRef,
		&refs,
		&job.Error,
		requiredTime{dst: &job.CreatedAt},
		requiredTime{dst: &job.UpdatedAt},
		timeScanner{dst: &job.CompletedAt},
	)
	if err != nil {
		return nil, err
	}

	job.Status = domain.JobStatus(status)
	if refs.Valid && refs.String != "" {
		if err := json.Unmarshal([]byte(refs.String), &job.OutputRefs); err != nil {
			return nil, fmt.Errorf("decode output_refs: %w", err)
		}
	}

	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]*domain.Job, error) {
	defer func() { _ = rows.Close() }()

	jobs := make([]*domain.Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return jobs, nil
}

// encodeRefs stores an empty set as NULL.
func encodeRefs(refs []string) (any, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(refs)
	if err != nil {
		return nil, fmt.Errorf("encode output_refs: %w", err)
	}
	return string(b), nil
}

func placeholders(n int) string {
	if n <= 0 {
		return "NULL"
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
