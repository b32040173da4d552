package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/events"
	"github.com/phrazzld/scribe/internal/pipeline"
	"github.com/phrazzld/scribe/internal/stage/transcribe"
	"github.com/phrazzld/scribe/internal/store"
)

// DefaultPresignTTL is the lifetime of download links handed to clients.
const DefaultPresignTTL = time.Hour

// JobService provides the job operations exposed by the API.
type JobService interface {
	// Submit creates a pending job for an artifact already in the object store
	// and announces it for dispatch.
	Submit(ctx context.Context, caller Caller, inputRef string) (*domain.Job, error)

	// Upload stores an input artifact under a new job's prefix, then submits it.
	Upload(ctx context.Context, caller Caller, filename string, r io.Reader, size int64, contentType string) (*domain.Job, error)

	// Status returns the job and download links for its outputs.
	Status(ctx context.Context, caller Caller, jobID uuid.UUID) (*JobView, error)

	// Result returns the content produced by a completed job.
	// Returns ErrNotReady before completion and ErrArtifactMissing for stale refs.
	Result(ctx context.Context, caller Caller, jobID uuid.UUID) (*JobResult, error)

	// Cancel moves a pending or processing job to cancelled.
	Cancel(ctx context.Context, caller Caller, jobID uuid.UUID) (*domain.Job, error)

	// List returns a page of the caller's jobs, or every job for operators.
	List(ctx context.Context, caller Caller, filter store.JobFilter) ([]*domain.Job, int, error)
}

// JobView is a job with presigned download links keyed by output ref.
type JobView struct {
	Job  *domain.Job
	URLs map[string]string
}

// JobResult is the content of a completed job.
type JobResult struct {
	Job         *domain.Job
	Transcript  *transcribe.Transcript
	Summary     string
	DocumentURL string
}

// jobServiceImpl implements the JobService interface
type jobServiceImpl struct {
	jobs         store.JobStore
	objects      store.ObjectStore
	eventEmitter events.EventEmitter
	presignTTL   time.Duration
	logger       *slog.Logger
}

// NewJobService creates a new JobService.
// It returns an error if any of the required dependencies are nil.
func NewJobService(
	jobs store.JobStore,
	objects store.ObjectStore,
	eventEmitter events.EventEmitter,
	presignTTL time.Duration,
	logger *slog.Logger,
) (JobService, error) {
	if jobs == nil {
		return nil, &JobServiceError{Operation: "create_service", Message: "jobs cannot be nil"}
	}
	if objects == nil {
		return nil, &JobServiceError{Operation: "create_service", Message: "objects cannot be nil"}
	}
	if eventEmitter == nil {
		return nil, &JobServiceError{Operation: "create_service", Message: "eventEmitter cannot be nil"}
	}
	if presignTTL <= 0 {
		presignTTL = DefaultPresignTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &jobServiceImpl{
		jobs:         jobs,
		objects:      objects,
		eventEmitter: eventEmitter,
		presignTTL:   presignTTL,
		logger:       logger.With("component", "job_service"),
	}, nil
}

// Submit creates a pending job and emits a submission event.
func (s *jobServiceImpl) Submit(ctx context.Context, caller Caller, inputRef string) (*domain.Job, error) {
	inputRef = strings.TrimSpace(inputRef)
	if err := store.ValidateKey(inputRef); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.authorizeInput(ctx, caller, inputRef); err != nil {
		return nil, err
	}

	job, err := domain.NewJob(inputRef, caller.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.create(ctx, job)
}

// authorizeInput allows a ref under another job's prefix only when the caller
// may access that job. Keys outside the jobs/ namespace are not owned by any job.
func (s *jobServiceImpl) authorizeInput(ctx context.Context, caller Caller, inputRef string) error {
	sourceID, owned, err := store.JobIDFromKey(inputRef)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !owned || caller.Operator {
		return nil
	}

	source, err := s.jobs.Get(ctx, sourceID)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			s.logger.Debug("input ref under unknown job", "source_job_id", sourceID, "subject", caller.Subject)
			return ErrForbidden
		}
		s.logger.Error("failed to retrieve source job", "error", err, "source_job_id", sourceID)
		return NewJobServiceError("submit", "failed to retrieve source job", err)
	}
	if !caller.CanAccess(source) {
		s.logger.Debug("input ref belongs to another owner",
			"source_job_id", sourceID,
			"subject", caller.Subject)
		return ErrForbidden
	}
	return nil
}

// Upload stores the artifact first so the job never refers to a missing input.
func (s *jobServiceImpl) Upload(
	ctx context.Context,
	caller Caller,
	filename string,
	r io.Reader,
	size int64,
	contentType string,
) (*domain.Job, error) {
	name := path.Base("/" + strings.TrimSpace(filename))
	if name == "/" || name == "." || strings.Contains(filename, "..") {
		return nil, fmt.Errorf("%w: filename %q", ErrInvalidInput, filename)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	job, err := domain.NewJob("pending-upload", caller.Subject)
	if err != nil {
		return nil, NewJobServiceError("upload", "failed to create job object", err)
	}
	job.InputRef = store.InputKey(job.ID, name)

	if _, err := s.objects.Upload(ctx, job.InputRef, r, size, contentType); err != nil {
		s.logger.Error("failed to store uploaded input",
			"error", err,
			"job_id", job.ID,
			"bytes", size)
		if errors.Is(err, store.ErrInvalidEntity) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, NewJobServiceError("upload", "failed to store input", err)
	}

	return s.create(ctx, job)
}

// create persists job and announces it. A failed announcement is logged
// only; the reconciliation sweep republishes pending jobs.
func (s *jobServiceImpl) create(ctx context.Context, job *domain.Job) (*domain.Job, error) {
	if err := s.jobs.Create(ctx, job); err != nil {
		s.logger.Error("failed to save job",
			"error", err,
			"job_id", job.ID,
			"owner_id", job.OwnerID)
		return nil, NewJobServiceError("submit", "failed to save job", err)
	}

	s.logger.Info("job created with pending status",
		"job_id", job.ID,
		"owner_id", job.OwnerID,
		"input_ref", job.InputRef)

	event, err := events.NewJobEvent(events.TypeJobSubmitted, job.ID, domain.NewMessage(job))
	if err != nil {
		s.logger.Error("failed to create job submitted event", "error", err, "job_id", job.ID)
		return job, nil
	}
	if err := s.eventEmitter.EmitEvent(ctx, event); err != nil {
		s.logger.Warn("failed to dispatch job, leaving it for reconciliation",
			"error", err,
			"job_id", job.ID,
			"event_id", event.ID)
		return job, nil
	}

	s.logger.Debug("job submitted event emitted", "job_id", job.ID, "event_id", event.ID)
	return job, nil
}

// Status returns the job with links for each output ref.
func (s *jobServiceImpl) Status(ctx context.Context, caller Caller, jobID uuid.UUID) (*JobView, error) {
	job, err := s.authorizedJob(ctx, caller, jobID, "status")
	if err != nil {
		return nil, err
	}

	view := &JobView{Job: job}
	if len(job.OutputRefs) == 0 {
		return view, nil
	}

	view.URLs = make(map[string]string, len(job.OutputRefs))
	for _, ref := range job.OutputRefs {
		url, err := s.objects.Presign(ctx, ref, s.presignTTL)
		if err != nil {
			s.logger.Warn("failed to presign output",
				"error", err,
				"job_id", job.ID,
				"ref", ref)
			continue
		}
		view.URLs[ref] = url
	}
	return view, nil
}

// Result reads the transcript and summary of a completed job.
func (s *jobServiceImpl) Result(ctx context.Context, caller Caller, jobID uuid.UUID) (*JobResult, error) {
	job, err := s.authorizedJob(ctx, caller, jobID, "result")
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusCompleted {
		return nil, fmt.Errorf("%w: status is %s", ErrNotReady, job.Status)
	}

	result := &JobResult{Job: job}

	raw, err := s.artifact(ctx, store.JobKey(job.ID, pipeline.TranscriptName))
	if err != nil {
		return nil, err
	}
	var transcript transcribe.Transcript
	if err := json.Unmarshal(raw, &transcript); err != nil {
		return nil, NewJobServiceError("result", "failed to parse transcript", err)
	}
	result.Transcript = &transcript

	summary, err := s.artifact(ctx, store.JobKey(job.ID, pipeline.SummaryName))
	if err != nil {
		return nil, err
	}
	result.Summary = string(summary)

	documentKey := store.JobKey(job.ID, pipeline.DocumentName)
	if err := s.objects.Stat(ctx, documentKey); err != nil {
		return nil, s.artifactError(documentKey, err)
	}
	result.DocumentURL, err = s.objects.Presign(ctx, documentKey, s.presignTTL)
	if err != nil {
		return nil, s.artifactError(documentKey, err)
	}

	return result, nil
}

func (s *jobServiceImpl) artifact(ctx context.Context, key string) ([]byte, error) {
	data, err := s.objects.Get(ctx, key)
	if err != nil {
		return nil, s.artifactError(key, err)
	}
	return data, nil
}

func (s *jobServiceImpl) artifactError(key string, err error) error {
	if errors.Is(err, store.ErrObjectNotFound) {
		s.logger.Warn("completed job refers to a missing artifact", "key", key)
		return fmt.Errorf("%w: %s", ErrArtifactMissing, path.Base(key))
	}
	return NewJobServiceError("result", "failed to read "+path.Base(key), err)
}

// Cancel writes the cancelled state. The executor notices it on its next
// heartbeat and stops the pipeline.
func (s *jobServiceImpl) Cancel(ctx context.Context, caller Caller, jobID uuid.UUID) (*domain.Job, error) {
	if _, err := s.authorizedJob(ctx, caller, jobID, "cancel"); err != nil {
		return nil, err
	}

	job, err := s.jobs.Apply(ctx, jobID, domain.MarkCancelled())
	if err != nil {
		if errors.Is(err, store.ErrTransitionRejected) {
			return nil, fmt.Errorf("%w: %v", ErrNotCancellable, err)
		}
		s.logger.Error("failed to cancel job", "error", err, "job_id", jobID)
		return nil, NewJobServiceError("cancel", "failed to cancel job", err)
	}

	s.logger.Info("job cancelled",
		"job_id", jobID,
		"by", caller.Subject,
		"operator", caller.Operator)
	return job, nil
}

// List restricts non-operator callers to their own jobs.
func (s *jobServiceImpl) List(ctx context.Context, caller Caller, filter store.JobFilter) ([]*domain.Job, int, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, 0, fmt.Errorf("%w: status %q", ErrInvalidInput, filter.Status)
	}
	if !caller.Operator && !caller.Anonymous() {
		filter.OwnerID = caller.Subject
	}

	jobs, total, err := s.jobs.List(ctx, filter)
	if err != nil {
		s.logger.Error("failed to list jobs", "error", err, "owner_id", filter.OwnerID)
		return nil, 0, NewJobServiceError("list", "failed to list jobs", err)
	}
	return jobs, total, nil
}

func (s *jobServiceImpl) authorizedJob(ctx context.Context, caller Caller, jobID uuid.UUID, op string) (*domain.Job, error) {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		if !errors.Is(err, store.ErrJobNotFound) {
			s.logger.Error("failed to retrieve job", "error", err, "job_id", jobID)
		}
		return nil, NewJobServiceError(op, "failed to retrieve job", err)
	}
	if !caller.CanAccess(job) {
		s.logger.Debug("job access denied", "job_id", jobID, "subject", caller.Subject)
		return nil, ErrForbidden
	}
	return job, nil
}
