package api

import (
	"time"

	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/service"
	"github.com/phrazzld/scribe/internal/stage/transcribe"
)

// SubmitJobRequest defines the JSON payload of POST /api/jobs for inputs
// already present in the object store.
type SubmitJobRequest struct {
	InputRef string `json:"input_ref" validate:"required,max=1024"`
}

// ListJobsQuery holds the query parameters of GET /api/jobs.
type ListJobsQuery struct {
	Status string `validate:"omitempty,oneof=pending processing completed failed cancelled"`
	Limit  int    `validate:"gte=0,lte=200"`
	Offset int    `validate:"gte=0"`
}

// JobResponse represents a job in API responses.
type JobResponse struct {
	ID          string            `json:"id"`
	OwnerID     string            `json:"owner_id,omitempty"`
	Status      string            `json:"status"`
	InputRef    string            `json:"input_ref"`
	OutputRefs  []string          `json:"output_refs"`
	Error       string            `json:"error,omitempty"`
	URLs        map[string]string `json:"urls,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// JobListResponse is a page of jobs.
type JobListResponse struct {
	Jobs   []JobResponse `json:"jobs"`
	Total  int           `json:"total"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// JobResultResponse carries the content produced by a completed job.
type JobResultResponse struct {
	JobID       string                 `json:"job_id"`
	Transcript  *transcribe.Transcript `json:"transcript"`
	Summary     string                 `json:"summary"`
	DocumentURL string                 `json:"document_url"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// jobToResponse converts a domain.Job to a JobResponse
func jobToResponse(job *domain.Job) JobResponse {
	refs := job.OutputRefs
	if refs == nil {
		refs = []string{}
	}
	return JobResponse{
		ID:          job.ID.String(),
		OwnerID:     job.OwnerID,
		Status:      string(job.Status),
		InputRef:    job.InputRef,
		OutputRefs:  refs,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		UpdatedAt:   job.UpdatedAt,
		CompletedAt: job.CompletedAt,
	}
}

func jobViewToResponse(view *service.JobView) JobResponse {
	resp := jobToResponse(view.Job)
	resp.URLs = view.URLs
	return resp
}

func resultToResponse(result *service.JobResult) JobResultResponse {
	return JobResultResponse{
		JobID:       result.Job.ID.String(),
		Transcript:  result.Transcript,
		Summary:     result.Summary,
		DocumentURL: result.DocumentURL,
	}
}
