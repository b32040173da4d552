package api

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"

	"github.com/phrazzld/scribe/internal/api/shared"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/platform/logger"
	"github.com/phrazzld/scribe/internal/redact"
	"github.com/phrazzld/scribe/internal/service"
	"github.com/phrazzld/scribe/internal/store"
)

// DefaultMaxUploadBytes bounds raw uploads when no limit is configured.
const DefaultMaxUploadBytes int64 = 500 * 1024 * 1024

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	jobService     service.JobService
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(jobService service.JobService, maxUploadBytes int64, logger *slog.Logger) *JobHandler {
	if jobService == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("jobService cannot be nil for JobHandler")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}

	return &JobHandler{
		jobService:     jobService,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.With(slog.String("component", "job_handler")),
	}
}

// SubmitJob handles POST /api/jobs requests. A JSON body names an input
// already in the object store; any other body is stored as the input under
// the ?filename= query parameter.
func (h *JobHandler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)
	caller := shared.GetCaller(r.Context())

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		job *domain.Job
		err error
	)
	if mediaType == "application/json" {
		var req SubmitJobRequest
		if err := shared.DecodeJSON(r, &req); err != nil {
			log.Warn("invalid request format", slog.String("error", redact.Error(err)))
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request format")
			return
		}
		if err := shared.ValidateRequest(req); err != nil {
			HandleValidationError(w, r, err)
			return
		}
		job, err = h.jobService.Submit(r.Context(), caller, req.InputRef)
	} else {
		filename := r.URL.Query().Get("filename")
		if filename == "" {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid filename: required field")
			return
		}
		if r.ContentLength > h.maxUploadBytes {
			shared.RespondWithError(w, r, http.StatusRequestEntityTooLarge, "Upload too large")
			return
		}

		body := &limitedBody{r: http.MaxBytesReader(w, r.Body, h.maxUploadBytes)}
		job, err = h.jobService.Upload(r.Context(), caller, filename, body, r.ContentLength, mediaType)
		if err != nil && body.tooLarge {
			shared.RespondWithErrorAndLog(w, r, http.StatusRequestEntityTooLarge, "Upload too large", err)
			return
		}
	}

	if err != nil {
		HandleAPIError(w, r, err, "Failed to submit job")
		return
	}

	log.Info("job submitted",
		slog.String("job_id", job.ID.String()),
		slog.String("input_ref", job.InputRef))

	// 202 Accepted: processing happens asynchronously
	shared.RespondWithJSON(w, r, http.StatusAccepted, jobToResponse(job))
}

// ListJobs handles GET /api/jobs requests
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	query, err := parseListQuery(r)
	if err != nil {
		HandleValidationError(w, r, err)
		return
	}

	jobs, total, err := h.jobService.List(r.Context(), shared.GetCaller(r.Context()), store.JobFilter{
		Status: domain.JobStatus(query.Status),
		Limit:  query.Limit,
		Offset: query.Offset,
	})
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list jobs")
		return
	}

	resp := JobListResponse{
		Jobs:   make([]JobResponse, 0, len(jobs)),
		Total:  total,
		Limit:  query.Limit,
		Offset: query.Offset,
	}
	for _, job := range jobs {
		resp.Jobs = append(resp.Jobs, jobToResponse(job))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// GetJob handles GET /api/jobs/{id} requests
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)
	jobID, ok := handlePathJobID(w, r, log)
	if !ok {
		return
	}

	view, err := h.jobService.Status(r.Context(), shared.GetCaller(r.Context()), jobID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get job")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, jobViewToResponse(view))
}

// GetJobResult handles GET /api/jobs/{id}/result requests
func (h *JobHandler) GetJobResult(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)
	jobID, ok := handlePathJobID(w, r, log)
	if !ok {
		return
	}

	result, err := h.jobService.Result(r.Context(), shared.GetCaller(r.Context()), jobID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get job result")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resultToResponse(result))
}

// CancelJob handles POST /api/jobs/{id}/cancel requests
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)
	jobID, ok := handlePathJobID(w, r, log)
	if !ok {
		return
	}

	job, err := h.jobService.Cancel(r.Context(), shared.GetCaller(r.Context()), jobID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to cancel job")
		return
	}

	log.Info("job cancelled", slog.String("job_id", jobID.String()))
	shared.RespondWithJSON(w, r, http.StatusOK, jobToResponse(job))
}

// limitedBody remembers whether the wrapped MaxBytesReader hit its limit,
// since stores do not preserve the reader error.
type limitedBody struct {
	r        io.Reader
	tooLarge bool
}

func (b *limitedBody) Read(p []byte) (int, error) {
	n, err := b.r.Read(p)
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		b.tooLarge = true
	}
	return n, err
}
