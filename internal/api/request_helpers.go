package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/api/shared"
	"github.com/phrazzld/scribe/internal/domain"
)

// defaultListLimit applies when GET /api/jobs carries no limit.
const defaultListLimit = 50

// getPathUUID extracts and parses a UUID path parameter.
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	pathParam := chi.URLParam(r, paramName)
	if pathParam == "" {
		return uuid.Nil, domain.ErrInvalidID
	}

	id, err := uuid.Parse(pathParam)
	if err != nil {
		return uuid.Nil, domain.ErrInvalidID
	}

	return id, nil
}

// handlePathJobID extracts the job ID path parameter and writes a 400 when
// it is missing or malformed.
func handlePathJobID(w http.ResponseWriter, r *http.Request, log *slog.Logger) (uuid.UUID, bool) {
	jobID, err := getPathUUID(r, "id")
	if err != nil {
		log.Warn("invalid job id", slog.String("value", chi.URLParam(r, "id")))
		HandleAPIError(w, r, err, "")
		return uuid.Nil, false
	}
	return jobID, true
}

// parseListQuery reads and validates the list query parameters.
func parseListQuery(r *http.Request) (ListJobsQuery, error) {
	q := r.URL.Query()
	query := ListJobsQuery{Status: q.Get("status"), Limit: defaultListLimit}

	for name, dst := range map[string]*int{"limit": &query.Limit, "offset": &query.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			n = -1
		}
		*dst = n
	}

	if err := shared.ValidateRequest(query); err != nil {
		return ListJobsQuery{}, err
	}
	return query, nil
}
