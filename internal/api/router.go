package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	apimiddleware "github.com/phrazzld/scribe/internal/api/middleware"
	"github.com/phrazzld/scribe/internal/service"
	"github.com/phrazzld/scribe/internal/service/auth"
)

// RouterConfig holds the dependencies of NewRouter.
type RouterConfig struct {
	JobService service.JobService
	// JWTService verifies bearer tokens; nil disables authentication.
	JWTService     auth.JWTService
	MaxUploadBytes int64
	HealthChecks   map[string]HealthCheck
	Logger         *slog.Logger
}

// NewRouter creates the application router with all routes and middleware.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(apimiddleware.NewTraceMiddleware(log))

	jobHandler := NewJobHandler(cfg.JobService, cfg.MaxUploadBytes, log)
	authMiddleware := apimiddleware.NewAuthMiddleware(cfg.JWTService)

	r.Route("/api", func(r chi.Router) {
		r.Use(authMiddleware.Authenticate)

		r.Post("/jobs", jobHandler.SubmitJob)
		r.Get("/jobs", jobHandler.ListJobs)
		r.Get("/jobs/{id}", jobHandler.GetJob)
		r.Get("/jobs/{id}/result", jobHandler.GetJobResult)
		r.Post("/jobs/{id}/cancel", jobHandler.CancelJob)
	})

	r.Get("/health", HealthHandler(cfg.HealthChecks))

	return r
}
