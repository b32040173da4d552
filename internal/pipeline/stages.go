package pipeline

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/phrazzld/scribe/internal/config"
	"github.com/phrazzld/scribe/internal/resource"
	"github.com/phrazzld/scribe/internal/stage/render"
	"github.com/phrazzld/scribe/internal/stage/summarize"
	"github.com/phrazzld/scribe/internal/stage/transcribe"
)

// BuildStages constructs the stage clients described by cfg.
func BuildStages(ctx context.Context, cfg *config.Config, httpClient *http.Client, logger *slog.Logger) (*Stages, error) {
	tr, err := transcribe.NewClient(transcribe.Config{
		URL:     cfg.Stages.ASRURL,
		Timeout: cfg.Stages.ASRTimeout,
	}, httpClient, logger)
	if err != nil {
		return nil, err
	}

	backend, err := summarize.NewBackend(ctx, cfg.Summarizer, httpClient, logger)
	if err != nil {
		return nil, err
	}

	rd, err := render.NewClient(render.Config{
		URL:     cfg.Stages.RenderURL,
		Timeout: cfg.Stages.RenderTimeout,
	}, httpClient, logger)
	if err != nil {
		return nil, err
	}

	logger.InfoContext(ctx, "stage clients ready",
		"summarizer_backend", backend.Name(),
		"asr_url", cfg.Stages.ASRURL,
		"render_url", cfg.Stages.RenderURL)

	return &Stages{
		Transcriber: tr,
		Summarizer:  summarize.NewSummarizer(backend, cfg.Stages.ChunkMaxChars, logger),
		Renderer:    rd,
	}, nil
}

// NewStagesLoader returns a loader that builds the stage clients on first use.
func NewStagesLoader(cfg *config.Config, httpClient *http.Client, monitor *resource.Monitor, logger *slog.Logger) *resource.Loader[*Stages] {
	return resource.NewLoader("stages", func(ctx context.Context) (*Stages, error) {
		return BuildStages(ctx, cfg, httpClient, logger)
	}, monitor, cfg.Resources.SerializeInvoke, logger)
}
