// Package pipeline runs the stages of one job in order and stores what
// they produce. It never writes the job record; the caller persists the
// outcome it returns.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/redact"
	"github.com/phrazzld/scribe/internal/resource"
	"github.com/phrazzld/scribe/internal/stage"
	"github.com/phrazzld/scribe/internal/stage/render"
	"github.com/phrazzld/scribe/internal/stage/summarize"
	"github.com/phrazzld/scribe/internal/stage/transcribe"
	"github.com/phrazzld/scribe/internal/store"
)

// Artifact names under a job's prefix.
const (
	TranscriptName = "transcript.json"
	SummaryName    = "summary.md"
	DocumentName   = "document.pdf"
)

// Stage names that belong to the orchestrator rather than a stage client.
const (
	stageFetch   = "fetch"
	stagePersist = "persist"
)

// Transcriber turns audio into a transcript.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (*transcribe.Transcript, error)
}

// Summarizer turns transcript text into Markdown notes.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// Renderer turns Markdown into a PDF document.
type Renderer interface {
	Render(ctx context.Context, markdown, title string) ([]byte, error)
}

// Stages is the set of stage clients a worker loads once and shares.
type Stages struct {
	Transcriber Transcriber
	Summarizer  Summarizer
	Renderer    Renderer
}

// Outcome is the result of running the pipeline for one job.
type Outcome struct {
	// OutputRefs holds the transcript and document keys on success.
	OutputRefs []string
	// Err is the failure that stopped the pipeline, nil on success.
	Err *stage.Error
	// Message is Err rendered for Job.error: redacted and bounded.
	Message string
}

// OK reports whether every stage succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Orchestrator sequences transcribe, summarize and render for a job.
type Orchestrator struct {
	objects        store.ObjectStore
	stages         *resource.Loader[*Stages]
	maxErrorLength int
	logger         *slog.Logger
}

// NewOrchestrator creates an Orchestrator. Stage clients are obtained from
// the loader so they are built once per process.
func NewOrchestrator(objects store.ObjectStore, stages *resource.Loader[*Stages], maxErrorLength int, logger *slog.Logger) *Orchestrator {
	if maxErrorLength <= 0 {
		maxErrorLength = domain.DefaultMaxErrorLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		objects:        objects,
		stages:         stages,
		maxErrorLength: maxErrorLength,
		logger:         logger.With("component", "orchestrator"),
	}
}

// Run processes the input artifact of a job. Artifacts stored before a
// failing stage are left in place.
func (o *Orchestrator) Run(ctx context.Context, jobID uuid.UUID, inputRef string) Outcome {
	log := o.logger.With("job_id", jobID.String())
	start := time.Now()

	refs, err := o.run(ctx, log, jobID, inputRef)
	if err != nil {
		se := stage.Classify(stagePersist, err)
		msg := domain.TruncateError(redact.String(se.Error()), o.maxErrorLength)
		log.WarnContext(ctx, "pipeline failed",
			"stage", se.Stage,
			"kind", string(se.Kind),
			"error", msg,
			"elapsed_ms", time.Since(start).Milliseconds())
		return Outcome{Err: se, Message: msg}
	}

	log.InfoContext(ctx, "pipeline completed",
		"output_refs", refs,
		"elapsed_ms", time.Since(start).Milliseconds())
	return Outcome{OutputRefs: refs}
}

func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, jobID uuid.UUID, inputRef string) ([]string, error) {
	input := o.fetch(ctx, inputRef)
	if !input.OK() {
		return nil, input.Err
	}

	tr := o.transcribe(ctx, log, inputRef, input.Value)
	if !tr.OK() {
		return nil, tr.Err
	}

	transcriptJSON, err := json.Marshal(tr.Value)
	if err != nil {
		return nil, stage.New(stage.KindMalformedResponse, transcribe.StageName, "encode transcript", err)
	}
	transcriptKey, err := o.persist(ctx, jobID, TranscriptName, transcriptJSON, "application/json")
	if err != nil {
		return nil, err
	}

	summary := o.summarize(ctx, tr.Value.Text)
	if !summary.OK() {
		return nil, summary.Err
	}
	markdown := render.BuildMarkdown(summary.Value)
	if _, err := o.persist(ctx, jobID, SummaryName, []byte(markdown), "text/markdown; charset=utf-8"); err != nil {
		return nil, err
	}

	pdf := o.render(ctx, markdown, path.Base(inputRef))
	if !pdf.OK() {
		return nil, pdf.Err
	}
	documentKey, err := o.persist(ctx, jobID, DocumentName, pdf.Value, "application/pdf")
	if err != nil {
		return nil, err
	}

	return []string{transcriptKey, documentKey}, nil
}

func (o *Orchestrator) fetch(ctx context.Context, inputRef string) stage.Result[[]byte] {
	if err := store.ValidateKey(inputRef); err != nil {
		return stage.Result[[]byte]{Err: stage.New(stage.KindNotFound, stageFetch, err.Error(), err)}
	}
	data, err := o.objects.Get(ctx, inputRef)
	switch {
	case errors.Is(err, store.ErrObjectNotFound):
		return stage.Result[[]byte]{Err: stage.New(stage.KindNotFound, stageFetch,
			fmt.Sprintf("input %s does not exist", inputRef), err)}
	case err != nil:
		return stage.Result[[]byte]{Err: stage.CallFailed(ctx, stageFetch, err)}
	}
	return stage.Ok(data)
}

func (o *Orchestrator) transcribe(ctx context.Context, log *slog.Logger, inputRef string, data []byte) stage.Result[*transcribe.Transcript] {
	if transcribe.IsPlainText(inputRef, data) {
		log.DebugContext(ctx, "text input, skipping recognition", "bytes", len(data))
		return stage.Ok(transcribe.FromText(string(data)))
	}

	var tr *transcribe.Transcript
	err := o.stages.Do(ctx, func(s *Stages) error {
		var err error
		tr, err = s.Transcriber.Transcribe(ctx, path.Base(inputRef), data)
		return err
	})
	return stage.From(transcribe.StageName, tr, err)
}

func (o *Orchestrator) summarize(ctx context.Context, text string) stage.Result[string] {
	var out string
	err := o.stages.Do(ctx, func(s *Stages) error {
		var err error
		out, err = s.Summarizer.Summarize(ctx, text)
		return err
	})
	return stage.From(summarize.StageName, out, err)
}

func (o *Orchestrator) render(ctx context.Context, summary, title string) stage.Result[[]byte] {
	var pdf []byte
	err := o.stages.Do(ctx, func(s *Stages) error {
		var err error
		pdf, err = s.Renderer.Render(ctx, summary, title)
		return err
	})
	return stage.From(render.StageName, pdf, err)
}

func (o *Orchestrator) persist(ctx context.Context, jobID uuid.UUID, name string, data []byte, contentType string) (string, error) {
	key, err := o.objects.Put(ctx, store.JobKey(jobID, name), data, contentType)
	if err != nil {
		return "", stage.CallFailed(ctx, stagePersist, fmt.Errorf("store %s: %w", name, err))
	}
	return key, nil
}
