package summarize

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/phrazzld/scribe/internal/stage"
)

const (
	// DefaultTimeout bounds one backend call.
	DefaultTimeout = 180 * time.Second
	// DefaultTemperature keeps the notes close to the transcript.
	DefaultTemperature float32 = 0.2
	// DefaultMaxTokens bounds one backend reply.
	DefaultMaxTokens = 2048
)

// SystemPrompt instructs the model on the structure of the notes.
const SystemPrompt = `You are an expert assistant that turns lecture transcripts into study notes.
Write the notes in the language of the transcript. Keep technical terms in their original form in parentheses.
Structure the output as Markdown:
- A title for the session
- Sections, each with a summary, key points, and common exam pitfalls
- At the end, 3 to 10 multiple-choice questions with the answer key and the reasoning behind each answer
- A short, linear "night before the exam" recap`

var userPrompt = template.Must(template.New("summarize").Parse(
	`Convert the following text into the requested format{{if gt .Total 1}} (part {{.Part}} of {{.Total}}){{end}}:
{{.Text}}`))

type promptData struct {
	Text  string
	Part  int
	Total int
}

// Summarizer produces Markdown notes from a transcript, one backend call
// per chunk.
type Summarizer struct {
	backend  Backend
	maxChars int
	logger   *slog.Logger
}

// NewSummarizer creates a Summarizer. maxChars bounds each chunk.
func NewSummarizer(backend Backend, maxChars int, logger *slog.Logger) *Summarizer {
	if maxChars <= 0 {
		maxChars = DefaultChunkMaxChars
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		backend:  backend,
		maxChars: maxChars,
		logger:   logger.With("stage", StageName, "backend", backend.Name()),
	}
}

// Summarize summarizes each chunk of text in order and joins the parts
// with a blank line.
func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	chunks := Chunk(text, s.maxChars)
	if len(chunks) == 0 {
		return "", stage.Malformed(StageName, "transcript is empty", nil)
	}

	parts := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return "", stage.Classify(StageName, err)
		}

		var prompt bytes.Buffer
		if err := userPrompt.Execute(&prompt, promptData{Text: chunk, Part: i + 1, Total: len(chunks)}); err != nil {
			return "", fmt.Errorf("failed to execute prompt template: %w", err)
		}

		start := time.Now()
		out, err := s.backend.Complete(ctx, SystemPrompt, prompt.String())
		if err != nil {
			s.logger.WarnContext(ctx, "chunk summarization failed",
				"chunk", i+1,
				"chunks", len(chunks),
				"error", err)
			return "", stage.Classify(StageName, err)
		}
		s.logger.DebugContext(ctx, "chunk summarized",
			"chunk", i+1,
			"chunks", len(chunks),
			"elapsed_ms", time.Since(start).Milliseconds())

		parts = append(parts, strings.TrimSpace(out))
	}

	return strings.Join(parts, "\n\n"), nil
}
