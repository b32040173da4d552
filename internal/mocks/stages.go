package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/scribe/internal/pipeline"
	"github.com/phrazzld/scribe/internal/stage/transcribe"
)

// Compile-time checks that the stage mocks satisfy the pipeline interfaces.
var (
	_ pipeline.Transcriber = (*MockTranscriber)(nil)
	_ pipeline.Summarizer  = (*MockSummarizer)(nil)
	_ pipeline.Renderer    = (*MockRenderer)(nil)
)

// MockTranscriber implements pipeline.Transcriber.
type MockTranscriber struct {
	TranscribeFn func(ctx context.Context, filename string, audio []byte) (*transcribe.Transcript, error)

	mu        sync.Mutex
	Filenames []string
}

// Transcribe records the call and delegates to TranscribeFn. The default
// transcript has one segment reading "transcribed <filename>".
func (m *MockTranscriber) Transcribe(ctx context.Context, filename string, audio []byte) (*transcribe.Transcript, error) {
	m.mu.Lock()
	m.Filenames = append(m.Filenames, filename)
	m.mu.Unlock()

	if m.TranscribeFn != nil {
		return m.TranscribeFn(ctx, filename, audio)
	}
	return transcribe.FromText("transcribed " + filename), nil
}

// Calls returns the number of Transcribe calls.
func (m *MockTranscriber) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Filenames)
}

// MockSummarizer implements pipeline.Summarizer.
type MockSummarizer struct {
	SummarizeFn func(ctx context.Context, text string) (string, error)

	mu    sync.Mutex
	Texts []string
}

// Summarize records the call and delegates to SummarizeFn. The default
// summary is a heading followed by the text length.
func (m *MockSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	m.mu.Lock()
	m.Texts = append(m.Texts, text)
	m.mu.Unlock()

	if m.SummarizeFn != nil {
		return m.SummarizeFn(ctx, text)
	}
	return "# Summary\n\nNotes for the lecture.\n", nil
}

// Calls returns the number of Summarize calls.
func (m *MockSummarizer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Texts)
}

// MockRenderer implements pipeline.Renderer.
type MockRenderer struct {
	RenderFn func(ctx context.Context, markdown, title string) ([]byte, error)

	mu        sync.Mutex
	Markdowns []string
}

// Render records the call and delegates to RenderFn. The default output
// is a minimal PDF header.
func (m *MockRenderer) Render(ctx context.Context, markdown, title string) ([]byte, error) {
	m.mu.Lock()
	m.Markdowns = append(m.Markdowns, markdown)
	m.mu.Unlock()

	if m.RenderFn != nil {
		return m.RenderFn(ctx, markdown, title)
	}
	return []byte("%PDF-1.7\n%mock\n"), nil
}

// Calls returns the number of Render calls.
func (m *MockRenderer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Markdowns)
}

// NewStages returns pipeline stages built from the given mocks.
func NewStages(t *MockTranscriber, s *MockSummarizer, r *MockRenderer) *pipeline.Stages {
	return &pipeline.Stages{Transcriber: t, Summarizer: s, Renderer: r}
}
