package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/scribe/internal/stage"
	"google.golang.org/genai"
)

// stageName is the stage this backend reports errors for.
const stageName = "summarize"

// Config contains the settings of the Gemini backend.
type Config struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	// BaseURL overrides the API endpoint. Empty uses the public endpoint.
	BaseURL string
}

// Backend implements the summarize backend contract using Gemini.
type Backend struct {
	// client is the genai API client
	client *genai.Client

	// config holds model and generation settings
	config Config

	// logger is used for structured logging
	logger *slog.Logger
}

// New creates a Gemini backend.
//
// Parameters:
//   - ctx: Context for client construction
//   - cfg: API key, model and generation settings
//   - httpClient: Optional HTTP client; nil uses the library default
//   - logger: A structured logger for operation logging
//
// Returns:
//   - A ready Backend, or a configuration error if the API key or model is
//     missing. No request is made in that case.
func New(ctx context.Context, cfg Config, httpClient *http.Client, logger *slog.Logger) (*Backend, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, stage.Configuration(stageName, "gemini backend requires an API key")
	}
	if cfg.Model == "" {
		return nil, stage.Configuration(stageName, "gemini model name cannot be empty")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 180 * time.Second
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpClient,
	}
	if cfg.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, stage.New(stage.KindConfiguration, stageName,
			fmt.Sprintf("failed to create gemini client: %v", err), err)
	}

	return &Backend{
		client: client,
		config: cfg,
		logger: logger.With("stage", stageName, "backend", "gemini", "model", cfg.Model),
	}, nil
}

// Name returns the backend name.
func (b *Backend) Name() string {
	return "gemini"
}

// Complete generates a reply to user under the system instruction.
//
// Parameters:
//   - ctx: Job context; its cancellation aborts the call
//   - system: The system instruction
//   - user: The user prompt
//
// Returns:
//   - The concatenated text of the first candidate
//   - A stage error classified as transport or malformed response
func (b *Backend) Complete(ctx context.Context, system, user string) (string, error) {
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	temperature := b.config.Temperature
	resp, err := b.client.Models.GenerateContent(callCtx, b.config.Model, genai.Text(user), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       &temperature,
		MaxOutputTokens:   int32(b.config.MaxTokens),
	})
	if err != nil {
		b.logger.ErrorContext(ctx, "Gemini API call failed",
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return "", stage.CallFailed(ctx, stageName, err)
	}

	switch {
	case resp == nil || len(resp.Candidates) == 0:
		return "", stage.Malformed(stageName, "gemini returned no candidates", nil)
	case resp.Candidates[0].FinishReason == genai.FinishReasonSafety:
		return "", stage.Malformed(stageName, "gemini blocked the content by safety filters", nil)
	case resp.Candidates[0].Content == nil:
		return "", stage.Malformed(stageName, "gemini returned an empty candidate", nil)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", stage.Malformed(stageName, "gemini returned no text", nil)
	}

	b.logger.DebugContext(ctx, "Gemini API call successful",
		"chars", len(text),
		"elapsed_ms", time.Since(start).Milliseconds())
	return text, nil
}
