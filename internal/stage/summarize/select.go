package summarize

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/phrazzld/scribe/internal/config"
	"github.com/phrazzld/scribe/internal/platform/gemini"
	"github.com/phrazzld/scribe/internal/stage"
)

// Backend names accepted in configuration.
const (
	BackendLocal  = "local"
	BackendOpenAI = "openai"
	BackendGemini = "gemini"
)

// NewBackend builds the backend named by cfg.Backend. The choice depends on
// cfg alone. Hosted backends without a credential fail with a configuration
// error before any request is made.
func NewBackend(ctx context.Context, cfg config.SummarizerConfig, httpClient *http.Client, logger *slog.Logger) (Backend, error) {
	var (
		b   Backend
		err error
	)

	switch cfg.Backend {
	case BackendLocal:
		local, err := NewChatClient(ChatConfig{
			Name:        BackendLocal,
			BaseURL:     cfg.LocalURL,
			Model:       cfg.LocalModel,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		}, httpClient, logger)
		if err != nil {
			return nil, err
		}
		// Only hosted backends are rate limited.
		return local, nil
	case BackendOpenAI:
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, stage.Configuration(StageName, "openai backend requires an API key")
		}
		b, err = NewChatClient(ChatConfig{
			Name:        BackendOpenAI,
			BaseURL:     cfg.OpenAIURL,
			APIKey:      cfg.OpenAIAPIKey,
			Model:       cfg.OpenAIModel,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		}, httpClient, logger)
	case BackendGemini:
		b, err = gemini.New(ctx, gemini.Config{
			APIKey:      cfg.GeminiAPIKey,
			Model:       cfg.GeminiModel,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
			Timeout:     cfg.Timeout,
		}, httpClient, logger)
	default:
		return nil, stage.Configuration(StageName, "unknown backend "+cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	return RateLimited(b, cfg.RequestsPerSecond), nil
}
