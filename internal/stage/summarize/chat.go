package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/scribe/internal/stage"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// chatResponseSchema is the part of a chat completions response we rely on.
const chatResponseSchema = `{
  "type": "object",
  "required": ["choices"],
  "properties": {
    "choices": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["message"],
        "properties": {
          "message": {
            "type": "object",
            "required": ["content"],
            "properties": {"content": {"type": "string"}}
          }
        }
      }
    }
  }
}`

// ChatConfig configures an OpenAI compatible chat completions endpoint.
type ChatConfig struct {
	Name        string
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// ChatClient calls /chat/completions. It serves both the self-hosted
// inference server and the hosted API.
type ChatClient struct {
	cfg    ChatConfig
	http   *http.Client
	schema *jsonschema.Schema
	logger *slog.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// NewChatClient validates cfg and compiles the response schema.
func NewChatClient(cfg ChatConfig, httpClient *http.Client, logger *slog.Logger) (*ChatClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, stage.Configuration(StageName, cfg.Name+": base url is not set")
	}
	if cfg.Model == "" {
		return nil, stage.Configuration(StageName, cfg.Name+": model is not set")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("chat.json", strings.NewReader(chatResponseSchema)); err != nil {
		return nil, fmt.Errorf("add chat schema: %w", err)
	}
	schema, err := compiler.Compile("chat.json")
	if err != nil {
		return nil, fmt.Errorf("compile chat schema: %w", err)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &ChatClient{
		cfg:    cfg,
		http:   httpClient,
		schema: schema,
		logger: logger.With("stage", StageName, "backend", cfg.Name),
	}, nil
}

// Name returns the backend name.
func (c *ChatClient) Name() string {
	return c.cfg.Name
}

// Complete sends one system and one user message and returns the reply.
func (c *ChatClient) Complete(ctx context.Context, system, user string) (string, error) {
	start := time.Now()

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", stage.Configuration(StageName, fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "chat completion call failed",
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return "", stage.CallFailed(ctx, StageName, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("response body close error", "error", cerr)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", stage.CallFailed(ctx, StageName, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode/100 != 2 {
		return "", stage.Transport(StageName,
			fmt.Errorf("%s status %d: %s", c.cfg.Name, resp.StatusCode, stage.Snippet(raw, 500)))
	}

	content, err := c.decode(raw)
	if err != nil {
		return "", err
	}

	c.logger.DebugContext(ctx, "chat completion received",
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds())
	return content, nil
}

func (c *ChatClient) decode(raw []byte) (string, error) {
	malformed := func(cause error) error {
		return stage.Malformed(StageName,
			fmt.Sprintf("%s response: %s", c.cfg.Name, stage.Snippet(raw, 500)), cause)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", malformed(err)
	}
	if err := c.schema.Validate(doc); err != nil {
		return "", malformed(err)
	}

	var out chatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", malformed(err)
	}
	return out.Choices[0].Message.Content, nil
}
