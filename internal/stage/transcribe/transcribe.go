// Package transcribe turns an input artifact into a transcript by calling
// the speech recognition service. Text inputs bypass the service.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/phrazzld/scribe/internal/stage"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// StageName identifies this stage in errors and logs.
const StageName = "transcribe"

// DefaultTimeout bounds one recognition call.
const DefaultTimeout = 600 * time.Second

// responseSchema is the contract of the recognition service response.
const responseSchema = `{
  "type": "object",
  "required": ["segments"],
  "properties": {
    "language": {"type": ["string", "null"]},
    "duration": {"type": ["number", "null"]},
    "segments": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["text"],
        "properties": {
          "start": {"type": "number"},
          "end": {"type": "number"},
          "text": {"type": "string"}
        }
      }
    }
  }
}`

// Segment is one recognized span of speech.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is the output of the stage and the content of transcript.json.
type Transcript struct {
	Language string    `json:"language,omitempty"`
	Duration float64   `json:"duration,omitempty"`
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
}

// FromText wraps plain text as a single-segment transcript.
func FromText(text string) *Transcript {
	text = strings.TrimSpace(text)
	return &Transcript{
		Text:     text,
		Segments: []Segment{{Text: text}},
	}
}

// IsPlainText reports whether an input should skip recognition, judged by
// its key extension and then by sniffing its content.
func IsPlainText(key string, data []byte) bool {
	switch strings.ToLower(path.Ext(key)) {
	case ".txt", ".md", ".markdown":
		return true
	case ".m4a", ".mp3", ".mp4", ".wav", ".ogg", ".flac", ".webm":
		return false
	}
	return strings.HasPrefix(http.DetectContentType(data), "text/")
}

// Config holds the recognition service settings.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Client calls the recognition service.
type Client struct {
	url     string
	timeout time.Duration
	http    *http.Client
	schema  *jsonschema.Schema
	logger  *slog.Logger
}

// NewClient validates cfg and compiles the response schema.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, stage.Configuration(StageName, "recognition service url is not set")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("transcript.json", strings.NewReader(responseSchema)); err != nil {
		return nil, fmt.Errorf("add transcript schema: %w", err)
	}
	schema, err := compiler.Compile("transcript.json")
	if err != nil {
		return nil, fmt.Errorf("compile transcript schema: %w", err)
	}

	return &Client{
		url:     strings.TrimRight(cfg.URL, "/") + "/transcribe",
		timeout: cfg.Timeout,
		http:    httpClient,
		schema:  schema,
		logger:  logger.With("stage", StageName),
	}, nil
}

// Transcribe uploads audio as the multipart field "file" and returns the
// recognized transcript.
func (c *Client) Transcribe(ctx context.Context, filename string, audio []byte) (*Transcript, error) {
	start := time.Now()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", path.Base("/"+filename))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.url, &body)
	if err != nil {
		return nil, stage.Configuration(StageName, fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	c.logger.InfoContext(ctx, "sending audio for recognition",
		"bytes", len(audio),
		"filename", filename)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "recognition call failed",
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, stage.CallFailed(ctx, StageName, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("response body close error", "error", cerr)
		}
	}()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, stage.CallFailed(ctx, StageName, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode/100 != 2 {
		return nil, stage.Transport(StageName,
			fmt.Errorf("status %d: %s", resp.StatusCode, stage.Snippet(raw, 500)))
	}

	t, err := c.decode(raw)
	if err != nil {
		return nil, err
	}

	c.logger.InfoContext(ctx, "recognition completed",
		"segments", len(t.Segments),
		"language", t.Language,
		"elapsed_ms", time.Since(start).Milliseconds())
	return t, nil
}

func (c *Client) decode(raw []byte) (*Transcript, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, stage.Malformed(StageName,
			fmt.Sprintf("response is not json: %s", stage.Snippet(raw, 500)), err)
	}
	if err := c.schema.Validate(doc); err != nil {
		return nil, stage.Malformed(StageName,
			fmt.Sprintf("response does not match schema: %v", err), err)
	}

	var t Transcript
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, stage.Malformed(StageName, err.Error(), err)
	}

	texts := make([]string, 0, len(t.Segments))
	for _, s := range t.Segments {
		texts = append(texts, strings.TrimSpace(s.Text))
	}
	t.Text = strings.Join(texts, "\n")
	return &t, nil
}
