package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/phrazzld/scribe/internal/stage"
)

// StageName identifies this stage in errors and logs.
const StageName = "render"

// DefaultTimeout bounds one render call.
const DefaultTimeout = 120 * time.Second

const convertPath = "/forms/chromium/convert/html"

var pdfMagic = []byte("%PDF-")

// Config holds the render service settings.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Client prints HTML to PDF through the render service.
type Client struct {
	url     string
	timeout time.Duration
	http    *http.Client
	logger  *slog.Logger
}

// NewClient validates cfg.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, stage.Configuration(StageName, "render service url is not set")
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
	return &Client{
		url:     strings.TrimRight(cfg.URL, "/") + convertPath,
		timeout: cfg.Timeout,
		http:    httpClient,
		logger:  logger.With("stage", StageName),
	}, nil
}

// Render checks the Markdown for external resources, converts it and
// returns the PDF bytes.
func (c *Client) Render(ctx context.Context, markdown, title string) ([]byte, error) {
	if err := CheckResources(markdown); err != nil {
		return nil, stage.Malformed(StageName, err.Error(), err)
	}
	doc, err := ToHTML(markdown, title)
	if err != nil {
		return nil, stage.Malformed(StageName, err.Error(), err)
	}
	return c.print(ctx, doc)
}

func (c *Client) print(ctx context.Context, doc string) ([]byte, error) {
	start := time.Now()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("files", "index.html")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.WriteString(part, doc); err != nil {
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

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.ErrorContext(ctx, "render call failed",
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, stage.CallFailed(ctx, StageName, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("response body close error", "error", cerr)
		}
	}()

	pdf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, stage.CallFailed(ctx, StageName, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode/100 != 2 {
		return nil, stage.Transport(StageName,
			fmt.Errorf("status %d: %s", resp.StatusCode, stage.Snippet(pdf, 500)))
	}
	if !bytes.HasPrefix(pdf, pdfMagic) {
		return nil, stage.Malformed(StageName,
			fmt.Sprintf("response is not a pdf: %q", stage.Snippet(pdf, 64)), nil)
	}

	c.logger.InfoContext(ctx, "document rendered",
		"bytes", len(pdf),
		"elapsed_ms", time.Since(start).Milliseconds())
	return pdf, nil
}
