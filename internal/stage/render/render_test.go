package render

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/scribe/internal/stage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMarkdown(t *testing.T) {
	t.Parallel()

	tests := map[string]struct{ in, want string }{
		"adds newline":          {"# T", "# T\n"},
		"collapses trailing":    {"# T\n\n \t\n", "# T\n"},
		"keeps leading indent":  {"    code\n", "    code\n"},
		"empty becomes newline": {"", "\n"},
	}
	for name, tt := range tests {
		assert.Equal(t, tt.want, BuildMarkdown(tt.in), name)
	}
}

func TestCheckResources(t *testing.T) {
	t.Parallel()

	allowed := []string{
		"# Title\n\nplain text",
		"![dot](data:image/png;base64,iVBORw0KGgo=)",
		"[a link](https://example.com) is not fetched",
		"<img src=\"https://evil.example/x.png\">",
	}
	for _, src := range allowed {
		assert.NoError(t, CheckResources(src), src)
	}

	rejected := []string{
		"![x](https://evil.example/x.png)",
		"![x](file:///etc/passwd)",
		"text\n\n![x][ref]\n\n[ref]: http://internal.local/a.png",
		"![x](//cdn.example/x.png)",
	}
	for _, src := range rejected {
		assert.ErrorIs(t, CheckResources(src), ErrUnsafeResource, src)
	}
}

func TestToHTMLOmitsRawHTML(t *testing.T) {
	t.Parallel()

	doc, err := ToHTML("# Notes\n\n<script>alert(1)</script>\n\n<img src=\"http://x/y.png\">\n", "a <title>")

	require.NoError(t, err)
	assert.Contains(t, doc, "<h1>Notes</h1>")
	assert.Contains(t, doc, "<title>a &lt;title&gt;</title>")
	assert.NotContains(t, doc, "<script>")
	assert.NotContains(t, doc, "http://x/y.png")
	assert.Contains(t, doc, `<meta charset="utf-8">`)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, timeout time.Duration) (*Client, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{URL: srv.URL, Timeout: timeout}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return c, &hits
}

func TestRenderPostsHTML(t *testing.T) {
	t.Parallel()

	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/forms/chromium/convert/html", r.URL.Path)
		file, header, err := r.FormFile("files")
		if !assert.NoError(t, err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		html, _ := io.ReadAll(file)
		assert.Equal(t, "index.html", header.Filename)
		assert.Contains(t, string(html), "<h1>Summary</h1>")

		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7\n...binary..."))
	}, time.Second)

	pdf, err := c.Render(context.Background(), "# Summary\n", "job")

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(pdf), "%PDF-"))
	assert.Equal(t, int32(1), hits.Load())
}

func TestRenderRejectsExternalImageWithoutCall(t *testing.T) {
	t.Parallel()

	c, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.7"))
	}, time.Second)

	_, err := c.Render(context.Background(), "![x](http://169.254.169.254/latest)", "job")

	assert.ErrorIs(t, err, ErrUnsafeResource)
	assert.ErrorIs(t, err, stage.ErrMalformedResponse)
	assert.Equal(t, int32(0), hits.Load())
}

func TestRenderErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout time.Duration
		want    error
	}{
		{
			name:    "service error",
			handler: func(w http.ResponseWriter, r *http.Request) { http.Error(w, "chromium crashed", http.StatusServiceUnavailable) },
			want:    stage.ErrTransport,
		},
		{
			name:    "not a pdf",
			handler: func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("<html>error</html>")) },
			want:    stage.ErrMalformedResponse,
		},
		{
			name: "slow service",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(500 * time.Millisecond):
				case <-r.Context().Done():
				}
			},
			timeout: 30 * time.Millisecond,
			want:    stage.ErrTransport,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			timeout := tt.timeout
			if timeout == 0 {
				timeout = time.Second
			}
			c, _ := newTestClient(t, tt.handler, timeout)

			_, err := c.Render(context.Background(), "# ok\n", "job")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNewClientRequiresURL(t *testing.T) {
	t.Parallel()
	_, err := NewClient(Config{}, nil, nil)
	assert.ErrorIs(t, err, stage.ErrConfiguration)
}
