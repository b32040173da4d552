package objstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/scribe/internal/config"
	"github.com/phrazzld/scribe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is a minimal path-style S3 endpoint holding objects in memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	buckets map[string]bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
		buckets: make(map[string]bool),
	}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	bucket := parts[0]
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}

	if key == "" {
		switch r.Method {
		case http.MethodHead:
			if !f.buckets[bucket] {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			f.buckets[bucket] = true
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		f.types[key] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		body, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message><Key>%s</Key><BucketName>%s</BucketName></Error>`, key, bucket)
			}
			return
		}
		w.Header().Set("Content-Type", f.types[key])
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(body)
		}
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newAnonymousStore targets the fake endpoint without credentials so request
// bodies are sent unsigned and unchunked.
func newAnonymousStore(t *testing.T, fake *fakeS3) *Store {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := New(config.StorageConfig{
		Endpoint: strings.TrimPrefix(srv.URL, "http://"),
		Bucket:   "writers",
		Region:   "us-east-1",
	}, discardLogger(), WithMaxRetries(1))
	require.NoError(t, err)
	return s
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	t.Parallel()

	fake := newFakeS3()
	s := newAnonymousStore(t, fake)
	ctx := context.Background()

	require.NoError(t, s.EnsureBucket(ctx))
	assert.True(t, fake.buckets["writers"])
	require.NoError(t, s.EnsureBucket(ctx), "existing bucket is fine")

	key, err := s.Put(ctx, "jobs/abc/transcript.json", []byte(`{"text":"hi"}`), "application/json")
	require.NoError(t, err)
	assert.Equal(t, "jobs/abc/transcript.json", key)
	assert.Equal(t, "application/json", fake.types[key])

	data, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"hi"}`, string(data))
}

func TestStore_GetMissingIsNotFound(t *testing.T) {
	t.Parallel()

	s := newAnonymousStore(t, newFakeS3())

	_, err := s.Get(context.Background(), "jobs/abc/missing.pdf")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrObjectNotFound)
	assert.NotErrorIs(t, err, store.ErrUnavailable)
}

func TestStore_Stat(t *testing.T) {
	t.Parallel()

	s := newAnonymousStore(t, newFakeS3())
	ctx := context.Background()

	_, err := s.Put(ctx, "jobs/abc/document.pdf", []byte("%PDF-1.7"), "application/pdf")
	require.NoError(t, err)

	assert.NoError(t, s.Stat(ctx, "jobs/abc/document.pdf"))
	err = s.Stat(ctx, "jobs/abc/missing.pdf")
	assert.ErrorIs(t, err, store.ErrObjectNotFound)
	assert.NotErrorIs(t, err, store.ErrUnavailable)
}

func TestStore_TransportFailureIsUnavailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	s, err := New(config.StorageConfig{Endpoint: endpoint, Bucket: "writers", Region: "us-east-1"},
		discardLogger(), WithMaxRetries(1))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err = s.Put(ctx, "jobs/abc/x.txt", []byte("x"), "text/plain")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUnavailable)
	assert.NotErrorIs(t, err, store.ErrObjectNotFound)
}

func TestStore_RejectsBadKeys(t *testing.T) {
	t.Parallel()

	s := newAnonymousStore(t, newFakeS3())
	_, err := s.Put(context.Background(), "../etc/passwd", []byte("x"), "text/plain")
	assert.ErrorIs(t, err, store.ErrInvalidEntity)
}

func TestStore_Presign(t *testing.T) {
	t.Parallel()

	s, err := New(config.StorageConfig{
		Endpoint:  "minio.local:9000",
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "writers",
		Region:    "us-east-1",
	}, discardLogger())
	require.NoError(t, err)

	u, err := s.Presign(context.Background(), "jobs/abc/document.pdf", time.Hour)
	require.NoError(t, err)
	assert.Contains(t, u, "http://minio.local:9000/writers/jobs/abc/document.pdf?")
	assert.Contains(t, u, "X-Amz-Expires=3600")
	assert.Contains(t, u, "X-Amz-Signature=")
}
