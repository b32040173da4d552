package memory

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/phrazzld/scribe/internal/store"
)

type object struct {
	data        []byte
	contentType string
}

// ObjectStore keeps artifacts in a map. Presigned URLs point at BaseURL and
// are only meaningful to tests and local tooling.
type ObjectStore struct {
	mu      sync.RWMutex
	objects map[string]object
	baseURL string
}

// Compile-time check that ObjectStore implements store.ObjectStore.
var _ store.ObjectStore = (*ObjectStore)(nil)

// NewObjectStore creates an empty ObjectStore presigning under baseURL.
func NewObjectStore(baseURL string) *ObjectStore {
	return &ObjectStore{objects: make(map[string]object), baseURL: baseURL}
}

// Put stores a copy of data under key.
func (s *ObjectStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := store.ValidateKey(key); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = object{data: append([]byte(nil), data...), contentType: contentType}
	return key, nil
}

// Upload reads r fully and stores it under key.
func (s *ObjectStore) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: read upload: %v", store.ErrUnavailable, err)
	}
	if size >= 0 && int64(len(data)) != size {
		return "", fmt.Errorf("%w: expected %d bytes, read %d", store.ErrInvalidEntity, size, len(data))
	}
	return s.Put(ctx, key, data, contentType)
}

// Get returns a copy of the object stored under key.
func (s *ObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", store.ErrObjectNotFound, key)
	}
	return append([]byte(nil), obj.data...), nil
}

// Stat reports whether key exists.
func (s *ObjectStore) Stat(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.objects[key]; !ok {
		return fmt.Errorf("%w: %s", store.ErrObjectNotFound, key)
	}
	return nil
}

// Presign returns BaseURL/key with an expiry query parameter. Like an S3
// presign it succeeds whether or not key exists.
func (s *ObjectStore) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := store.ValidateKey(key); err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("expires", time.Now().Add(ttl).UTC().Format(time.RFC3339))
	return s.baseURL + "/" + key + "?" + q.Encode(), nil
}

// ContentType reports the stored content type of key.
func (s *ObjectStore) ContentType(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	return obj.contentType, ok
}

// Delete removes key. It lets tests simulate artifacts that expired behind a job.
func (s *ObjectStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
}

// Keys lists every stored key.
func (s *ObjectStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.objects))
	for k := range s.objects {
		keys = append(keys, k)
	}
	return keys
}
