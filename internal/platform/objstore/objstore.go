// Package objstore implements store.ObjectStore on S3-compatible storage
// (MinIO in development, any S3 endpoint in production) using minio-go.
package objstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/phrazzld/scribe/internal/config"
	"github.com/phrazzld/scribe/internal/store"
)

// Store is an S3-backed object store scoped to one bucket.
type Store struct {
	client *minio.Client
	bucket string
	region string
	logger *slog.Logger
}

// Compile-time check that Store implements store.ObjectStore.
var _ store.ObjectStore = (*Store)(nil)

// Option adjusts the minio client options.
type Option func(*minio.Options)

// WithMaxRetries bounds how often the client retries a failed request.
func WithMaxRetries(n int) Option {
	return func(o *minio.Options) { o.MaxRetries = n }
}

// New creates a Store for cfg. It does not contact the endpoint; call
// EnsureBucket at startup to verify connectivity.
func New(cfg config.StorageConfig, logger *slog.Logger, opts ...Option) (*Store, error) {
	options := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	}
	for _, opt := range opts {
		opt(options)
	}

	client, err := minio.New(cfg.Endpoint, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	return &Store{
		client: client,
		bucket: cfg.Bucket,
		region: cfg.Region,
		logger: logger.With("component", "objstore", "bucket", cfg.Bucket),
	}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return s.mapError("bucket_exists", s.bucket, err)
	}
	if exists {
		return nil
	}

	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "BucketAlreadyOwnedByYou" || resp.Code == "BucketAlreadyExists" {
			return nil
		}
		return s.mapError("make_bucket", s.bucket, err)
	}

	s.logger.Info("bucket created")
	return nil
}

// Put stores data under key.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	return s.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

// Upload streams size bytes from r under key.
func (s *Store) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error) {
	if err := store.ValidateKey(key); err != nil {
		return "", err
	}

	start := time.Now()
	info, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", s.mapError("put", key, err)
	}

	s.logger.Debug("object stored",
		"key", key,
		"size", info.Size,
		"elapsed_ms", time.Since(start).Milliseconds())
	return key, nil
}

// Get reads the full object stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapError("get", key, err)
	}
	defer func() { _ = obj.Close() }()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapError("get", key, err)
	}
	return data, nil
}

// Stat checks that key exists without reading it.
func (s *Store) Stat(ctx context.Context, key string) error {
	if _, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{}); err != nil {
		return s.mapError("stat", key, err)
	}
	return nil
}

// Presign returns a GET URL for key valid for ttl. The URL is signed
// locally, so a missing key still yields a URL; use Stat to check.
func (s *Store) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, url.Values{})
	if err != nil {
		return "", s.mapError("presign", key, err)
	}
	return u.String(), nil
}

// mapError separates missing objects from transport and service failures.
func (s *Store) mapError(op, key string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return store.NewStoreError("object", op, key, fmt.Errorf("%w: %v", store.ErrUnavailable, err))
	}

	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchKey" || resp.Code == "NoSuchBucket" ||
		(resp.StatusCode == http.StatusNotFound && resp.Code != ""):
		return store.NewStoreError("object", op, key, store.ErrObjectNotFound)
	case resp.Code == "InvalidArgument" || resp.Code == "XMinioInvalidObjectName":
		return store.NewStoreError("object", op, key, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err))
	}

	s.logger.Warn("object store request failed", "op", op, "key", key, "error", err)
	return store.NewStoreError("object", op, key, fmt.Errorf("%w: %v", store.ErrUnavailable, err))
}
