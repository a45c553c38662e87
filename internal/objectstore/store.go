// Package objectstore abstracts the bucket that holds prompts, recordings,
// transcripts and metadata. Backends: S3 (aws-sdk-go-v2), MinIO (minio-go)
// and an in-memory store for tests and local runs.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
)

// Store is the minimal object API the collector needs.
//
// Get returns an error wrapping common.ErrNotFound for a missing key. Other
// backend failures wrap common.ErrTransientStore.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	// List returns every key under prefix, recursively.
	List(ctx context.Context, prefix string) ([]string, error)
	Copy(ctx context.Context, src, dst string) error
	Delete(ctx context.Context, key string) error
}

// Content types used by the collector.
const (
	ContentTypeWAV  = "audio/wav"
	ContentTypeText = "text/plain; charset=utf-8"
	ContentTypeJSON = "application/json"
)

// Backend names accepted by Open.
const (
	BackendS3     = "s3"
	BackendMinio  = "minio"
	BackendMemory = "memory"
)

// Options selects and configures a backend.
type Options struct {
	Backend   string
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// Open builds the backend named in opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(opts.Backend) {
	case BackendS3:
		return NewS3Store(ctx, opts)
	case BackendMinio:
		return NewMinioStore(ctx, opts.Endpoint, opts.AccessKey, opts.SecretKey, opts.Bucket, opts.UseSSL)
	case BackendMemory, "":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown object store backend %q", opts.Backend)
	}
}

// PutBytes uploads data under key.
func PutBytes(ctx context.Context, s Store, key string, data []byte, contentType string) error {
	return s.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

// PutText uploads a UTF-8 text object.
func PutText(ctx context.Context, s Store, key, text string) error {
	return PutBytes(ctx, s, key, []byte(text), ContentTypeText)
}

// Count returns the number of objects under prefix, ignoring directory
// markers.
func Count(ctx context.Context, s Store, prefix string) (int, error) {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, k := range keys {
		if !strings.HasSuffix(k, "/") {
			n++
		}
	}
	return n, nil
}
