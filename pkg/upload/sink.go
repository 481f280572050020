package upload

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/grovetools/meetbot/config"
	"github.com/grovetools/meetbot/pkg/paths"
	"github.com/grovetools/meetbot/util/pathutil"
)

// Sink stores finished artifacts under an object key.
type Sink interface {
	Name() string
	// Put stores the contents of r under key and returns where it landed.
	Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
}

// LocalSink copies artifacts into a directory tree.
type LocalSink struct {
	Dir string
}

// Name implements Sink.
func (s *LocalSink) Name() string { return "local" }

// Put implements Sink.
func (s *LocalSink) Put(_ context.Context, key string, r io.Reader, _ string) (string, error) {
	dest := filepath.Join(s.Dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", fmt.Errorf("failed to create destination directory: %w", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create destination file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return "", fmt.Errorf("failed to copy artifact: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close destination file: %w", err)
	}
	return dest, nil
}

// GCSSink writes artifacts to a Google Cloud Storage bucket.
type GCSSink struct {
	client *storage.Client
	bucket string
}

// NewGCSSink opens a storage client using application default credentials.
func NewGCSSink(ctx context.Context, bucket string) (*GCSSink, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSSink{client: client, bucket: bucket}, nil
}

// Name implements Sink.
func (s *GCSSink) Name() string { return "gcs" }

// Put implements Sink.
func (s *GCSSink) Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to write gs://%s/%s: %w", s.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finish gs://%s/%s: %w", s.bucket, key, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, key), nil
}

// Close releases the storage client.
func (s *GCSSink) Close() error {
	return s.client.Close()
}

// NewSink builds the recording sink selected by the storage configuration.
func NewSink(ctx context.Context, cfg config.StorageConfig) (Sink, error) {
	switch cfg.Backend {
	case "gcs":
		return NewGCSSink(ctx, cfg.Bucket)
	case "", "local":
		dir := cfg.LocalDir
		if dir == "" {
			dir = filepath.Join(paths.StateDir(), "recordings")
		}
		expanded, err := pathutil.Expand(dir)
		if err != nil {
			return nil, err
		}
		return &LocalSink{Dir: expanded}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
