package publish

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/roach88/rotd/internal/fsx"
	"github.com/roach88/rotd/internal/manifest"
)

// ObjectSink creates object writers in one bucket.
type ObjectSink interface {
	NewWriter(ctx context.Context, name string) io.WriteCloser
}

type bucketSink struct {
	bucket *storage.BucketHandle
}

func (s bucketSink) NewWriter(ctx context.Context, name string) io.WriteCloser {
	w := s.bucket.Object(name).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.CacheControl = "no-cache, no-store, must-revalidate"
	return w
}

// GCS uploads the rotated tree under <Prefix>/rot-<timestamp>/.
type GCS struct {
	Bucket string
	Prefix string
	Sink   ObjectSink
	Logger *slog.Logger

	client *storage.Client
}

// NewGCS connects to Cloud Storage. An empty credentialsFile uses
// application default credentials.
func NewGCS(ctx context.Context, bucket, prefix, credentialsFile string) (*GCS, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at path: %s: %w", credentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCS{
		Bucket: bucket,
		Prefix: prefix,
		Sink:   bucketSink{bucket: client.Bucket(bucket)},
		client: client,
	}, nil
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *GCS) Name() string { return "gcs" }

// ObjectPrefix returns the object name prefix used for m.
func (g *GCS) ObjectPrefix(m *manifest.Manifest) string {
	return path.Join(g.Prefix, fmt.Sprintf("rot-%d", m.Timestamp))
}

func (g *GCS) Publish(ctx context.Context, tree string, m *manifest.Manifest) error {
	logger := g.Logger
	if logger == nil {
		logger = slog.Default()
	}

	files, err := fsx.Walk(tree, nil)
	if err != nil {
		return fmt.Errorf("walk %s: %w", tree, err)
	}

	prefix := g.ObjectPrefix(m)
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := path.Join(prefix, rel)
		if err := g.upload(ctx, filepath.Join(tree, filepath.FromSlash(rel)), name); err != nil {
			return err
		}
	}

	logger.Info("gcs: published rotation", "bucket", g.Bucket, "prefix", prefix, "objects", len(files))
	return nil
}

func (g *GCS) upload(ctx context.Context, local, name string) error {
	f, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("failed to open the local file: %s: %w", local, err)
	}
	defer f.Close()

	w := g.Sink.NewWriter(ctx, name)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to copy %s to object %s: %w", local, name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close writer for %s: %w", name, err)
	}
	return nil
}
