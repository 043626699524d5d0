package backup

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// GCSReplicator uploads finished archives to a Google Cloud Storage
// bucket for off-box retention. Authentication uses Application
// Default Credentials.
type GCSReplicator struct {
	client *storage.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// NewGCSReplicator creates the client and fails fast if the bucket is
// not reachable.
func NewGCSReplicator(ctx context.Context, bucket, prefix string, logger *zap.Logger) (*GCSReplicator, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("close gcs client after attrs failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("check gcs bucket %q: %w", bucket, err)
	}
	return &GCSReplicator{client: client, bucket: bucket, prefix: prefix, logger: logger}, nil
}

// Replicate streams the archive into the bucket.
func (g *GCSReplicator) Replicate(ctx context.Context, name string, src io.Reader) error {
	object := name
	if g.prefix != "" {
		object = g.prefix + "/" + name
	}
	wc := g.client.Bucket(g.bucket).Object(object).NewWriter(ctx)
	wc.ContentType = "application/zip"
	if _, err := io.Copy(wc, src); err != nil {
		if closeErr := wc.Close(); closeErr != nil {
			g.logger.Warn("close gcs writer after copy failure", zap.Error(closeErr))
		}
		return fmt.Errorf("write gcs object %s: %w", object, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("finalize gcs object %s: %w", object, err)
	}
	return nil
}

// Close releases the underlying client.
func (g *GCSReplicator) Close() error {
	if err := g.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}
