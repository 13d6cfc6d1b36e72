// Package storage selects the blob store that archives raw page markup.
// The archive is optional: the search index never reads from it, but reindex does.
package storage

import (
	"context"
	"fmt"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscout/internal/config"
	"github.com/JakeFAU/webscout/internal/crawler"
	"github.com/JakeFAU/webscout/internal/storage/gcs"
	"github.com/JakeFAU/webscout/internal/storage/local"
	"github.com/JakeFAU/webscout/internal/storage/memory"
)

// GCSClientFactory creates GCS clients. Tests substitute a client wired to a fake transport.
type GCSClientFactory interface {
	NewClient(ctx context.Context) (*gcstorage.Client, error)
}

// DefaultGCSClientFactory uses Application Default Credentials.
type DefaultGCSClientFactory struct{}

// NewClient creates a GCS client from the ambient credentials.
func (DefaultGCSClientFactory) NewClient(ctx context.Context) (*gcstorage.Client, error) {
	client, err := gcstorage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("new gcs client: %w", err)
	}
	return client, nil
}

// Archive is an opened blob store plus whatever must be released on shutdown.
type Archive struct {
	Store crawler.BlobStore
	close func() error
}

// Close releases the backing client, if any.
func (a *Archive) Close() error {
	if a == nil || a.close == nil {
		return nil
	}
	return a.close()
}

// OpenArchive builds the blob store named by cfg.Archive. "none" yields an Archive with a nil Store.
func OpenArchive(ctx context.Context, cfg config.StorageConfig, factory GCSClientFactory, logger *zap.Logger) (*Archive, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Archive {
	case "", "none":
		return &Archive{}, nil
	case "memory":
		return &Archive{Store: memory.NewBlobStore()}, nil
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("open local archive: %w", err)
		}
		return &Archive{Store: store}, nil
	case "gcs":
		return openGCS(ctx, cfg.GCSBucket, factory, logger)
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Archive)
	}
}

func openGCS(ctx context.Context, bucket string, factory GCSClientFactory, logger *zap.Logger) (*Archive, error) {
	if factory == nil {
		factory = DefaultGCSClientFactory{}
	}
	client, err := factory.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	// Fail fast on a missing bucket or bad credentials.
	if _, err := client.Bucket(bucket).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warn("Failed to close GCS client after bucket check failure", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("failed to get GCS bucket '%s' attributes: %w", bucket, err)
	}

	store, err := gcs.New(client, gcs.Config{Bucket: bucket})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("open gcs archive: %w", err)
	}
	return &Archive{Store: store, close: client.Close}, nil
}
