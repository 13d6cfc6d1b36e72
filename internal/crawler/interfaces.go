package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL once and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// RobotsPolicy answers robots.txt questions for a URL or domain.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
	CrawlDelay(ctx context.Context, domain string) time.Duration
}

// BlobStore archives raw markup and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, uri string) ([]byte, error)
}

// FetchLog records fetch attempts for later inspection.
type FetchLog interface {
	RecordFetch(ctx context.Context, record FetchRecord) error
}

// Hasher computes digests for deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces row IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
