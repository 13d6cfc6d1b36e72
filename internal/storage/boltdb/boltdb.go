// Package boltdb opens the single bbolt file that holds pages, postings, links and the crawl queue.
package boltdb

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Top-level buckets.
var (
	BucketPages      = []byte("pages")
	BucketPostings   = []byte("postings")
	BucketDocTerms   = []byte("doc_terms")
	BucketImages     = []byte("images")
	BucketImageTerms = []byte("image_terms")
	BucketDomains    = []byte("domains")
	BucketScores     = []byte("scores")
	BucketLinks      = []byte("links")
	BucketInbound    = []byte("links_inbound")
	BucketTasks      = []byte("tasks")
	BucketMeta       = []byte("meta")
)

var allBuckets = [][]byte{
	BucketPages, BucketPostings, BucketDocTerms, BucketImages, BucketImageTerms,
	BucketDomains, BucketScores, BucketLinks, BucketInbound, BucketTasks, BucketMeta,
}

// Sep joins the parts of composite keys. URLs and terms never contain it.
const Sep = "\x00"

// DB wraps the bbolt handle shared by the index, link graph and scheduler.
type DB struct {
	db *bolt.DB
}

// Open creates the directory, opens the file and makes sure every bucket exists.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

// Bolt exposes the raw handle.
func (d *DB) Bolt() *bolt.DB {
	return d.db
}

// Path returns the file backing the store.
func (d *DB) Path() string {
	return d.db.Path()
}

// Close closes the store.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close bolt store: %w", err)
	}
	return nil
}

// Key joins parts with Sep.
func Key(parts ...string) []byte {
	n := len(parts) - 1
	for _, p := range parts {
		n += len(p)
	}
	out := make([]byte, 0, n)
	for i, p := range parts {
		if i > 0 {
			out = append(out, Sep...)
		}
		out = append(out, p...)
	}
	return out
}

// Prefix returns parts joined with Sep plus a trailing Sep, for cursor scans.
func Prefix(parts ...string) []byte {
	return append(Key(parts...), Sep...)
}

// PutJSON encodes v into bucket b under key.
func PutJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := b.Put(key, data); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// GetJSON decodes the value stored under key into v and reports whether it existed.
func GetJSON(b *bolt.Bucket, key []byte, v any) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return true, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// Uint64 encodes n big-endian so keys sort numerically.
func Uint64(n uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, n)
	return b
}

// ReadUint64 decodes a value written by Uint64. Short input decodes as zero.
func ReadUint64(b []byte) uint64 {
	if len(b) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(b)
}
