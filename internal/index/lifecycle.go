package index

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/JakeFAU/webscout/internal/crawler"
	"github.com/JakeFAU/webscout/internal/storage/boltdb"
)

// pageBatch is how many pages ForEachPage decodes per read transaction.
const pageBatch = 256

// Touch refreshes a page's crawl time after an unchanged refetch. Entries are not rewritten.
func (s *Store) Touch(_ context.Context, url string, at time.Time) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return s.mutatePage(tx, url, func(p *crawler.Page) {
			p.CrawledAt = at
			p.FailureCount = 0
			p.Stale = false
		})
	})
	if err != nil {
		return fmt.Errorf("touch %s: %w", url, err)
	}
	return nil
}

// RecordFailure counts a failed refetch of an indexed page and reports whether it is now stale.
// URLs without a page record return ErrNotFound.
func (s *Store) RecordFailure(_ context.Context, url string) (bool, error) {
	stale := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		return s.mutatePage(tx, url, func(p *crawler.Page) {
			p.FailureCount++
			if p.FailureCount >= s.cfg.StaleAfterFailures {
				p.Stale = true
			}
			stale = p.Stale
		})
	})
	if err != nil {
		return false, fmt.Errorf("record failure %s: %w", url, err)
	}
	return stale, nil
}

func (s *Store) mutatePage(tx *bolt.Tx, url string, fn func(*crawler.Page)) error {
	before, ok, err := getPage(tx, url)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	after := before
	fn(&after)
	after.Version = before.Version + 1
	if err := boltdb.PutJSON(tx.Bucket(boltdb.BucketPages), []byte(url), after); err != nil {
		return err
	}
	return adjustCounts(tx, &before, &after)
}

// ForEachPage calls fn for every page in URL order. Pages are read in short batches, so
// fn may write to the store; it sees a consistent view per batch, not per scan.
func (s *Store) ForEachPage(ctx context.Context, fn func(crawler.Page) error) error {
	var after []byte
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("scan pages: %w", err)
		}
		batch := make([]crawler.Page, 0, pageBatch)
		err := s.db.View(func(tx *bolt.Tx) error {
			c := tx.Bucket(boltdb.BucketPages).Cursor()
			k, v := c.First()
			if after != nil {
				k, v = c.Seek(after)
				if k != nil && string(k) == string(after) {
					k, v = c.Next()
				}
			}
			for ; k != nil && len(batch) < pageBatch; k, v = c.Next() {
				var p crawler.Page
				if err := decodePage(v, &p); err != nil {
					return err
				}
				p.PageScore = activeScore(tx, p.URL)
				batch = append(batch, p)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("scan pages: %w", err)
		}
		if len(batch) == 0 {
			return nil
		}
		for _, p := range batch {
			if err := fn(p); err != nil {
				return err
			}
		}
		after = []byte(batch[len(batch)-1].URL)
	}
}
