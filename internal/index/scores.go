package index

import (
	"context"
	"fmt"
	"math"
	"sort"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscout/internal/storage/boltdb"
)

// ApplyScores replaces every page score with scores. The new scores are written into a
// fresh generation in batches, then one small commit points readers at it, so readers see
// either all old or all new scores and upserts wait at most one batch. URLs without a
// page record are skipped; pages missing from scores read as zero.
func (s *Store) ApplyScores(ctx context.Context, scores map[string]float64) error {
	var gen uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		gen = boltdb.ReadUint64(tx.Bucket(boltdb.BucketMeta).Get(metaScoreGen)) + 1
		root := tx.Bucket(boltdb.BucketScores)
		key := boltdb.Uint64(gen)
		// A crashed earlier run may have left a partial generation behind.
		if root.Bucket(key) != nil {
			if err := root.DeleteBucket(key); err != nil {
				return fmt.Errorf("drop partial generation: %w", err)
			}
		}
		_, err := root.CreateBucket(key)
		return err
	})
	if err != nil {
		return fmt.Errorf("apply scores: %w", err)
	}

	urls := make([]string, 0, len(scores))
	for u := range scores {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	for start := 0; start < len(urls); start += s.cfg.ScoreBatchSize {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("apply scores: %w", err)
		}
		end := min(start+s.cfg.ScoreBatchSize, len(urls))
		err := s.db.Update(func(tx *bolt.Tx) error {
			pages := tx.Bucket(boltdb.BucketPages)
			b := tx.Bucket(boltdb.BucketScores).Bucket(boltdb.Uint64(gen))
			for _, u := range urls[start:end] {
				if pages.Get([]byte(u)) == nil {
					continue
				}
				if err := b.Put([]byte(u), boltdb.Uint64(math.Float64bits(scores[u]))); err != nil {
					return fmt.Errorf("put score: %w", err)
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("apply scores batch: %w", err)
		}
	}

	err = s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(boltdb.BucketMeta).Put(metaScoreGen, boltdb.Uint64(gen)); err != nil {
			return fmt.Errorf("swap generation: %w", err)
		}
		root := tx.Bucket(boltdb.BucketScores)
		var stale [][]byte
		if err := root.ForEachBucket(func(k []byte) error {
			if boltdb.ReadUint64(k) != gen {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range stale {
			if err := root.DeleteBucket(k); err != nil {
				return fmt.Errorf("drop generation: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("apply scores: %w", err)
	}
	s.logger.Info("page scores applied", zap.Uint64("generation", gen), zap.Int("scores", len(scores)))
	return nil
}

// activeScore reads url's score from the generation readers currently point at.
func activeScore(tx *bolt.Tx, url string) float64 {
	gen := tx.Bucket(boltdb.BucketMeta).Get(metaScoreGen)
	if gen == nil {
		return 0
	}
	b := tx.Bucket(boltdb.BucketScores).Bucket(gen)
	if b == nil {
		return 0
	}
	v := b.Get([]byte(url))
	if v == nil {
		return 0
	}
	return math.Float64frombits(boltdb.ReadUint64(v))
}
