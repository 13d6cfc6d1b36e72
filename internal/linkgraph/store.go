// Package linkgraph persists discovered links and computes link-derived page scores.
package linkgraph

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscout/internal/crawler"
	"github.com/JakeFAU/webscout/internal/metrics"
	"github.com/JakeFAU/webscout/internal/storage/boltdb"
)

// Store keeps edges keyed from→to with a to→from reverse index.
type Store struct {
	db     *bolt.DB
	logger *zap.Logger
}

// ScoreSink receives recomputed scores and lists the pages that must be scored.
type ScoreSink interface {
	ForEachPage(ctx context.Context, fn func(crawler.Page) error) error
	ApplyScores(ctx context.Context, scores map[string]float64) error
}

// New wraps an open boltdb store.
func New(db *boltdb.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db.Bolt(), logger: logger}
}

// AddEdges records links from a page. An existing (from, to) pair is never overwritten.
// It returns how many edges were new.
func (s *Store) AddEdges(_ context.Context, from string, links []crawler.Link) (int, error) {
	added := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		edges := tx.Bucket(boltdb.BucketLinks)
		inbound := tx.Bucket(boltdb.BucketInbound)
		for _, l := range links {
			if l.To == "" || l.To == from {
				continue
			}
			l.From = from
			key := boltdb.Key(from, l.To)
			if edges.Get(key) != nil {
				continue
			}
			if err := boltdb.PutJSON(edges, key, l); err != nil {
				return err
			}
			if err := inbound.Put(boltdb.Key(l.To, from), nil); err != nil {
				return fmt.Errorf("put inbound: %w", err)
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("add edges from %s: %w", from, err)
	}
	return added, nil
}

// Outbound returns the recorded links from url.
func (s *Store) Outbound(_ context.Context, url string) ([]crawler.Link, error) {
	var links []crawler.Link
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := boltdb.Prefix(url)
		b := tx.Bucket(boltdb.BucketLinks)
		c := b.Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			var l crawler.Link
			if _, err := boltdb.GetJSON(b, k, &l); err != nil {
				return err
			}
			links = append(links, l)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("outbound %s: %w", url, err)
	}
	return links, nil
}

// Inbound returns the URLs linking to url.
func (s *Store) Inbound(_ context.Context, url string) ([]string, error) {
	var from []string
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := boltdb.Prefix(url)
		c := tx.Bucket(boltdb.BucketInbound).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			from = append(from, string(k[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("inbound %s: %w", url, err)
	}
	return from, nil
}

// Snapshot reads every edge in one read transaction.
func (s *Store) Snapshot(_ context.Context) (*Graph, error) {
	b := NewGraphBuilder()
	if err := s.loadEdges(b); err != nil {
		return nil, fmt.Errorf("snapshot link graph: %w", err)
	}
	return b.Build(), nil
}

func (s *Store) loadEdges(b *GraphBuilder) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(boltdb.BucketLinks).ForEach(func(k, _ []byte) error {
			from, to, ok := strings.Cut(string(k), boltdb.Sep)
			if ok {
				b.AddEdge(from, to)
			}
			return nil
		})
	})
}

// Recompute runs PageRank over the current edges plus every indexed page and hands the
// scores to sink, which overwrites all page scores at once.
func (s *Store) Recompute(ctx context.Context, sink ScoreSink, opts Options) (Result, error) {
	start := time.Now()
	b := NewGraphBuilder()
	if err := s.loadEdges(b); err != nil {
		return Result{}, fmt.Errorf("recompute: %w", err)
	}
	if err := sink.ForEachPage(ctx, func(p crawler.Page) error {
		b.AddNode(p.URL)
		return nil
	}); err != nil {
		return Result{}, fmt.Errorf("recompute: %w", err)
	}

	graph := b.Build()
	res := PageRank(graph, opts)
	if err := sink.ApplyScores(ctx, res.Scores); err != nil {
		return Result{}, fmt.Errorf("recompute: %w", err)
	}
	metrics.ObservePageRank(graph.Len(), time.Since(start))
	s.logger.Info("page scores recomputed",
		zap.Int("nodes", graph.Len()),
		zap.Int("iterations", res.Iterations),
		zap.Float64("delta", res.Delta),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}
