package index

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/JakeFAU/webscout/internal/crawler"
	"github.com/JakeFAU/webscout/internal/storage/boltdb"
)

// Stats summarizes the index.
type Stats struct {
	TotalPages   int
	TotalDomains int
	TotalImages  int
	StalePages   int
	PagesByType  map[crawler.ContentType]int
}

// Stats reads the maintained counters plus bucket sizes in one snapshot.
func (s *Store) Stats(_ context.Context) (Stats, error) {
	st := Stats{PagesByType: map[crawler.ContentType]int{}}
	err := s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(boltdb.BucketMeta)
		st.TotalPages = int(boltdb.ReadUint64(meta.Get(metaPageCount)))
		st.StalePages = int(boltdb.ReadUint64(meta.Get(metaStaleCount)))
		if _, err := boltdb.GetJSON(meta, metaTypeCounts, &st.PagesByType); err != nil {
			return err
		}
		st.TotalDomains = tx.Bucket(boltdb.BucketDomains).Stats().KeyN
		st.TotalImages = tx.Bucket(boltdb.BucketImages).Stats().KeyN
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("index stats: %w", err)
	}
	return st, nil
}

func decodePage(data []byte, p *crawler.Page) error {
	if err := json.Unmarshal(data, p); err != nil {
		return fmt.Errorf("decode page: %w", err)
	}
	return nil
}
