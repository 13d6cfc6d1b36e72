package index

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	bolt "go.etcd.io/bbolt"

	"github.com/JakeFAU/webscout/internal/crawler"
	"github.com/JakeFAU/webscout/internal/storage/boltdb"
)

// ImageHit is an image whose alt text, title or page title matched a query.
type ImageHit struct {
	Image     crawler.Image
	PageTitle string
	Domain    string
	Matches   int
}

// SearchImages returns images matching any of terms, most matched terms first.
// Images on stale pages are skipped.
func (s *Store) SearchImages(_ context.Context, terms []string, limit int) ([]ImageHit, error) {
	var hits []ImageHit
	err := s.db.View(func(tx *bolt.Tx) error {
		matches := make(map[string]int)
		c := tx.Bucket(boltdb.BucketImageTerms).Cursor()
		for _, term := range terms {
			prefix := boltdb.Prefix(strings.ToLower(term))
			for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
				matches[string(k[len(prefix):])]++
			}
		}

		images := tx.Bucket(boltdb.BucketImages)
		for key, n := range matches {
			pageURL, _, _ := strings.Cut(key, boltdb.Sep)
			page, ok, err := getPage(tx, pageURL)
			if err != nil {
				return err
			}
			if !ok || page.Stale {
				continue
			}
			var img crawler.Image
			ok, err = boltdb.GetJSON(images, []byte(key), &img)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			hits = append(hits, ImageHit{Image: img, PageTitle: page.Title, Domain: page.Domain, Matches: n})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("search images: %w", err)
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Matches != hits[j].Matches {
			return hits[i].Matches > hits[j].Matches
		}
		if hits[i].Image.PageURL != hits[j].Image.PageURL {
			return hits[i].Image.PageURL < hits[j].Image.PageURL
		}
		return hits[i].Image.URL < hits[j].Image.URL
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}
