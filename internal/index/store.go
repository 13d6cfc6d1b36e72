// Package index is the durable page store and inverted text index.
//
// Each page write replaces the page record, its postings and its images in one bbolt
// transaction, so readers (which run in View transactions) see either the old page with
// its old entries or the new page with its new entries.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/JakeFAU/webscout/internal/crawler"
	"github.com/JakeFAU/webscout/internal/storage/boltdb"
)

var (
	// ErrNotFound is returned when a URL has no page record.
	ErrNotFound = errors.New("page not found")
	// ErrIndexWriteConflict means a page changed between read and write. Upsert retries it.
	ErrIndexWriteConflict = errors.New("index write conflict")
)

var (
	metaPageCount  = []byte("page_count")
	metaTypeCounts = []byte("type_counts")
	metaStaleCount = []byte("stale_count")
	metaScoreGen   = []byte("score_generation")
)

// Config tunes the store.
type Config struct {
	// StaleAfterFailures marks a page stale after this many consecutive failures.
	StaleAfterFailures int
	// ScoreBatchSize bounds the writes per commit when applying page scores.
	ScoreBatchSize int
}

// Store implements the page record store and inverted index on top of bbolt.
type Store struct {
	db     *bolt.DB
	cfg    Config
	logger *zap.Logger

	// beforeWrite runs between the optimistic read and the write transaction.
	beforeWrite func(url string)
}

// Hit is a page matching a term, with the term's frequency in that page.
type Hit struct {
	Page           crawler.Page
	Frequency      int
	TitleFrequency int
}

// docKeys remembers everything written for a page so a rewrite can remove it.
type docKeys struct {
	Postings   []string `json:"postings"`
	Images     []string `json:"images,omitempty"`
	ImageTerms []string `json:"image_terms,omitempty"`
}

// New wraps an open boltdb store.
func New(db *boltdb.DB, cfg Config, logger *zap.Logger) *Store {
	if cfg.StaleAfterFailures <= 0 {
		cfg.StaleAfterFailures = 3
	}
	if cfg.ScoreBatchSize <= 0 {
		cfg.ScoreBatchSize = 500
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db.Bolt(), cfg: cfg, logger: logger}
}

// Upsert atomically replaces the page record, its index entries and its images.
// Write conflicts are retried until the write lands or ctx ends.
func (s *Store) Upsert(ctx context.Context, page crawler.Page, fields TextFields, images []crawler.Image) error {
	normalized, err := crawler.NormalizeURL(page.URL)
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	page.URL = normalized
	if page.Domain == "" {
		page.Domain = crawler.Domain(page.URL)
	}

	entries := BuildEntries(page.URL, fields)
	page.TermNorm = TermNorm(entries)
	images = dedupeImages(page.URL, images)
	page.ImageCount = len(images)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("upsert %s: %w", page.URL, err)
		}
		expected, err := s.version(page.URL)
		if err != nil {
			return err
		}
		if s.beforeWrite != nil {
			s.beforeWrite(page.URL)
		}
		err = s.db.Update(func(tx *bolt.Tx) error {
			return s.writePage(tx, page, expected, entries, images)
		})
		if errors.Is(err, ErrIndexWriteConflict) {
			s.logger.Debug("index write conflict; retrying", zap.String("url", page.URL), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return fmt.Errorf("upsert %s: %w", page.URL, err)
		}
		return nil
	}
}

func (s *Store) version(url string) (uint64, error) {
	var v uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		prev, ok, err := getPage(tx, url)
		if err != nil || !ok {
			return err
		}
		v = prev.Version
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("read version %s: %w", url, err)
	}
	return v, nil
}

func (s *Store) writePage(tx *bolt.Tx, page crawler.Page, expected uint64, entries []Entry, images []crawler.Image) error {
	prev, existed, err := getPage(tx, page.URL)
	if err != nil {
		return err
	}
	if prev.Version != expected {
		return ErrIndexWriteConflict
	}

	if err := removeDocKeys(tx, page.URL); err != nil {
		return err
	}

	keys := docKeys{Postings: make([]string, 0, len(entries))}
	postings := tx.Bucket(boltdb.BucketPostings)
	for _, e := range entries {
		key := boltdb.Key(e.Term, e.URL, string(e.Field))
		if err := boltdb.PutJSON(postings, key, e); err != nil {
			return err
		}
		keys.Postings = append(keys.Postings, string(key))
	}

	imgBucket := tx.Bucket(boltdb.BucketImages)
	imgTerms := tx.Bucket(boltdb.BucketImageTerms)
	for _, img := range images {
		key := boltdb.Key(page.URL, img.URL)
		if err := boltdb.PutJSON(imgBucket, key, img); err != nil {
			return err
		}
		keys.Images = append(keys.Images, string(key))
		for _, term := range UniqueTerms(img.AltText + " " + img.Title + " " + page.Title) {
			tkey := boltdb.Key(term, page.URL, img.URL)
			if err := imgTerms.Put(tkey, nil); err != nil {
				return fmt.Errorf("put image term: %w", err)
			}
			keys.ImageTerms = append(keys.ImageTerms, string(tkey))
		}
	}
	if err := boltdb.PutJSON(tx.Bucket(boltdb.BucketDocTerms), []byte(page.URL), keys); err != nil {
		return err
	}

	page.Version = prev.Version + 1
	page.FailureCount = 0
	page.Stale = false
	page.PageScore = 0
	if err := boltdb.PutJSON(tx.Bucket(boltdb.BucketPages), []byte(page.URL), page); err != nil {
		return err
	}
	if !existed {
		if err := bumpCounter(tx, metaPageCount, 1); err != nil {
			return err
		}
		if err := bumpDomain(tx, page.Domain); err != nil {
			return err
		}
	}
	var before *crawler.Page
	if existed {
		before = &prev
	}
	return adjustCounts(tx, before, &page)
}

func removeDocKeys(tx *bolt.Tx, url string) error {
	var keys docKeys
	ok, err := boltdb.GetJSON(tx.Bucket(boltdb.BucketDocTerms), []byte(url), &keys)
	if err != nil || !ok {
		return err
	}
	for _, group := range []struct {
		bucket []byte
		keys   []string
	}{
		{boltdb.BucketPostings, keys.Postings},
		{boltdb.BucketImages, keys.Images},
		{boltdb.BucketImageTerms, keys.ImageTerms},
	} {
		b := tx.Bucket(group.bucket)
		for _, k := range group.keys {
			if err := b.Delete([]byte(k)); err != nil {
				return fmt.Errorf("delete %s: %w", group.bucket, err)
			}
		}
	}
	return nil
}

func dedupeImages(pageURL string, images []crawler.Image) []crawler.Image {
	seen := make(map[string]struct{}, len(images))
	out := make([]crawler.Image, 0, len(images))
	for _, img := range images {
		if img.URL == "" {
			continue
		}
		if _, dup := seen[img.URL]; dup {
			continue
		}
		seen[img.URL] = struct{}{}
		img.PageURL = pageURL
		out = append(out, img)
	}
	return out
}

// Get returns the page stored for url, with its current page score.
func (s *Store) Get(_ context.Context, url string) (crawler.Page, error) {
	if normalized, err := crawler.NormalizeURL(url); err == nil {
		url = normalized
	}
	var page crawler.Page
	err := s.db.View(func(tx *bolt.Tx) error {
		p, ok, err := getPage(tx, url)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		p.PageScore = activeScore(tx, url)
		page = p
		return nil
	})
	if err != nil {
		return crawler.Page{}, fmt.Errorf("get %s: %w", url, err)
	}
	return page, nil
}

// Has reports whether url already has a page record.
func (s *Store) Has(_ context.Context, url string) (bool, error) {
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(boltdb.BucketPages).Get([]byte(url)) != nil
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("has %s: %w", url, err)
	}
	return found, nil
}

// Lookup returns every page containing term, by frequency descending then URL.
func (s *Store) Lookup(ctx context.Context, term string) ([]Hit, error) {
	byTerm, err := s.LookupTerms(ctx, []string{term})
	if err != nil {
		return nil, err
	}
	return byTerm[strings.ToLower(strings.TrimSpace(term))], nil
}

// LookupTerms runs Lookup for every term inside one read transaction, so a concurrent
// Upsert never shows a query two versions of the same page.
func (s *Store) LookupTerms(_ context.Context, terms []string) (map[string][]Hit, error) {
	out := make(map[string][]Hit, len(terms))
	err := s.db.View(func(tx *bolt.Tx) error {
		for _, term := range terms {
			term = strings.ToLower(strings.TrimSpace(term))
			if term == "" {
				continue
			}
			if _, done := out[term]; done {
				continue
			}
			hits, err := lookupTx(tx, term)
			if err != nil {
				return fmt.Errorf("lookup %q: %w", term, err)
			}
			out[term] = hits
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func lookupTx(tx *bolt.Tx, term string) ([]Hit, error) {
	type agg struct{ total, title int }
	byURL := make(map[string]*agg)
	var order []string

	prefix := boltdb.Prefix(term)
	c := tx.Bucket(boltdb.BucketPostings).Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		parts := strings.SplitN(string(k[len(prefix):]), boltdb.Sep, 2)
		if len(parts) != 2 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(v, &e); err != nil {
			return nil, fmt.Errorf("decode posting: %w", err)
		}
		a, ok := byURL[parts[0]]
		if !ok {
			a = &agg{}
			byURL[parts[0]] = a
			order = append(order, parts[0])
		}
		a.total += e.Frequency
		if crawler.Field(parts[1]) == crawler.FieldTitle {
			a.title += e.Frequency
		}
	}

	hits := make([]Hit, 0, len(order))
	for _, url := range order {
		page, ok, err := getPage(tx, url)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		page.PageScore = activeScore(tx, url)
		hits = append(hits, Hit{Page: page, Frequency: byURL[url].total, TitleFrequency: byURL[url].title})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Frequency != hits[j].Frequency {
			return hits[i].Frequency > hits[j].Frequency
		}
		return hits[i].Page.URL < hits[j].Page.URL
	})
	return hits, nil
}

// Entries returns the stored entries for a page, sorted by term then field.
func (s *Store) Entries(_ context.Context, url string) ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		var keys docKeys
		if _, err := boltdb.GetJSON(tx.Bucket(boltdb.BucketDocTerms), []byte(url), &keys); err != nil {
			return err
		}
		postings := tx.Bucket(boltdb.BucketPostings)
		for _, k := range keys.Postings {
			var e Entry
			ok, err := boltdb.GetJSON(postings, []byte(k), &e)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			parts := strings.SplitN(k, boltdb.Sep, 3)
			if len(parts) == 3 {
				e.Term, e.URL, e.Field = parts[0], parts[1], crawler.Field(parts[2])
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("entries %s: %w", url, err)
	}
	return entries, nil
}

// DocumentFrequency counts the pages containing term.
func (s *Store) DocumentFrequency(_ context.Context, term string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := boltdb.Prefix(strings.ToLower(term))
		last := ""
		c := tx.Bucket(boltdb.BucketPostings).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			url, _, _ := strings.Cut(string(k[len(prefix):]), boltdb.Sep)
			if url != last {
				count++
				last = url
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("document frequency %q: %w", term, err)
	}
	return count, nil
}

// TotalPages returns the number of page records.
func (s *Store) TotalPages(_ context.Context) (int, error) {
	var n uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		n = boltdb.ReadUint64(tx.Bucket(boltdb.BucketMeta).Get(metaPageCount))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("total pages: %w", err)
	}
	return int(n), nil
}

// CountByDomain returns the number of pages stored for domain.
func (s *Store) CountByDomain(_ context.Context, domain string) (int, error) {
	var n uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		n = boltdb.ReadUint64(tx.Bucket(boltdb.BucketDomains).Get([]byte(strings.ToLower(domain))))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count domain %s: %w", domain, err)
	}
	return int(n), nil
}

func getPage(tx *bolt.Tx, url string) (crawler.Page, bool, error) {
	var page crawler.Page
	ok, err := boltdb.GetJSON(tx.Bucket(boltdb.BucketPages), []byte(url), &page)
	return page, ok, err
}

func bumpCounter(tx *bolt.Tx, key []byte, delta int64) error {
	meta := tx.Bucket(boltdb.BucketMeta)
	n := int64(boltdb.ReadUint64(meta.Get(key))) + delta
	if n < 0 {
		n = 0
	}
	if err := meta.Put(key, boltdb.Uint64(uint64(n))); err != nil {
		return fmt.Errorf("update %s: %w", key, err)
	}
	return nil
}

func bumpDomain(tx *bolt.Tx, domain string) error {
	b := tx.Bucket(boltdb.BucketDomains)
	n := boltdb.ReadUint64(b.Get([]byte(domain))) + 1
	if err := b.Put([]byte(domain), boltdb.Uint64(n)); err != nil {
		return fmt.Errorf("update domain count: %w", err)
	}
	return nil
}

// adjustCounts keeps the per-type and stale counters in step with a page rewrite.
func adjustCounts(tx *bolt.Tx, before, after *crawler.Page) error {
	meta := tx.Bucket(boltdb.BucketMeta)
	counts := map[crawler.ContentType]int{}
	if _, err := boltdb.GetJSON(meta, metaTypeCounts, &counts); err != nil {
		return err
	}
	if before != nil {
		counts[before.ContentType]--
		if counts[before.ContentType] <= 0 {
			delete(counts, before.ContentType)
		}
	}
	if after != nil {
		counts[after.ContentType]++
	}
	if err := boltdb.PutJSON(meta, metaTypeCounts, counts); err != nil {
		return err
	}

	wasStale := before != nil && before.Stale
	isStale := after != nil && after.Stale
	switch {
	case wasStale && !isStale:
		return bumpCounter(tx, metaStaleCount, -1)
	case !wasStale && isStale:
		return bumpCounter(tx, metaStaleCount, 1)
	}
	return nil
}
