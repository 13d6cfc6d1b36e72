package scheduler

import (
	"context"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/JakeFAU/webscout/internal/crawler"
	"github.com/JakeFAU/webscout/internal/storage/boltdb"
)

var metaTaskSeq = []byte("task_seq")

// taskStore persists crawl tasks keyed by URL.
type taskStore struct {
	db *bolt.DB
}

// insert stores t unless the URL already has a task. It assigns the sequence number.
func (s *taskStore) insert(t *crawler.CrawlTask) (bool, error) {
	inserted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		tasks := tx.Bucket(boltdb.BucketTasks)
		if tasks.Get([]byte(t.URL)) != nil {
			return nil
		}
		meta := tx.Bucket(boltdb.BucketMeta)
		seq := boltdb.ReadUint64(meta.Get(metaTaskSeq)) + 1
		if err := meta.Put(metaTaskSeq, boltdb.Uint64(seq)); err != nil {
			return fmt.Errorf("bump task sequence: %w", err)
		}
		t.Seq = seq
		inserted = true
		return boltdb.PutJSON(tasks, []byte(t.URL), t)
	})
	if err != nil {
		return false, fmt.Errorf("insert task %s: %w", t.URL, err)
	}
	return inserted, nil
}

func (s *taskStore) get(url string) (crawler.CrawlTask, bool, error) {
	var t crawler.CrawlTask
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		ok, err = boltdb.GetJSON(tx.Bucket(boltdb.BucketTasks), []byte(url), &t)
		return err
	})
	if err != nil {
		return crawler.CrawlTask{}, false, fmt.Errorf("get task %s: %w", url, err)
	}
	return t, ok, nil
}

func (s *taskStore) put(tasks ...crawler.CrawlTask) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltdb.BucketTasks)
		for _, t := range tasks {
			if err := boltdb.PutJSON(b, []byte(t.URL), t); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("put tasks: %w", err)
	}
	return nil
}

// forEach visits every task in URL order.
func (s *taskStore) forEach(ctx context.Context, fn func(crawler.CrawlTask) error) error {
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltdb.BucketTasks)
		return b.ForEach(func(k, _ []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var t crawler.CrawlTask
			if _, err := boltdb.GetJSON(b, k, &t); err != nil {
				return err
			}
			return fn(t)
		})
	})
	if err != nil {
		return fmt.Errorf("scan tasks: %w", err)
	}
	return nil
}
