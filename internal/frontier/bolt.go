package frontier

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/boltdb/bolt"

	"github.com/crawlkit/crawld/internal/crawler"
)

var (
	bucketURLs  = []byte("urls")
	bucketOrder = []byte("order")
)

// Bolt is the default durable Store backend: a single-file bolt database.
// Bolt serializes writers and lets readers proceed concurrently, so stats
// queries never wait on an in-flight worker update.
type Bolt struct {
	db         *bolt.DB
	maxRetries int
}

// NewBolt opens (or creates) the store file at path.
func NewBolt(path string, maxRetries int) (*Bolt, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open frontier db %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketURLs); err != nil {
			return fmt.Errorf("create urls bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists(bucketOrder); err != nil {
			return fmt.Errorf("create order bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Bolt{db: db, maxRetries: maxRetries}, nil
}

// UpsertNew inserts url as pending if absent and reports whether it was new.
// The insert is atomic: concurrent discoveries of the same URL serialize on
// bolt's single writer and only the first one reports true.
func (b *Bolt) UpsertNew(_ context.Context, url string, isSitemap bool) (bool, error) {
	inserted := false
	err := b.db.Update(func(tx *bolt.Tx) error {
		urls := tx.Bucket(bucketURLs)
		if urls.Get([]byte(url)) != nil {
			return nil
		}
		order := tx.Bucket(bucketOrder)
		seq, err := order.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		rec := crawler.URLRecord{
			URL:         url,
			Status:      crawler.StatusPending,
			IsSitemap:   isSitemap,
			LastUpdated: time.Now().UTC(),
			Seq:         seq,
		}
		if err := order.Put(seqKey(seq), []byte(url)); err != nil {
			return fmt.Errorf("put order row: %w", err)
		}
		if err := putRecord(urls, rec); err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("upsert %s: %w", url, err)
	}
	return inserted, nil
}

// Get returns the record for url.
func (b *Bolt) Get(_ context.Context, url string) (crawler.URLRecord, error) {
	var rec crawler.URLRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketURLs).Get([]byte(url))
		if raw == nil {
			return crawler.ErrNotFound
		}
		return json.Unmarshal(raw, &rec)
	})
	if err != nil {
		return crawler.URLRecord{}, err
	}
	return rec, nil
}

// MarkVisited moves url from pending to visited.
func (b *Bolt) MarkVisited(_ context.Context, url string) error {
	return b.mutate(url, func(rec *crawler.URLRecord) error {
		if rec.Status != crawler.StatusPending {
			return crawler.ErrInvalidTransition
		}
		rec.Status = crawler.StatusVisited
		rec.LastError = ""
		return nil
	})
}

// MarkRetryOrError increments the retry counter, keeping the row pending
// until the counter exceeds the maximum, at which point it becomes error.
// Rows no longer pending are left untouched and their current status is
// returned, so a failure cannot undo an operator pause made mid-fetch.
func (b *Bolt) MarkRetryOrError(_ context.Context, url, lastError string) (crawler.Status, error) {
	var status crawler.Status
	err := b.db.Update(func(tx *bolt.Tx) error {
		urls := tx.Bucket(bucketURLs)
		raw := urls.Get([]byte(url))
		if raw == nil {
			return crawler.ErrNotFound
		}
		var rec crawler.URLRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode row %s: %w", url, err)
		}
		if rec.Status != crawler.StatusPending {
			status = rec.Status
			return nil
		}
		rec.RetryCount++
		rec.LastError = lastError
		if rec.RetryCount > b.maxRetries {
			rec.Status = crawler.StatusError
		} else {
			rec.Status = crawler.StatusPending
		}
		rec.LastUpdated = time.Now().UTC()
		status = rec.Status
		return putRecord(urls, rec)
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

// SetStatus performs the direct pause/resume transition.
func (b *Bolt) SetStatus(_ context.Context, url string, status crawler.Status, reason string) error {
	return b.mutate(url, func(rec *crawler.URLRecord) error {
		if !crawler.CanTransition(rec.Status, status) {
			return crawler.ErrInvalidTransition
		}
		rec.Status = status
		if status == crawler.StatusPaused {
			rec.PauseReason = reason
		} else {
			rec.PauseReason = ""
		}
		return nil
	})
}

// ListByStatus returns rows with the given status in discovery order.
func (b *Bolt) ListByStatus(_ context.Context, status crawler.Status) ([]crawler.URLRecord, error) {
	var out []crawler.URLRecord
	err := b.db.View(func(tx *bolt.Tx) error {
		urls := tx.Bucket(bucketURLs)
		return tx.Bucket(bucketOrder).ForEach(func(_, url []byte) error {
			raw := urls.Get(url)
			if raw == nil {
				return nil
			}
			var rec crawler.URLRecord
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("decode row %s: %w", url, err)
			}
			if rec.Status == status {
				out = append(out, rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListByPrefix scans the URL bucket from the prefix via cursor seek.
func (b *Bolt) ListByPrefix(_ context.Context, prefix string, status crawler.Status) ([]crawler.URLRecord, error) {
	var out []crawler.URLRecord
	p := []byte(prefix)
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketURLs).Cursor()
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			var rec crawler.URLRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode row %s: %w", k, err)
			}
			if rec.Status == status {
				out = append(out, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortBySeq(out)
	return out, nil
}

// CountsByStatus returns row counts keyed by status, including zeroes.
func (b *Bolt) CountsByStatus(_ context.Context) (map[crawler.Status]int, error) {
	counts := emptyStatusCounts()
	err := b.forEachRecord(func(rec crawler.URLRecord) {
		counts[rec.Status]++
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// CountsByDomain returns row counts keyed by host.
func (b *Bolt) CountsByDomain(_ context.Context) (map[string]int, error) {
	counts := make(map[string]int)
	err := b.forEachRecord(func(rec crawler.URLRecord) {
		if d := crawler.Domain(rec.URL); d != "" {
			counts[d]++
		}
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

// EarliestURL returns the first URL ever inserted, or "" when empty.
func (b *Bolt) EarliestURL(_ context.Context) (string, error) {
	var url string
	err := b.db.View(func(tx *bolt.Tx) error {
		k, v := tx.Bucket(bucketOrder).Cursor().First()
		if k != nil {
			url = string(v)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return url, nil
}

// Close releases the underlying database file.
func (b *Bolt) Close() error {
	if err := b.db.Close(); err != nil {
		return fmt.Errorf("close frontier db: %w", err)
	}
	return nil
}

func (b *Bolt) mutate(url string, fn func(rec *crawler.URLRecord) error) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		urls := tx.Bucket(bucketURLs)
		raw := urls.Get([]byte(url))
		if raw == nil {
			return crawler.ErrNotFound
		}
		var rec crawler.URLRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("decode row %s: %w", url, err)
		}
		if err := fn(&rec); err != nil {
			return err
		}
		rec.LastUpdated = time.Now().UTC()
		return putRecord(urls, rec)
	})
}

func (b *Bolt) forEachRecord(fn func(rec crawler.URLRecord)) error {
	return b.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketURLs).ForEach(func(k, v []byte) error {
			var rec crawler.URLRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode row %s: %w", k, err)
			}
			fn(rec)
			return nil
		})
	})
}

func putRecord(bucket *bolt.Bucket, rec crawler.URLRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode row %s: %w", rec.URL, err)
	}
	if err := bucket.Put([]byte(rec.URL), raw); err != nil {
		return fmt.Errorf("put row %s: %w", rec.URL, err)
	}
	return nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
