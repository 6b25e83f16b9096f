package bolt

import (
	"context"
	"fmt"
	"strings"

	"github.com/goodtune/focusguard/internal/storage"
	"go.etcd.io/bbolt"
)

type usageStore struct {
	db *bbolt.DB
}

func (s *usageStore) Get(ctx context.Context, domain, date string) (int64, error) {
	value, err := getBucketValue[int64](ctx, s.db, bucketUsage, usageKey(date, domain))
	if err == storage.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return *value, nil
}

func (s *usageStore) Add(ctx context.Context, domain, date string, millis int64) (int64, error) {
	if millis < 0 {
		return 0, fmt.Errorf("negative usage increment: %d", millis)
	}
	key := []byte(usageKey(date, domain))
	var total int64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketUsage))
		if existing := b.Get(key); existing != nil {
			if err := unmarshal(existing, &total); err != nil {
				return err
			}
		}
		total += millis
		data, err := marshal(total)
		if err != nil {
			return err
		}
		return b.Put(key, data)
	})
	return total, err
}

func (s *usageStore) Ledger(ctx context.Context) (storage.Ledger, error) {
	ledger := make(storage.Ledger)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketUsage)).ForEach(func(k, v []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			date, domain, ok := splitUsageKey(string(k))
			if !ok {
				return nil
			}
			var millis int64
			if err := unmarshal(v, &millis); err != nil {
				return err
			}
			ledger.Set(domain, date, millis)
			return nil
		})
	})
	return ledger, err
}

func (s *usageStore) Merge(ctx context.Context, ledger storage.Ledger) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketUsage))
		for _, entry := range ledger.Entries() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			key := []byte(usageKey(entry.Date, entry.Domain))
			var current int64
			if existing := b.Get(key); existing != nil {
				if err := unmarshal(existing, &current); err != nil {
					return err
				}
			}
			if entry.Millis <= current {
				continue
			}
			data, err := marshal(entry.Millis)
			if err != nil {
				return err
			}
			if err := b.Put(key, data); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteBefore removes entries dated strictly before cutoffDate. Keys sort by
// date first, so the scan stops at the first key on or after the cutoff.
func (s *usageStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	deleted := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(bucketUsage)).Cursor()
		var stale [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			date, _, ok := splitUsageKey(string(k))
			if ok && date >= cutoffDate {
				break
			}
			stale = append(stale, append([]byte(nil), k...))
		}
		b := tx.Bucket([]byte(bucketUsage))
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

func (s *usageStore) Clear(ctx context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := tx.DeleteBucket([]byte(bucketUsage)); err != nil {
			return fmt.Errorf("delete usage bucket: %w", err)
		}
		_, err := tx.CreateBucket([]byte(bucketUsage))
		return err
	})
}

func usageKey(date, domain string) string {
	return date + "/" + domain
}

func splitUsageKey(key string) (date, domain string, ok bool) {
	return strings.Cut(key, "/")
}
