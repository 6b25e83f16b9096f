package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/goodtune/focusguard/internal/storage"
	"github.com/redis/go-redis/v9"
)

type usageStore struct {
	client *redis.Client
	keys   keyspace
}

// Get returns the accumulated milliseconds for (domain, date), zero when absent
func (s *usageStore) Get(ctx context.Context, domain, date string) (int64, error) {
	value, err := s.client.HGet(ctx, s.keys.usage(date), domain).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return value, err
}

// Add atomically increments the ledger cell and returns the new total
func (s *usageStore) Add(ctx context.Context, domain, date string, millis int64) (int64, error) {
	if millis < 0 {
		return 0, fmt.Errorf("negative usage increment: %d", millis)
	}
	keys := []string{s.keys.usage(date), s.keys.usageDates()}
	return addUsage.Run(ctx, s.client, keys, domain, date, millis).Int64()
}

// Ledger reads every indexed date in one pipeline
func (s *usageStore) Ledger(ctx context.Context) (storage.Ledger, error) {
	dates, err := s.client.SMembers(ctx, s.keys.usageDates()).Result()
	if err != nil {
		return nil, err
	}

	ledger := make(storage.Ledger)
	if len(dates) == 0 {
		return ledger, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(dates))
	for i, date := range dates {
		cmds[i] = pipe.HGetAll(ctx, s.keys.usage(date))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil {
			continue
		}
		for domain, raw := range data {
			millis, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("failed to parse usage %s/%s: %w", dates[i], domain, err)
			}
			ledger.Set(domain, dates[i], millis)
		}
	}

	return ledger, nil
}

// Merge raises each ledger cell to at least the imported value
func (s *usageStore) Merge(ctx context.Context, ledger storage.Ledger) error {
	for _, entry := range ledger.Entries() {
		keys := []string{s.keys.usage(entry.Date), s.keys.usageDates()}
		if err := mergeUsage.Run(ctx, s.client, keys, entry.Domain, entry.Date, entry.Millis).Err(); err != nil {
			return fmt.Errorf("merge %s/%s: %w", entry.Domain, entry.Date, err)
		}
	}
	return nil
}

// DeleteBefore removes all dates strictly before cutoffDate and reports the number of cells removed
func (s *usageStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	dates, err := s.client.SMembers(ctx, s.keys.usageDates()).Result()
	if err != nil {
		return 0, err
	}
	sort.Strings(dates)

	deleted := 0
	for _, date := range dates {
		if date >= cutoffDate {
			break
		}
		keys := []string{s.keys.usage(date), s.keys.usageDates()}
		n, err := deleteUsageDate.Run(ctx, s.client, keys, date).Int()
		if err != nil {
			return deleted, err
		}
		deleted += n
	}
	return deleted, nil
}

// Clear removes the entire ledger
func (s *usageStore) Clear(ctx context.Context) error {
	dates, err := s.client.SMembers(ctx, s.keys.usageDates()).Result()
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(dates)+1)
	for _, date := range dates {
		keys = append(keys, s.keys.usage(date))
	}
	keys = append(keys, s.keys.usageDates())
	return s.client.Del(ctx, keys...).Err()
}
