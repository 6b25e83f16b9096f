package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/goodtune/focusguard/internal/site"
	"github.com/goodtune/focusguard/internal/storage"
	"github.com/redis/go-redis/v9"
)

type ruleStore struct {
	client *redis.Client
	keys   keyspace
}

// List returns all rules ordered by creation time
func (s *ruleStore) List(ctx context.Context) ([]site.Rule, error) {
	data, err := s.client.HGetAll(ctx, s.keys.rules()).Result()
	if err != nil {
		return nil, err
	}

	rules := make([]site.Rule, 0, len(data))
	for domain, raw := range data {
		var rule site.Rule
		if err := json.Unmarshal([]byte(raw), &rule); err != nil {
			return nil, fmt.Errorf("failed to parse rule %s: %w", domain, err)
		}
		rules = append(rules, rule)
	}
	sort.Slice(rules, func(i, j int) bool {
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
	return rules, nil
}

// Get retrieves the rule for a normalized domain
func (s *ruleStore) Get(ctx context.Context, domain string) (*site.Rule, error) {
	raw, err := s.client.HGet(ctx, s.keys.rules(), domain).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rule site.Rule
	if err := json.Unmarshal([]byte(raw), &rule); err != nil {
		return nil, fmt.Errorf("failed to parse rule %s: %w", domain, err)
	}
	return &rule, nil
}

// Upsert creates or replaces the rule for rule.Domain
func (s *ruleStore) Upsert(ctx context.Context, rule site.Rule) error {
	data, err := json.Marshal(rule)
	if err != nil {
		return fmt.Errorf("marshal rule: %w", err)
	}
	return s.client.HSet(ctx, s.keys.rules(), rule.Domain, data).Err()
}

// Delete removes the rule for a domain
func (s *ruleStore) Delete(ctx context.Context, domain string) error {
	removed, err := s.client.HDel(ctx, s.keys.rules(), domain).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// TouchLastAccess updates LastAccess under WATCH so a concurrent edit is not overwritten
func (s *ruleStore) TouchLastAccess(ctx context.Context, domain string, at time.Time) (*site.Rule, error) {
	key := s.keys.rules()
	var rule site.Rule

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, domain).Result()
		if err == redis.Nil {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := json.Unmarshal([]byte(raw), &rule); err != nil {
			return fmt.Errorf("failed to parse rule %s: %w", domain, err)
		}

		rule.LastAccess = &at
		data, err := json.Marshal(rule)
		if err != nil {
			return fmt.Errorf("marshal rule: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, domain, data)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return nil, err
	}
	return &rule, nil
}
