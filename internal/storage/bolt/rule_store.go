package bolt

import (
	"context"
	"sort"
	"time"

	"github.com/goodtune/focusguard/internal/site"
	"github.com/goodtune/focusguard/internal/storage"
	"go.etcd.io/bbolt"
)

type ruleStore struct {
	db *bbolt.DB
}

func (s *ruleStore) List(ctx context.Context) ([]site.Rule, error) {
	rules, err := listBucket[site.Rule](ctx, s.db, bucketRules)
	if err != nil {
		return nil, err
	}
	sort.Slice(rules, func(i, j int) bool {
		return rules[i].CreatedAt.Before(rules[j].CreatedAt)
	})
	return rules, nil
}

func (s *ruleStore) Get(ctx context.Context, domain string) (*site.Rule, error) {
	return getBucketValue[site.Rule](ctx, s.db, bucketRules, domain)
}

func (s *ruleStore) Upsert(ctx context.Context, rule site.Rule) error {
	return putBucketValue(ctx, s.db, bucketRules, rule.Domain, rule)
}

func (s *ruleStore) Delete(ctx context.Context, domain string) error {
	return deleteBucketValue(ctx, s.db, bucketRules, domain)
}

func (s *ruleStore) TouchLastAccess(ctx context.Context, domain string, at time.Time) (*site.Rule, error) {
	var rule site.Rule
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b := tx.Bucket([]byte(bucketRules))
		raw := b.Get([]byte(domain))
		if raw == nil {
			return storage.ErrNotFound
		}
		if err := unmarshal(raw, &rule); err != nil {
			return err
		}
		rule.LastAccess = &at
		data, err := marshal(rule)
		if err != nil {
			return err
		}
		return b.Put([]byte(domain), data)
	})
	if err != nil {
		return nil, err
	}
	return &rule, nil
}
