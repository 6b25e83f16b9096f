package bolt

import (
	"context"

	"github.com/goodtune/focusguard/internal/storage"
	"go.etcd.io/bbolt"
)

type authStore struct {
	db *bbolt.DB
}

func (s *authStore) Get(ctx context.Context) (*storage.AuthState, error) {
	return getBucketValue[storage.AuthState](ctx, s.db, bucketAuth, keyAuthState)
}

func (s *authStore) Save(ctx context.Context, state storage.AuthState) error {
	return putBucketValue(ctx, s.db, bucketAuth, keyAuthState, state)
}

func (s *authStore) Clear(ctx context.Context) error {
	err := deleteBucketValue(ctx, s.db, bucketAuth, keyAuthState)
	if err == storage.ErrNotFound {
		return nil
	}
	return err
}
