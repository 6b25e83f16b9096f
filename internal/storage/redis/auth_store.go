package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goodtune/focusguard/internal/storage"
	"github.com/redis/go-redis/v9"
)

type authStore struct {
	client *redis.Client
	keys   keyspace
}

func (s *authStore) Get(ctx context.Context) (*storage.AuthState, error) {
	raw, err := s.client.Get(ctx, s.keys.auth()).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var state storage.AuthState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to parse auth state: %w", err)
	}
	return &state, nil
}

func (s *authStore) Save(ctx context.Context, state storage.AuthState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal auth state: %w", err)
	}
	return s.client.Set(ctx, s.keys.auth(), data, 0).Err()
}

func (s *authStore) Clear(ctx context.Context) error {
	return s.client.Del(ctx, s.keys.auth()).Err()
}
