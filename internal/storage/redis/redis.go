package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/focusguard/internal/config"
	"github.com/goodtune/focusguard/internal/storage"
	"github.com/redis/go-redis/v9"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client     *redis.Client
	ruleStore  *ruleStore
	usageStore *usageStore
	authStore  *authStore
}

// keyspace builds every key under a common prefix so several agents can share a server.
type keyspace struct {
	prefix string
}

func (k keyspace) rules() string { return k.prefix + ":rules" }
func (k keyspace) usage(date string) string { return k.prefix + ":usage:" + date }
func (k keyspace) usageDates() string { return k.prefix + ":usage:dates" }
func (k keyspace) auth() string { return k.prefix + ":auth" }
func (k keyspace) schemaVersion() string { return k.prefix + ":schema_version" }

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Host may already carry a port
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "focusguard"
	}
	keys := keyspace{prefix: prefix}

	if err := checkSchemaVersion(ctx, client, keys); err != nil {
		_ = client.Close()
		return nil, err
	}

	return &Store{
		client:     client,
		ruleStore:  &ruleStore{client: client, keys: keys},
		usageStore: &usageStore{client: client, keys: keys},
		authStore:  &authStore{client: client, keys: keys},
	}, nil
}

func checkSchemaVersion(ctx context.Context, client *redis.Client, keys keyspace) error {
	if err := client.SetNX(ctx, keys.schemaVersion(), storage.SchemaVersion, 0).Err(); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	raw, err := client.Get(ctx, keys.schemaVersion()).Result()
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	version, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("parse schema version %q: %w", raw, err)
	}
	if version != storage.SchemaVersion {
		return fmt.Errorf("unsupported schema version %d (want %d)", version, storage.SchemaVersion)
	}
	return nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Rules returns the RuleStore implementation
func (s *Store) Rules() storage.RuleStore {
	return s.ruleStore
}

// Usage returns the UsageStore implementation
func (s *Store) Usage() storage.UsageStore {
	return s.usageStore
}

// Auth returns the AuthStore implementation
func (s *Store) Auth() storage.AuthStore {
	return s.authStore
}
