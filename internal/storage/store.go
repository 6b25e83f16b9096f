package storage

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/focusguard/internal/site"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Rules() RuleStore
	Usage() UsageStore
	Auth() AuthStore
}

// RuleStore manages protected-site rules keyed by normalized domain.
type RuleStore interface {
	List(ctx context.Context) ([]site.Rule, error)
	Get(ctx context.Context, domain string) (*site.Rule, error)
	Upsert(ctx context.Context, rule site.Rule) error
	Delete(ctx context.Context, domain string) error
	// TouchLastAccess re-reads the rule and sets LastAccess in one write.
	TouchLastAccess(ctx context.Context, domain string, at time.Time) (*site.Rule, error)
}

// UsageStore manages the per-domain, per-day usage ledger in milliseconds.
type UsageStore interface {
	Get(ctx context.Context, domain, date string) (int64, error)
	// Add increments the (domain, date) entry and returns the new total.
	Add(ctx context.Context, domain, date string, millis int64) (int64, error)
	Ledger(ctx context.Context) (Ledger, error)
	// Merge raises each entry to at least the given value.
	Merge(ctx context.Context, ledger Ledger) error
	DeleteBefore(ctx context.Context, cutoffDate string) (int, error)
	Clear(ctx context.Context) error
}

// AuthStore caches the extension session token and account.
type AuthStore interface {
	Get(ctx context.Context) (*AuthState, error)
	Save(ctx context.Context, state AuthState) error
	Clear(ctx context.Context) error
}
