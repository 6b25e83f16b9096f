package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/focusguard/internal/site"
	"github.com/goodtune/focusguard/internal/storage"
	"go.etcd.io/bbolt"
)

func TestRuleStoreCRUD(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	rules := store.Rules()
	created := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

	for i, domain := range []string{"youtube.com", "reddit.com"} {
		rule := site.Rule{ID: domain, Domain: domain, DailyLimitMinutes: 30, CreatedAt: created.Add(time.Duration(i) * time.Minute)}
		if err := rules.Upsert(ctx, rule); err != nil {
			t.Fatalf("upsert rule: %v", err)
		}
	}

	list, err := rules.List(ctx)
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	if len(list) != 2 || list[0].Domain != "youtube.com" {
		t.Fatalf("expected rules ordered by creation, got %+v", list)
	}

	got, err := rules.Get(ctx, "reddit.com")
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if got.DailyLimitMinutes != 30 {
		t.Fatalf("expected limit 30, got %d", got.DailyLimitMinutes)
	}

	if err := rules.Delete(ctx, "reddit.com"); err != nil {
		t.Fatalf("delete rule: %v", err)
	}
	if _, err := rules.Get(ctx, "reddit.com"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := rules.Delete(ctx, "reddit.com"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found deleting twice, got %v", err)
	}
}

func TestRuleStoreTouchLastAccess(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if err := store.Rules().Upsert(ctx, site.Rule{ID: "1", Domain: "example.com", PasswordHash: "h"}); err != nil {
		t.Fatalf("upsert rule: %v", err)
	}

	at := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	rule, err := store.Rules().TouchLastAccess(ctx, "example.com", at)
	if err != nil {
		t.Fatalf("touch last access: %v", err)
	}
	if rule.LastAccess == nil || !rule.LastAccess.Equal(at) || rule.PasswordHash != "h" {
		t.Fatalf("unexpected rule after touch: %+v", rule)
	}

	if _, err := store.Rules().TouchLastAccess(ctx, "missing.com", at); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUsageStoreDailyUsage(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	usage := store.Usage()

	if v, err := usage.Get(ctx, "youtube.com", "2024-01-02"); err != nil || v != 0 {
		t.Fatalf("expected zero for missing entry, got %d (%v)", v, err)
	}

	for i := 0; i < 3; i++ {
		if _, err := usage.Add(ctx, "youtube.com", "2024-01-02", 1000); err != nil {
			t.Fatalf("add usage: %v", err)
		}
	}
	total, err := usage.Add(ctx, "youtube.com", "2024-01-03", 500)
	if err != nil || total != 500 {
		t.Fatalf("expected 500 on new day, got %d (%v)", total, err)
	}

	if v, _ := usage.Get(ctx, "youtube.com", "2024-01-02"); v != 3000 {
		t.Fatalf("expected 3000, got %d", v)
	}
	if _, err := usage.Add(ctx, "youtube.com", "2024-01-02", -1); err == nil {
		t.Fatalf("expected error for negative increment")
	}

	deleted, err := usage.DeleteBefore(ctx, "2024-01-03")
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted entry, got %d", deleted)
	}

	ledger, err := usage.Ledger(ctx)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if len(ledger["youtube.com"]) != 1 || ledger["youtube.com"]["2024-01-03"] != 500 {
		t.Fatalf("unexpected ledger: %v", ledger)
	}

	if err := usage.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	ledger, _ = usage.Ledger(ctx)
	if len(ledger) != 0 {
		t.Fatalf("expected empty ledger after clear, got %v", ledger)
	}
}

func TestUsageStoreMergeKeepsMaximum(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if _, err := store.Usage().Add(ctx, "a.com", "2024-01-02", 5000); err != nil {
		t.Fatalf("add: %v", err)
	}

	imported := storage.Ledger{}
	imported.Set("a.com", "2024-01-02", 1000)
	imported.Set("b.com", "2024-01-02", 7000)
	if err := store.Usage().Merge(ctx, imported); err != nil {
		t.Fatalf("merge: %v", err)
	}

	if v, _ := store.Usage().Get(ctx, "a.com", "2024-01-02"); v != 5000 {
		t.Errorf("merge must not lower a.com, got %d", v)
	}
	if v, _ := store.Usage().Get(ctx, "b.com", "2024-01-02"); v != 7000 {
		t.Errorf("expected b.com 7000, got %d", v)
	}
}

func TestAuthStore(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if _, err := store.Auth().Get(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	state := storage.AuthState{Token: "tok", User: &storage.User{ID: "u1", Email: "a@b.c"}, LastCheck: time.Now().UTC()}
	if err := store.Auth().Save(ctx, state); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Auth().Get(ctx)
	if err != nil || got.Token != "tok" || got.User.Email != "a@b.c" {
		t.Fatalf("unexpected auth state %+v (%v)", got, err)
	}

	if err := store.Auth().Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := store.Auth().Clear(ctx); err != nil {
		t.Fatalf("clearing twice should be a no-op: %v", err)
	}
}

func TestOpenMigratesSecondsToMillis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.db")

	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		t.Fatalf("open raw db: %v", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucketUsage))
		if err != nil {
			return err
		}
		return b.Put([]byte(usageKey("2024-01-02", "youtube.com")), []byte("90"))
	})
	if err != nil {
		t.Fatalf("seed legacy db: %v", err)
	}
	_ = db.Close()

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = store.Close() }()

	version, err := store.SchemaVersion()
	if err != nil || version != storage.SchemaVersion {
		t.Fatalf("expected schema version %d, got %d (%v)", storage.SchemaVersion, version, err)
	}
	v, err := store.Usage().Get(context.Background(), "youtube.com", "2024-01-02")
	if err != nil || v != 90000 {
		t.Fatalf("expected 90000ms after migration, got %d (%v)", v, err)
	}
}

func TestOpenFreshStoreRecordsVersion(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	version, err := store.SchemaVersion()
	if err != nil || version != storage.SchemaVersion {
		t.Fatalf("expected schema version %d, got %d (%v)", storage.SchemaVersion, version, err)
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "focusguard.db")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}
