package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/focusguard/internal/config"
	"github.com/goodtune/focusguard/internal/site"
	"github.com/goodtune/focusguard/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// Host carries the full "host:port" from miniredis
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 5,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func TestOpen_RecordsSchemaVersion(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	got, err := mr.Get("focusguard:schema_version")
	if err != nil {
		t.Fatalf("schema version not recorded: %v", err)
	}
	if got != "2" {
		t.Errorf("Expected schema version 2, got %s", got)
	}
}

func TestOpen_RejectsNewerSchema(t *testing.T) {
	mr := miniredis.RunT(t)
	if err := mr.Set("focusguard:schema_version", "9"); err != nil {
		t.Fatalf("seed schema version: %v", err)
	}

	_, err := Open(config.RedisConfig{Host: mr.Addr(), DialTimeout: "1s", ReadTimeout: "1s", WriteTimeout: "1s"})
	if err == nil {
		t.Fatal("Expected error for unsupported schema version")
	}
}

func TestRuleStore_CRUD(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	rules := store.Rules()
	now := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

	if err := rules.Upsert(ctx, site.Rule{ID: "2", Domain: "reddit.com", CreatedAt: now.Add(time.Minute)}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if err := rules.Upsert(ctx, site.Rule{ID: "1", Domain: "youtube.com", DailyLimitMinutes: 30, CreatedAt: now}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	list, err := rules.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 || list[0].Domain != "youtube.com" {
		t.Fatalf("Expected creation order, got %+v", list)
	}

	rule, err := rules.Get(ctx, "youtube.com")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rule.DailyLimitMinutes != 30 {
		t.Errorf("Expected limit 30, got %d", rule.DailyLimitMinutes)
	}

	if err := rules.Delete(ctx, "youtube.com"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := rules.Get(ctx, "youtube.com"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := rules.Delete(ctx, "youtube.com"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

func TestRuleStore_TouchLastAccess(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if err := store.Rules().Upsert(ctx, site.Rule{ID: "1", Domain: "example.com", PasswordHash: "abc"}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	at := time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC)
	rule, err := store.Rules().TouchLastAccess(ctx, "example.com", at)
	if err != nil {
		t.Fatalf("TouchLastAccess failed: %v", err)
	}
	if rule.LastAccess == nil || !rule.LastAccess.Equal(at) {
		t.Fatalf("Expected last access %v, got %v", at, rule.LastAccess)
	}

	stored, _ := store.Rules().Get(ctx, "example.com")
	if stored.LastAccess == nil || stored.PasswordHash != "abc" {
		t.Errorf("Stored rule not updated correctly: %+v", stored)
	}

	if _, err := store.Rules().TouchLastAccess(ctx, "missing.com", at); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestUsageStore_AddAndLedger(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	usage := store.Usage()

	var total int64
	var err error
	for i := 0; i < 5; i++ {
		total, err = usage.Add(ctx, "youtube.com", "2024-01-02", 1000)
		if err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}
	if total != 5000 {
		t.Errorf("Expected total 5000, got %d", total)
	}

	if _, err := usage.Add(ctx, "reddit.com", "2024-01-03", 250); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got, err := usage.Get(ctx, "youtube.com", "2024-01-02")
	if err != nil || got != 5000 {
		t.Errorf("Expected 5000, got %d (%v)", got, err)
	}
	missing, err := usage.Get(ctx, "youtube.com", "2024-01-09")
	if err != nil || missing != 0 {
		t.Errorf("Expected 0 for missing cell, got %d (%v)", missing, err)
	}

	ledger, err := usage.Ledger(ctx)
	if err != nil {
		t.Fatalf("Ledger failed: %v", err)
	}
	if ledger["youtube.com"]["2024-01-02"] != 5000 || ledger["reddit.com"]["2024-01-03"] != 250 {
		t.Errorf("Unexpected ledger: %v", ledger)
	}
}

func TestUsageStore_DeleteBeforeAndClear(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	usage := store.Usage()

	for _, date := range []string{"2024-01-01", "2024-01-02", "2024-01-03"} {
		if _, err := usage.Add(ctx, "a.com", date, 10); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
		if _, err := usage.Add(ctx, "b.com", date, 10); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	deleted, err := usage.DeleteBefore(ctx, "2024-01-03")
	if err != nil {
		t.Fatalf("DeleteBefore failed: %v", err)
	}
	if deleted != 4 {
		t.Errorf("Expected 4 cells deleted, got %d", deleted)
	}
	if mr.Exists("focusguard:usage:2024-01-01") {
		t.Error("Expected old date hash to be removed")
	}

	if err := usage.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	ledger, _ := usage.Ledger(ctx)
	if len(ledger) != 0 {
		t.Errorf("Expected empty ledger, got %v", ledger)
	}
}

func TestUsageStore_Merge(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if _, err := store.Usage().Add(ctx, "a.com", "2024-01-02", 900); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	imported := storage.Ledger{}
	imported.Set("a.com", "2024-01-02", 100)
	imported.Set("a.com", "2024-01-03", 300)
	if err := store.Usage().Merge(ctx, imported); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	ledger, _ := store.Usage().Ledger(ctx)
	if ledger["a.com"]["2024-01-02"] != 900 || ledger["a.com"]["2024-01-03"] != 300 {
		t.Errorf("Unexpected ledger after merge: %v", ledger)
	}
}

func TestAuthStore(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if _, err := store.Auth().Get(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	state := storage.AuthState{Token: "tok", User: &storage.User{ID: "u1"}, LastCheck: time.Now().UTC()}
	if err := store.Auth().Save(ctx, state); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := store.Auth().Get(ctx)
	if err != nil || got.Token != "tok" || got.User.ID != "u1" {
		t.Fatalf("Unexpected auth state %+v (%v)", got, err)
	}

	if err := store.Auth().Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, err := store.Auth().Get(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after clear, got %v", err)
	}
}
