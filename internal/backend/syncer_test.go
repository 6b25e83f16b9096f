package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goodtune/focusguard/internal/site"
	"github.com/goodtune/focusguard/internal/storage"
	"github.com/goodtune/focusguard/internal/storage/bolt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// fakeBackend records what the agent sends it.
type fakeBackend struct {
	mu        sync.Mutex
	events    []AnalyticsEvent
	sites     map[string]RemoteSite
	deleted   []string
	validates int
	failFor   string
	valid     bool
	block     chan struct{}
}

func newFakeBackend(t *testing.T) (*fakeBackend, *httptest.Server) {
	fb := &fakeBackend{sites: map[string]RemoteSite{}, valid: true}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /analytics", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer ext-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if fb.block != nil {
			<-fb.block
		}
		var ev AnalyticsEvent
		_ = json.NewDecoder(r.Body).Decode(&ev)
		fb.mu.Lock()
		defer fb.mu.Unlock()
		if ev.Domain == fb.failFor {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fb.events = append(fb.events, ev)
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("GET /protected-sites", func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		defer fb.mu.Unlock()
		out := sitesResponse{}
		for _, s := range fb.sites {
			out.Sites = append(out.Sites, s)
		}
		writeJSON(w, out)
	})
	mux.HandleFunc("POST /protected-sites", func(w http.ResponseWriter, r *http.Request) {
		var s RemoteSite
		_ = json.NewDecoder(r.Body).Decode(&s)
		fb.mu.Lock()
		fb.sites[s.Domain] = s
		fb.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("DELETE /protected-sites", func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		fb.deleted = append(fb.deleted, r.URL.Query().Get("domain"))
		fb.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("POST /extension-session", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer account-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(Session{
			Token: "ext-token",
			Valid: true,
			User:  &storage.User{ID: "u1", Email: "me@example.com", Name: "Me"},
		})
	})
	mux.HandleFunc("GET /extension-session", func(w http.ResponseWriter, r *http.Request) {
		fb.mu.Lock()
		fb.validates++
		valid := fb.valid
		fb.mu.Unlock()
		writeJSON(w, Session{Valid: valid && r.URL.Query().Get("token") == "ext-token"})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fb, srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (fb *fakeBackend) eventCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return len(fb.events)
}

func (fb *fakeBackend) event(i int) AnalyticsEvent {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.events[i]
}

func (fb *fakeBackend) validations() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.validates
}

func (fb *fakeBackend) setSite(s RemoteSite) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.sites[s.Domain] = s
}

func (fb *fakeBackend) hasSite(domain string) bool {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	_, ok := fb.sites[domain]
	return ok
}

func newTestSyncer(t *testing.T, baseURL string, maxInFlight int) (*Syncer, storage.Store, *clock.Mock) {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "focusguard.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	mock := clock.NewMock()
	mock.Set(time.Date(2026, 3, 10, 14, 30, 0, 0, time.Local))

	client := NewClient(baseURL, 2*time.Second, zerolog.Nop())
	s := NewSyncer(client, store, Config{
		Enabled:            true,
		Timeout:            2 * time.Second,
		TokenCheckInterval: time.Hour,
		MaxInFlight:        maxInFlight,
		Clock:              mock,
	}, zerolog.Nop())
	return s, store, mock
}

func login(t *testing.T, s *Syncer) {
	t.Helper()
	if _, err := s.Login(context.Background(), "account-secret"); err != nil {
		t.Fatalf("login: %v", err)
	}
}

func TestLoginAndStatus(t *testing.T) {
	_, srv := newFakeBackend(t)
	s, _, _ := newTestSyncer(t, srv.URL, 4)
	ctx := context.Background()

	status, err := s.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Authenticated {
		t.Fatalf("expected unauthenticated before login")
	}

	if _, err := s.Login(ctx, "wrong"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	login(t, s)

	status, err = s.Status(ctx)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Authenticated || status.User == nil || status.User.Email != "me@example.com" {
		t.Errorf("unexpected status %+v", status)
	}
	if status.SessionID == "" || status.SessionID != s.SessionID() {
		t.Errorf("expected session id in status")
	}

	if err := s.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if status, _ := s.Status(ctx); status.Authenticated {
		t.Errorf("still authenticated after logout")
	}
}

func TestPushUsage(t *testing.T) {
	fb, srv := newFakeBackend(t)
	s, _, _ := newTestSyncer(t, srv.URL, 4)
	login(t, s)

	s.PushUsage("youtube.com", "https://youtube.com/watch", time.Second)
	s.Wait()

	require.Equal(t, 1, fb.eventCount())
	ev := fb.event(0)
	if ev.Domain != "youtube.com" || ev.TimeSpent != 1000 || ev.Date != "2026-03-10" || ev.Hour != 14 {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev.SessionID != s.SessionID() {
		t.Errorf("event carries session %q, want %q", ev.SessionID, s.SessionID())
	}
}

func TestPushWithoutTokenIsSilent(t *testing.T) {
	fb, srv := newFakeBackend(t)
	s, _, _ := newTestSyncer(t, srv.URL, 4)

	s.PushUsage("youtube.com", "", time.Second)
	s.PushRule(site.Rule{Domain: "a.com"})
	s.Wait()

	if fb.eventCount() != 0 || fb.hasSite("a.com") {
		t.Errorf("unauthenticated pushes reached the backend")
	}
}

func TestPushToUnreachableBackend(t *testing.T) {
	s, _, _ := newTestSyncer(t, "http://127.0.0.1:1", 4)
	ctx := context.Background()

	_ = s.auth.Save(ctx, storage.AuthState{Token: "ext-token", LastCheck: s.clock.Now()})

	s.PushUsage("youtube.com", "", time.Second)
	s.PushRuleDelete("a.com")
	s.Wait()

	if _, err := s.ForceSyncAnalytics(ctx); err != nil {
		t.Errorf("empty ledger force sync should succeed offline, got %v", err)
	}
}

func TestPushDroppedWhenSaturated(t *testing.T) {
	fb, srv := newFakeBackend(t)
	s, _, _ := newTestSyncer(t, srv.URL, 1)
	login(t, s)

	fb.block = make(chan struct{})
	s.PushUsage("a.com", "", time.Second)
	s.PushUsage("b.com", "", time.Second)
	close(fb.block)
	s.Wait()

	require.Equal(t, 1, fb.eventCount())
	if ev := fb.event(0); ev.Domain != "a.com" {
		t.Errorf("expected first event to win, got %s", ev.Domain)
	}
}

func TestTokenRevalidation(t *testing.T) {
	fb, srv := newFakeBackend(t)
	s, _, mock := newTestSyncer(t, srv.URL, 4)
	ctx := context.Background()
	login(t, s)

	if _, err := s.token(ctx); err != nil {
		t.Fatalf("token: %v", err)
	}
	if fb.validations() != 0 {
		t.Fatalf("fresh token should not be revalidated")
	}

	mock.Add(2 * time.Hour)
	if _, err := s.token(ctx); err != nil {
		t.Fatalf("token: %v", err)
	}
	if n := fb.validations(); n != 1 {
		t.Fatalf("expected one revalidation, got %d", n)
	}

	fb.mu.Lock()
	fb.valid = false
	fb.mu.Unlock()
	mock.Add(2 * time.Hour)
	if _, err := s.token(ctx); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated after revocation, got %v", err)
	}
	if _, err := s.auth.Get(ctx); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("revoked token should be cleared, got %v", err)
	}
}

func TestForceSyncAnalytics(t *testing.T) {
	fb, srv := newFakeBackend(t)
	s, store, _ := newTestSyncer(t, srv.URL, 2)
	ctx := context.Background()

	if _, err := s.ForceSyncAnalytics(ctx); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	login(t, s)

	ledger := storage.Ledger{}
	ledger.Set("a.com", "2026-03-09", 1000)
	ledger.Set("a.com", "2026-03-10", 2000)
	ledger.Set("b.com", "2026-03-10", 3000)
	ledger.Set("bad.com", "2026-03-10", 4000)
	ledger.Set("idle.com", "2026-03-10", 0)
	if err := store.Usage().Merge(ctx, ledger); err != nil {
		t.Fatalf("merge: %v", err)
	}

	fb.mu.Lock()
	fb.failFor = "bad.com"
	fb.mu.Unlock()
	result, err := s.ForceSyncAnalytics(ctx)
	if err != nil {
		t.Fatalf("force sync: %v", err)
	}
	if result.Pushed != 3 || result.Failed != 1 {
		t.Errorf("unexpected result %s", result)
	}
	if fb.eventCount() != 3 {
		t.Errorf("backend received %d events", fb.eventCount())
	}
}

func TestSyncProtectedSites(t *testing.T) {
	fb, srv := newFakeBackend(t)
	s, store, _ := newTestSyncer(t, srv.URL, 4)
	ctx := context.Background()
	login(t, s)

	if err := store.Rules().Upsert(ctx, site.Rule{ID: "r1", Domain: "local.com", DailyLimitMinutes: 10}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := store.Rules().Upsert(ctx, site.Rule{ID: "r2", Domain: "both.com"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	fb.setSite(RemoteSite{Domain: "both.com", DailyLimitMinutes: 99})
	fb.setSite(RemoteSite{Domain: "www.Remote.com", PasswordHash: "abc", InstantProtect: true})
	fb.setSite(RemoteSite{Domain: "broken"})

	result, err := s.SyncProtectedSites(ctx)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if result.Uploaded != 1 || result.Imported != 1 || result.Failed != 1 {
		t.Errorf("unexpected result %s", result)
	}
	if !fb.hasSite("local.com") {
		t.Errorf("local rule was not uploaded")
	}

	imported, err := store.Rules().Get(ctx, "remote.com")
	if err != nil {
		t.Fatalf("imported rule missing: %v", err)
	}
	if imported.PasswordHash != "abc" || !imported.InstantProtect || imported.ID == "" {
		t.Errorf("unexpected imported rule %+v", imported)
	}

	both, _ := store.Rules().Get(ctx, "both.com")
	if both.DailyLimitMinutes != 0 {
		t.Errorf("existing local rule was overwritten: %+v", both)
	}
}

func TestDisabledSyncer(t *testing.T) {
	store, err := bolt.Open(filepath.Join(t.TempDir(), "focusguard.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	s := NewSyncer(nil, store, Config{Enabled: true}, zerolog.Nop())
	if s.Enabled() {
		t.Fatalf("syncer without client must be disabled")
	}
	s.PushUsage("a.com", "", time.Second)
	s.Wait()

	if _, err := s.ForceSyncAnalytics(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Errorf("expected ErrDisabled, got %v", err)
	}
	if _, err := s.SyncProtectedSites(context.Background()); !errors.Is(err, ErrDisabled) {
		t.Errorf("expected ErrDisabled, got %v", err)
	}
}

func TestClientDecodesUnlabelledJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(`{"token":"ext-token","valid":true,"user":{"id":"u1","email":"me@example.com"}}`))
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, time.Second, zerolog.Nop())
	session, err := client.IssueSession(context.Background(), "account-secret")
	if err != nil {
		t.Fatalf("IssueSession: %v", err)
	}
	if session.Token != "ext-token" || session.User == nil || session.User.ID != "u1" {
		t.Errorf("session = %+v", session)
	}
}
