package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goodtune/focusguard/internal/matcher"
	"github.com/goodtune/focusguard/internal/metrics"
	"github.com/goodtune/focusguard/internal/site"
	"github.com/goodtune/focusguard/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultTimeout            = 10 * time.Second
	DefaultTokenCheckInterval = time.Hour
	DefaultMaxInFlight        = 8
)

// Config holds syncer configuration
type Config struct {
	Enabled            bool
	Timeout            time.Duration
	TokenCheckInterval time.Duration
	MaxInFlight        int
	Clock              clock.Clock
}

// AnalyticsResult reports a force sync of the usage ledger.
type AnalyticsResult struct {
	Pushed int `json:"pushed"`
	Failed int `json:"failed"`
}

// SitesResult reports a protected-site reconciliation.
type SitesResult struct {
	Uploaded int `json:"uploaded"`
	Imported int `json:"imported"`
	Failed   int `json:"failed"`
}

// Status describes the sync and account state.
type Status struct {
	Enabled       bool          `json:"enabled"`
	Authenticated bool          `json:"authenticated"`
	User          *storage.User `json:"user,omitempty"`
	ExpiresAt     *time.Time    `json:"expires_at,omitempty"`
	LastCheck     *time.Time    `json:"last_check,omitempty"`
	SessionID     string        `json:"session_id"`
}

// Syncer replicates local changes to the account on a best-effort basis.
// Push methods never block the caller and never report failures.
type Syncer struct {
	client *Client
	auth   storage.AuthStore
	usage  storage.UsageStore
	rules  storage.RuleStore
	config Config
	clock  clock.Clock
	logger zerolog.Logger

	sessionID string
	sem       *semaphore.Weighted
	wg        sync.WaitGroup
	tokenMu   sync.Mutex
}

// NewSyncer creates a syncer. client may be nil when sync is disabled.
func NewSyncer(client *Client, store storage.Store, config Config, logger zerolog.Logger) *Syncer {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.TokenCheckInterval <= 0 {
		config.TokenCheckInterval = DefaultTokenCheckInterval
	}
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = DefaultMaxInFlight
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if client == nil {
		config.Enabled = false
	}

	s := &Syncer{
		client:    client,
		auth:      store.Auth(),
		usage:     store.Usage(),
		rules:     store.Rules(),
		config:    config,
		clock:     config.Clock,
		sessionID: uuid.NewString(),
		sem:       semaphore.NewWeighted(int64(config.MaxInFlight)),
		logger:    logger.With().Str("component", "syncer").Logger(),
	}
	s.logger.Debug().Str("session_id", s.sessionID).Bool("enabled", config.Enabled).Msg("Syncer created")
	return s
}

// Enabled reports whether remote sync is configured.
func (s *Syncer) Enabled() bool {
	return s.config.Enabled
}

// SessionID identifies this agent run in analytics events.
func (s *Syncer) SessionID() string {
	return s.sessionID
}

// Wait blocks until in-flight pushes finish.
func (s *Syncer) Wait() {
	s.wg.Wait()
}

// token returns a usable bearer token, revalidating it when the last check
// is older than the configured interval. Revalidation failures caused by the
// network keep the cached token.
func (s *Syncer) token(ctx context.Context) (string, error) {
	s.tokenMu.Lock()
	defer s.tokenMu.Unlock()

	state, err := s.auth.Get(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return "", ErrUnauthenticated
	}
	if err != nil {
		return "", site.StorageError("load auth state", err)
	}
	if state.Token == "" {
		return "", ErrUnauthenticated
	}

	now := s.clock.Now()
	if state.ExpiresAt != nil && !now.Before(*state.ExpiresAt) {
		s.logger.Info().Msg("Session token expired")
		_ = s.auth.Clear(ctx)
		return "", ErrUnauthenticated
	}
	if now.Sub(state.LastCheck) < s.config.TokenCheckInterval {
		return state.Token, nil
	}

	sess, err := s.client.ValidateSession(ctx, state.Token)
	switch {
	case errors.Is(err, ErrUnauthenticated):
		s.logger.Info().Msg("Session token rejected by backend")
		_ = s.auth.Clear(ctx)
		return "", ErrUnauthenticated
	case err != nil:
		s.logger.Debug().Err(err).Msg("Token revalidation failed, keeping cached token")
		return state.Token, nil
	}

	state.LastCheck = now
	if sess.User != nil {
		state.User = sess.User
	}
	if sess.ExpiresAt != nil {
		state.ExpiresAt = sess.ExpiresAt
	}
	if err := s.auth.Save(ctx, *state); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist token check")
	}
	return state.Token, nil
}

// dispatch runs fn in the background unless the in-flight bound is reached,
// in which case the event is dropped.
func (s *Syncer) dispatch(kind string, fn func(ctx context.Context, token string) error) {
	if !s.config.Enabled {
		return
	}
	if !s.sem.TryAcquire(1) {
		metrics.SyncEventsTotal.WithLabelValues(kind, "dropped").Inc()
		s.logger.Debug().Str("kind", kind).Msg("Sync event dropped, too many in flight")
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sem.Release(1)

		ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
		defer cancel()

		token, err := s.token(ctx)
		if err == nil {
			err = fn(ctx, token)
		}

		switch {
		case err == nil:
			metrics.SyncEventsTotal.WithLabelValues(kind, "ok").Inc()
		case errors.Is(err, ErrUnauthenticated):
			metrics.SyncEventsTotal.WithLabelValues(kind, "unauthenticated").Inc()
			s.logger.Debug().Str("kind", kind).Msg("Sync skipped, not authenticated")
		default:
			metrics.SyncEventsTotal.WithLabelValues(kind, "error").Inc()
			s.logger.Warn().Err(err).Str("kind", kind).Msg("Sync push failed")
		}
	}()
}

// PushUsage reports d of foreground time on domain.
func (s *Syncer) PushUsage(domain, url string, d time.Duration) {
	now := s.clock.Now()
	ev := AnalyticsEvent{
		Domain:    domain,
		TimeSpent: d.Milliseconds(),
		Date:      storage.DateKey(now),
		Hour:      now.Hour(),
		Timestamp: now.UnixMilli(),
		SessionID: s.sessionID,
		URL:       url,
	}
	s.dispatch("analytics", func(ctx context.Context, token string) error {
		return s.client.PostAnalytics(ctx, token, ev)
	})
}

// PushRule replicates a created or replaced rule.
func (s *Syncer) PushRule(rule site.Rule) {
	remote := toRemote(rule)
	s.dispatch("site", func(ctx context.Context, token string) error {
		return s.client.PostSite(ctx, token, remote)
	})
}

// PushRuleDelete replicates a rule removal.
func (s *Syncer) PushRuleDelete(domain string) {
	s.dispatch("site_delete", func(ctx context.Context, token string) error {
		return s.client.DeleteSite(ctx, token, domain)
	})
}

// ForceSyncAnalytics replays every non-zero ledger entry.
func (s *Syncer) ForceSyncAnalytics(ctx context.Context) (AnalyticsResult, error) {
	if !s.config.Enabled {
		return AnalyticsResult{}, ErrDisabled
	}
	token, err := s.token(ctx)
	if err != nil {
		return AnalyticsResult{}, err
	}

	ledger, err := s.usage.Ledger(ctx)
	if err != nil {
		return AnalyticsResult{}, site.StorageError("read ledger", err)
	}

	var pushed, failed atomic.Int64
	now := s.clock.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.MaxInFlight)
	for _, entry := range ledger.Entries() {
		ev := AnalyticsEvent{
			Domain:    entry.Domain,
			TimeSpent: entry.Millis,
			Date:      entry.Date,
			Timestamp: now.UnixMilli(),
			SessionID: s.sessionID,
		}
		g.Go(func() error {
			reqCtx, cancel := context.WithTimeout(gctx, s.config.Timeout)
			defer cancel()
			if err := s.client.PostAnalytics(reqCtx, token, ev); err != nil {
				failed.Add(1)
				s.logger.Debug().Err(err).Str("domain", ev.Domain).Str("date", ev.Date).Msg("Replay failed")
				return nil
			}
			pushed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	result := AnalyticsResult{Pushed: int(pushed.Load()), Failed: int(failed.Load())}
	metrics.SyncEventsTotal.WithLabelValues("force_analytics", "ok").Add(float64(result.Pushed))
	metrics.SyncEventsTotal.WithLabelValues("force_analytics", "error").Add(float64(result.Failed))
	s.logger.Info().Int("pushed", result.Pushed).Int("failed", result.Failed).Msg("Analytics force sync complete")
	return result, nil
}

// SyncProtectedSites uploads local rules the account lacks and imports
// account rules missing locally. Existing rules on either side are kept.
func (s *Syncer) SyncProtectedSites(ctx context.Context) (SitesResult, error) {
	if !s.config.Enabled {
		return SitesResult{}, ErrDisabled
	}
	token, err := s.token(ctx)
	if err != nil {
		return SitesResult{}, err
	}

	remote, err := s.client.ListSites(ctx, token)
	if err != nil {
		return SitesResult{}, err
	}
	local, err := s.rules.List(ctx)
	if err != nil {
		return SitesResult{}, site.StorageError("list rules", err)
	}

	var result SitesResult
	remoteByDomain := make(map[string]RemoteSite, len(remote))
	for _, r := range remote {
		remoteByDomain[matcher.Normalize(r.Domain)] = r
	}
	localByDomain := make(map[string]bool, len(local))
	for _, rule := range local {
		localByDomain[rule.Domain] = true
		if _, ok := remoteByDomain[rule.Domain]; ok {
			continue
		}
		if err := s.client.PostSite(ctx, token, toRemote(rule)); err != nil {
			result.Failed++
			s.logger.Debug().Err(err).Str("domain", rule.Domain).Msg("Upload failed")
			continue
		}
		result.Uploaded++
	}

	now := s.clock.Now()
	for domain, r := range remoteByDomain {
		if localByDomain[domain] {
			continue
		}
		if !matcher.Valid(domain) || r.DailyLimitMinutes < 0 || r.DailyLimitMinutes > site.MaxDailyLimitMinutes {
			result.Failed++
			s.logger.Warn().Str("domain", r.Domain).Msg("Skipping invalid remote site")
			continue
		}
		rule := site.Rule{
			ID:                uuid.NewString(),
			Domain:            domain,
			PasswordHash:      r.PasswordHash,
			DailyLimitMinutes: r.DailyLimitMinutes,
			InstantProtect:    r.InstantProtect,
			CreatedAt:         now,
		}
		if err := s.rules.Upsert(ctx, rule); err != nil {
			return result, site.StorageError("import rule", err)
		}
		result.Imported++
	}

	s.logger.Info().
		Int("uploaded", result.Uploaded).
		Int("imported", result.Imported).
		Int("failed", result.Failed).
		Msg("Protected sites synced")
	return result, nil
}

// Login exchanges an account credential for a session token and caches it.
func (s *Syncer) Login(ctx context.Context, accountToken string) (*storage.AuthState, error) {
	if !s.config.Enabled {
		return nil, ErrDisabled
	}
	sess, err := s.client.IssueSession(ctx, accountToken)
	if err != nil {
		return nil, err
	}

	state := storage.AuthState{
		Token:     sess.Token,
		User:      sess.User,
		ExpiresAt: sess.ExpiresAt,
		LastCheck: s.clock.Now(),
	}
	if err := s.auth.Save(ctx, state); err != nil {
		return nil, site.StorageError("save auth state", err)
	}

	s.logger.Info().Msg("Logged in to backend")
	return &state, nil
}

// Logout forgets the cached session.
func (s *Syncer) Logout(ctx context.Context) error {
	if err := s.auth.Clear(ctx); err != nil {
		return site.StorageError("clear auth state", err)
	}
	return nil
}

// Status reports the cached account state without contacting the backend.
func (s *Syncer) Status(ctx context.Context) (Status, error) {
	status := Status{Enabled: s.config.Enabled, SessionID: s.sessionID}

	state, err := s.auth.Get(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return status, nil
	}
	if err != nil {
		return status, site.StorageError("load auth state", err)
	}

	status.Authenticated = state.Token != "" && (state.ExpiresAt == nil || s.clock.Now().Before(*state.ExpiresAt))
	status.User = state.User
	status.ExpiresAt = state.ExpiresAt
	if !state.LastCheck.IsZero() {
		last := state.LastCheck
		status.LastCheck = &last
	}
	return status, nil
}

func toRemote(rule site.Rule) RemoteSite {
	return RemoteSite{
		Domain:            rule.Domain,
		PasswordHash:      rule.PasswordHash,
		DailyLimitMinutes: rule.DailyLimitMinutes,
		InstantProtect:    rule.InstantProtect,
	}
}

func (r AnalyticsResult) String() string {
	return fmt.Sprintf("%d pushed, %d failed", r.Pushed, r.Failed)
}

func (r SitesResult) String() string {
	return fmt.Sprintf("%d uploaded, %d imported, %d failed", r.Uploaded, r.Imported, r.Failed)
}
