package agent

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/focusguard/internal/analytics"
	"github.com/goodtune/focusguard/internal/backend"
	"github.com/goodtune/focusguard/internal/gate"
	"github.com/goodtune/focusguard/internal/matcher"
	"github.com/goodtune/focusguard/internal/metrics"
	"github.com/goodtune/focusguard/internal/site"
	"github.com/goodtune/focusguard/internal/storage"
	"github.com/google/uuid"
)

// AddProtectedSite validates and stores a rule, replacing any rule for the
// same domain. The replacement keeps the id and creation time and requires a
// fresh unlock.
func (e *Engine) AddProtectedSite(ctx context.Context, in site.RuleInput) (*site.Rule, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	domain := matcher.Normalize(in.Domain)
	if !matcher.Valid(domain) {
		return nil, &site.ValidationError{Field: "domain", Reason: "not a valid domain name"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rule := site.Rule{
		ID:                uuid.NewString(),
		Domain:            domain,
		DailyLimitMinutes: in.DailyLimitMinutes,
		InstantProtect:    in.InstantProtect,
		CreatedAt:         e.clock.Now(),
	}
	if in.Password != "" {
		rule.PasswordHash = gate.Hash(in.Password)
	}

	existing, err := e.store.Rules().Get(ctx, domain)
	switch {
	case err == nil:
		rule.ID = existing.ID
		rule.CreatedAt = existing.CreatedAt
	case !errors.Is(err, storage.ErrNotFound):
		return nil, site.StorageError("load rule", err)
	}

	if err := e.store.Rules().Upsert(ctx, rule); err != nil {
		return nil, site.StorageError("save rule", err)
	}
	e.matcher.Invalidate()
	e.syncer.PushRule(rule)

	e.logger.Info().
		Str("domain", domain).
		Bool("password", rule.PasswordProtected()).
		Int("daily_limit_minutes", rule.DailyLimitMinutes).
		Bool("instant_protect", rule.InstantProtect).
		Msg("Protected site saved")

	e.refocusLocked(ctx)
	return &rule, nil
}

// ListProtectedSites returns every rule.
func (e *Engine) ListProtectedSites(ctx context.Context) ([]site.Rule, error) {
	rules, err := e.store.Rules().List(ctx)
	if err != nil {
		return nil, site.StorageError("list rules", err)
	}
	return rules, nil
}

// RemoveProtectedSite deletes the rule for domain.
func (e *Engine) RemoveProtectedSite(ctx context.Context, domain string) error {
	domain = matcher.Normalize(domain)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.store.Rules().Delete(ctx, domain); err != nil {
		return notFound(err, "delete rule "+domain)
	}
	e.matcher.Invalidate()
	e.gate.Reset(domain)
	e.syncer.PushRuleDelete(domain)

	e.logger.Info().Str("domain", domain).Msg("Protected site removed")

	e.refocusLocked(ctx)
	return nil
}

// VerifyPassword checks password against domain's rule. On success the
// session window restarts and every password interstitial for the domain is
// released so its tab re-evaluates.
func (e *Engine) VerifyPassword(ctx context.Context, domain, password string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.verifyLocked(ctx, matcher.Normalize(domain), password, -1)
}

// Unlock is VerifyPassword submitted from the interstitial on tab.
func (e *Engine) Unlock(ctx context.Context, tab int, domain, password string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.verifyLocked(ctx, matcher.Normalize(domain), password, tab)
}

func (e *Engine) verifyLocked(ctx context.Context, domain, password string, tab int) (bool, error) {
	rule, err := e.store.Rules().Get(ctx, domain)
	if err != nil {
		return false, notFound(err, "load rule "+domain)
	}
	if err := e.gate.Allow(domain); err != nil {
		metrics.PasswordAttemptsTotal.WithLabelValues("limited").Inc()
		return false, err
	}

	if !gate.Verify(password, *rule) {
		metrics.PasswordAttemptsTotal.WithLabelValues("rejected").Inc()
		if tab >= 0 {
			e.presenter.Fail(tab)
		}
		e.logger.Info().Str("domain", domain).Msg("Password rejected")
		return false, nil
	}
	metrics.PasswordAttemptsTotal.WithLabelValues("accepted").Inc()

	if _, err := e.store.Rules().TouchLastAccess(ctx, domain, e.clock.Now()); err != nil {
		return false, notFound(err, "touch rule "+domain)
	}
	e.gate.Reset(domain)

	released := e.presenter.ReleaseDomain(ctx, domain)
	e.logger.Info().Str("domain", domain).Ints("tabs", released).Msg("Password accepted")

	e.refocusLocked(ctx)
	return true, nil
}

// HandleCancel abandons every interstitial for domain without granting access.
func (e *Engine) HandleCancel(ctx context.Context, domain string) []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.presenter.CancelDomain(ctx, matcher.Normalize(domain))
}

// CancelTab abandons the interstitial on one tab.
func (e *Engine) CancelTab(ctx context.Context, tab int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.presenter.Cancel(ctx, tab)
}

// GetAnalytics aggregates the last period days of the ledger.
func (e *Engine) GetAnalytics(ctx context.Context, period int) (analytics.Report, error) {
	ledger, err := e.store.Usage().Ledger(ctx)
	if err != nil {
		return analytics.Report{}, site.StorageError("read ledger", err)
	}
	return analytics.Aggregate(ledger, period, e.clock.Now()), nil
}

// ClearData erases the usage ledger. Rules and the account session are kept.
func (e *Engine) ClearData(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.tracker.StopAll()
	if err := e.store.Usage().Clear(ctx); err != nil {
		return site.StorageError("clear usage", err)
	}
	e.logger.Info().Msg("Usage data cleared")

	e.refocusLocked(ctx)
	return nil
}

// ForceSyncAnalytics replays the ledger to the account. The engine lock is not
// held across network calls.
func (e *Engine) ForceSyncAnalytics(ctx context.Context) (backend.AnalyticsResult, error) {
	return e.syncer.ForceSyncAnalytics(ctx)
}

// SyncProtectedSites reconciles rules with the account and applies imports.
func (e *Engine) SyncProtectedSites(ctx context.Context) (backend.SitesResult, error) {
	result, err := e.syncer.SyncProtectedSites(ctx)
	if err != nil {
		return result, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if result.Imported > 0 {
		e.matcher.Invalidate()
		e.refocusLocked(ctx)
	}
	return result, nil
}

// Status is a snapshot of the engine.
type Status struct {
	Focus        *Focus         `json:"focus,omitempty"`
	ActiveTimers map[int]string `json:"active_timers"`
	Rules        int            `json:"rules"`
	Scope        string         `json:"scope"`
	Now          time.Time      `json:"now"`
	Sync         backend.Status `json:"sync"`
}

// Status reports focus, timers and account state.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	rules, err := e.store.Rules().List(ctx)
	if err != nil {
		return Status{}, site.StorageError("list rules", err)
	}
	syncStatus, err := e.syncer.Status(ctx)
	if err != nil {
		return Status{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	status := Status{
		ActiveTimers: e.tracker.Active(),
		Rules:        len(rules),
		Scope:        e.scope,
		Now:          e.clock.Now(),
		Sync:         syncStatus,
	}
	if e.focus != nil {
		f := *e.focus
		status.Focus = &f
	}
	return status, nil
}

// ImportResult reports an import.
type ImportResult struct {
	Rules   int `json:"rules"`
	Skipped int `json:"skipped"`
	Entries int `json:"entries"`
}

// Import stores rules and ledger entries from an export. Rules whose domain
// does not normalize to a valid name are skipped; an imported rule replaces
// any local rule for the same domain. Ledger entries are merged keeping the
// larger value.
func (e *Engine) Import(ctx context.Context, rules []site.Rule, ledger storage.Ledger) (ImportResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var result ImportResult
	for _, rule := range rules {
		rule.Domain = matcher.Normalize(rule.Domain)
		if !matcher.Valid(rule.Domain) || rule.DailyLimitMinutes < 0 || rule.DailyLimitMinutes > site.MaxDailyLimitMinutes {
			result.Skipped++
			continue
		}
		if rule.ID == "" {
			rule.ID = uuid.NewString()
		}
		if rule.CreatedAt.IsZero() {
			rule.CreatedAt = e.clock.Now()
		}
		if err := e.store.Rules().Upsert(ctx, rule); err != nil {
			return result, site.StorageError("import rule "+rule.Domain, err)
		}
		result.Rules++
	}

	normalized := storage.Ledger{}
	for domain, days := range ledger {
		d := matcher.Normalize(domain)
		if d == "" {
			continue
		}
		for date, ms := range days {
			if ms > normalized[d][date] {
				normalized.Set(d, date, ms)
			}
			result.Entries++
		}
	}
	if len(normalized) > 0 {
		if err := e.store.Usage().Merge(ctx, normalized); err != nil {
			return result, site.StorageError("import ledger", err)
		}
	}

	e.matcher.Invalidate()
	e.logger.Info().
		Int("rules", result.Rules).
		Int("skipped", result.Skipped).
		Int("entries", result.Entries).
		Msg("Import complete")

	e.refocusLocked(ctx)
	return result, nil
}
