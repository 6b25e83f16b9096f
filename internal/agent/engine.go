// Package agent implements the tab lifecycle dispatcher. Every tab event,
// timer tick and command runs under a single engine lock, re-reading stored
// state before it writes.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goodtune/focusguard/internal/backend"
	"github.com/goodtune/focusguard/internal/block"
	"github.com/goodtune/focusguard/internal/config"
	"github.com/goodtune/focusguard/internal/gate"
	"github.com/goodtune/focusguard/internal/matcher"
	"github.com/goodtune/focusguard/internal/metrics"
	"github.com/goodtune/focusguard/internal/policy"
	"github.com/goodtune/focusguard/internal/site"
	"github.com/goodtune/focusguard/internal/storage"
	"github.com/goodtune/focusguard/internal/usage"
	"github.com/rs/zerolog"
)

// Presenter shows and dismisses interstitials.
type Presenter interface {
	BaseURL() string
	Show(ctx context.Context, b block.Block, origin string) error
	Fail(tab int) int
	ReleaseDomain(ctx context.Context, domain string) []int
	Cancel(ctx context.Context, tab int) error
	CancelDomain(ctx context.Context, domain string) []int
	Forget(tab int)
}

// Syncer replicates local state to the account.
type Syncer interface {
	PushUsage(domain, url string, d time.Duration)
	PushRule(rule site.Rule)
	PushRuleDelete(domain string)
	ForceSyncAnalytics(ctx context.Context) (backend.AnalyticsResult, error)
	SyncProtectedSites(ctx context.Context) (backend.SitesResult, error)
	Status(ctx context.Context) (backend.Status, error)
}

// Deps are the engine's collaborators.
type Deps struct {
	Store     storage.Store
	Evaluator policy.Evaluator
	Presenter Presenter
	Syncer    Syncer
	Gate      *gate.Gate
	Matcher   *matcher.Matcher
}

// Config holds engine configuration
type Config struct {
	Scope        string
	TickInterval time.Duration
	Clock        clock.Clock
}

// Focus is the currently focused tab.
type Focus struct {
	Tab    int       `json:"tab"`
	Domain string    `json:"domain"`
	URL    string    `json:"url"`
	Since  time.Time `json:"since"`
}

// Engine is the tab lifecycle tracker and command handler.
type Engine struct {
	store     storage.Store
	evaluator policy.Evaluator
	presenter Presenter
	syncer    Syncer
	gate      *gate.Gate
	matcher   *matcher.Matcher
	tracker   *usage.Tracker
	clock     clock.Clock
	scope     string
	logger    zerolog.Logger

	mu    sync.Mutex
	focus *Focus
}

// New creates an engine. The engine owns a usage.Tracker whose ticks it
// handles itself.
func New(deps Deps, cfg Config, logger zerolog.Logger) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Scope == "" {
		cfg.Scope = config.ScopeProtected
	}
	if deps.Gate == nil {
		deps.Gate = gate.New(gate.DefaultSessionWindow, 0)
	}
	if deps.Matcher == nil {
		deps.Matcher, _ = matcher.New(matcher.DefaultCacheSize, nil)
	}

	e := &Engine{
		store:     deps.Store,
		evaluator: deps.Evaluator,
		presenter: deps.Presenter,
		syncer:    deps.Syncer,
		gate:      deps.Gate,
		matcher:   deps.Matcher,
		clock:     cfg.Clock,
		scope:     cfg.Scope,
		logger:    logger.With().Str("component", "engine").Logger(),
	}
	e.tracker = usage.NewTracker(deps.Store.Usage(), usage.Config{
		TickInterval: cfg.TickInterval,
		Clock:        cfg.Clock,
	}, e.onTick, logger)

	return e
}

// Tracker exposes the usage tracker.
func (e *Engine) Tracker() *usage.Tracker {
	return e.tracker
}

// Close stops every timer.
func (e *Engine) Close() {
	e.tracker.StopAll()
}

// TabActivated handles a tab gaining focus.
func (e *Engine) TabActivated(ctx context.Context, tab int, rawURL string) error {
	return e.handleTab(ctx, "activated", tab, rawURL)
}

// TabUpdated handles a completed navigation.
func (e *Engine) TabUpdated(ctx context.Context, tab int, rawURL string) error {
	return e.handleTab(ctx, "updated", tab, rawURL)
}

// TabRemoved handles a closed tab.
func (e *Engine) TabRemoved(ctx context.Context, tab int) {
	metrics.TabEventsTotal.WithLabelValues("removed").Inc()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.tracker.Stop(tab)
	e.presenter.Forget(tab)
	if e.focus != nil && e.focus.Tab == tab {
		e.focus = nil
	}
	e.logger.Debug().Int("tab", tab).Msg("Tab removed")
}

// Focused returns the focused tab, if any.
func (e *Engine) Focused() (Focus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.focus == nil {
		return Focus{}, false
	}
	return *e.focus, true
}

func (e *Engine) handleTab(ctx context.Context, kind string, tab int, rawURL string) error {
	metrics.TabEventsTotal.WithLabelValues(kind).Inc()

	if !matcher.IsWebURL(rawURL) || e.ownPage(rawURL) {
		return nil
	}
	host := matcher.ExtractDomain(rawURL)
	if host == "" || e.matcher.Bypassed(host) {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.focus != nil && e.focus.Tab != tab {
		e.tracker.Stop(e.focus.Tab)
	}
	since := e.clock.Now()
	if e.focus != nil && e.focus.Tab == tab && e.focus.Domain == host {
		since = e.focus.Since
	}
	e.focus = &Focus{Tab: tab, Domain: host, URL: rawURL, Since: since}

	// The tab has left any interstitial it was showing.
	e.presenter.Forget(tab)

	_, err := e.evaluateLocked(ctx, tab, host, rawURL)
	return err
}

func (e *Engine) ownPage(rawURL string) bool {
	base := e.presenter.BaseURL()
	return base != "" && strings.HasPrefix(rawURL, base)
}

// resolution is a matched rule plus the facts fed to the evaluator.
type resolution struct {
	rule        *site.Rule
	trackDomain string
	input       policy.Input
}

// resolve matches host against the stored rules and gathers evaluator input.
func (e *Engine) resolve(ctx context.Context, host string) (resolution, error) {
	rules, err := e.store.Rules().List(ctx)
	if err != nil {
		return resolution{}, site.StorageError("list rules", err)
	}

	domains := make([]string, len(rules))
	for i, r := range rules {
		domains[i] = r.Domain
	}

	res := resolution{input: policy.Input{Domain: host}}
	if ruleDomain, ok := e.matcher.Find(host, domains); ok {
		for i := range rules {
			if rules[i].Domain == ruleDomain {
				res.rule = &rules[i]
				break
			}
		}
	}

	switch {
	case res.rule != nil:
		res.trackDomain = res.rule.Domain
		res.input.Domain = res.rule.Domain
		res.input.Rule = res.rule
		res.input.SessionValid = e.gate.SessionValid(*res.rule, e.clock.Now())
	case e.scope == config.ScopeAll:
		res.trackDomain = host
	default:
		return res, nil
	}

	used, err := e.tracker.TodayUsage(ctx, res.trackDomain)
	if err != nil {
		return resolution{}, site.StorageError("read usage", err)
	}
	res.input.Usage = used
	return res, nil
}

// evaluateLocked decides and applies the tab's state. e.mu must be held.
func (e *Engine) evaluateLocked(ctx context.Context, tab int, host, rawURL string) (policy.Decision, error) {
	res, err := e.resolve(ctx, host)
	if err != nil {
		return policy.Decision{}, err
	}

	decision, err := e.evaluator.Evaluate(ctx, res.input)
	if err != nil {
		return policy.Decision{}, fmt.Errorf("evaluate %s: %w", host, err)
	}
	metrics.DecisionsTotal.WithLabelValues(string(decision.State)).Inc()

	e.apply(ctx, tab, res, decision, rawURL)
	return decision, nil
}

func (e *Engine) apply(ctx context.Context, tab int, res resolution, decision policy.Decision, rawURL string) {
	switch decision.State {
	case policy.StateGranted:
		e.presenter.Forget(tab)
		e.tracker.Start(tab, res.trackDomain)

	case policy.StateUnprotected:
		e.presenter.Forget(tab)
		if res.trackDomain != "" {
			e.tracker.Start(tab, res.trackDomain)
		} else {
			e.tracker.Stop(tab)
		}

	default:
		e.tracker.Stop(tab)
		reason, _ := block.ReasonFor(decision.State)
		b := block.Block{Tab: tab, Reason: reason, Domain: decision.Domain}
		if err := e.presenter.Show(ctx, b, rawURL); err != nil {
			e.logger.Warn().Err(err).Int("tab", tab).Msg("Failed to show interstitial")
		}
	}

	e.logger.Debug().
		Int("tab", tab).
		Str("domain", decision.Domain).
		Str("state", string(decision.State)).
		Dur("remaining", decision.Remaining).
		Msg("Tab evaluated")
}

// onTick commits one interval for a granted tab and re-checks its rule.
func (e *Engine) onTick(tab int, domain string, gen uint64) {
	ctx := context.Background()

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.tracker.IsCurrent(tab, gen) {
		return
	}
	if e.focus == nil || e.focus.Tab != tab {
		e.tracker.Stop(tab)
		return
	}
	focus := *e.focus

	res, err := e.resolve(ctx, focus.Domain)
	if err != nil {
		e.logger.Error().Err(err).Str("domain", domain).Msg("Tick failed")
		return
	}
	decision, err := e.evaluator.Evaluate(ctx, res.input)
	if err != nil {
		e.logger.Error().Err(err).Str("domain", domain).Msg("Tick evaluation failed")
		return
	}
	tracking := decision.State == policy.StateGranted ||
		(decision.State == policy.StateUnprotected && res.trackDomain != "")
	if !tracking || res.trackDomain != domain {
		metrics.DecisionsTotal.WithLabelValues(string(decision.State)).Inc()
		e.apply(ctx, tab, res, decision, focus.URL)
		return
	}

	interval := e.tracker.Interval()
	total, err := e.tracker.Commit(ctx, domain, interval)
	if err != nil {
		e.logger.Error().Err(err).Str("domain", domain).Msg("Failed to commit usage")
		return
	}
	e.syncer.PushUsage(domain, focus.URL, interval)

	if res.rule != nil && res.rule.TimeLimited() && total >= res.rule.DailyLimit() {
		if _, err := e.evaluateLocked(ctx, tab, focus.Domain, focus.URL); err != nil {
			e.logger.Error().Err(err).Str("domain", domain).Msg("Re-evaluation failed")
		}
	}
}

// refocusLocked re-evaluates the focused tab after a rule or ledger change.
func (e *Engine) refocusLocked(ctx context.Context) {
	if e.focus == nil {
		return
	}
	if _, err := e.evaluateLocked(ctx, e.focus.Tab, e.focus.Domain, e.focus.URL); err != nil {
		e.logger.Warn().Err(err).Msg("Failed to re-evaluate focused tab")
	}
}

// Evaluate reports the decision for rawURL without changing any state.
func (e *Engine) Evaluate(ctx context.Context, rawURL string) (policy.Decision, error) {
	host := matcher.ExtractDomain(rawURL)
	if host == "" {
		return policy.Decision{}, &site.ValidationError{Field: "url", Reason: "not a web URL"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.resolve(ctx, host)
	if err != nil {
		return policy.Decision{}, err
	}
	return e.evaluator.Evaluate(ctx, res.input)
}

func notFound(err error, what string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s: %w", what, site.ErrNotFound)
	}
	return site.StorageError(what, err)
}
