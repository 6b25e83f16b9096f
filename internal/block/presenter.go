package block

import (
	"context"
	"fmt"
	"sync"

	"github.com/goodtune/focusguard/internal/metrics"
	"github.com/rs/zerolog"
)

// Navigator moves browser tabs.
type Navigator interface {
	Navigate(ctx context.Context, tab int, url string) error
	GoBack(ctx context.Context, tab int) error
}

// Interstitial is a shown block plus where the tab was headed.
type Interstitial struct {
	Block
	Origin   string
	Failures int
}

// Presenter keeps at most one interstitial per tab.
type Presenter struct {
	nav     Navigator
	baseURL string
	logger  zerolog.Logger

	mu    sync.Mutex
	shown map[int]*Interstitial
}

// NewPresenter creates a presenter serving interstitials under baseURL.
func NewPresenter(nav Navigator, baseURL string, logger zerolog.Logger) *Presenter {
	return &Presenter{
		nav:     nav,
		baseURL: baseURL,
		shown:   make(map[int]*Interstitial),
		logger:  logger.With().Str("component", "block").Logger(),
	}
}

// BaseURL returns the address interstitials are served from.
func (p *Presenter) BaseURL() string {
	return p.baseURL
}

// Show sends the tab to the interstitial for b. Showing the same block again
// is a no-op while the tab is still on it; callers Forget a tab that has
// navigated elsewhere. A failed navigation leaves no record behind.
func (p *Presenter) Show(ctx context.Context, b Block, origin string) error {
	p.mu.Lock()
	if cur, ok := p.shown[b.Tab]; ok && cur.Block == b {
		p.mu.Unlock()
		return nil
	}
	it := &Interstitial{Block: b, Origin: origin}
	p.shown[b.Tab] = it
	p.mu.Unlock()

	metrics.BlocksTotal.WithLabelValues(string(b.Reason)).Inc()
	p.logger.Info().
		Int("tab", b.Tab).
		Str("domain", b.Domain).
		Str("reason", string(b.Reason)).
		Msg("Showing interstitial")

	if err := p.nav.Navigate(ctx, b.Tab, b.URL(p.baseURL)); err != nil {
		p.mu.Lock()
		if p.shown[b.Tab] == it {
			delete(p.shown, b.Tab)
		}
		p.mu.Unlock()
		return fmt.Errorf("navigate tab %d to interstitial: %w", b.Tab, err)
	}
	return nil
}

// Active returns the tab's interstitial, if any.
func (p *Presenter) Active(tab int) (Interstitial, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, ok := p.shown[tab]
	if !ok {
		return Interstitial{}, false
	}
	return *cur, true
}

// Fail records a rejected password on the tab's interstitial.
func (p *Presenter) Fail(tab int) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, ok := p.shown[tab]
	if !ok {
		return 0
	}
	cur.Failures++
	return cur.Failures
}

// Release dismisses a password interstitial and returns the tab to its
// origin. Time-limit interstitials return ErrNoUnlock.
func (p *Presenter) Release(ctx context.Context, tab int) error {
	p.mu.Lock()
	cur, ok := p.shown[tab]
	if !ok || cur.Reason != ReasonPasswordRequired {
		p.mu.Unlock()
		return ErrNoUnlock
	}
	delete(p.shown, tab)
	p.mu.Unlock()

	return p.restore(ctx, *cur)
}

// ReleaseDomain releases every password interstitial shown for domain and
// returns the affected tabs.
func (p *Presenter) ReleaseDomain(ctx context.Context, domain string) []int {
	p.mu.Lock()
	var released []Interstitial
	for tab, cur := range p.shown {
		if cur.Domain == domain && cur.Reason == ReasonPasswordRequired {
			released = append(released, *cur)
			delete(p.shown, tab)
		}
	}
	p.mu.Unlock()

	tabs := make([]int, 0, len(released))
	for _, it := range released {
		if err := p.restore(ctx, it); err != nil {
			p.logger.Warn().Err(err).Int("tab", it.Tab).Msg("Failed to restore tab")
		}
		tabs = append(tabs, it.Tab)
	}
	return tabs
}

func (p *Presenter) restore(ctx context.Context, it Interstitial) error {
	origin := it.Origin
	if origin == "" {
		origin = "https://" + it.Domain + "/"
	}

	p.logger.Info().Int("tab", it.Tab).Str("domain", it.Domain).Msg("Interstitial released")
	if err := p.nav.Navigate(ctx, it.Tab, origin); err != nil {
		return fmt.Errorf("navigate tab %d to origin: %w", it.Tab, err)
	}
	return nil
}

// Cancel drops the interstitial and sends the tab back without granting access.
func (p *Presenter) Cancel(ctx context.Context, tab int) error {
	p.mu.Lock()
	delete(p.shown, tab)
	p.mu.Unlock()

	if err := p.nav.GoBack(ctx, tab); err != nil {
		return fmt.Errorf("go back on tab %d: %w", tab, err)
	}
	return nil
}

// CancelDomain cancels every interstitial for domain.
func (p *Presenter) CancelDomain(ctx context.Context, domain string) []int {
	p.mu.Lock()
	var tabs []int
	for tab, cur := range p.shown {
		if cur.Domain == domain {
			tabs = append(tabs, tab)
		}
	}
	p.mu.Unlock()

	for _, tab := range tabs {
		if err := p.Cancel(ctx, tab); err != nil {
			p.logger.Warn().Err(err).Int("tab", tab).Msg("Failed to cancel interstitial")
		}
	}
	return tabs
}

// Forget drops a tab's state without navigating, e.g. after the tab closed.
func (p *Presenter) Forget(tab int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.shown, tab)
}
