package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/goodtune/focusguard/internal/metrics"
	"github.com/goodtune/focusguard/internal/storage"
	"github.com/rs/zerolog"
)

// DefaultTickInterval is how much foreground time a single tick accounts for.
const DefaultTickInterval = time.Second

// TickFunc receives timer ticks. gen identifies the timer instance so a
// receiver can discard ticks from timers stopped in the meantime.
type TickFunc func(tab int, domain string, gen uint64)

// Config holds tracker configuration
type Config struct {
	TickInterval time.Duration
	Clock        clock.Clock
}

// Tracker owns at most one live timer per tab and writes elapsed time into
// the usage ledger.
type Tracker struct {
	usageStore storage.UsageStore
	clock      clock.Clock
	interval   time.Duration
	onTick     TickFunc
	logger     zerolog.Logger

	mu     sync.Mutex
	timers map[int]*timer
	gen    uint64
}

type timer struct {
	domain string
	gen    uint64
	ticker *clock.Ticker
	done   chan struct{}
}

// NewTracker creates a new usage tracker. onTick is invoked from the timer
// goroutine without any tracker lock held.
func NewTracker(usageStore storage.UsageStore, config Config, onTick TickFunc, logger zerolog.Logger) *Tracker {
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}

	return &Tracker{
		usageStore: usageStore,
		clock:      config.Clock,
		interval:   config.TickInterval,
		onTick:     onTick,
		timers:     make(map[int]*timer),
		logger:     logger.With().Str("component", "usage-tracker").Logger(),
	}
}

// Interval returns the time credited per tick.
func (t *Tracker) Interval() time.Duration {
	return t.interval
}

// Start begins accumulating for (tab, domain). A running timer for the same
// pair is left alone; a timer for another domain on the same tab is replaced.
func (t *Tracker) Start(tab int, domain string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.timers[tab]; ok {
		if cur.domain == domain {
			return cur.gen
		}
		t.stopLocked(tab, cur)
	}

	t.gen++
	tm := &timer{
		domain: domain,
		gen:    t.gen,
		ticker: t.clock.Ticker(t.interval),
		done:   make(chan struct{}),
	}
	t.timers[tab] = tm
	metrics.ActiveTimers.Set(float64(len(t.timers)))

	go t.run(tab, tm)

	t.logger.Debug().
		Int("tab", tab).
		Str("domain", domain).
		Uint64("gen", tm.gen).
		Msg("Timer started")

	return tm.gen
}

func (t *Tracker) run(tab int, tm *timer) {
	for {
		select {
		case <-tm.done:
			return
		case <-tm.ticker.C:
			select {
			case <-tm.done:
				return
			default:
			}
			if t.onTick != nil {
				t.onTick(tab, tm.domain, tm.gen)
			}
		}
	}
}

// Stop cancels the tab's timer. It never waits for an in-flight tick.
func (t *Tracker) Stop(tab int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if cur, ok := t.timers[tab]; ok {
		t.stopLocked(tab, cur)
	}
}

// StopAll cancels every timer.
func (t *Tracker) StopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for tab, cur := range t.timers {
		t.stopLocked(tab, cur)
	}
}

// stopLocked must be called with t.mu held
func (t *Tracker) stopLocked(tab int, tm *timer) {
	tm.ticker.Stop()
	close(tm.done)
	delete(t.timers, tab)
	metrics.ActiveTimers.Set(float64(len(t.timers)))

	t.logger.Debug().
		Int("tab", tab).
		Str("domain", tm.domain).
		Uint64("gen", tm.gen).
		Msg("Timer stopped")
}

// IsCurrent reports whether gen is still the tab's live timer.
func (t *Tracker) IsCurrent(tab int, gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.timers[tab]
	return ok && cur.gen == gen
}

// Domain returns the domain the tab's timer is accumulating for.
func (t *Tracker) Domain(tab int) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.timers[tab]
	if !ok {
		return "", false
	}
	return cur.domain, true
}

// Active returns tab -> domain for all running timers.
func (t *Tracker) Active() map[int]string {
	t.mu.Lock()
	defer t.mu.Unlock()

	active := make(map[int]string, len(t.timers))
	for tab, tm := range t.timers {
		active[tab] = tm.domain
	}
	return active
}

// Commit adds d to today's ledger cell for domain and returns the new total.
func (t *Tracker) Commit(ctx context.Context, domain string, d time.Duration) (time.Duration, error) {
	date := storage.DateKey(t.clock.Now())
	total, err := t.usageStore.Add(ctx, domain, date, d.Milliseconds())
	if err != nil {
		return 0, fmt.Errorf("failed to commit usage: %w", err)
	}

	metrics.UsageSecondsTotal.WithLabelValues(domain).Add(d.Seconds())
	return time.Duration(total) * time.Millisecond, nil
}

// TodayUsage returns the committed usage of domain for the current date.
func (t *Tracker) TodayUsage(ctx context.Context, domain string) (time.Duration, error) {
	ms, err := t.usageStore.Get(ctx, domain, storage.DateKey(t.clock.Now()))
	if err != nil {
		return 0, fmt.Errorf("failed to query daily usage: %w", err)
	}
	return time.Duration(ms) * time.Millisecond, nil
}
