package matcher

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is used when the configured cache size is not positive.
const DefaultCacheSize = 1024

// Matcher resolves hosts to the protected rule domain they fall under.
// Results are cached per host for the rule list they were computed from; a
// different list passed to Find, or a call to Invalidate, drops the cache.
type Matcher struct {
	cache  *lru.Cache[string, string]
	bypass []glob.Glob

	mu    sync.Mutex
	rules string
}

// New creates a Matcher. Bypass patterns are shell-style globs matched against
// normalized hosts, e.g. "*.internal" or "localhost".
func New(cacheSize int, bypass []string) (*Matcher, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create match cache: %w", err)
	}

	m := &Matcher{cache: cache}
	for _, pattern := range bypass {
		g, err := glob.Compile(strings.ToLower(pattern), '.')
		if err != nil {
			return nil, fmt.Errorf("invalid bypass pattern %q: %w", pattern, err)
		}
		m.bypass = append(m.bypass, g)
	}
	return m, nil
}

// Bypassed reports whether host is excluded from matching and tracking.
func (m *Matcher) Bypassed(host string) bool {
	host = Normalize(host)
	for _, g := range m.bypass {
		if g.Match(host) {
			return true
		}
	}
	return false
}

// Find returns the rule domain that host falls under. An exact match wins;
// otherwise the longest matching rule domain is chosen.
func (m *Matcher) Find(host string, domains []string) (string, bool) {
	host = Normalize(host)
	if host == "" {
		return "", false
	}

	m.syncRules(domains)

	cached, ok := m.cache.Get(host)
	if ok {
		return cached, cached != ""
	}

	best := ""
	for _, d := range domains {
		if !Matches(host, d) {
			continue
		}
		nd := Normalize(d)
		if nd == host {
			best = nd
			break
		}
		if len(nd) > len(best) {
			best = nd
		}
	}

	m.cache.Add(host, best)
	return best, best != ""
}

// syncRules purges the cache when domains differs from the list the cached
// results were computed from. Rules may change in another process sharing
// the store.
func (m *Matcher) syncRules(domains []string) {
	sorted := append([]string(nil), domains...)
	sort.Strings(sorted)
	key := strings.Join(sorted, "\n")

	m.mu.Lock()
	defer m.mu.Unlock()
	if key != m.rules {
		m.cache.Purge()
		m.rules = key
	}
}

// Invalidate drops all cached results.
func (m *Matcher) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache.Purge()
	m.rules = ""
}
