// Package gate hashes and verifies site passwords and tracks the session
// window that follows a successful unlock.
package gate

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/goodtune/focusguard/internal/site"
)

// DefaultSessionWindow is how long an unlock stays valid.
const DefaultSessionWindow = 30 * time.Minute

// ErrTooManyAttempts is returned when the per-domain attempt limiter rejects a guess.
var ErrTooManyAttempts = errors.New("too many password attempts")

// Hash returns the hex-encoded SHA-256 digest of password.
func Hash(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether password matches the rule's stored digest.
// Rules without a password never verify.
func Verify(password string, rule site.Rule) bool {
	if !rule.PasswordProtected() {
		return false
	}
	got := Hash(password)
	return subtle.ConstantTimeCompare([]byte(got), []byte(rule.PasswordHash)) == 1
}

// IsSessionValid reports whether last is set and no older than window at now.
func IsSessionValid(last *time.Time, now time.Time, window time.Duration) bool {
	if last == nil {
		return false
	}
	return now.Sub(*last) <= window
}

// Gate applies the session window and an optional per-domain attempt limit.
type Gate struct {
	window   time.Duration
	perMin   int
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
}

// New creates a Gate. attemptsPerMinute <= 0 disables attempt limiting.
func New(window time.Duration, attemptsPerMinute int) *Gate {
	if window <= 0 {
		window = DefaultSessionWindow
	}
	return &Gate{
		window:   window,
		perMin:   attemptsPerMinute,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Window returns the configured session window.
func (g *Gate) Window() time.Duration {
	return g.window
}

// SessionValid applies the configured window to rule.LastAccess.
func (g *Gate) SessionValid(rule site.Rule, now time.Time) bool {
	return IsSessionValid(rule.LastAccess, now, g.window)
}

// Allow consumes one attempt for domain. It always succeeds when limiting is disabled.
func (g *Gate) Allow(domain string) error {
	if g.perMin <= 0 {
		return nil
	}

	g.mu.Lock()
	limiter, ok := g.limiters[domain]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(g.perMin)), g.perMin)
		g.limiters[domain] = limiter
	}
	g.mu.Unlock()

	if !limiter.Allow() {
		return ErrTooManyAttempts
	}
	return nil
}

// Reset forgets the attempt history for domain, e.g. after the rule is removed.
func (g *Gate) Reset(domain string) {
	g.mu.Lock()
	delete(g.limiters, domain)
	g.mu.Unlock()
}
