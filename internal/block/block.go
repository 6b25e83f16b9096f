package block

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/goodtune/focusguard/internal/policy"
)

// Reason is why a tab is blocked.
type Reason string

const (
	ReasonPasswordRequired  Reason = "PASSWORD_REQUIRED"
	ReasonTimeLimitExceeded Reason = "TIME_LIMIT_EXCEEDED"
)

// ErrNoUnlock is returned when an interstitial has no unlock path.
var ErrNoUnlock = errors.New("block: interstitial cannot be unlocked")

// ParseReason parses a reason name.
func ParseReason(s string) (Reason, error) {
	switch r := Reason(strings.ToUpper(strings.TrimSpace(s))); r {
	case ReasonPasswordRequired, ReasonTimeLimitExceeded:
		return r, nil
	}
	return "", fmt.Errorf("unknown block reason %q", s)
}

// ReasonFor maps a blocking policy state to its interstitial reason.
func ReasonFor(state policy.State) (Reason, bool) {
	switch state {
	case policy.StatePasswordLocked:
		return ReasonPasswordRequired, true
	case policy.StateTimeExceeded:
		return ReasonTimeLimitExceeded, true
	}
	return "", false
}

// Block addresses one interstitial.
type Block struct {
	Tab    int    `json:"tab"`
	Reason Reason `json:"reason"`
	Domain string `json:"domain"`
}

// URL returns the interstitial address under base, e.g.
// http://127.0.0.1:7421/blocked?domain=example.com&reason=PASSWORD_REQUIRED&tab=3
func (b Block) URL(base string) string {
	q := url.Values{}
	q.Set("reason", string(b.Reason))
	q.Set("domain", b.Domain)
	q.Set("tab", strconv.Itoa(b.Tab))
	return strings.TrimRight(base, "/") + "/blocked?" + q.Encode()
}

// ParseBlock reads a Block from query or form values.
func ParseBlock(values url.Values) (Block, error) {
	reason, err := ParseReason(values.Get("reason"))
	if err != nil {
		return Block{}, err
	}
	b := Block{Reason: reason, Domain: values.Get("domain")}
	if b.Domain == "" {
		return Block{}, fmt.Errorf("missing domain")
	}
	if b.Tab, err = ParseTab(values.Get("tab")); err != nil {
		return Block{}, err
	}
	return b, nil
}

// ParseTab parses a tab id form value.
func ParseTab(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("missing tab")
	}
	tab, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid tab %q: %w", s, err)
	}
	return tab, nil
}

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.ParseFS(templateFS, "templates/blocked.html"))

// Page is the data rendered into the interstitial.
type Page struct {
	Block
	Error string
}

// Title is the page heading.
func (p Page) Title() string {
	if p.PasswordRequired() {
		return "Password Required"
	}
	return "Time Limit Reached"
}

// PasswordRequired reports whether the page offers an unlock form.
func (p Page) PasswordRequired() bool {
	return p.Reason == ReasonPasswordRequired
}

// RenderPage writes the interstitial HTML.
func RenderPage(w io.Writer, page Page) error {
	return pageTemplate.Execute(w, page)
}
