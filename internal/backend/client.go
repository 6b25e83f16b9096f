package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goodtune/focusguard/internal/storage"
	"github.com/rs/zerolog"
)

var (
	// ErrUnauthenticated means there is no usable session token.
	ErrUnauthenticated = errors.New("backend: not authenticated")

	// ErrNetwork covers transport failures and server errors.
	ErrNetwork = errors.New("backend: network error")

	// ErrDisabled is returned by explicit sync operations when sync is off.
	ErrDisabled = errors.New("backend: sync disabled")
)

// AnalyticsEvent is one usage report.
type AnalyticsEvent struct {
	Domain    string `json:"domain"`
	TimeSpent int64  `json:"timeSpent"`
	Date      string `json:"date"`
	Hour      int    `json:"hour"`
	Timestamp int64  `json:"timestamp"`
	SessionID string `json:"sessionId"`
	URL       string `json:"url,omitempty"`
}

// RemoteSite is a protected site as stored by the account.
type RemoteSite struct {
	Domain            string `json:"domain"`
	PasswordHash      string `json:"passwordHash,omitempty"`
	DailyLimitMinutes int    `json:"dailyLimitMinutes"`
	InstantProtect    bool   `json:"instantProtect"`
}

// Session is an issued or validated extension session.
type Session struct {
	Token     string        `json:"token,omitempty"`
	Valid     bool          `json:"valid"`
	User      *storage.User `json:"user,omitempty"`
	ExpiresAt *time.Time    `json:"expiresAt,omitempty"`
}

type sitesResponse struct {
	Sites []RemoteSite `json:"sites"`
}

// Client talks to the remote account API.
type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

// NewClient creates a client for baseURL with a per-request timeout.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		logger: logger.With().Str("component", "backend").Logger(),
	}
}

func (c *Client) request(ctx context.Context, token string) *resty.Request {
	req := c.http.R().SetContext(ctx).ForceContentType("application/json")
	if token != "" {
		req.SetAuthToken(token)
	}
	return req
}

// check classifies a response into the package's error taxonomy.
func check(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrNetwork, err)
	}
	switch code := resp.StatusCode(); {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%s: %w", op, ErrUnauthenticated)
	case code >= 400:
		return fmt.Errorf("%s: %w: status %d", op, ErrNetwork, code)
	}
	return nil
}

// PostAnalytics reports a usage event.
func (c *Client) PostAnalytics(ctx context.Context, token string, ev AnalyticsEvent) error {
	resp, err := c.request(ctx, token).SetBody(ev).Post("/analytics")
	return check("post analytics", resp, err)
}

// ListSites fetches the account's protected sites.
func (c *Client) ListSites(ctx context.Context, token string) ([]RemoteSite, error) {
	var out sitesResponse
	resp, err := c.request(ctx, token).SetResult(&out).Get("/protected-sites")
	if err := check("list sites", resp, err); err != nil {
		return nil, err
	}
	return out.Sites, nil
}

// PostSite creates or replaces a protected site on the account.
func (c *Client) PostSite(ctx context.Context, token string, site RemoteSite) error {
	resp, err := c.request(ctx, token).SetBody(site).Post("/protected-sites")
	return check("post site", resp, err)
}

// DeleteSite removes a protected site. A missing site is not an error.
func (c *Client) DeleteSite(ctx context.Context, token, domain string) error {
	resp, err := c.request(ctx, token).SetQueryParam("domain", domain).Delete("/protected-sites")
	if err == nil && resp.StatusCode() == http.StatusNotFound {
		return nil
	}
	return check("delete site", resp, err)
}

// IssueSession exchanges an account credential for an extension session.
func (c *Client) IssueSession(ctx context.Context, accountToken string) (*Session, error) {
	var out Session
	resp, err := c.request(ctx, accountToken).SetResult(&out).Post("/extension-session")
	if err := check("issue session", resp, err); err != nil {
		return nil, err
	}
	if out.Token == "" {
		return nil, fmt.Errorf("issue session: %w: empty token", ErrUnauthenticated)
	}
	return &out, nil
}

// ValidateSession checks a token. Only one session per account is active, so
// a token may be invalidated by a login elsewhere.
func (c *Client) ValidateSession(ctx context.Context, token string) (*Session, error) {
	var out Session
	resp, err := c.request(ctx, "").SetQueryParam("token", token).SetResult(&out).Get("/extension-session")
	if err := check("validate session", resp, err); err != nil {
		return nil, err
	}
	if !out.Valid {
		return nil, fmt.Errorf("validate session: %w", ErrUnauthenticated)
	}
	return &out, nil
}
