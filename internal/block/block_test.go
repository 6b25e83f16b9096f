package block

import (
	"bytes"
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/goodtune/focusguard/internal/policy"
	"github.com/rs/zerolog"
)

type navCall struct {
	tab  int
	url  string
	back bool
}

type fakeNav struct {
	mu    sync.Mutex
	calls []navCall
	err   error
}

func (n *fakeNav) Navigate(_ context.Context, tab int, u string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, navCall{tab: tab, url: u})
	return n.err
}

func (n *fakeNav) GoBack(_ context.Context, tab int) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, navCall{tab: tab, back: true})
	return n.err
}

func TestBlockURLRoundTrip(t *testing.T) {
	b := Block{Tab: 3, Reason: ReasonPasswordRequired, Domain: "example.com"}
	raw := b.URL("http://127.0.0.1:7421/")

	if !strings.HasPrefix(raw, "http://127.0.0.1:7421/blocked?") {
		t.Fatalf("unexpected url %s", raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got, err := ParseBlock(u.Query())
	if err != nil {
		t.Fatalf("ParseBlock: %v", err)
	}
	if got != b {
		t.Errorf("round trip mismatch: %+v vs %+v", got, b)
	}
}

func TestParseBlockErrors(t *testing.T) {
	tests := []url.Values{
		{"reason": {"NOPE"}, "domain": {"a.com"}, "tab": {"1"}},
		{"reason": {"PASSWORD_REQUIRED"}, "tab": {"1"}},
		{"reason": {"PASSWORD_REQUIRED"}, "domain": {"a.com"}, "tab": {"x"}},
		{"reason": {"PASSWORD_REQUIRED"}, "domain": {"a.com"}},
	}
	for _, q := range tests {
		if _, err := ParseBlock(q); err == nil {
			t.Errorf("expected error for %v", q)
		}
	}
}

func TestReasonFor(t *testing.T) {
	if r, ok := ReasonFor(policy.StatePasswordLocked); !ok || r != ReasonPasswordRequired {
		t.Errorf("locked -> %v %v", r, ok)
	}
	if r, ok := ReasonFor(policy.StateTimeExceeded); !ok || r != ReasonTimeLimitExceeded {
		t.Errorf("exceeded -> %v %v", r, ok)
	}
	if _, ok := ReasonFor(policy.StateGranted); ok {
		t.Errorf("granted should not block")
	}
}

func TestRenderPage(t *testing.T) {
	var buf bytes.Buffer
	err := RenderPage(&buf, Page{Block: Block{Tab: 4, Reason: ReasonPasswordRequired, Domain: "example.com"}, Error: "Incorrect password"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	html := buf.String()
	for _, want := range []string{`action="/blocked/unlock"`, `type="password"`, "Incorrect password", `value="4"`, "Cancel"} {
		if !strings.Contains(html, want) {
			t.Errorf("password page missing %q", want)
		}
	}

	buf.Reset()
	if err := RenderPage(&buf, Page{Block: Block{Tab: 4, Reason: ReasonTimeLimitExceeded, Domain: "youtube.com"}}); err != nil {
		t.Fatalf("render: %v", err)
	}
	html = buf.String()
	if strings.Contains(html, "/blocked/unlock") {
		t.Errorf("time limit page must not offer an unlock form")
	}
	if !strings.Contains(html, "Go back") {
		t.Errorf("time limit page missing go back action")
	}
}

func TestPresenterShowIsIdempotent(t *testing.T) {
	nav := &fakeNav{}
	p := NewPresenter(nav, "http://127.0.0.1:7421", zerolog.Nop())
	ctx := context.Background()

	b := Block{Tab: 1, Reason: ReasonTimeLimitExceeded, Domain: "youtube.com"}
	for i := 0; i < 3; i++ {
		if err := p.Show(ctx, b, "https://youtube.com/watch"); err != nil {
			t.Fatalf("show: %v", err)
		}
	}
	if len(nav.calls) != 1 {
		t.Fatalf("expected one navigation, got %d", len(nav.calls))
	}

	it, ok := p.Active(1)
	if !ok || it.Block != b || it.Origin != "https://youtube.com/watch" {
		t.Errorf("unexpected active interstitial %+v", it)
	}
}

func TestPresenterShowFailureLeavesNoRecord(t *testing.T) {
	nav := &fakeNav{err: errors.New("not connected")}
	p := NewPresenter(nav, "http://127.0.0.1:7421", zerolog.Nop())
	ctx := context.Background()

	b := Block{Tab: 1, Reason: ReasonPasswordRequired, Domain: "example.com"}
	if err := p.Show(ctx, b, "https://example.com/"); err == nil {
		t.Fatalf("expected navigation error")
	}
	if _, ok := p.Active(1); ok {
		t.Fatalf("failed interstitial still recorded")
	}

	nav.err = nil
	if err := p.Show(ctx, b, "https://example.com/"); err != nil {
		t.Fatalf("show: %v", err)
	}
	if len(nav.calls) != 2 {
		t.Errorf("expected the second show to navigate, got %d calls", len(nav.calls))
	}
}

func TestPresenterTimeLimitCannotBeReleased(t *testing.T) {
	nav := &fakeNav{}
	p := NewPresenter(nav, "http://127.0.0.1:7421", zerolog.Nop())
	ctx := context.Background()

	_ = p.Show(ctx, Block{Tab: 1, Reason: ReasonTimeLimitExceeded, Domain: "youtube.com"}, "")
	if err := p.Release(ctx, 1); !errors.Is(err, ErrNoUnlock) {
		t.Fatalf("expected ErrNoUnlock, got %v", err)
	}
	if tabs := p.ReleaseDomain(ctx, "youtube.com"); len(tabs) != 0 {
		t.Fatalf("time limit tabs released: %v", tabs)
	}
	if _, ok := p.Active(1); !ok {
		t.Fatalf("interstitial should still be active")
	}
	if err := p.Release(ctx, 99); !errors.Is(err, ErrNoUnlock) {
		t.Fatalf("expected ErrNoUnlock for unknown tab, got %v", err)
	}
}

func TestPresenterReleaseDomain(t *testing.T) {
	nav := &fakeNav{}
	p := NewPresenter(nav, "http://127.0.0.1:7421", zerolog.Nop())
	ctx := context.Background()

	_ = p.Show(ctx, Block{Tab: 1, Reason: ReasonPasswordRequired, Domain: "example.com"}, "https://example.com/a")
	_ = p.Show(ctx, Block{Tab: 2, Reason: ReasonPasswordRequired, Domain: "example.com"}, "")
	_ = p.Show(ctx, Block{Tab: 3, Reason: ReasonPasswordRequired, Domain: "other.com"}, "")

	if n := p.Fail(1); n != 1 {
		t.Errorf("expected 1 failure, got %d", n)
	}

	tabs := p.ReleaseDomain(ctx, "example.com")
	sort.Ints(tabs)
	if len(tabs) != 2 || tabs[0] != 1 || tabs[1] != 2 {
		t.Fatalf("unexpected released tabs %v", tabs)
	}
	if _, ok := p.Active(3); !ok {
		t.Errorf("other domain should remain blocked")
	}

	restored := map[int]string{}
	for _, c := range nav.calls[3:] {
		restored[c.tab] = c.url
	}
	if restored[1] != "https://example.com/a" || restored[2] != "https://example.com/" {
		t.Errorf("unexpected restore targets %v", restored)
	}
}

func TestPresenterCancel(t *testing.T) {
	nav := &fakeNav{}
	p := NewPresenter(nav, "http://127.0.0.1:7421", zerolog.Nop())
	ctx := context.Background()

	_ = p.Show(ctx, Block{Tab: 5, Reason: ReasonPasswordRequired, Domain: "example.com"}, "")
	if tabs := p.CancelDomain(ctx, "example.com"); len(tabs) != 1 || tabs[0] != 5 {
		t.Fatalf("unexpected cancelled tabs %v", tabs)
	}
	if _, ok := p.Active(5); ok {
		t.Errorf("cancelled interstitial still active")
	}
	last := nav.calls[len(nav.calls)-1]
	if !last.back || last.tab != 5 {
		t.Errorf("expected go back on tab 5, got %+v", last)
	}

	_ = p.Show(ctx, Block{Tab: 6, Reason: ReasonTimeLimitExceeded, Domain: "a.com"}, "")
	p.Forget(6)
	if _, ok := p.Active(6); ok {
		t.Errorf("forgotten interstitial still active")
	}
}
