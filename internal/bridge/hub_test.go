package bridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Message
}

func (r *recorder) add(msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, msg)
}

func (r *recorder) TabActivated(_ context.Context, tab int, rawURL string) error {
	r.add(Message{Type: TypeActivated, TabID: tab, URL: rawURL})
	return nil
}

func (r *recorder) TabUpdated(_ context.Context, tab int, rawURL string) error {
	r.add(Message{Type: TypeUpdated, TabID: tab, URL: rawURL})
	return nil
}

func (r *recorder) TabRemoved(_ context.Context, tab int) {
	r.add(Message{Type: TypeRemoved, TabID: tab})
}

func (r *recorder) snapshot() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.events...)
}

func dial(t *testing.T, srv *httptest.Server, origin string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if origin != "" {
		header.Set("Origin", origin)
	}
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func TestInboundEventsDispatched(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	rec := &recorder{}
	hub.SetHandler(rec)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ws := dial(t, srv, "chrome-extension://abcdef")
	for _, msg := range []Message{
		{Type: TypeActivated, TabID: 1, URL: "https://a.com/"},
		{Type: "bogus", TabID: 1},
		{Type: TypeUpdated, TabID: 1, URL: "https://b.com/"},
		{Type: TypeRemoved, TabID: 1},
	} {
		if err := ws.WriteJSON(msg); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) == 3
	}, time.Second, 10*time.Millisecond)

	got := rec.snapshot()
	if got[0].URL != "https://a.com/" || got[1].Type != TypeUpdated || got[2].Type != TypeRemoved {
		t.Errorf("unexpected events %+v", got)
	}
}

func TestNavigateAndBack(t *testing.T) {
	hub := NewHub(nil, zerolog.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	ctx := context.Background()
	if err := hub.Navigate(ctx, 1, "http://x"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	ws := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.Connected() == 1 }, time.Second, 10*time.Millisecond)

	if err := hub.Navigate(ctx, 7, "http://127.0.0.1:7421/blocked?tab=7"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if err := hub.GoBack(ctx, 7); err != nil {
		t.Fatalf("back: %v", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(time.Second))
	var msg Message
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != TypeNavigate || msg.TabID != 7 || msg.URL != "http://127.0.0.1:7421/blocked?tab=7" {
		t.Errorf("unexpected navigate %+v", msg)
	}
	if err := ws.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != TypeBack || msg.TabID != 7 {
		t.Errorf("unexpected back %+v", msg)
	}

	_ = ws.Close()
	require.Eventually(t, func() bool { return hub.Connected() == 0 }, time.Second, 10*time.Millisecond)
}

func TestOriginCheck(t *testing.T) {
	tests := []struct {
		origin  string
		allowed []string
		want    bool
	}{
		{"", nil, true},
		{"chrome-extension://abc", nil, true},
		{"moz-extension://abc", nil, true},
		{"https://evil.example", nil, false},
		{"chrome-extension://abc", []string{"chrome-extension://xyz"}, false},
		{"chrome-extension://xyz", []string{"chrome-extension://xyz"}, true},
		{"https://anything", []string{"*"}, true},
	}
	for _, tt := range tests {
		if got := originAllowed(tt.origin, tt.allowed); got != tt.want {
			t.Errorf("originAllowed(%q, %v) = %v, want %v", tt.origin, tt.allowed, got, tt.want)
		}
	}

	hub := NewHub(nil, zerolog.Nop())
	srv := httptest.NewServer(hub)
	defer srv.Close()

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), header)
	if err == nil {
		t.Fatalf("expected handshake to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %v", resp)
	}
}
