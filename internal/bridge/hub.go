// Package bridge connects the browser shim to the engine over a websocket.
// The shim reports tab events and executes navigation commands.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ErrNotConnected is returned when a command is sent with no browser attached.
var ErrNotConnected = errors.New("bridge: no browser connected")

const writeWait = 5 * time.Second

// Message types exchanged with the shim.
const (
	TypeActivated = "activated"
	TypeUpdated   = "updated"
	TypeRemoved   = "removed"
	TypeNavigate  = "navigate"
	TypeBack      = "back"
)

// Message is a single websocket frame.
type Message struct {
	Type  string `json:"type"`
	TabID int    `json:"tabId"`
	URL   string `json:"url,omitempty"`
}

// Handler receives tab events.
type Handler interface {
	TabActivated(ctx context.Context, tab int, rawURL string) error
	TabUpdated(ctx context.Context, tab int, rawURL string) error
	TabRemoved(ctx context.Context, tab int)
}

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}

// Hub tracks connected browsers and implements block.Navigator.
type Hub struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu      sync.RWMutex
	handler Handler
	conns   map[*conn]struct{}
}

// NewHub creates a hub. An empty allowedOrigins list accepts only requests
// without an Origin header or from browser extensions.
func NewHub(allowedOrigins []string, logger zerolog.Logger) *Hub {
	h := &Hub{
		conns:  make(map[*conn]struct{}),
		logger: logger.With().Str("component", "bridge").Logger(),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), allowedOrigins)
		},
	}
	return h
}

func originAllowed(origin string, allowed []string) bool {
	if origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	if len(allowed) == 0 {
		for _, prefix := range []string{"chrome-extension://", "moz-extension://"} {
			if strings.HasPrefix(origin, prefix) {
				return true
			}
		}
	}
	return false
}

// SetHandler installs the tab event handler. It must be called before
// ServeHTTP accepts connections.
func (h *Hub) SetHandler(handler Handler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = handler
}

// Connected returns the number of attached browsers.
func (h *Hub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// ServeHTTP upgrades the request and reads tab events until the browser
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Failed to upgrade connection")
		return
	}
	c := &conn{ws: ws}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	handler := h.handler
	h.mu.Unlock()

	h.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Browser connected")

	defer func() {
		h.mu.Lock()
		delete(h.conns, c)
		h.mu.Unlock()
		_ = ws.Close()
		h.logger.Info().Str("remote_addr", r.RemoteAddr).Msg("Browser disconnected")
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Warn().Err(err).Msg("Malformed bridge message")
			continue
		}
		if handler == nil {
			continue
		}
		if err := h.dispatch(r.Context(), handler, msg); err != nil {
			h.logger.Error().Err(err).Str("type", msg.Type).Int("tab", msg.TabID).Msg("Tab event failed")
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, handler Handler, msg Message) error {
	switch msg.Type {
	case TypeActivated:
		return handler.TabActivated(ctx, msg.TabID, msg.URL)
	case TypeUpdated:
		return handler.TabUpdated(ctx, msg.TabID, msg.URL)
	case TypeRemoved:
		handler.TabRemoved(ctx, msg.TabID)
		return nil
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

// Navigate points tab at url.
func (h *Hub) Navigate(_ context.Context, tab int, url string) error {
	return h.broadcast(Message{Type: TypeNavigate, TabID: tab, URL: url})
}

// GoBack moves tab one step back in its history.
func (h *Hub) GoBack(_ context.Context, tab int) error {
	return h.broadcast(Message{Type: TypeBack, TabID: tab})
}

func (h *Hub) broadcast(msg Message) error {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	if len(conns) == 0 {
		return ErrNotConnected
	}

	var errs []error
	for _, c := range conns {
		if err := c.send(msg); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(conns) {
		return fmt.Errorf("send %s: %w", msg.Type, errors.Join(errs...))
	}
	return nil
}
