package notifications

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sessionqa/internal/logging"
)

const (
	clientBuffer = 64
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
)

// Hub streams events to websocket subscribers. Each client has a bounded
// buffer; a client that falls behind is disconnected rather than slowing
// the publisher.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	// Initial, when set, builds the events sent to a client right after it connects.
	Initial func() []Event
}

type client struct {
	conn *websocket.Conn
	send chan Event
	once sync.Once
}

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Hub{
		logger:  logging.NewComponentLogger(logger, "ws"),
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Publish implements Publisher.
func (h *Hub) Publish(_ context.Context, event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- event:
		default:
			h.logger.Debug("websocket client too slow; disconnecting", logging.String("remote", c.conn.RemoteAddr().String()))
			h.dropLocked(c)
		}
	}
}

// Clients reports the number of connected subscribers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until the client leaves.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "ws_upgrade_failed"),
			logging.String(logging.FieldErrorHint, "client must send a websocket handshake"),
			logging.String(logging.FieldImpact, "client not subscribed"),
		)
		return
	}
	c := &client{conn: conn, send: make(chan Event, clientBuffer)}

	// Initial reads manager state, and managers publish into the hub, so it
	// must run without h.mu held.
	var initial []Event
	if h.Initial != nil {
		initial = h.Initial()
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	for _, ev := range initial {
		select {
		case c.send <- ev:
		default:
		}
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(c)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		h.dropLocked(c)
	}
}

func (h *Hub) dropLocked(c *client) {
	delete(h.clients, c)
	c.once.Do(func() { close(c.send) })
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		h.dropLocked(c)
	}
	h.mu.Unlock()
}

// readPump discards client messages and notices disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		h.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case ev, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}
