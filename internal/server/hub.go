package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/audiolibrelab/shabadfinder/internal/service"
)

const (
	writeWait      = 5 * time.Second
	clientSendSize = 64
)

// Event is one websocket message: a full state snapshot or a level sample.
type Event struct {
	Type  string         `json:"type"`
	State *service.State `json:"state,omitempty"`
	Level *float64       `json:"level,omitempty"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan Event
}

// hub fans controller notifications out to websocket clients. A client
// that cannot keep up loses events; the next state event resyncs it.
type hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*wsClient]struct{})}
}

func (h *hub) StateChanged(st service.State) {
	h.broadcast(Event{Type: "state", State: &st})
}

func (h *hub) LevelChanged(level float64) {
	h.broadcast(Event{Type: "level", Level: &level})
}

func (h *hub) broadcast(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- e:
		default:
			slog.Debug("Dropping websocket event for slow client", "type", e.Type)
		}
	}
}

func (h *hub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// remove unregisters c and closes its send channel. Safe to call twice.
func (h *hub) remove(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// handleWebSocket streams state and level events. The first message is
// always the current snapshot.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("Websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan Event, clientSendSize)}
	st := s.service.Snapshot()
	c.send <- Event{Type: "state", State: &st}
	s.hub.add(c)
	slog.Debug("Websocket client connected", "remote", r.RemoteAddr, "clients", s.hub.count())

	go c.writeLoop()
	c.readLoop()

	s.hub.remove(c)
	slog.Debug("Websocket client disconnected", "remote", r.RemoteAddr)
}

func (c *wsClient) writeLoop() {
	defer c.conn.Close()
	for e := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(e); err != nil {
			slog.Debug("Websocket write failed", "error", err)
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// readLoop discards client messages and returns once the peer goes away.
func (c *wsClient) readLoop() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				slog.Debug("Websocket read ended", "error", err)
			}
			return
		}
	}
}
