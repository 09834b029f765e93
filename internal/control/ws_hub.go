package control

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"moviepipeline/internal/domain"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingInterval   = 30 * time.Second
	wsMaxMessageSize = 512
	wsSendBuffer     = 64
)

// event is one message pushed to dashboard clients: a component state
// transition or a dropped frame.
type event struct {
	Kind      string    `json:"kind"`
	Component string    `json:"component"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// wsHub fans events out to connected WebSocket clients. Clients that fall
// behind by more than their send buffer are disconnected rather than
// allowed to stall the pipeline's notification path.
type wsHub struct {
	log *slog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

func newWSHub(log *slog.Logger) *wsHub {
	return &wsHub{log: log, clients: make(map[*wsClient]struct{})}
}

func (h *wsHub) add(c *wsClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	h.log.Debug("ws client connected", slog.Int("total", len(h.clients)))
	return true
}

func (h *wsHub) remove(c *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		h.log.Debug("ws client disconnected", slog.Int("total", len(h.clients)))
	}
	h.mu.Unlock()
}

// Close disconnects every client; subsequent adds are refused.
func (h *wsHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(2*time.Second),
		)
		close(c.send)
		delete(h.clients, c)
	}
}

// broadcastTransition pushes a component state change. from may be nil
// when only the resulting state is known.
func (h *wsHub) broadcastTransition(component string, from, to fmt.Stringer) {
	ev := event{Kind: "transition", Component: component, To: to.String(), At: time.Now().UTC()}
	if from != nil {
		ev.From = from.String()
	}
	h.publish(ev)
}

// broadcastDrop pushes a dropped-frame notice.
func (h *wsHub) broadcastDrop(component string, reason domain.DropReason) {
	h.publish(event{Kind: "drop", Component: component, Reason: reason.String(), At: time.Now().UTC()})
}

func (h *wsHub) publish(ev event) {
	h.mu.Lock()
	if len(h.clients) == 0 {
		h.mu.Unlock()
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		h.mu.Unlock()
		h.log.Error("ws marshal failed", slog.String("error", err.Error()))
		return
	}
	var slow []*wsClient
	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsClient struct {
	hub  *wsHub
	conn *websocket.Conn
	send chan []byte
}

func newWSClient(hub *wsHub, conn *websocket.Conn) *wsClient {
	return &wsClient{hub: hub, conn: conn, send: make(chan []byte, wsSendBuffer)}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; the feed is one-way, but reading is
// required to process pong control frames and notice disconnects.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(wsMaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
