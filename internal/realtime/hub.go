package realtime

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/statforge/statstream/internal/events"
	"github.com/statforge/statstream/internal/metrics"
)

type busSource interface {
	Subscribe(context.Context) (<-chan events.Envelope, func(), error)
}

// HubOptions configure the gateway-side fanout.
type HubOptions struct {
	Bus          busSource
	Logger       *log.Logger
	SendQueue    int
	PingInterval time.Duration
	WriteTimeout time.Duration
	// CheckOrigin overrides the upgrade origin policy (tests, same-origin
	// deployments behind a proxy).
	CheckOrigin func(*http.Request) bool
}

// Hub accepts websocket upgrades on /ws and fans bus envelopes out to the
// connections whose user/room scope matches.
type Hub struct {
	opts     HubOptions
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[*hubConn]struct{}
}

type hubConn struct {
	userID string
	sock   *websocket.Conn
	send   chan events.Envelope

	mu    sync.RWMutex
	rooms map[string]struct{}
}

func (c *hubConn) inRoom(room string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[room]
	return ok
}

// NewHub creates a hub bound to the event bus.
func NewHub(opts HubOptions) *Hub {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = 32
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		conns: make(map[*hubConn]struct{}),
	}
}

// Run consumes the event bus until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	ch, cancel, err := h.opts.Bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-ch:
			if !ok {
				return nil
			}
			h.route(env)
		}
	}
}

// route delivers an envelope to every matching connection. Connections with
// a full send queue drop the envelope rather than stall the fanout.
func (h *Hub) route(env events.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.conns {
		if env.UserID != "" && conn.userID != env.UserID {
			continue
		}
		if env.Room != "" && !conn.inRoom(env.Room) {
			continue
		}
		select {
		case conn.send <- env:
			metrics.ObserveEnvelopeFanout("delivered")
		default:
			metrics.ObserveEnvelopeFanout("dropped")
			h.opts.Logger.Printf("realtime: dropping envelope %s for user %s (send backlog)", env.ID, conn.userID)
		}
	}
}

// ConnCount reports the number of active connections.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Handler upgrades a gin request to a websocket connection scoped by the
// user_id and rooms query parameters.
func (h *Hub) Handler(c *gin.Context) {
	userID := c.Query("user_id")
	rooms := make(map[string]struct{})
	for _, room := range strings.Split(c.Query("rooms"), ",") {
		if room = strings.TrimSpace(room); room != "" {
			rooms[room] = struct{}{}
		}
	}

	sock, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		h.opts.Logger.Printf("realtime: upgrade failed: %v", err)
		return
	}

	conn := &hubConn{
		userID: userID,
		sock:   sock,
		send:   make(chan events.Envelope, h.opts.SendQueue),
		rooms:  rooms,
	}

	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
	metrics.SetWSConnections(h.ConnCount())

	go h.writePump(conn)
	h.readPump(conn)

	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
	metrics.SetWSConnections(h.ConnCount())
	close(conn.send)
	_ = sock.Close()
}

// readPump consumes inbound control frames until the peer goes away.
// Malformed frames are logged and dropped.
func (h *Hub) readPump(conn *hubConn) {
	for {
		_, raw, err := conn.sock.ReadMessage()
		if err != nil {
			return
		}
		var msg controlMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.opts.Logger.Printf("realtime: dropping malformed control frame from %s: %v", conn.userID, err)
			continue
		}
		switch msg.Action {
		case "join_room":
			if msg.Room == "" {
				continue
			}
			conn.mu.Lock()
			conn.rooms[msg.Room] = struct{}{}
			conn.mu.Unlock()
		case "leave_room":
			conn.mu.Lock()
			delete(conn.rooms, msg.Room)
			conn.mu.Unlock()
		default:
			h.opts.Logger.Printf("realtime: unknown control action %q from %s", msg.Action, conn.userID)
		}
	}
}

func (h *Hub) writePump(conn *hubConn) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case env, ok := <-conn.send:
			if !ok {
				return
			}
			_ = conn.sock.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := conn.sock.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.sock.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := conn.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
