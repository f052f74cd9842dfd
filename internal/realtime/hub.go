package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/caseflowhq/caseflow/internal/presence"
	"github.com/caseflowhq/caseflow/pkg/logger"
	"github.com/caseflowhq/caseflow/pkg/metrics"
)

const (
	// writeWait bounds a single push so a slow client never stalls fan-out.
	writeWait = 2 * time.Second

	// heartbeatTimeout is how long a connection may go without a pong or
	// heartbeat control frame before the reaper tears it down.
	heartbeatTimeout = 60 * time.Second

	pingPeriod     = (heartbeatTimeout * 9) / 10
	reapInterval   = 15 * time.Second
	maxMessageSize = 1 << 16
	sendBufferSize = 64
)

// ErrConnectionGone is returned by Push when the target connection is no
// longer registered. Callers treat it as an ordinary per-connection failure.
var ErrConnectionGone = errors.New("realtime: connection gone")

type controlMessage struct {
	Action   string `json:"action"`
	ThreadID string `json:"thread_id,omitempty"`
}

// TypingRelay forwards an ephemeral typing signal to the peers interested in
// the thread. Typing events are never persisted.
type TypingRelay func(from Identity, threadID string)

// Hub owns the lifecycle of every client connection: upgrade, registration in
// the presence registry, heartbeats, pushes and teardown.
type Hub struct {
	registry *presence.Registry
	upgrader websocket.Upgrader
	log      *zap.Logger

	mu    sync.RWMutex
	conns map[string]*connection

	typing TypingRelay
}

// NewHub constructs a Hub bound to the supplied presence registry.
func NewHub(registry *presence.Registry) *Hub {
	return &Hub{
		registry: registry,
		conns:    make(map[string]*connection),
		log:      logger.WithModule("realtime"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
	}
}

// SetTypingRelay installs the relay invoked for inbound typing control frames.
func (h *Hub) SetTypingRelay(relay TypingRelay) {
	h.typing = relay
}

// Serve upgrades the HTTP request to a WebSocket and runs the connection
// pumps until the client goes away. Identity must already be established by
// the caller.
func (h *Hub) Serve(identity Identity, w http.ResponseWriter, r *http.Request) {
	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("upgrade failed", zap.String("user_id", identity.UserID), zap.Error(err))
		return
	}

	conn := &connection{
		id:       uuid.NewString(),
		identity: identity,
		hub:      h,
		socket:   socket,
		send:     make(chan Frame, sendBufferSize),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	h.conns[conn.id] = conn
	h.mu.Unlock()

	h.registry.Add(identity.TenantID, identity.UserID, conn.id)
	metrics.ActiveConnections.Set(float64(h.registry.Len()))

	go conn.writeLoop()
	conn.readLoop()
}

// Push enqueues a frame for one connection. A full buffer tears the
// connection down rather than blocking the caller.
func (h *Hub) Push(connID string, frame Frame) error {
	h.mu.RLock()
	conn, ok := h.conns[connID]
	h.mu.RUnlock()
	if !ok {
		return ErrConnectionGone
	}

	// The send channel is never closed, so a push racing teardown lands in
	// the buffer and is discarded with the connection instead of panicking.
	select {
	case <-conn.done:
		return ErrConnectionGone
	case conn.send <- frame:
		return nil
	default:
		h.log.Warn("dropping backpressure connection",
			zap.String("conn_id", connID),
			zap.String("user_id", conn.identity.UserID),
		)
		conn.close()
		return ErrConnectionGone
	}
}

// RoleOf reports the role carried by a live connection of the user, or the
// empty string when the user is offline. It backs role fan-out when no user
// directory is configured; offline users are unknown to the hub by definition.
func (h *Hub) RoleOf(tenantID, userID string) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, conn := range h.conns {
		if conn.identity.TenantID == tenantID && conn.identity.UserID == userID {
			return conn.identity.Role
		}
	}
	return ""
}

// Disconnect tears down one connection. Safe to call concurrently with
// in-flight pushes, and idempotent.
func (h *Hub) Disconnect(connID string) {
	h.mu.RLock()
	conn, ok := h.conns[connID]
	h.mu.RUnlock()
	if ok {
		conn.close()
	}
}

// Run drives the heartbeat reaper until the context is cancelled. Connections
// without a heartbeat inside the timeout are forcibly disconnected, bounding
// presence staleness without any persistence.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, connID := range h.registry.StaleBefore(now.Add(-heartbeatTimeout)) {
				h.log.Info("reaping stale connection", zap.String("conn_id", connID))
				metrics.ReapedConnections.Inc()
				h.Disconnect(connID)
			}
		}
	}
}

func (h *Hub) unregister(conn *connection) {
	h.mu.Lock()
	delete(h.conns, conn.id)
	h.mu.Unlock()

	if wasLast := h.registry.Remove(conn.id); wasLast {
		h.log.Debug("user offline",
			zap.String("tenant_id", conn.identity.TenantID),
			zap.String("user_id", conn.identity.UserID),
		)
	}
	metrics.ActiveConnections.Set(float64(h.registry.Len()))
}

type connection struct {
	id       string
	identity Identity
	hub      *Hub
	socket   *websocket.Conn
	send     chan Frame
	done     chan struct{}
	once     sync.Once
}

func (c *connection) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(heartbeatTimeout))
	c.socket.SetPongHandler(func(string) error {
		now := time.Now()
		c.hub.registry.Touch(c.id, now)
		_ = c.socket.SetReadDeadline(now.Add(heartbeatTimeout))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("unexpected close",
					zap.String("user_id", c.identity.UserID), zap.Error(err))
			}
			break
		}

		if len(payload) == 0 {
			continue
		}

		var ctrl controlMessage
		if err := json.Unmarshal(payload, &ctrl); err != nil {
			c.hub.log.Debug("invalid control payload",
				zap.String("user_id", c.identity.UserID), zap.Error(err))
			continue
		}

		switch strings.ToLower(strings.TrimSpace(ctrl.Action)) {
		case "heartbeat", "ping":
			now := time.Now()
			c.hub.registry.Touch(c.id, now)
			_ = c.socket.SetReadDeadline(now.Add(heartbeatTimeout))
			select {
			case c.send <- Frame{Event: EventPong}:
			default:
			}
		case "typing":
			if relay := c.hub.typing; relay != nil && ctrl.ThreadID != "" {
				relay(c.identity, ctrl.ThreadID)
			}
		default:
			c.hub.log.Debug("unsupported control action",
				zap.String("action", ctrl.Action),
				zap.String("user_id", c.identity.UserID),
			)
		}
	}
}

func (c *connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		c.hub.unregister(c)
		close(c.done)
		_ = c.socket.Close()
	})
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		parsed, err := http.NewRequest(http.MethodGet, host, nil)
		if err == nil {
			return hostWithoutPort(parsed.URL.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	if ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}
