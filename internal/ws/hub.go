// Package ws implements the realtime notification hub: a registry of live
// connections keyed by connection id and (role, user id), with unicast and
// role-broadcast delivery over WebSocket.
package ws

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"dispatch/internal/domain"
	"dispatch/internal/metrics"
)

// sendBuffer is the per-connection outbound queue. When it fills, further
// events to that connection are dropped, never queued unboundedly.
const sendBuffer = 64

// Connection is one live realtime session. Role and user id are unknown
// until the client sends a register message.
type Connection struct {
	ID     string
	role   domain.Role
	userID string
	send   chan []byte
}

type userKey struct {
	role   domain.Role
	userID string
}

// Hub owns the connection registry. It never inspects ride state; it only
// delivers event payloads handed to it by the lifecycle engine.
type Hub struct {
	mu     sync.RWMutex
	conns  map[string]*Connection
	byUser map[userKey]string

	handler MessageHandler
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewHub creates an empty hub. metrics may be nil.
func NewHub(m *metrics.Metrics, log zerolog.Logger) *Hub {
	return &Hub{
		conns:   make(map[string]*Connection),
		byUser:  make(map[userKey]string),
		metrics: m,
		log:     log.With().Str("component", "hub").Logger(),
	}
}

// Attach adds a fresh, unregistered connection to the registry.
func (h *Hub) Attach(connID string) *Connection {
	c := &Connection{
		ID:   connID,
		send: make(chan []byte, sendBuffer),
	}

	h.mu.Lock()
	h.conns[connID] = c
	h.mu.Unlock()

	h.metrics.ConnectionOpened()
	h.log.Debug().Str("conn_id", connID).Msg("connection attached")
	return c
}

// Register binds a connection to a (role, user id) identity. Idempotent per
// connection; a repeat call overwrites the previous registration.
func (h *Hub) Register(connID string, role domain.Role, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.conns[connID]
	if !ok {
		return
	}

	if c.role != "" || c.userID != "" {
		old := userKey{role: c.role, userID: c.userID}
		if h.byUser[old] == connID {
			delete(h.byUser, old)
		}
	}

	c.role = role
	c.userID = userID
	h.byUser[userKey{role: role, userID: userID}] = connID

	h.log.Info().
		Str("conn_id", connID).
		Str("role", string(role)).
		Str("user_id", userID).
		Msg("connection registered")
}

// Unregister removes a connection; no-op when it is already gone. Called on
// transport disconnect. A reconnect creates a new connection and the client
// must register again.
func (h *Hub) Unregister(connID string) {
	h.mu.Lock()
	c, ok := h.conns[connID]
	if ok {
		delete(h.conns, connID)
		key := userKey{role: c.role, userID: c.userID}
		if h.byUser[key] == connID {
			delete(h.byUser, key)
		}
		close(c.send)
	}
	h.mu.Unlock()

	if ok {
		h.metrics.ConnectionClosed()
		h.log.Debug().Str("conn_id", connID).Msg("connection removed")
	}
}

// NotifyUser delivers event to the connection registered for (role, userID).
// When none is registered the event falls back to a role-wide broadcast:
// registration is best-effort, so delivery-or-better beats a silent drop.
func (h *Hub) NotifyUser(role domain.Role, userID string, event any) {
	msg, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	if connID, ok := h.byUser[userKey{role: role, userID: userID}]; ok {
		if c, ok := h.conns[connID]; ok {
			h.deliver(c, msg)
			return
		}
	}
	h.broadcastLocked(role, msg)
}

// NotifyRole broadcasts event to every connection with the given role.
func (h *Hub) NotifyRole(role domain.Role, event any) {
	msg, err := json.Marshal(event)
	if err != nil {
		h.log.Error().Err(err).Msg("marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	h.broadcastLocked(role, msg)
}

func (h *Hub) broadcastLocked(role domain.Role, msg []byte) {
	for _, c := range h.conns {
		if c.role == role {
			h.deliver(c, msg)
		}
	}
}

// deliver is fire-and-forget: a slow connection loses the event rather than
// blocking the caller or the other recipients.
func (h *Hub) deliver(c *Connection, msg []byte) {
	select {
	case c.send <- msg:
	default:
		h.log.Warn().Str("conn_id", c.ID).Msg("send buffer full, event dropped")
	}
}

// ConnectionCount reports the number of live connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}
