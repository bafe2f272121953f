package ws

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 8192
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The engine sits behind the API gateway, which enforces origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// MessageHandler processes one inbound client message (register,
// location_update). Errors are logged and the connection stays open.
type MessageHandler func(conn *Connection, msgType string, data json.RawMessage) error

// SetMessageHandler installs the inbound message handler. Must be called
// before the first connection is served.
func (h *Hub) SetMessageHandler(handler MessageHandler) {
	h.handler = handler
}

// envelope is the wire frame for client -> server messages.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// HandleConnection upgrades the HTTP request, attaches the connection to the
// registry and runs the read/write pumps until the peer goes away. Closing
// triggers registry cleanup; no close acknowledgement is sent.
func (h *Hub) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := h.Attach(uuid.New().String())

	go h.writePump(c, conn)
	h.readPump(c, conn)
}

func (h *Hub) readPump(c *Connection, conn *websocket.Conn) {
	defer func() {
		h.Unregister(c.ID)
		_ = conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Str("conn_id", c.ID).Msg("read error")
			}
			return
		}

		var msg envelope
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.log.Warn().Err(err).Str("conn_id", c.ID).Msg("malformed message")
			continue
		}

		if h.handler == nil {
			continue
		}
		if err := h.handler(c, msg.Type, msg.Data); err != nil {
			h.log.Warn().
				Err(err).
				Str("conn_id", c.ID).
				Str("msg_type", msg.Type).
				Msg("message handling failed")
		}
	}
}

func (h *Hub) writePump(c *Connection, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
