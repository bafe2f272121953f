package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/service"
	"dispatch/internal/ws"
)

// SocketGateway bridges inbound realtime messages to the lifecycle engine.
type SocketGateway struct {
	hub       *ws.Hub
	lifecycle *service.RideLifecycle
}

// NewSocketGateway wires the gateway as the hub's message handler.
func NewSocketGateway(hub *ws.Hub, lifecycle *service.RideLifecycle) *SocketGateway {
	g := &SocketGateway{hub: hub, lifecycle: lifecycle}
	hub.SetMessageHandler(g.handleMessage)
	return g
}

// Serve handles GET /ws
func (g *SocketGateway) Serve(c *gin.Context) {
	g.hub.HandleConnection(c.Writer, c.Request)
}

type registerMessage struct {
	UserType string `json:"user_type"`
	UserID   string `json:"user_id"`
}

type locationMessage struct {
	UserType string          `json:"user_type"`
	UserID   string          `json:"user_id"`
	Location domain.Location `json:"location"`
}

func (g *SocketGateway) handleMessage(conn *ws.Connection, msgType string, data json.RawMessage) error {
	switch msgType {
	case "register":
		return g.register(conn, data)
	case "location_update":
		return g.locationUpdate(data)
	default:
		return fmt.Errorf("unknown message type %q", msgType)
	}
}

func (g *SocketGateway) register(conn *ws.Connection, data json.RawMessage) error {
	var msg registerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("parse register: %w", err)
	}

	role := domain.Role(msg.UserType)
	if role != domain.RoleDriver && role != domain.RolePassenger {
		return fmt.Errorf("invalid user_type %q", msg.UserType)
	}
	if msg.UserID == "" {
		return fmt.Errorf("missing user_id")
	}

	g.hub.Register(conn.ID, role, msg.UserID)
	return nil
}

// locationUpdate resolves the driver's active ride; updates from drivers
// without one are ignored, passenger updates are rejected.
func (g *SocketGateway) locationUpdate(data json.RawMessage) error {
	var msg locationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("parse location_update: %w", err)
	}

	if domain.Role(msg.UserType) != domain.RoleDriver {
		return fmt.Errorf("location_update from non-driver %q", msg.UserType)
	}

	ctx := context.Background()
	ride, err := g.lifecycle.ActiveRideForDriver(ctx, msg.UserID)
	if err != nil {
		return err
	}
	if ride == nil {
		return nil
	}

	_, err = g.lifecycle.UpdateDriverLocation(ctx, ride.ID, msg.UserID, msg.Location)
	return err
}
