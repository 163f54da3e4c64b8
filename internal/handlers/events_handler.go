package handlers

import (
	"github.com/absolutdee/PTThaiPlus-sub000/internal/notifications"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
)

// EventsHandler attaches websocket subscribers to the transition-event hub
// so callers observe session changes as they commit instead of polling.
type EventsHandler struct {
	hub *notifications.Hub
}

func NewEventsHandler(hub *notifications.Hub) *EventsHandler {
	return &EventsHandler{hub: hub}
}

func (h *EventsHandler) RequireUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	return c.Next()
}

func (h *EventsHandler) Subscribe(conn *websocket.Conn) {
	client := notifications.NewClient(h.hub, conn)
	h.hub.Register(client)

	go client.WritePump()
	client.ReadPump()
}
