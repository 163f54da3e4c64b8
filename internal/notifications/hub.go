package notifications

import (
	"encoding/json"
	"log"
	"time"

	"github.com/absolutdee/PTThaiPlus-sub000/internal/models"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

// Event describes one session status transition. For a reschedule the event
// carries the successor's id alongside the old session's transition, so the
// two-record swap is reported as a single event.
type Event struct {
	ID           string               `json:"id"`
	SessionID    int64                `json:"session_id"`
	FromStatus   models.SessionStatus `json:"from_status"`
	ToStatus     models.SessionStatus `json:"to_status"`
	NewSessionID *int64               `json:"new_session_id,omitempty"`
	OccurredAt   time.Time            `json:"occurred_at"`
}

// NewEvent stamps a transition with an id and the current time.
func NewEvent(sessionID int64, from, to models.SessionStatus) Event {
	return Event{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		FromStatus: from,
		ToStatus:   to,
		OccurredAt: time.Now().UTC(),
	}
}

// Hub fans transition events out to connected subscribers. Delivery is
// best effort: Emit never blocks the committing request, and a subscriber
// that cannot keep up is dropped.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan Event
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, 64),
	}
}

func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 32),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
		case client := <-h.unregister:
			if _, exists := h.clients[client]; exists {
				delete(h.clients, client)
				close(client.send)
			}
		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Emit hands a transition event to the hub without blocking. Events are
// dropped when the broadcast buffer is full.
func (h *Hub) Emit(event Event) {
	select {
	case h.broadcast <- event:
	default:
		log.Printf("notifications: dropping event %s for session %d", event.ID, event.SessionID)
	}
}

func (h *Hub) deliver(event Event) {
	encoded, err := json.Marshal(event)
	if err != nil {
		log.Printf("notifications: encode event: %v", err)
		return
	}

	for client := range h.clients {
		select {
		case client.send <- encoded:
		default:
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// ReadPump keeps the connection registered until the peer goes away.
// Subscribers only listen; inbound frames are drained and discarded.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
