package eventws

import (
	"encoding/json"
	"log"
	"strconv"
	"time"

	websocket "github.com/gofiber/contrib/websocket"
)

// Event types pushed over the appointment channel. Consumers patch the
// single affected record in place rather than reloading the collection.
const (
	EventSessionCreated       = "session.created"
	EventSessionBooked        = "session.booked"
	EventSessionStatusUpdated = "session.status_updated"
	EventSessionRescheduled   = "session.rescheduled"
	EventSessionCancelled     = "session.cancelled"
)

type Event struct {
	Type           string  `json:"type"`
	SessionID      int64   `json:"session_id"`
	NewStatus      *string `json:"new_status,omitempty"`
	NewScheduledAt *string `json:"new_scheduled_at,omitempty"`
}

// Notification pairs an event with the users it should reach.
type Notification struct {
	Event      Event
	Recipients []int64
}

type Hub struct {
	clients    map[string]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Notification
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string
	send   chan []byte
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Notification, 64),
	}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, 32),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			set, ok := h.clients[client.userID]
			if !ok {
				set = make(map[*Client]struct{})
				h.clients[client.userID] = set
			}
			set[client] = struct{}{}
		case client := <-h.unregister:
			set, ok := h.clients[client.userID]
			if !ok {
				continue
			}
			if _, exists := set[client]; exists {
				delete(set, client)
				close(client.send)
			}
			if len(set) == 0 {
				delete(h.clients, client.userID)
			}
		case notification := <-h.broadcast:
			h.deliver(notification)
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Notify queues an event for delivery without blocking the caller; the
// event is dropped if the broadcast buffer is full.
func (h *Hub) Notify(notification *Notification) {
	select {
	case h.broadcast <- notification:
	default:
		log.Printf("event hub: dropping %s for session %d", notification.Event.Type, notification.Event.SessionID)
	}
}

func (h *Hub) deliver(notification *Notification) {
	encoded, err := json.Marshal(notification.Event)
	if err != nil {
		log.Printf("event hub encode: %v", err)
		return
	}

	seen := make(map[int64]struct{}, len(notification.Recipients))
	for _, recipientID := range notification.Recipients {
		if _, dup := seen[recipientID]; dup {
			continue
		}
		seen[recipientID] = struct{}{}
		h.sendToUser(strconv.FormatInt(recipientID, 10), encoded)
	}
}

func (h *Hub) sendToUser(userID string, payload []byte) {
	set, ok := h.clients[userID]
	if !ok {
		return
	}

	for client := range set {
		select {
		case client.send <- payload:
		default:
			delete(set, client)
			close(client.send)
		}
	}
	if len(set) == 0 {
		delete(h.clients, userID)
	}
}

// ReadPump drains inbound frames so close handshakes are processed; the
// channel is push-only.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
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
}

func FormatEventTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
