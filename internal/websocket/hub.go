package chatws

import (
	"context"
	"encoding/json"
	"log"
	"time"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"github.com/arda-t/ScoutChatBack/internal/models"
	"github.com/arda-t/ScoutChatBack/internal/services"
)

// Hub is the process-local connection registry: userID to live
// connections. All state is owned by the Run loop, so access goes
// through channels instead of locks.
type Hub struct {
	clients    map[int64]map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	deliveries chan delivery
	heartbeats chan *Client

	// Connections silent longer than heartbeatTimeout are pruned; an
	// abruptly dropped client never unregisters itself.
	heartbeatTimeout time.Duration
	now              func() time.Time
}

type delivery struct {
	userID int64
	frame  []byte
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	connID string
	userID int64
	send   chan []byte

	// Touched only by the Run loop.
	lastHeartbeat time.Time
}

type sender interface {
	SendMessage(ctx context.Context, callerID, chatID int64, content string, attachments []models.Attachment) (*services.MessageDelivery, error)
}

func NewHub(heartbeatTimeout time.Duration) *Hub {
	return &Hub{
		clients:          make(map[int64]map[*Client]struct{}),
		register:         make(chan *Client),
		unregister:       make(chan *Client),
		deliveries:       make(chan delivery, 64),
		heartbeats:       make(chan *Client, 64),
		heartbeatTimeout: heartbeatTimeout,
		now:              time.Now,
	}
}

func NewClient(hub *Hub, conn *websocket.Conn, userID int64) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		connID: uuid.NewString(),
		userID: userID,
		send:   make(chan []byte, 32),
	}
}

func (h *Hub) Run(ctx context.Context) {
	prune := time.NewTicker(h.heartbeatTimeout / 2)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.register:
			h.add(client)
		case client := <-h.unregister:
			h.drop(client)
		case client := <-h.heartbeats:
			h.refresh(client)
		case d := <-h.deliveries:
			h.sendToUser(d.userID, d.frame)
		case <-prune.C:
			h.pruneStale()
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Heartbeat records client liveness.
func (h *Hub) Heartbeat(client *Client) {
	h.heartbeats <- client
}

// DeliverIfPresent hands a frame to every live connection of userID held
// by this process, and silently does nothing otherwise. Another replica
// may hold the user; that replica got the same event.
func (h *Hub) DeliverIfPresent(userID int64, frame []byte) {
	select {
	case h.deliveries <- delivery{userID: userID, frame: frame}:
	default:
		log.Printf("chat hub: delivery queue full, dropping frame for user %d", userID)
	}
}

func (h *Hub) add(client *Client) {
	client.lastHeartbeat = h.now()
	set, ok := h.clients[client.userID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[client.userID] = set
	}
	set[client] = struct{}{}
}

func (h *Hub) refresh(client *Client) {
	set, ok := h.clients[client.userID]
	if !ok {
		return
	}
	if _, live := set[client]; live {
		client.lastHeartbeat = h.now()
	}
}

func (h *Hub) drop(client *Client) {
	set, ok := h.clients[client.userID]
	if !ok {
		return
	}
	if _, exists := set[client]; exists {
		delete(set, client)
		close(client.send)
	}
	if len(set) == 0 {
		delete(h.clients, client.userID)
	}
}

func (h *Hub) sendToUser(userID int64, frame []byte) {
	set, ok := h.clients[userID]
	if !ok {
		return
	}

	for client := range set {
		select {
		case client.send <- frame:
		default:
			log.Printf("chat hub: dropping slow connection %s (user %d)", client.connID, client.userID)
			delete(set, client)
			close(client.send)
		}
	}
	if len(set) == 0 {
		delete(h.clients, userID)
	}
}

func (h *Hub) pruneStale() {
	cutoff := h.now().Add(-h.heartbeatTimeout)
	for _, set := range h.clients {
		for client := range set {
			if client.lastHeartbeat.Before(cutoff) {
				log.Printf("chat hub: pruning silent connection %s (user %d)", client.connID, client.userID)
				h.drop(client)
			}
		}
	}
}

type inboundFrame struct {
	Type        string              `json:"type"`
	ChatID      int64               `json:"chat_id"`
	Content     string              `json:"content"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
}

type errorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// ReadPump consumes inbound frames until the socket drops. Heartbeats
// refresh registry liveness; message frames go through the chat service,
// which broadcasts the stored message back over the shared channel. A
// disconnect mid-call does not cancel the send: the socket and the
// mutating operation are independent channels.
func (c *Client) ReadPump(service sender) {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	// Protocol-level pongs count as liveness too, not just explicit
	// heartbeat frames.
	c.conn.SetPongHandler(func(string) error {
		c.hub.Heartbeat(c)
		return nil
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.writeError("invalid frame")
			continue
		}

		switch frame.Type {
		case "heartbeat":
			c.hub.Heartbeat(c)
		case "message":
			if frame.ChatID <= 0 {
				c.writeError("invalid chat id")
				continue
			}
			if _, err := service.SendMessage(context.Background(), c.userID, frame.ChatID, frame.Content, frame.Attachments); err != nil {
				c.writeError(services.PublicMessage(err))
			}
		default:
			c.writeError("unsupported frame type")
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

func (c *Client) writeError(message string) {
	payload, err := json.Marshal(errorFrame{Type: "error", Error: message})
	if err != nil {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}
