package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096

	sendBuffer = 256

	// maxSubscriptions caps how many matches one connection may follow.
	maxSubscriptions = 32
)

func (h *Hub) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return h.checkOrigin(r.Header.Get("Origin"))
		},
	}
}

// Client is one websocket connection following a set of matches
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger

	// subs is only touched by readPump.
	subs map[uint64]struct{}
}

// ClientMessage is a request sent by the browser. MatchID 0 is the lobby.
type ClientMessage struct {
	Type     string   `json:"type"`
	MatchID  *uint64  `json:"match_id,omitempty"`
	MatchIDs []uint64 `json:"match_ids,omitempty"`
}

// targets returns every match id named by the message
func (m *ClientMessage) targets() []uint64 {
	ids := append([]uint64(nil), m.MatchIDs...)
	if m.MatchID != nil {
		ids = append(ids, *m.MatchID)
	}
	return ids
}

// NewClient creates a new WebSocket client
func NewClient(hub *Hub, conn *websocket.Conn, logger *slog.Logger) *Client {
	id := uuid.NewString()
	return &Client{
		id:     id,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: logger.With("client_id", id),
		subs:   make(map[uint64]struct{}),
	}
}

// readPump handles requests until the connection fails, then unregisters
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("websocket error", "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Warn("invalid message format", "error", err)
			c.sendError("invalid message format")
			continue
		}
		c.handleMessage(&msg)
	}
}

func (c *Client) handleMessage(msg *ClientMessage) {
	switch msg.Type {
	case MessageTypeSubscribe:
		ids := msg.targets()
		if len(ids) == 0 {
			c.sendError("match_id required for subscribe, use 0 for every match")
			return
		}
		for _, id := range ids {
			if _, ok := c.subs[id]; !ok && len(c.subs) >= maxSubscriptions {
				c.sendError(fmt.Sprintf("at most %d subscriptions per connection", maxSubscriptions))
				return
			}
			c.subs[id] = struct{}{}
			c.hub.Subscribe(c, id)
			c.sendAck("subscribed", id)
		}

	case MessageTypeUnsubscribe:
		ids := msg.targets()
		if len(ids) == 0 {
			c.sendError("match_id required for unsubscribe")
			return
		}
		for _, id := range ids {
			delete(c.subs, id)
			c.hub.Unsubscribe(c, id)
			c.sendAck("unsubscribed", id)
		}

	case MessageTypePing:
		c.enqueue(Message{Type: MessageTypePong, Timestamp: time.Now()})

	default:
		c.logger.Debug("unknown message type", "type", msg.Type)
		c.sendError(fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

// writePump writes one frame per queued message and keeps the connection
// alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// enqueue queues a reply without blocking the read loop
func (c *Client) enqueue(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal reply", "type", msg.Type, "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("client buffer full, dropping reply", "type", msg.Type)
	}
}

func (c *Client) sendError(errMsg string) {
	c.enqueue(Message{
		Type:      MessageTypeError,
		Data:      map[string]string{"error": errMsg},
		Timestamp: time.Now(),
	})
}

func (c *Client) sendAck(action string, matchID uint64) {
	c.enqueue(Message{
		Type:      action,
		MatchID:   matchID,
		Data:      map[string]string{"status": "ok"},
		Timestamp: time.Now(),
	})
}

// ServeWs upgrades the request and starts the client's pumps
func ServeWs(hub *Hub, logger *slog.Logger, w http.ResponseWriter, r *http.Request) {
	conn, err := hub.upgrader().Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := NewClient(hub, conn, logger)
	hub.Register(client)

	go client.writePump()
	go client.readPump()

	client.logger.Debug("new websocket connection", "remote", r.RemoteAddr)
}
