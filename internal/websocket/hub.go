package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/staked-tictactoe/internal/domain"
)

// Message types
const (
	MessageTypeMatchChanged = "match_changed"
	MessageTypeSubscribe    = "subscribe"
	MessageTypeUnsubscribe  = "unsubscribe"
	MessageTypePing         = "ping"
	MessageTypePong         = "pong"
	MessageTypeError        = "error"
)

// lobby is the subscription key for changes of every match.
const lobby uint64 = 0

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	MatchID   uint64      `json:"match_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// MatchUpdate carries a notification together with the match it refers to
type MatchUpdate struct {
	Event domain.MatchChanged `json:"event"`
	Match domain.Match        `json:"match"`
}

// Hub maintains the set of active clients and broadcasts match changes
type Hub struct {
	// Registered clients by match ID; lobby clients see every match
	clients map[uint64]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	mu sync.RWMutex

	origins map[string]bool
	logger  *slog.Logger

	// Context for shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client  *Client
	matchID uint64
}

// NewHub creates a new Hub. An empty origin list or "*" accepts any origin.
func NewHub(logger *slog.Logger, allowedOrigins []string) *Hub {
	ctx, cancel := context.WithCancel(context.Background())

	var origins map[string]bool
	for _, o := range allowedOrigins {
		if o == "*" {
			origins = nil
			break
		}
		if origins == nil {
			origins = make(map[string]bool)
		}
		origins[o] = true
	}

	return &Hub{
		clients:     make(map[uint64]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		origins:     origins,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for matchID, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, matchID)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.clients[req.matchID]; !ok {
				h.clients[req.matchID] = make(map[*Client]bool)
			}
			h.clients[req.matchID][req.client] = true
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "match_id", req.matchID)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.matchID]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.matchID)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "match_id", req.matchID)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to the match's subscribers and the lobby.
// A client subscribed to both receives it once.
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	sent := make(map[*Client]bool)
	for _, key := range []uint64{message.MatchID, lobby} {
		for client := range h.clients[key] {
			if sent[client] {
				continue
			}
			sent[client] = true
			select {
			case client.send <- data:
			default:
				// Client's buffer is full, skip
				h.logger.Warn("client buffer full, skipping", "client_id", client.id)
			}
		}
	}
}

// BroadcastMatchChanged sends a match change to its subscribers
func (h *Hub) BroadcastMatchChanged(ev domain.MatchChanged, m domain.Match) {
	message := &Message{
		Type:      MessageTypeMatchChanged,
		MatchID:   ev.MatchID,
		Data:      MatchUpdate{Event: ev, Match: m},
		Timestamp: time.Now(),
	}

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "match_id", ev.MatchID)
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a match subscription. Match 0 is the lobby.
func (h *Hub) Subscribe(client *Client, matchID uint64) {
	h.subscribe <- &subscriptionRequest{client: client, matchID: matchID}
}

// Unsubscribe removes a client from a match subscription
func (h *Hub) Unsubscribe(client *Client, matchID uint64) {
	h.unsubscribe <- &subscriptionRequest{client: client, matchID: matchID}
}

// GetSubscriberCount returns the number of subscribers for a match
func (h *Hub) GetSubscriberCount(matchID uint64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[matchID])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}

func (h *Hub) checkOrigin(origin string) bool {
	if h.origins == nil || origin == "" {
		return true
	}
	return h.origins[origin]
}
