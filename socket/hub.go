package socket

import (
	"encoding/json"
	"sync"

	"storyforge/internal/collab/engine"
	"storyforge/internal/collab/model"
	"storyforge/pkg/logger"
)

// Hub routes outbound messages to the connections of each session's room.
// It implements engine.Effects: the session actors call Broadcast/SendTo
// after every committed transaction, and the hub guarantees those calls
// never block on a slow consumer.
type Hub struct {
	mu      sync.Mutex
	rooms   map[string]map[*Client]bool
	manager *engine.Manager
}

func NewHub(manager *engine.Manager) *Hub {
	h := &Hub{
		rooms:   make(map[string]map[*Client]bool),
		manager: manager,
	}
	manager.SetEffects(h)
	return h
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[c.sessionID] == nil {
		h.rooms[c.sessionID] = make(map[*Client]bool)
	}
	h.rooms[c.sessionID][c] = true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	if clients, ok := h.rooms[c.sessionID]; ok {
		if _, ok := clients[c]; ok {
			delete(clients, c)
			close(c.send)
			if len(clients) == 0 {
				delete(h.rooms, c.sessionID)
			}
		}
	}
	h.mu.Unlock()
}

// Broadcast fans a message out to every connection in the session's room,
// skipping exceptUserID when non-empty. A client whose send buffer is full
// is dropped from routing rather than blocking the pipeline.
func (h *Hub) Broadcast(sessionID, exceptUserID string, msg model.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling broadcast message: %v", err)
		return
	}

	h.mu.Lock()
	clients := make([]*Client, 0, len(h.rooms[sessionID]))
	for c := range h.rooms[sessionID] {
		if exceptUserID != "" && c.userID == exceptUserID {
			continue
		}
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.deliver(c, payload)
	}
}

// SendTo delivers a message to a single collaborator's connections.
func (h *Hub) SendTo(sessionID, userID string, msg model.Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		logger.Sugar.Errorf("Error marshalling message for %s: %v", userID, err)
		return
	}

	h.mu.Lock()
	clients := make([]*Client, 0, 1)
	for c := range h.rooms[sessionID] {
		if c.userID == userID {
			clients = append(clients, c)
		}
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.deliver(c, payload)
	}
}

func (h *Hub) deliver(c *Client, payload []byte) {
	select {
	case c.send <- payload:
	default:
		// The client is lagging; closing the connection lets its pumps
		// exit and unregister cleanly without blocking the hub.
		logger.Sugar.Warnf("Client %s's send buffer is full. Dropping connection.", c.userID)
		c.conn.Close()
	}
}
