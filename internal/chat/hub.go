package chat

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

// Hub tracks every live connection and the per-room broadcast groups.
// Room membership is how new_message and messages_read reach the subset of
// connections currently viewing a conversation; the full client set serves
// global presence broadcasts.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
	}
}

// Add registers a connection with the hub.
func (h *Hub) Add(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// Remove drops a connection from the hub and from every room it joined.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.clients, c)
	for room, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Join subscribes a connection to a room's broadcast group. Joining twice
// is a no-op.
func (h *Hub) Join(room string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
}

// InRoom reports whether c is subscribed to room.
func (h *Hub) InRoom(room string, c *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	members, ok := h.rooms[room]
	if !ok {
		return false
	}
	_, ok = members[c]
	return ok
}

// BroadcastRoom delivers env to every connection subscribed to room, minus
// except when non-nil. Delivery to a closed or slow connection is dropped
// silently.
func (h *Hub) BroadcastRoom(room string, env Envelope, except *Client) {
	raw, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("event", env.Event).Msg("failed to marshal room broadcast")
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if c != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.pushRaw(raw)
	}
}

// BroadcastAll delivers env to every live connection, minus except when
// non-nil. Used for global presence transitions.
func (h *Hub) BroadcastAll(env Envelope, except *Client) {
	raw, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("event", env.Event).Msg("failed to marshal broadcast")
		return
	}

	h.mu.RLock()
	targets := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		if c != except {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.pushRaw(raw)
	}
}
