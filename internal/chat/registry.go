package chat

import "sync"

// Registry is the process-wide map from canonical id (and nickname alias,
// when one exists) to the live connection of that user. It is an explicit
// service instance injected into the server, never package state, so tests
// get isolated registries and nothing mutates hidden globals.
//
// Absence of an entry means "offline for direct delivery": callers persist
// normally and skip the direct notification.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Client
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*Client)}
}

// Register records c under the canonical id, and under the alias when it is
// distinct. A reconnect overwrites the previous entry.
func (r *Registry) Register(id, alias string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[id] = c
	if alias != "" && alias != id {
		r.entries[alias] = c
	}
}

// Lookup returns the connection registered under the first matching key.
func (r *Registry) Lookup(keys ...string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, k := range keys {
		if k == "" {
			continue
		}
		if c, ok := r.entries[k]; ok {
			return c, true
		}
	}
	return nil, false
}

// Unregister removes the id and alias entries, but only those still owned by
// c: when the user has already reconnected, the newer registration survives
// the older connection's cleanup.
func (r *Registry) Unregister(id, alias string, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.entries[id]; ok && cur == c {
		delete(r.entries, id)
	}
	if alias != "" && alias != id {
		if cur, ok := r.entries[alias]; ok && cur == c {
			delete(r.entries, alias)
		}
	}
}

// Len returns the number of registry entries (ids plus aliases).
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
