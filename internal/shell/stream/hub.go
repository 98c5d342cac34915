// Package stream delivers published deployment events to connected clients.
//
// A Relay subscribes to the shared event channel and routes every envelope to
// the Hub by the workspaceId of its payload. The Hub only ever hands an event
// to clients registered for that workspace.
package stream

import (
	"log/slog"
	"sync"
)

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages stream subscriptions by workspace ID.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[Subscriber]struct{}
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]map[Subscriber]struct{}),
		logger:  logger.With("component", "stream_hub"),
	}
}

// Register adds a client to a workspace stream.
func (h *Hub) Register(workspaceID string, client Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[workspaceID]; !ok {
		h.clients[workspaceID] = make(map[Subscriber]struct{})
	}
	h.clients[workspaceID][client] = struct{}{}
}

// Unregister removes a client.
func (h *Hub) Unregister(workspaceID string, client Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(workspaceID, client)
}

func (h *Hub) remove(workspaceID string, client Subscriber) {
	if clients, ok := h.clients[workspaceID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, workspaceID)
		}
	}
}

// Broadcast hands payload to all clients of a workspace and returns how many
// accepted it. Clients that fail or fall behind are closed and dropped.
func (h *Hub) Broadcast(workspaceID string, payload []byte) int {
	h.mu.RLock()
	targets := make([]Subscriber, 0, len(h.clients[workspaceID]))
	for c := range h.clients[workspaceID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	delivered := 0
	var failed []Subscriber
	for _, c := range targets {
		if err := c.Send(payload); err != nil {
			failed = append(failed, c)
			continue
		}
		delivered++
	}

	if len(failed) > 0 {
		h.mu.Lock()
		for _, c := range failed {
			h.remove(workspaceID, c)
		}
		h.mu.Unlock()
		for _, c := range failed {
			c.Close()
		}
		h.logger.Debug("dropped failed stream clients", "workspace_id", workspaceID, "count", len(failed))
	}
	return delivered
}

// Count returns the number of clients registered for a workspace.
func (h *Hub) Count(workspaceID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[workspaceID])
}

// CloseAll closes and drops every client.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[string]map[Subscriber]struct{})
	h.mu.Unlock()

	for _, set := range clients {
		for c := range set {
			c.Close()
		}
	}
}
