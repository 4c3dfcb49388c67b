// gateway/hub.go
package gateway

import (
	"context"
	"net/http"
	"sort"
	"sync"
)

// hub tracks the clients and rooms of one namespace.
type hub struct {
	namespace string

	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
}

func newHub(namespace string) *hub {
	return &hub{
		namespace: namespace,
		clients:   make(map[*Client]struct{}),
		rooms:     make(map[string]map[*Client]struct{}),
	}
}

func (h *hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

// remove drops c from the hub and every room it joined.
func (h *hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	for name, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, name)
		}
	}
}

func (h *hub) join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
}

func (h *hub) leave(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *hub) inRoom(c *Client, room string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[room][c]
	return ok
}

func (h *hub) roomsOf(c *Client) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var names []string
	for name, members := range h.rooms {
		if _, ok := members[c]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (h *hub) snapshot(room string, except *Client) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	src := h.clients
	if room != "" {
		src = h.rooms[room]
	}
	out := make([]*Client, 0, len(src))
	for c := range src {
		if c != except {
			out = append(out, c)
		}
	}
	return out
}

func (h *hub) size() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// emit sends event to every selected client. The last write error is
// returned; delivery to other clients continues.
func (h *hub) emit(ctx context.Context, room string, except *Client, event string, data any) error {
	var lastErr error
	for _, c := range h.snapshot(room, except) {
		if err := c.Emit(ctx, event, data); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

// Client is one connected socket within a namespace.
type Client struct {
	id      string
	conn    *conn
	hub     *hub
	request *http.Request

	mu   sync.RWMutex
	data map[string]any
}

// ID is the client's unique id.
func (c *Client) ID() string { return c.id }

// Namespace is the gateway path the client connected to.
func (c *Client) Namespace() string { return c.hub.namespace }

// Request is the upgrade request: headers, query and remote address.
func (c *Client) Request() *http.Request { return c.request }

// Set stores per-connection data, e.g. the authenticated user.
func (c *Client) Set(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = v
}

// Get reads per-connection data.
func (c *Client) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

// Emit pushes an event to this client.
func (c *Client) Emit(ctx context.Context, event string, data any) error {
	return c.conn.writeJSON(ctx, Emit{Event: event, Data: data})
}

// Join adds the client to room.
func (c *Client) Join(room string) { c.hub.join(c, room) }

// Leave removes the client from room.
func (c *Client) Leave(room string) { c.hub.leave(c, room) }

// InRoom reports membership.
func (c *Client) InRoom(room string) bool { return c.hub.inRoom(c, room) }

// Rooms lists joined rooms, sorted.
func (c *Client) Rooms() []string { return c.hub.roomsOf(c) }

// To emits to everyone in room except this client.
func (c *Client) To(ctx context.Context, room, event string, data any) error {
	return c.hub.emit(ctx, room, c, event, data)
}

// Broadcast emits to every other client in the namespace.
func (c *Client) Broadcast(ctx context.Context, event string, data any) error {
	return c.hub.emit(ctx, "", c, event, data)
}

// Disconnect closes the connection with a normal closure.
func (c *Client) Disconnect(reason string) {
	c.conn.close(StatusNormalClosure, reason)
}
