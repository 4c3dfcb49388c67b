package server

import (
	"net"
	"net/http"
	"sync"
)

// ConnTracker records live connections via http.Server.ConnState.
// Hijacked connections leave the tracker: whoever hijacked them (a
// WebSocket gateway) owns closing them.
type ConnTracker struct {
	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func NewConnTracker() *ConnTracker {
	return &ConnTracker{conns: make(map[net.Conn]struct{})}
}

// Track is an http.Server ConnState hook.
func (t *ConnTracker) Track(c net.Conn, state http.ConnState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch state {
	case http.StateNew:
		t.conns[c] = struct{}{}
	case http.StateHijacked, http.StateClosed:
		delete(t.conns, c)
	}
}

// Len returns the number of tracked connections.
func (t *ConnTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

// CloseAll closes and forgets every tracked connection.
func (t *ConnTracker) CloseAll() int {
	t.mu.Lock()
	conns := make([]net.Conn, 0, len(t.conns))
	for c := range t.conns {
		conns = append(conns, c)
	}
	t.conns = make(map[net.Conn]struct{})
	t.mu.Unlock()

	for _, c := range conns {
		_ = c.Close()
	}
	return len(conns)
}
