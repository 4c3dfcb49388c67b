// gateway/gateway.go
package gateway

import (
	"context"
	"strings"

	"github.com/dalemusser/nural/pipeline"
	"github.com/dalemusser/nural/router"
	"github.com/dalemusser/nural/schema"
)

// Hook runs on connect or disconnect.
type Hook func(c *Client, services router.Services)

// ConnMiddleware runs once per connection before any event is read.
// Returning an error closes the socket with a policy violation.
type ConnMiddleware func(c *Client, services router.Services) error

// EventHandler handles one inbound event. The returned value becomes the
// acknowledgement's data.
type EventHandler func(e *EventCtx) (any, error)

// Event binds an event name to a handler. When Payload is set the
// message is validated and replaced by the parsed value.
type Event struct {
	Name    string
	Payload schema.Schema
	Handler EventHandler
}

// Config describes a gateway before its events are added.
type Config struct {
	// Namespace is the mount path. Default "/".
	Namespace    string
	Inject       router.Services
	Middleware   []ConnMiddleware
	OnConnect    Hook
	OnDisconnect Hook
}

// Gateway is a namespace with its event table, built with New and Event.
type Gateway struct {
	cfg    Config
	events []Event
}

// New starts a gateway definition.
func New(cfg Config) *Gateway {
	cfg.Namespace = router.JoinPaths("", strings.Trim(cfg.Namespace, "/"))
	return &Gateway{cfg: cfg}
}

// Event registers a handler for name. A name registered twice keeps the
// later handler.
func (g *Gateway) Event(name string, payload schema.Schema, h EventHandler) *Gateway {
	g.events = append(g.events, Event{Name: name, Payload: payload, Handler: h})
	return g
}

// Namespace returns the normalized mount path.
func (g *Gateway) Namespace() string { return g.cfg.Namespace }

// Events lists the registered event names in registration order.
func (g *Gateway) Events() []string {
	names := make([]string, len(g.events))
	for i, e := range g.events {
		names[i] = e.Name
	}
	return names
}

func (g *Gateway) table() map[string]Event {
	t := make(map[string]Event, len(g.events))
	for _, e := range g.events {
		t[e.Name] = e
	}
	return t
}

// EventCtx is what an EventHandler receives.
type EventCtx struct {
	Client  *Client
	Message any
	Event   string

	exec     *pipeline.Context
	services router.Services
	ctx      context.Context
}

// Context is canceled when the connection ends.
func (e *EventCtx) Context() context.Context { return e.ctx }

// Exec returns the ws-typed execution context for this event.
func (e *EventCtx) Exec() *pipeline.Context { return e.exec }

type instancer interface {
	Instance() any
}

// Service returns the injected service name as T. Lifecycle providers are
// unwrapped to their live instance.
func Service[T any](e *EventCtx, name string) (T, bool) {
	var zero T
	raw, ok := e.services[name]
	if !ok {
		return zero, false
	}
	if t, ok := raw.(T); ok {
		return t, true
	}
	if p, ok := raw.(instancer); ok {
		t, ok := p.Instance().(T)
		return t, ok
	}
	return zero, false
}

// MessageAs returns the validated message as T.
func MessageAs[T any](e *EventCtx) T {
	v, _ := e.Message.(T)
	return v
}
