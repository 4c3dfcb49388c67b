// router/ctx.go
package router

import (
	"context"
	"net/http"
	"sort"

	"github.com/dalemusser/nural/pipeline"
)

// Ctx is what a handler receives: validated inputs, the raw request and
// response, route metadata, injected services, and values produced by
// middleware and guards.
type Ctx struct {
	Params   any
	Query    any
	Body     any
	Request  *http.Request
	Response pipeline.ResponseWriter
	Meta     map[string]any

	values   *pipeline.Values
	services Services
	exec     *pipeline.Context
}

// NewCtx builds a handler context around a request.
func NewCtx(w pipeline.ResponseWriter, r *http.Request) *Ctx {
	return &Ctx{Request: r, Response: w, values: pipeline.NewValues(), Meta: map[string]any{}}
}

// Context returns the invocation's context.Context: the execution
// context's once the handler runs (so interceptors can attach spans),
// the request's before that.
func (c *Ctx) Context() context.Context {
	if c.exec != nil {
		return c.exec.Context()
	}
	if c.Request != nil {
		return c.Request.Context()
	}
	return context.Background()
}

// Set stores a value for later stages.
func (c *Ctx) Set(key string, v any) { c.values.Set(key, v) }

// Get reads a stored value or an injected service.
func (c *Ctx) Get(key string) (any, bool) {
	if v, ok := c.values.Get(key); ok {
		return v, true
	}
	v, ok := c.services[key]
	return v, ok
}

// Values exposes the value store.
func (c *Ctx) Values() *pipeline.Values { return c.values }

// Exec returns the execution context for this invocation. It is nil until
// the hydrated handler runs.
func (c *Ctx) Exec() *pipeline.Context { return c.exec }

// ServiceNames lists the injected service names in sorted order.
func (c *Ctx) ServiceNames() []string {
	names := make([]string, 0, len(c.services))
	for k := range c.services {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// instancer is satisfied by lifecycle providers, whose instance only exists
// after initialization.
type instancer interface {
	Instance() any
}

// Service returns the injected service name as T. Lifecycle providers are
// unwrapped to their live instance.
func Service[T any](c *Ctx, name string) (T, bool) {
	var zero T
	raw, ok := c.services[name]
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

// MustService is Service that panics when the service is missing.
func MustService[T any](c *Ctx, name string) T {
	v, ok := Service[T](c, name)
	if !ok {
		panic("router: service " + name + " not injected or of unexpected type")
	}
	return v
}

// Value returns a value stored by middleware or a guard as T.
func Value[T any](c *Ctx, key string) (T, bool) {
	return pipeline.Lookup[T](c.values, key)
}

// ParamsAs returns the validated path params as T.
func ParamsAs[T any](c *Ctx) T {
	v, _ := c.Params.(T)
	return v
}

// QueryAs returns the validated query as T.
func QueryAs[T any](c *Ctx) T {
	v, _ := c.Query.(T)
	return v
}

// BodyAs returns the validated body as T.
func BodyAs[T any](c *Ctx) T {
	v, _ := c.Body.(T)
	return v
}
