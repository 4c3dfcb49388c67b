// Package adapter is the boundary between hydrated routes and a concrete
// HTTP engine. Engines live in subpackages (chiadapter, ginadapter); the
// per-request flow they share lives in Dispatcher.
package adapter

import (
	"context"
	"net/http"
	"sync"

	"github.com/dalemusser/nural/router"
	"github.com/dalemusser/nural/server"
	"github.com/go-chi/chi/v5"
)

// StaticResponse is what a StaticHandler returns. Type is "json", "html",
// or "text"; ContentType overrides the header derived from Type.
type StaticResponse struct {
	Type        string
	Data        any
	ContentType string
}

// StaticHandler serves an endpoint that has no schemas or pipeline, such
// as the OpenAPI document.
type StaticHandler func(r *http.Request) (StaticResponse, error)

// ServerAdapter binds routes to an HTTP engine.
type ServerAdapter interface {
	// Name identifies the engine ("chi", "gin").
	Name() string
	// RegisterRoute binds a hydrated route.
	RegisterRoute(route router.Route) error
	// RegisterStaticRoute binds a non-schema endpoint.
	RegisterStaticRoute(method, path string, h StaticHandler) error
	// Handle mounts a raw handler (WebSocket upgrades, /metrics).
	Handle(method, path string, h http.Handler) error
	// Use adds process-wide middleware. Middleware wraps every request,
	// including unmatched ones.
	Use(mw ...func(http.Handler) http.Handler)
	// Handler returns the engine wrapped in the middleware added with Use.
	Handler() http.Handler
	// Engine exposes the underlying engine (*chi.Mux, *gin.Engine).
	Engine() any
	// Listen binds and serves Handler in the background.
	Listen(ctx context.Context, opts server.Options) (*server.Server, error)
	// Server is the handle returned by the last Listen, or nil.
	Server() *server.Server
}

// Base carries what every engine adapter shares: the dispatcher, global
// middleware, and the listening server.
type Base struct {
	Dispatcher *Dispatcher

	mu  sync.Mutex
	mws []func(http.Handler) http.Handler
	srv *server.Server
}

// NewBase returns a Base around d.
func NewBase(d *Dispatcher) *Base {
	return &Base{Dispatcher: d}
}

func (b *Base) Use(mw ...func(http.Handler) http.Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mws = append(b.mws, mw...)
}

// Wrap applies the global middleware around engine, first-added outermost.
func (b *Base) Wrap(engine http.Handler) http.Handler {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.mws) == 0 {
		return engine
	}
	return chi.Chain(b.mws...).Handler(engine)
}

// Serve binds h via the server package and remembers the handle.
func (b *Base) Serve(ctx context.Context, h http.Handler, opts server.Options) (*server.Server, error) {
	s, err := server.Listen(ctx, h, opts)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	b.srv = s
	b.mu.Unlock()
	return s, nil
}

func (b *Base) Server() *server.Server {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.srv
}
