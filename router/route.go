// router/route.go
package router

import (
	"github.com/dalemusser/nural/pipeline"
	"github.com/dalemusser/nural/schema"
)

// HTTP methods accepted in Route.Method. MethodAll matches every method.
const (
	MethodGet     = "GET"
	MethodPost    = "POST"
	MethodPut     = "PUT"
	MethodPatch   = "PATCH"
	MethodDelete  = "DELETE"
	MethodOptions = "OPTIONS"
	MethodHead    = "HEAD"
	MethodAll     = "ALL"
)

var knownMethods = map[string]bool{
	MethodGet: true, MethodPost: true, MethodPut: true, MethodPatch: true,
	MethodDelete: true, MethodOptions: true, MethodHead: true, MethodAll: true,
}

// HandlerFunc handles a request whose inputs have already been validated.
// The returned value is validated against the route's success response
// schema and written as JSON. A nil result with no schema yields an empty
// body.
type HandlerFunc func(c *Ctx) (any, error)

// Middleware runs before input validation. Values it stores with c.Set are
// visible to guards, interceptors, and the handler. Returning an error
// aborts the request.
type Middleware func(c *Ctx) error

// Services maps injected service names to instances.
type Services map[string]any

// Security is one OpenAPI security requirement, e.g. {"bearerAuth": {}}.
type Security map[string][]string

// RequestSchemas validates the three request inputs. Nil schemas leave the
// raw input in place.
type RequestSchemas struct {
	Params schema.Schema
	Query  schema.Schema
	Body   schema.Schema
}

// Route declares one endpoint. A Route value is never modified by the
// framework; resolving it produces a new hydrated Route.
type Route struct {
	Method      string
	Path        string
	Name        string
	Summary     string
	Description string
	Tags        []string

	Request   RequestSchemas
	Responses map[int]schema.Schema

	Middleware   []Middleware
	Guards       []pipeline.Guard
	Interceptors []pipeline.Interceptor
	Filters      []pipeline.Filter
	Inject       Services

	Handler HandlerFunc

	Meta     map[string]any
	Security []Security
	OpenAPI  map[string]any

	hydrated bool
}

// Hydrated reports whether r came out of a Resolver.
func (r Route) Hydrated() bool { return r.hydrated }

// Module groups routes under a shared prefix and shared defaults. Module
// middleware, guards, interceptors, and filters run before the route's
// own. Providers override same-named route Inject entries.
type Module struct {
	Name         string
	Prefix       string
	Middleware   []Middleware
	Guards       []pipeline.Guard
	Interceptors []pipeline.Interceptor
	Filters      []pipeline.Filter
	Tags         []string
	Security     []Security
	Providers    Services
	Routes       []Route
}
