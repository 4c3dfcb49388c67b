package pipeline

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Type discriminates the transport that produced an invocation.
type Type string

const (
	TypeHTTP Type = "http"
	TypeWS   Type = "ws"
	TypeCron Type = "cron"
)

// Context is created once per inbound invocation and dropped when the
// invocation ends. It carries the positional transport arguments
// ([r, w, next] for HTTP, [client, message] for WebSocket), the handler
// identity, the route metadata, and a value store shared by every stage.
type Context struct {
	id          string
	typ         Type
	args        []any
	handlerName string
	metadata    map[string]any
	values      *Values
	ctx         context.Context
}

// Option customises a Context at construction.
type Option func(*Context)

// WithHandlerName sets the name reported by HandlerName.
func WithHandlerName(name string) Option {
	return func(c *Context) { c.handlerName = name }
}

// WithMetadata attaches route metadata.
func WithMetadata(md map[string]any) Option {
	return func(c *Context) { c.metadata = md }
}

// WithValues seeds the value store.
func WithValues(v *Values) Option {
	return func(c *Context) {
		if v != nil {
			c.values.Merge(v)
		}
	}
}

// WithContext sets the context.Context returned by Context.Context.
func WithContext(ctx context.Context) Option {
	return func(c *Context) { c.ctx = ctx }
}

// New builds a Context of the given type over positional args.
func New(typ Type, args []any, opts ...Option) *Context {
	c := &Context{
		id:          uuid.NewString(),
		typ:         typ,
		args:        args,
		handlerName: "anonymous",
		values:      NewValues(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metadata == nil {
		c.metadata = map[string]any{}
	}
	if c.ctx == nil {
		c.ctx = context.Background()
	}
	return c
}

// NewHTTPContext builds an http-typed Context from a request/response pair.
// next may be nil.
func NewHTTPContext(w http.ResponseWriter, r *http.Request, next http.Handler, opts ...Option) *Context {
	if r != nil {
		opts = append([]Option{WithContext(r.Context())}, opts...)
	}
	return New(TypeHTTP, []any{r, w, next}, opts...)
}

// NewWSContext builds a ws-typed Context from a socket client and the
// message it sent.
func NewWSContext(client, message any, opts ...Option) *Context {
	return New(TypeWS, []any{client, message}, opts...)
}

// NewCronContext builds a cron-typed Context for one run of a job.
func NewCronContext(job string, opts ...Option) *Context {
	return New(TypeCron, []any{job}, append([]Option{WithHandlerName(job)}, opts...)...)
}

// ID is a random identifier for this invocation.
func (c *Context) ID() string { return c.id }

// Type reports which transport produced the invocation.
func (c *Context) Type() Type { return c.typ }

// HandlerName names the handler being invoked ("anonymous" if unset).
func (c *Context) HandlerName() string { return c.handlerName }

// SetHandlerName replaces the handler name.
func (c *Context) SetHandlerName(name string) { c.handlerName = name }

// Metadata returns the route metadata. The map is never nil.
func (c *Context) Metadata() map[string]any { return c.metadata }

// Args returns the positional invocation arguments.
func (c *Context) Args() []any { return c.args }

// Context returns the invocation's context.Context.
func (c *Context) Context() context.Context { return c.ctx }

// SetContext replaces the invocation's context.Context for every later
// stage, for example with one carrying a span. Nil is ignored.
func (c *Context) SetContext(ctx context.Context) {
	if ctx != nil {
		c.ctx = ctx
	}
}

// Values exposes the shared value store.
func (c *Context) Values() *Values { return c.values }

// Set stores a value visible to every later stage.
func (c *Context) Set(key string, v any) { c.values.Set(key, v) }

// Get reads a value stored with Set.
func (c *Context) Get(key string) (any, bool) { return c.values.Get(key) }

// Value returns the value stored under key as T.
func Value[T any](c *Context, key string) (T, bool) {
	return Lookup[T](c.values, key)
}

// MustValue is Value that panics when the key is missing or mistyped.
func MustValue[T any](c *Context, key string) T {
	v, ok := Value[T](c, key)
	if !ok {
		panic("pipeline: value " + key + " missing or of unexpected type")
	}
	return v
}

func (c *Context) arg(i int) any {
	if i < len(c.args) {
		return c.args[i]
	}
	return nil
}

// HTTPHost is the HTTP view of the positional arguments.
type HTTPHost struct{ c *Context }

// SwitchToHTTP returns the HTTP view of the arguments.
func (c *Context) SwitchToHTTP() HTTPHost { return HTTPHost{c} }

func (h HTTPHost) Request() *http.Request {
	r, _ := h.c.arg(0).(*http.Request)
	return r
}

func (h HTTPHost) Response() http.ResponseWriter {
	w, _ := h.c.arg(1).(http.ResponseWriter)
	return w
}

func (h HTTPHost) Next() http.Handler {
	n, _ := h.c.arg(2).(http.Handler)
	return n
}

// WSHost is the WebSocket view of the positional arguments.
type WSHost struct{ c *Context }

// SwitchToWS returns the WebSocket view of the arguments.
func (c *Context) SwitchToWS() WSHost { return WSHost{c} }

func (h WSHost) Client() any { return h.c.arg(0) }

func (h WSHost) Data() any { return h.c.arg(1) }
