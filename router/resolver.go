// router/resolver.go
package router

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"runtime"
	"slices"
	"sort"
	"strings"

	"github.com/dalemusser/nural/exception"
	"github.com/dalemusser/nural/pipeline"
	"go.uber.org/zap"
)

// ErrReservedName is returned when a provider or injected service would
// shadow one of the handler context's own fields.
var ErrReservedName = errors.New("reserved service name")

// ReservedNames cannot be used as provider or Inject keys.
var ReservedNames = []string{"req", "res", "body", "query", "params", "next"}

// Resolver turns modules into hydrated routes whose handlers run guards,
// interceptors, and exception filters around the declared handler.
type Resolver struct {
	logger *zap.Logger
}

// NewResolver returns a Resolver. logger may be nil.
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger}
}

// ResolveModule hydrates every route of m. Configuration errors (reserved
// service names, unknown methods, missing handlers) fail the whole module
// before any route is hydrated.
func (rs *Resolver) ResolveModule(m Module) ([]Route, error) {
	if err := checkReserved(m.Providers, "module "+moduleLabel(m)); err != nil {
		return nil, err
	}
	for i, r := range m.Routes {
		if err := checkReserved(r.Inject, fmt.Sprintf("route %s %s", r.Method, r.Path)); err != nil {
			return nil, err
		}
		if !knownMethods[strings.ToUpper(r.Method)] {
			return nil, fmt.Errorf("router: route %d (%s): unknown method %q", i, r.Path, r.Method)
		}
		if r.Handler == nil {
			return nil, fmt.Errorf("router: route %s %s has no handler", r.Method, r.Path)
		}
	}

	out := make([]Route, 0, len(m.Routes))
	for _, r := range m.Routes {
		h := rs.hydrate(m, r)
		rs.logger.Debug("route hydrated",
			zap.String("module", moduleLabel(m)),
			zap.String("method", h.Method),
			zap.String("path", h.Path),
			zap.String("handler", h.Name),
			zap.Int("guards", len(h.Guards)),
			zap.Int("interceptors", len(h.Interceptors)),
		)
		out = append(out, h)
	}
	return out, nil
}

// Resolve hydrates routes that belong to no module.
func (rs *Resolver) Resolve(routes []Route) ([]Route, error) {
	return rs.ResolveModule(Module{Routes: routes})
}

func (rs *Resolver) hydrate(m Module, r Route) Route {
	h := r
	h.hydrated = true
	h.Method = strings.ToUpper(r.Method)
	h.Path = JoinPaths(m.Prefix, r.Path)
	h.Tags = slices.Concat(m.Tags, r.Tags)
	h.Middleware = slices.Concat(m.Middleware, r.Middleware)
	h.Guards = slices.Concat(m.Guards, r.Guards)
	h.Interceptors = slices.Concat(m.Interceptors, r.Interceptors)
	h.Filters = slices.Concat(m.Filters, r.Filters)
	h.Security = slices.Clone(r.Security)
	if h.Security == nil {
		h.Security = slices.Clone(m.Security)
	}
	h.Meta = maps.Clone(r.Meta)
	if h.Meta == nil {
		h.Meta = map[string]any{}
	}
	h.Responses = maps.Clone(r.Responses)
	h.OpenAPI = maps.Clone(r.OpenAPI)
	if h.Name == "" {
		h.Name = handlerName(r.Handler)
	}

	services := make(Services, len(r.Inject)+len(m.Providers))
	maps.Copy(services, r.Inject)
	maps.Copy(services, m.Providers)
	h.Inject = services

	h.Handler = wrap(h, r.Handler, services)
	return h
}

// wrap builds the per-request pipeline: execution context, service
// attachment, guards, interceptors around the handler, then exception
// filters on failure. A filter that writes a response ends the request
// with (nil, nil); otherwise the error is returned unchanged.
func wrap(h Route, handler HandlerFunc, services Services) HandlerFunc {
	names := make([]string, 0, len(services))
	for k := range services {
		names = append(names, k)
	}
	sort.Strings(names)

	guards, interceptors, filters := h.Guards, h.Interceptors, h.Filters
	name, meta := h.Name, h.Meta

	return func(c *Ctx) (any, error) {
		ec := pipeline.NewHTTPContext(c.Response, c.Request, nil,
			pipeline.WithHandlerName(name),
			pipeline.WithMetadata(meta),
			pipeline.WithValues(c.values),
		)
		for _, k := range names {
			ec.Set(k, services[k])
		}
		c.exec = ec
		c.values = ec.Values()
		c.services = services
		c.Meta = meta

		result, err := invoke(c, ec, guards, interceptors, handler)
		if err == nil {
			return result, nil
		}
		if pipeline.ApplyFilters(filters, err, c.Request, c.Response, ec) {
			return nil, nil
		}
		return nil, err
	}
}

func invoke(c *Ctx, ec *pipeline.Context, guards []pipeline.Guard, interceptors []pipeline.Interceptor, handler HandlerFunc) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			err = exception.Internal(fmt.Sprintf("panic in %s: %v", ec.HandlerName(), rec))
		}
	}()
	if err := pipeline.TryActivate(guards, c.Request, ec); err != nil {
		return nil, err
	}
	return pipeline.Intercept(interceptors, c.Request, ec, func() (any, error) {
		return handler(c)
	})
}

// JoinPaths joins a prefix and a path with exactly one slash between them
// and a leading slash on the result.
func JoinPaths(prefix, path string) string {
	p := strings.TrimRight(prefix, "/")
	s := strings.TrimLeft(path, "/")
	if p != "" && !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	switch {
	case p == "" && s == "":
		return "/"
	case s == "":
		return p
	}
	return p + "/" + s
}

func checkReserved(services Services, where string) error {
	for k := range services {
		if slices.Contains(ReservedNames, k) {
			return fmt.Errorf("%w: %s: %q, rename it", ErrReservedName, where, k)
		}
	}
	return nil
}

func moduleLabel(m Module) string {
	if m.Name != "" {
		return m.Name
	}
	if m.Prefix != "" {
		return m.Prefix
	}
	return "root"
}

// handlerName reports the declared function name of h, or "anonymous" for
// closures.
func handlerName(h HandlerFunc) string {
	fn := runtime.FuncForPC(reflect.ValueOf(h).Pointer())
	if fn == nil {
		return "anonymous"
	}
	full := fn.Name()
	if i := strings.LastIndex(full, "/"); i >= 0 {
		full = full[i+1:]
	}
	if i := strings.Index(full, "."); i >= 0 {
		full = full[i+1:]
	}
	if full == "" || strings.Contains(full, "func") {
		return "anonymous"
	}
	full = strings.TrimSuffix(full, "-fm")
	if i := strings.LastIndex(full, "."); i >= 0 {
		full = full[i+1:]
	}
	return full
}
