// Package chiadapter binds hydrated routes to a go-chi router.
package chiadapter

import (
	"context"
	"fmt"
	"net/http"
	"regexp"

	"github.com/dalemusser/nural/adapter"
	"github.com/dalemusser/nural/metrics"
	"github.com/dalemusser/nural/middleware"
	"github.com/dalemusser/nural/router"
	"github.com/dalemusser/nural/server"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Adapter serves routes from a chi.Mux.
type Adapter struct {
	*adapter.Base
	mux    *chi.Mux
	logger *zap.Logger
}

// New returns an Adapter using d for per-request work.
func New(d *adapter.Dispatcher, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := chi.NewRouter()
	mux.NotFound(middleware.NotFoundHandler(logger))
	mux.MethodNotAllowed(middleware.MethodNotAllowedHandler(logger))
	return &Adapter{Base: adapter.NewBase(d), mux: mux, logger: logger}
}

func (a *Adapter) Name() string { return "chi" }

func (a *Adapter) Engine() any { return a.mux }

func (a *Adapter) Handler() http.Handler { return a.Wrap(a.mux) }

func (a *Adapter) Listen(ctx context.Context, opts server.Options) (*server.Server, error) {
	return a.Serve(ctx, a.Handler(), opts)
}

func (a *Adapter) RegisterRoute(route router.Route) error {
	d := a.Dispatcher
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.Serve(route, w, r, urlParams(r))
	})
	return a.mount(route.Method, route.Path, h)
}

func (a *Adapter) RegisterStaticRoute(method, path string, h adapter.StaticHandler) error {
	return a.mount(method, path, a.Dispatcher.ServeStatic(path, h))
}

func (a *Adapter) Handle(method, path string, h http.Handler) error {
	return a.mount(method, path, metrics.Labeled(path, h))
}

// mount turns chi's registration panics into errors.
func (a *Adapter) mount(method, path string, h http.Handler) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("chi: cannot mount %s %s: %v", method, path, rec)
		}
	}()
	pattern := Pattern(path)
	if method == "" || method == router.MethodAll {
		a.mux.Handle(pattern, h)
	} else {
		a.mux.Method(method, pattern, h)
	}
	a.logger.Debug("route mounted", zap.String("engine", "chi"), zap.String("method", method), zap.String("pattern", pattern))
	return nil
}

var paramRe = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)

// Pattern converts :param segments to chi's {param} form.
func Pattern(path string) string {
	return paramRe.ReplaceAllString(path, "{$1}")
}

func urlParams(r *http.Request) map[string]string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return map[string]string{}
	}
	out := make(map[string]string, len(rctx.URLParams.Keys))
	for i, k := range rctx.URLParams.Keys {
		if k == "*" {
			continue
		}
		out[k] = rctx.URLParams.Values[i]
	}
	return out
}
