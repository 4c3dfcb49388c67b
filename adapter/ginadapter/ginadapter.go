// Package ginadapter binds hydrated routes to a gin engine.
package ginadapter

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dalemusser/nural/adapter"
	"github.com/dalemusser/nural/httputil"
	"github.com/dalemusser/nural/metrics"
	"github.com/dalemusser/nural/router"
	"github.com/dalemusser/nural/server"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Adapter serves routes from a gin.Engine. Gin's own logger and recovery
// are not installed; the framework's middleware covers both.
type Adapter struct {
	*adapter.Base
	engine *gin.Engine
	logger *zap.Logger
}

// New returns an Adapter using d for per-request work.
func New(d *adapter.Dispatcher, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.HandleMethodNotAllowed = true
	e.NoRoute(func(c *gin.Context) {
		httputil.JSONError(c.Writer, http.StatusNotFound, "The requested resource was not found")
	})
	e.NoMethod(func(c *gin.Context) {
		httputil.JSONError(c.Writer, http.StatusMethodNotAllowed,
			"The requested HTTP method is not allowed for this resource")
	})
	return &Adapter{Base: adapter.NewBase(d), engine: e, logger: logger}
}

func (a *Adapter) Name() string { return "gin" }

func (a *Adapter) Engine() any { return a.engine }

func (a *Adapter) Handler() http.Handler { return a.Wrap(a.engine) }

func (a *Adapter) Listen(ctx context.Context, opts server.Options) (*server.Server, error) {
	return a.Serve(ctx, a.Handler(), opts)
}

func (a *Adapter) RegisterRoute(route router.Route) error {
	d := a.Dispatcher
	return a.mount(route.Method, route.Path, func(c *gin.Context) {
		params := make(map[string]string, len(c.Params))
		for _, p := range c.Params {
			params[p.Key] = p.Value
		}
		d.Serve(route, c.Writer, c.Request, params)
	})
}

func (a *Adapter) RegisterStaticRoute(method, path string, h adapter.StaticHandler) error {
	return a.mount(method, path, gin.WrapF(a.Dispatcher.ServeStatic(path, h)))
}

func (a *Adapter) Handle(method, path string, h http.Handler) error {
	return a.mount(method, path, gin.WrapH(metrics.Labeled(path, h)))
}

// mount turns gin's registration panics (conflicting wildcards) into
// errors.
func (a *Adapter) mount(method, path string, h gin.HandlerFunc) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("gin: cannot mount %s %s: %v", method, path, rec)
		}
	}()
	if method == "" || method == router.MethodAll {
		a.engine.Any(path, h)
	} else {
		a.engine.Handle(method, path, h)
	}
	a.logger.Debug("route mounted", zap.String("engine", "gin"), zap.String("method", method), zap.String("path", path))
	return nil
}
