// app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/dalemusser/nural/adapter"
	"github.com/dalemusser/nural/adapter/chiadapter"
	"github.com/dalemusser/nural/adapter/ginadapter"
	"github.com/dalemusser/nural/config"
	"github.com/dalemusser/nural/cron"
	"github.com/dalemusser/nural/docs"
	"github.com/dalemusser/nural/exception"
	"github.com/dalemusser/nural/gateway"
	"github.com/dalemusser/nural/httputil"
	"github.com/dalemusser/nural/lifecycle"
	"github.com/dalemusser/nural/logging"
	"github.com/dalemusser/nural/metrics"
	"github.com/dalemusser/nural/middleware"
	"github.com/dalemusser/nural/pantry/health"
	"github.com/dalemusser/nural/router"
	"github.com/dalemusser/nural/server"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// ErrStarted is returned by Start when the app is already listening.
var ErrStarted = errors.New("app: already started")

// ErrClosed is returned when registering on an app that is shutting down.
var ErrClosed = errors.New("app: shutting down")

// App composes the route resolver, the engine adapter, providers, cron
// jobs, gateways, docs and the shutdown sequence.
type App struct {
	cfg    config.CoreConfig
	sink   *logging.Sink
	logger *zap.Logger

	adapter   adapter.ServerAdapter
	resolver  *router.Resolver
	providers *lifecycle.Container
	shutdown  *lifecycle.ShutdownManager
	docs      *docs.Manager

	mu       sync.Mutex
	routes   []router.Route
	cron     *cron.Service
	gateways *gateway.Server
	srv      *server.Server
	serveErr error
	stopSigs func()

	opts options
}

// New builds an App from cfg. The engine is chosen by cfg.Framework.
func New(cfg *config.CoreConfig, opts ...Option) (*App, error) {
	if cfg == nil {
		d := config.Default()
		cfg = &d
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{signals: true}
	for _, opt := range opts {
		opt(&o)
	}

	sink := o.sink
	if sink == nil {
		var err error
		sink, err = logging.NewSink(logging.SinkOptions{Level: cfg.LogLevel, Env: cfg.Env, File: cfg.LogFile})
		if err != nil {
			return nil, fmt.Errorf("app: build logger: %w", err)
		}
	}
	logger := sink.Logger()
	httputil.SetLogger(logger)

	a := &App{
		cfg:       *cfg,
		sink:      sink,
		logger:    logger,
		resolver:  router.NewResolver(logger.Named("router")),
		providers: lifecycle.NewContainer(logger.Named("providers")),
		opts:      o,
	}
	a.shutdown = lifecycle.NewShutdownManager(lifecycle.ShutdownOptions{
		Timeout:      cfg.Timeouts.ShutdownTimeout,
		DrainTimeout: cfg.Timeouts.DrainTimeout,
		FlushDelay:   cfg.Timeouts.FlushDelay,
		Exit:         o.exit,
		Logger:       logger.Named("shutdown"),
	})
	// Registered first so it runs last.
	a.shutdown.OnShutdown("logger", func(context.Context) error { return sink.Close() })

	errCfg := exception.HandlerConfig{
		Handler:      o.errorHandler,
		IncludeStack: cfg.Errors.ErrorIncludeStack && !cfg.IsProd(),
		LogErrors:    cfg.Errors.ErrorLogErrors,
	}
	d := adapter.NewDispatcher(errCfg, cfg.IsProd(), logger.Named("dispatch"))

	switch strings.ToLower(cfg.Framework) {
	case "gin":
		a.adapter = ginadapter.New(d, logger.Named("gin"))
	default:
		a.adapter = chiadapter.New(d, logger.Named("chi"))
	}

	a.useGlobalMiddleware()

	if cfg.Metrics.MetricsEnabled {
		metrics.RegisterDefault(logger)
		if err := a.adapter.Handle(http.MethodGet, cfg.Metrics.MetricsPath, metrics.Handler()); err != nil {
			return nil, fmt.Errorf("app: mount metrics: %w", err)
		}
	}

	a.docs = docs.NewManager(docs.Config{
		Enabled: cfg.Docs.DocsEnabled,
		Path:    cfg.Docs.DocsPath,
		UI:      docs.UI(cfg.Docs.DocsUI),
		Info: docs.Info{
			Title:       cfg.Docs.DocsTitle,
			Version:     cfg.Docs.DocsVersion,
			Description: cfg.Docs.DocsDescription,
		},
		Overrides: o.docs,
	}, logger.Named("docs"))
	if err := a.docs.Setup(a.adapter); err != nil {
		return nil, fmt.Errorf("app: mount docs: %w", err)
	}

	logger.Info("application created",
		zap.String("framework", a.adapter.Name()),
		zap.String("env", cfg.Env),
		zap.Bool("docs", cfg.Docs.DocsEnabled),
		zap.Bool("metrics", cfg.Metrics.MetricsEnabled))
	return a, nil
}

// useGlobalMiddleware installs the process-wide chain, outermost first.
func (a *App) useGlobalMiddleware() {
	cfg := &a.cfg
	a.adapter.Use(logging.Recoverer(a.logger))
	if cfg.Metrics.MetricsEnabled {
		a.adapter.Use(metrics.HTTPMetrics)
	}
	a.adapter.Use(chimw.RequestID)
	if !a.opts.quietHTTP {
		a.adapter.Use(logging.RequestLogger(a.logger.Named("http"), logging.RequestLoggerOptions{UserAgent: !cfg.IsProd()}))
	}
	a.adapter.Use(
		middleware.CORSFromConfig(cfg),
		middleware.SecurityHeadersFromConfig(cfg),
		middleware.LimitBodySize(cfg.MaxRequestBodyBytes),
		middleware.CompressFromConfig(cfg),
	)
	if len(a.opts.middleware) > 0 {
		a.adapter.Use(a.opts.middleware...)
	}
}

// Register hydrates and binds routes that belong to no module.
func (a *App) Register(routes ...router.Route) error {
	return a.RegisterModule(router.Module{Routes: routes})
}

// RegisterModule hydrates every route of m through the full pipeline and
// binds them. A configuration error rejects the whole module.
func (a *App) RegisterModule(m router.Module) error {
	if a.shutdown.State() != lifecycle.StateRunning {
		return ErrClosed
	}
	hydrated, err := a.resolver.ResolveModule(m)
	if err != nil {
		return err
	}
	for _, r := range hydrated {
		if err := a.adapter.RegisterRoute(r); err != nil {
			return fmt.Errorf("app: bind %s %s: %w", r.Method, r.Path, err)
		}
		a.docs.AddRoute(r)
	}
	a.mu.Lock()
	a.routes = append(a.routes, hydrated...)
	a.mu.Unlock()
	return nil
}

// RegisterProvider initializes p and hands it to the container, which
// destroys it during shutdown. The instance is returned.
func (a *App) RegisterProvider(ctx context.Context, p lifecycle.Provider) (any, error) {
	if a.shutdown.State() != lifecycle.StateRunning {
		return nil, ErrClosed
	}
	return a.providers.Register(ctx, p)
}

// Provider returns a registered provider's instance.
func (a *App) Provider(name string) (any, bool) {
	return a.providers.Get(name)
}

// Providers exposes the container, e.g. for lifecycle.RegisterAs.
func (a *App) Providers() *lifecycle.Container { return a.providers }

// OnShutdown adds a cleanup hook. Hooks run in reverse registration order
// after providers are destroyed.
func (a *App) OnShutdown(name string, fn lifecycle.Hook) {
	a.shutdown.OnShutdown(name, fn)
}

// RegisterCron schedules a job. Duplicate names are skipped with a
// warning.
func (a *App) RegisterCron(cfg cron.JobConfig) error {
	if a.shutdown.State() != lifecycle.StateRunning {
		return ErrClosed
	}
	a.mu.Lock()
	if a.cron == nil {
		a.cron = cron.New(a.logger)
	}
	svc := a.cron
	a.mu.Unlock()
	_, err := svc.AddJob(cfg)
	return err
}

// Cron returns the scheduler, or nil before the first RegisterCron.
func (a *App) Cron() *cron.Service {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cron
}

// RegisterGateway mounts g at its namespace.
func (a *App) RegisterGateway(g *gateway.Gateway) error {
	if a.shutdown.State() != lifecycle.StateRunning {
		return ErrClosed
	}
	a.mu.Lock()
	if a.gateways == nil {
		a.gateways = gateway.NewServer(a.logger.Named("gateway"), a.opts.accept)
	}
	gs := a.gateways
	a.mu.Unlock()

	h, err := gs.Register(g)
	if err != nil {
		return err
	}
	return a.adapter.Handle(http.MethodGet, g.Namespace(), h)
}

// Gateways returns the socket server, or nil before the first
// RegisterGateway.
func (a *App) Gateways() *gateway.Server {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.gateways
}

// MountHealth serves a health endpoint at path (default "/health").
func (a *App) MountHealth(path string, checks map[string]health.Check) error {
	if path == "" {
		path = "/health"
	}
	return health.Mount(a.adapter, path, checks, health.Options{Logger: a.logger.Named("health")})
}

// Start listens on the configured address.
func (a *App) Start(ctx context.Context) (*server.Server, error) {
	return a.StartAt(ctx, a.cfg.Addr())
}

// StartAt listens on addr and returns once the listener is bound. Unless
// disabled with WithoutSignals, SIGINT/SIGTERM/SIGQUIT trigger Close.
func (a *App) StartAt(ctx context.Context, addr string) (*server.Server, error) {
	a.mu.Lock()
	if a.srv != nil {
		a.mu.Unlock()
		return nil, ErrStarted
	}
	a.mu.Unlock()

	t := a.cfg.Timeouts
	var redirect string
	if a.cfg.HTTP.UseHTTPS && a.cfg.HTTP.HTTPPort > 0 {
		redirect = fmt.Sprintf(":%d", a.cfg.HTTP.HTTPPort)
	}
	srv, err := a.adapter.Listen(ctx, server.Options{
		Addr:              addr,
		ReadTimeout:       t.ReadTimeout,
		ReadHeaderTimeout: t.ReadHeaderTimeout,
		WriteTimeout:      t.WriteTimeout,
		IdleTimeout:       t.IdleTimeout,
		Production:        a.cfg.IsProd(),
		Logger:            a.logger.Named("server"),
		TLS: server.TLSOptions{
			UseHTTPS:       a.cfg.HTTP.UseHTTPS,
			CertFile:       a.cfg.TLS.CertFile,
			KeyFile:        a.cfg.TLS.KeyFile,
			UseLetsEncrypt: a.cfg.TLS.UseLetsEncrypt,
			Domain:         a.cfg.TLS.Domain,
			Email:          a.cfg.TLS.LetsEncryptEmail,
			CacheDir:       a.cfg.TLS.LetsEncryptCacheDir,
			RedirectAddr:   redirect,
		},
	})
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.srv = srv
	if a.opts.signals {
		a.stopSigs = a.shutdown.HandleSignals(func(os.Signal) { a.Close() })
	}
	routes := len(a.routes)
	a.mu.Unlock()

	go a.watch(srv.Err())

	a.logger.Info("application started",
		zap.String("addr", srv.Addr().String()),
		zap.Int("routes", routes))
	if a.docs.Enabled() {
		a.logger.Info("documentation available", zap.String("path", a.docs.Path()))
	}
	return srv, nil
}

// watch shuts the app down if the listener dies underneath it. It is the
// only reader of the server's error channel.
func (a *App) watch(errs <-chan error) {
	select {
	case err := <-errs:
		if err != nil {
			a.logger.Error("server failed", zap.Error(err))
			a.mu.Lock()
			a.serveErr = err
			a.mu.Unlock()
			a.closeWith(err)
		}
	case <-a.shutdown.Done():
	}
}

// Close runs the shutdown sequence: schedulers and gateways stop, the
// listener drains and leftover connections are destroyed, providers are
// destroyed, hooks run newest first, then the process exits. Only the
// first call does anything; it reports whether it ran.
func (a *App) Close() bool { return a.closeWith(nil) }

func (a *App) closeWith(cause error) bool {
	a.mu.Lock()
	t := lifecycle.Targets{Providers: a.providers, Cause: cause}
	if a.cron != nil {
		t.Schedulers = append(t.Schedulers, a.cron)
	}
	if a.gateways != nil {
		t.Sockets = append(t.Sockets, a.gateways)
	}
	if a.srv != nil {
		t.Server = a.srv
	}
	stop := a.stopSigs
	a.mu.Unlock()

	ran := a.shutdown.Execute(context.Background(), t)
	if ran && stop != nil {
		stop()
	}
	return ran
}

// Err returns the serve failure that ended the app, if any.
func (a *App) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.serveErr
}

// release frees providers and the log sink without the exit sequence;
// used when startup fails before the app is serving.
func (a *App) release(ctx context.Context) {
	if err := a.providers.DestroyAll(context.WithoutCancel(ctx)); err != nil {
		a.logger.Error("provider teardown failed", zap.Error(err))
	}
	if c := a.Cron(); c != nil {
		_ = c.Stop(ctx)
	}
	_ = a.sink.Close()
}

// Done is closed once shutdown has finished.
func (a *App) Done() <-chan struct{} { return a.shutdown.Done() }

// State reports the shutdown state.
func (a *App) State() lifecycle.State { return a.shutdown.State() }

// Routes returns the hydrated routes in registration order.
func (a *App) Routes() []router.Route {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.routes)
}

// OpenAPISpec renders the OpenAPI document. It fails when docs are off.
func (a *App) OpenAPISpec() (*docs.Document, error) {
	return a.docs.Spec()
}

// Handler returns the engine wrapped in the global middleware, for tests
// and for embedding in another server.
func (a *App) Handler() http.Handler { return a.adapter.Handler() }

// Adapter exposes the engine binding.
func (a *App) Adapter() adapter.ServerAdapter { return a.adapter }

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Config returns a copy of the core config.
func (a *App) Config() config.CoreConfig { return a.cfg }
