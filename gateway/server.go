// gateway/server.go
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/dalemusser/nural/exception"
	"github.com/dalemusser/nural/httputil"
	"github.com/dalemusser/nural/metrics"
	"github.com/dalemusser/nural/pipeline"
	"github.com/dalemusser/nural/schema"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrDuplicateNamespace is returned when two gateways share a path.
var ErrDuplicateNamespace = errors.New("gateway: namespace already registered")

// ErrServerClosed is returned by Register after Stop.
var ErrServerClosed = errors.New("gateway: server closed")

type binding struct {
	gw     *Gateway
	hub    *hub
	events map[string]Event
}

// Server owns every registered gateway and their live connections.
type Server struct {
	opts   AcceptOptions
	logger *zap.Logger

	mu       sync.Mutex
	bindings map[string]*binding
	closed   bool
	wg       sync.WaitGroup
}

// NewServer returns an empty Server.
func NewServer(logger *zap.Logger, opts AcceptOptions) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		opts:     opts,
		logger:   logger.Named("gateway"),
		bindings: make(map[string]*binding),
	}
}

// Register binds g and returns the upgrade handler to mount at
// g.Namespace().
func (s *Server) Register(g *Gateway) (http.Handler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrServerClosed
	}
	ns := g.Namespace()
	if _, exists := s.bindings[ns]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateNamespace, ns)
	}
	b := &binding{gw: g, hub: newHub(ns), events: g.table()}
	s.bindings[ns] = b
	s.logger.Info("binding gateway", zap.String("namespace", ns), zap.Strings("events", g.Events()))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { s.serve(b, w, r) }), nil
}

// Namespaces lists bound namespaces, sorted.
func (s *Server) Namespaces() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.bindings))
	for ns := range s.bindings {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// Clients reports live connections on namespace.
func (s *Server) Clients(namespace string) int {
	if b := s.binding(namespace); b != nil {
		return b.hub.size()
	}
	return 0
}

// Emit pushes event to every client of namespace, or only to room when
// room is non-empty.
func (s *Server) Emit(ctx context.Context, namespace, room, event string, data any) error {
	b := s.binding(namespace)
	if b == nil {
		return fmt.Errorf("gateway: unknown namespace %q", namespace)
	}
	return b.hub.emit(ctx, room, nil, event, data)
}

func (s *Server) binding(namespace string) *binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bindings[namespace]
}

// Stop refuses new connections, closes live ones with GoingAway, and
// waits for their handlers to return or ctx to end.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var clients []*Client
	for _, b := range s.bindings {
		clients = append(clients, b.hub.snapshot("", nil)...)
	}
	s.mu.Unlock()

	for _, c := range clients {
		go c.conn.close(StatusGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Info("socket server closed", zap.Int("clients_closed", len(clients)))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// track registers a connection handler unless the server is closed.
func (s *Server) track() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Server) serve(b *binding, w http.ResponseWriter, r *http.Request) {
	if !s.track() {
		httputil.JSONError(w, http.StatusServiceUnavailable, "server shutting down")
		return
	}
	defer s.wg.Done()

	cn, err := accept(w, r, s.opts)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.String("namespace", b.hub.namespace), zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	c := &Client{
		id:      uuid.NewString(),
		conn:    cn,
		hub:     b.hub,
		request: r,
		data:    make(map[string]any),
	}
	log := s.logger.With(zap.String("namespace", b.hub.namespace), zap.String("client", c.id))
	services := b.gw.cfg.Inject

	for _, mw := range b.gw.cfg.Middleware {
		if err := mw(c, services); err != nil {
			log.Info("connection rejected", zap.Error(err))
			cn.close(StatusPolicyViolation, err.Error())
			return
		}
	}

	b.hub.add(c)
	metrics.WSClientConnected(b.gw.cfg.Namespace)
	defer func() {
		b.hub.remove(c)
		metrics.WSClientDisconnected(b.gw.cfg.Namespace)
		cn.close(StatusNormalClosure, "")
		s.runHook(log, "onDisconnect", b.gw.cfg.OnDisconnect, c, services)
	}()
	s.runHook(log, "onConnect", b.gw.cfg.OnConnect, c, services)

	for {
		data, err := cn.read(ctx)
		if err != nil {
			if st := closeStatus(err); st == StatusNormalClosure || st == StatusGoingAway || cn.isClosed() {
				log.Debug("client disconnected")
			} else {
				log.Debug("read failed", zap.Error(err))
			}
			return
		}
		s.dispatch(ctx, log, b, c, data)
	}
}

func (s *Server) runHook(log *zap.Logger, name string, h Hook, c *Client, services map[string]any) {
	if h == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("gateway hook panicked", zap.String("hook", name), zap.Any("panic", rec))
		}
	}()
	h(c, services)
}

func (s *Server) dispatch(ctx context.Context, log *zap.Logger, b *binding, c *Client, raw []byte) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		log.Debug("malformed frame", zap.ByteString("frame", raw))
		s.reply(ctx, log, c, errorAck(env.ID, exception.BadRequest("malformed message")))
		return
	}

	ev, ok := b.events[env.Event]
	if !ok {
		log.Debug("unknown event", zap.String("event", env.Event))
		if env.ID != "" {
			s.reply(ctx, log, c, errorAck(env.ID, exception.NotFound("unknown event "+env.Event)))
		}
		return
	}

	result, err := s.invoke(ctx, b, c, ev, env)
	if err != nil {
		log.Error("error handling event", zap.String("event", env.Event), zap.Error(err))
		if env.ID != "" {
			s.reply(ctx, log, c, errorAck(env.ID, err))
		}
		return
	}
	if env.ID != "" {
		s.reply(ctx, log, c, okAck(env.ID, result))
	}
}

func (s *Server) invoke(ctx context.Context, b *binding, c *Client, ev Event, env Envelope) (result any, err error) {
	var message any
	if ev.Payload != nil {
		message, err = schema.ParseAs(ev.Payload, "message", env.Data)
		if err != nil {
			return nil, err
		}
	} else if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &message); err != nil {
			return nil, exception.BadRequest("malformed message data")
		}
	}

	ec := pipeline.NewWSContext(c, message,
		pipeline.WithHandlerName(ev.Name),
		pipeline.WithContext(ctx),
		pipeline.WithMetadata(map[string]any{"namespace": b.hub.namespace, "event": ev.Name}),
	)
	for name, svc := range b.gw.cfg.Inject {
		ec.Set(name, svc)
	}

	defer func() {
		if rec := recover(); rec != nil {
			result, err = nil, exception.Internal("event handler panicked", fmt.Sprint(rec))
		}
	}()
	return ev.Handler(&EventCtx{
		Client:   c,
		Message:  message,
		Event:    ev.Name,
		exec:     ec,
		services: b.gw.cfg.Inject,
		ctx:      ctx,
	})
}

func (s *Server) reply(ctx context.Context, log *zap.Logger, c *Client, ack Ack) {
	if err := c.conn.writeJSON(ctx, ack); err != nil && !errors.Is(err, ErrConnectionClosed) {
		log.Debug("ack write failed", zap.Error(err))
	}
}
