package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/dalemusser/nural/config"
	"github.com/dalemusser/nural/cron"
	"github.com/dalemusser/nural/gateway"
	"github.com/dalemusser/nural/lifecycle"
	"github.com/dalemusser/nural/pantry/health"
	"github.com/dalemusser/nural/pipeline"
	"github.com/dalemusser/nural/router"
	"github.com/dalemusser/nural/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type exits struct {
	mu    sync.Mutex
	codes []int
}

func (e *exits) exit(code int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.codes = append(e.codes, code)
}

func (e *exits) get() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.codes...)
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, s)
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func newApp(t *testing.T, framework string, mutate func(*config.CoreConfig), opts ...Option) (*App, *exits) {
	t.Helper()
	cfg := config.Default()
	cfg.Framework = framework
	cfg.Timeouts.FlushDelay = time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	ex := &exits{}
	base := []Option{WithLogger(zap.NewNop()), WithoutSignals(), WithExitFunc(ex.exit)}
	a, err := New(&cfg, append(base, opts...)...)
	require.NoError(t, err)
	return a, ex
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

var frameworks = []string{"chi", "gin"}

func TestApp_GuardDeniesBeforeHandler(t *testing.T) {
	for _, fw := range frameworks {
		t.Run(fw, func(t *testing.T) {
			a, _ := newApp(t, fw, nil)
			called := false
			deny := pipeline.GuardFunc(func(r *http.Request, ec *pipeline.Context) bool {
				return r.URL.Path != "/api/secret"
			})
			require.NoError(t, a.RegisterModule(router.Module{
				Prefix: "/api",
				Routes: []router.Route{
					{Method: "GET", Path: "/secret", Guards: []pipeline.Guard{deny}, Handler: func(c *router.Ctx) (any, error) {
						called = true
						return map[string]any{"ok": true}, nil
					}},
					{Method: "GET", Path: "/open", Guards: []pipeline.Guard{deny}, Handler: func(c *router.Ctx) (any, error) {
						return map[string]any{"ok": true}, nil
					}},
				},
			}))

			rec, body := do(t, a.Handler(), "GET", "/api/secret", "")
			assert.Equal(t, http.StatusForbidden, rec.Code)
			assert.Equal(t, "Forbidden", body["error"])
			assert.False(t, called)

			rec, body = do(t, a.Handler(), "GET", "/api/open", "")
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, true, body["ok"])
		})
	}
}

type publicUser struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestApp_ResponseSchemaStripsFields(t *testing.T) {
	for _, fw := range frameworks {
		t.Run(fw, func(t *testing.T) {
			a, _ := newApp(t, fw, nil)
			require.NoError(t, a.Register(router.Route{
				Method:    "GET",
				Path:      "/users/:id",
				Responses: map[int]schema.Schema{200: schema.Struct[publicUser]()},
				Handler: func(c *router.Ctx) (any, error) {
					return map[string]any{"id": 1, "name": "ada", "password": "hunter2"}, nil
				},
			}))

			rec, body := do(t, a.Handler(), "GET", "/users/1", "")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, map[string]any{"id": 1.0, "name": "ada"}, body)
		})
	}
}

func TestApp_ReservedProviderRejectsModule(t *testing.T) {
	a, _ := newApp(t, "chi", nil)
	err := a.RegisterModule(router.Module{
		Prefix:    "/bad",
		Providers: router.Services{"req": "nope"},
		Routes: []router.Route{{Method: "GET", Path: "/x", Handler: func(*router.Ctx) (any, error) { return nil, nil }}},
	})
	require.ErrorIs(t, err, router.ErrReservedName)
	assert.Empty(t, a.Routes())

	rec, _ := do(t, a.Handler(), "GET", "/bad/x", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type store struct{ users map[int]string }

func TestApp_ProviderInjectionAndShutdownOrder(t *testing.T) {
	rec := &recorder{}
	a, ex := newApp(t, "chi", nil)

	db := lifecycle.Define(lifecycle.ProviderConfig[*store]{
		Name:  "db",
		Setup: func(context.Context) (*store, error) { return &store{users: map[int]string{1: "ada"}}, nil },
		Teardown: func(context.Context, *store) error {
			rec.add("provider:db")
			return nil
		},
	})
	_, err := a.RegisterProvider(context.Background(), db)
	require.NoError(t, err)
	inst, ok := a.Provider("db")
	require.True(t, ok)
	assert.IsType(t, &store{}, inst)

	require.NoError(t, a.RegisterModule(router.Module{
		Prefix:    "/users",
		Providers: router.Services{"db": db},
		Routes: []router.Route{{Method: "GET", Path: "/:id", Request: router.RequestSchemas{Params: schema.Struct[struct {
			ID int `json:"id" validate:"gte=1"`
		}]()}, Handler: func(c *router.Ctx) (any, error) {
			s := router.MustService[*store](c, "db")
			return map[string]any{"name": s.users[1]}, nil
		}}},
	}))

	require.NoError(t, a.RegisterCron(cron.JobConfig{
		Name:     "noop",
		Schedule: "@every 1h",
		Task:     func(context.Context, *pipeline.Context) error { return nil },
	}))
	a.OnShutdown("first", func(context.Context) error { rec.add("hook:first"); return nil })
	a.OnShutdown("second", func(context.Context) error { rec.add("hook:second"); return nil })

	srv, err := a.StartAt(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)

	resp, err := http.Get("http://" + srv.Addr().String() + "/users/1")
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	_ = resp.Body.Close()
	assert.Equal(t, "ada", body["name"])

	assert.True(t, a.Close())
	assert.False(t, a.Close())

	assert.Equal(t, []string{"provider:db", "hook:second", "hook:first"}, rec.all())
	assert.Equal(t, []int{0}, ex.get())
	assert.Equal(t, lifecycle.StateTerminated, a.State())

	assert.ErrorIs(t, a.Register(router.Route{Method: "GET", Path: "/late", Handler: func(*router.Ctx) (any, error) { return nil, nil }}), ErrClosed)
	_, err = a.RegisterProvider(context.Background(), db)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestApp_ServeFailureExitsNonZero(t *testing.T) {
	a, ex := newApp(t, "chi", nil)
	_, err := a.StartAt(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)

	errs := make(chan error, 1)
	errs <- errors.New("serve: listener died")
	a.watch(errs)

	<-a.Done()
	assert.Equal(t, []int{1}, ex.get())
	require.Error(t, a.Err())
	assert.Contains(t, a.Err().Error(), "listener died")
	assert.False(t, a.Close())
}

func TestApp_StartTwice(t *testing.T) {
	a, _ := newApp(t, "chi", nil)
	_, err := a.StartAt(context.Background(), "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	_, err = a.StartAt(context.Background(), "127.0.0.1:0")
	assert.ErrorIs(t, err, ErrStarted)
}

func TestApp_OpenAPISpec(t *testing.T) {
	a, _ := newApp(t, "gin", nil)
	require.NoError(t, a.RegisterModule(router.Module{
		Prefix: "/api",
		Tags:   []string{"Users"},
		Routes: []router.Route{{
			Method:    "GET",
			Path:      "/users/:id",
			Summary:   "Get user",
			Responses: map[int]schema.Schema{200: schema.Struct[publicUser]()},
			Handler:   func(*router.Ctx) (any, error) { return publicUser{ID: 1}, nil },
		}},
	}))

	doc, err := a.OpenAPISpec()
	require.NoError(t, err)
	op := doc.Paths["/api/users/{id}"]["get"]
	require.NotNil(t, op)
	assert.Equal(t, "Get user", op["summary"])

	rec, body := do(t, a.Handler(), "GET", "/docs/openapi.json", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3.0.3", body["openapi"])

	off, _ := newApp(t, "chi", func(c *config.CoreConfig) { c.Docs.DocsEnabled = false })
	_, err = off.OpenAPISpec()
	assert.Error(t, err)
}

func TestApp_RoutesInRegistrationOrder(t *testing.T) {
	a, _ := newApp(t, "chi", nil)
	h := func(*router.Ctx) (any, error) { return nil, nil }
	require.NoError(t, a.Register(
		router.Route{Method: "GET", Path: "/b", Handler: h},
		router.Route{Method: "POST", Path: "/a", Handler: h},
	))
	routes := a.Routes()
	require.Len(t, routes, 2)
	assert.Equal(t, "/b", routes[0].Path)
	assert.Equal(t, "POST", routes[1].Method)
	assert.True(t, routes[0].Hydrated())
}

func TestApp_MountHealth(t *testing.T) {
	a, _ := newApp(t, "chi", nil)
	require.NoError(t, a.MountHealth("", map[string]health.Check{
		"db": func(context.Context) error { return errors.New("down") },
	}))
	rec, body := do(t, a.Handler(), "GET", "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "error", body["status"])
}

func TestApp_SecurityHeadersAndCorrelationID(t *testing.T) {
	a, _ := newApp(t, "gin", nil)
	require.NoError(t, a.Register(router.Route{Method: "GET", Path: "/ping", Handler: func(*router.Ctx) (any, error) {
		return "pong", nil
	}}))
	rec, _ := do(t, a.Handler(), "GET", "/ping", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
}

func TestApp_Gateway(t *testing.T) {
	a, _ := newApp(t, "chi", nil)
	require.NoError(t, a.RegisterGateway(gateway.New(gateway.Config{Namespace: "/chat"}).
		Event("ping", nil, func(e *gateway.EventCtx) (any, error) { return "pong", nil })))

	ts := httptest.NewServer(a.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/chat", nil)
	require.NoError(t, err)
	defer c.CloseNow()

	require.NoError(t, wsjson.Write(ctx, c, map[string]any{"event": "ping", "id": "1"}))
	var ack map[string]any
	require.NoError(t, wsjson.Read(ctx, c, &ack))
	assert.Equal(t, "ok", ack["status"])
	assert.Equal(t, "pong", ack["data"])
	assert.Equal(t, 1, a.Gateways().Clients("/chat"))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Framework = "express"
	_, err := New(&cfg, WithLogger(zap.NewNop()))
	assert.Error(t, err)
}
