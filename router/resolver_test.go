package router

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dalemusser/nural/exception"
	"github.com/dalemusser/nural/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCtx(method, path string) (*Ctx, *httptest.ResponseRecorder) {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(method, path, nil)
	return NewCtx(pipeline.WrapResponse(rec, 1), r), rec
}

func TestJoinPaths(t *testing.T) {
	tests := []struct {
		prefix, path, want string
	}{
		{"/api/", "/users", "/api/users"},
		{"/api", "users", "/api/users"},
		{"api", "/users", "/api/users"},
		{"/api//", "//users/:id", "/api/users/:id"},
		{"", "/health", "/health"},
		{"", "", "/"},
		{"/api", "", "/api"},
		{"/", "/", "/"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, JoinPaths(tt.prefix, tt.path), "JoinPaths(%q, %q)", tt.prefix, tt.path)
	}
}

func TestResolveModule_ReservedName(t *testing.T) {
	for _, name := range ReservedNames {
		t.Run(name, func(t *testing.T) {
			called := false
			m := Module{
				Prefix:    "/api",
				Providers: Services{name: struct{}{}},
				Routes: []Route{{Method: "GET", Path: "/x", Handler: func(*Ctx) (any, error) {
					called = true
					return nil, nil
				}}},
			}
			routes, err := NewResolver(nil).ResolveModule(m)
			require.ErrorIs(t, err, ErrReservedName)
			assert.Nil(t, routes)
			assert.False(t, called)
		})
	}
}

func TestResolveModule_ReservedInject(t *testing.T) {
	m := Module{Routes: []Route{
		{Method: "GET", Path: "/ok", Handler: func(*Ctx) (any, error) { return nil, nil }},
		{Method: "GET", Path: "/bad", Inject: Services{"body": 1}, Handler: func(*Ctx) (any, error) { return nil, nil }},
	}}
	routes, err := NewResolver(nil).ResolveModule(m)
	require.ErrorIs(t, err, ErrReservedName)
	assert.Empty(t, routes)
}

func TestResolveModule_RejectsBadRoutes(t *testing.T) {
	_, err := NewResolver(nil).Resolve([]Route{{Method: "FETCH", Path: "/x", Handler: func(*Ctx) (any, error) { return nil, nil }}})
	assert.ErrorContains(t, err, "unknown method")

	_, err = NewResolver(nil).Resolve([]Route{{Method: "GET", Path: "/x"}})
	assert.ErrorContains(t, err, "no handler")
}

func TestResolveModule_Merging(t *testing.T) {
	modMW := func(c *Ctx) error { return nil }
	routeMW := func(c *Ctx) error { return nil }
	original := Route{
		Method:     "get",
		Path:       "/users",
		Tags:       []string{"Users"},
		Middleware: []Middleware{routeMW},
		Meta:       map[string]any{"roles": []string{"admin"}},
		Handler:    func(*Ctx) (any, error) { return nil, nil },
	}
	m := Module{
		Prefix:     "/api/",
		Tags:       []string{"API"},
		Middleware: []Middleware{modMW},
		Security:   []Security{{"bearerAuth": {}}},
		Routes:     []Route{original},
	}

	routes, err := NewResolver(nil).ResolveModule(m)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	h := routes[0]

	assert.True(t, h.Hydrated())
	assert.False(t, m.Routes[0].Hydrated())
	assert.Equal(t, "GET", h.Method)
	assert.Equal(t, "/api/users", h.Path)
	assert.Equal(t, []string{"API", "Users"}, h.Tags)
	assert.Len(t, h.Middleware, 2)
	assert.Equal(t, []Security{{"bearerAuth": {}}}, h.Security)

	// The original descriptor stays reusable.
	assert.Equal(t, "/users", m.Routes[0].Path)
	assert.Equal(t, []string{"Users"}, m.Routes[0].Tags)
	assert.Len(t, m.Routes[0].Middleware, 1)

	// Route security overrides the module default.
	m.Routes[0].Security = []Security{{"apiKey": {}}}
	routes, err = NewResolver(nil).ResolveModule(m)
	require.NoError(t, err)
	assert.Equal(t, []Security{{"apiKey": {}}}, routes[0].Security)
}

func TestWrappedHandler_ModuleProvidersOverrideInject(t *testing.T) {
	var seen string
	var fromExec any
	m := Module{
		Providers: Services{"repo": "module-repo"},
		Guards: []pipeline.Guard{func(r *http.Request, ec *pipeline.Context) (bool, error) {
			fromExec, _ = ec.Get("repo")
			return true, nil
		}},
		Routes: []Route{{
			Method: "GET",
			Path:   "/",
			Inject: Services{"repo": "route-repo", "clock": "route-clock"},
			Handler: func(c *Ctx) (any, error) {
				seen = MustService[string](c, "repo")
				clock, ok := Service[string](c, "clock")
				assert.True(t, ok)
				assert.Equal(t, "route-clock", clock)
				return nil, nil
			},
		}},
	}
	routes, err := NewResolver(nil).ResolveModule(m)
	require.NoError(t, err)

	c, _ := newTestCtx("GET", "/")
	_, err = routes[0].Handler(c)
	require.NoError(t, err)
	assert.Equal(t, "module-repo", seen)
	assert.Equal(t, "module-repo", fromExec)
	assert.Equal(t, []string{"clock", "repo"}, c.ServiceNames())
}

func TestWrappedHandler_GuardDeniesSecret(t *testing.T) {
	handlerRan := false
	secretGuard := pipeline.GuardFunc(func(r *http.Request, ec *pipeline.Context) bool {
		return r.URL.Path != "/api/secret"
	})
	m := Module{Prefix: "/api", Routes: []Route{{
		Method: "GET",
		Path:   "/secret",
		Guards: []pipeline.Guard{secretGuard},
		Handler: func(*Ctx) (any, error) {
			handlerRan = true
			return map[string]any{"ok": true}, nil
		},
	}}}
	routes, err := NewResolver(nil).ResolveModule(m)
	require.NoError(t, err)
	require.Equal(t, "/api/secret", routes[0].Path)

	c, _ := newTestCtx("GET", "/api/secret")
	_, err = routes[0].Handler(c)

	var he *exception.HTTPException
	require.True(t, errors.As(err, &he))
	assert.Equal(t, exception.KindForbidden, he.Kind)
	assert.False(t, handlerRan)
}

func TestWrappedHandler_Order(t *testing.T) {
	var order []string
	guard := func(name string) pipeline.Guard {
		return func(*http.Request, *pipeline.Context) (bool, error) {
			order = append(order, "guard:"+name)
			return true, nil
		}
	}
	ic := func(name string) pipeline.Interceptor {
		return func(r *http.Request, next pipeline.Next, ec *pipeline.Context) (any, error) {
			order = append(order, name+"-pre")
			v, err := next()
			order = append(order, name+"-post")
			return v, err
		}
	}
	m := Module{
		Guards:       []pipeline.Guard{guard("module")},
		Interceptors: []pipeline.Interceptor{ic("M")},
		Routes: []Route{{
			Method:       "GET",
			Path:         "/",
			Guards:       []pipeline.Guard{guard("route")},
			Interceptors: []pipeline.Interceptor{ic("R")},
			Handler: func(*Ctx) (any, error) {
				order = append(order, "handler")
				return "done", nil
			},
		}},
	}
	routes, err := NewResolver(nil).ResolveModule(m)
	require.NoError(t, err)

	c, _ := newTestCtx("GET", "/")
	v, err := routes[0].Handler(c)
	require.NoError(t, err)
	assert.Equal(t, "done", v)
	assert.Equal(t, []string{"guard:module", "guard:route", "M-pre", "R-pre", "handler", "R-post", "M-post"}, order)
}

func TestWrappedHandler_Filters(t *testing.T) {
	cause := errors.New("conflict on save")
	writes := func(_ error, _ *http.Request, w pipeline.ResponseWriter, _ *pipeline.Context) {
		w.WriteHeader(http.StatusConflict)
	}
	noop := func(error, *http.Request, pipeline.ResponseWriter, *pipeline.Context) {}
	failing := func(*Ctx) (any, error) { return nil, cause }

	t.Run("handled", func(t *testing.T) {
		routes, err := NewResolver(nil).Resolve([]Route{{Method: "POST", Path: "/x", Filters: []pipeline.Filter{noop, writes}, Handler: failing}})
		require.NoError(t, err)
		c, rec := newTestCtx("POST", "/x")
		v, err := routes[0].Handler(c)
		assert.NoError(t, err)
		assert.Nil(t, v)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("rethrown unchanged", func(t *testing.T) {
		routes, err := NewResolver(nil).Resolve([]Route{{Method: "POST", Path: "/x", Filters: []pipeline.Filter{noop}, Handler: failing}})
		require.NoError(t, err)
		c, _ := newTestCtx("POST", "/x")
		_, err = routes[0].Handler(c)
		assert.Same(t, cause, err)
	})
}

func TestWrappedHandler_PanicBecomesInternal(t *testing.T) {
	routes, err := NewResolver(nil).Resolve([]Route{{Method: "GET", Path: "/p", Handler: func(*Ctx) (any, error) {
		panic("kaboom")
	}}})
	require.NoError(t, err)
	c, _ := newTestCtx("GET", "/p")
	_, err = routes[0].Handler(c)
	var he *exception.HTTPException
	require.True(t, errors.As(err, &he))
	assert.Equal(t, exception.KindInternal, he.Kind)
	assert.Contains(t, he.Message, "kaboom")
}

func TestWrappedHandler_MiddlewareValuesReachHandler(t *testing.T) {
	routes, err := NewResolver(nil).Resolve([]Route{{Method: "GET", Path: "/me",
		Guards: []pipeline.Guard{func(r *http.Request, ec *pipeline.Context) (bool, error) {
			_, ok := pipeline.Value[string](ec, "user")
			ec.Set("checked", true)
			return ok, nil
		}},
		Handler: func(c *Ctx) (any, error) {
			u, _ := Value[string](c, "user")
			checked, _ := Value[bool](c, "checked")
			return map[string]any{"user": u, "checked": checked}, nil
		},
	}})
	require.NoError(t, err)
	c, _ := newTestCtx("GET", "/me")
	c.Set("user", "ada")
	v, err := routes[0].Handler(c)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"user": "ada", "checked": true}, v)
	assert.Equal(t, pipeline.TypeHTTP, c.Exec().Type())
}

func listUsers(*Ctx) (any, error) { return nil, nil }

func TestHandlerName(t *testing.T) {
	routes, err := NewResolver(nil).Resolve([]Route{
		{Method: "GET", Path: "/a", Handler: listUsers},
		{Method: "GET", Path: "/b", Handler: func(*Ctx) (any, error) { return nil, nil }},
		{Method: "GET", Path: "/c", Name: "custom", Handler: listUsers},
	})
	require.NoError(t, err)
	assert.Equal(t, "listUsers", routes[0].Name)
	assert.Equal(t, "anonymous", routes[1].Name)
	assert.Equal(t, "custom", routes[2].Name)
}
