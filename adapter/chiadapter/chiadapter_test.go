package chiadapter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dalemusser/nural/adapter"
	"github.com/dalemusser/nural/exception"
	"github.com/dalemusser/nural/router"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPattern(t *testing.T) {
	assert.Equal(t, "/users/{id}", Pattern("/users/:id"))
	assert.Equal(t, "/orgs/{org_id}/users/{userId}", Pattern("/orgs/:org_id/users/:userId"))
	assert.Equal(t, "/static/*", Pattern("/static/*"))
}

func newAdapter() *Adapter {
	return New(adapter.NewDispatcher(exception.HandlerConfig{}, false, nil), nil)
}

func TestAdapter_RouteParamsAndMiddleware(t *testing.T) {
	a := newAdapter()
	var order []string
	a.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			order = append(order, "global")
			next.ServeHTTP(w, r)
		})
	})

	routes, err := router.NewResolver(nil).ResolveModule(router.Module{
		Prefix: "/api",
		Routes: []router.Route{{
			Method: "GET",
			Path:   "/users/:id",
			Handler: func(c *router.Ctx) (any, error) {
				order = append(order, "handler")
				return map[string]any{"id": router.ParamsAs[map[string]string](c)["id"]}, nil
			},
		}},
	})
	require.NoError(t, err)
	require.NoError(t, a.RegisterRoute(routes[0]))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/users/42", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "42", body["id"])
	assert.Equal(t, []string{"global", "handler"}, order)
	assert.IsType(t, &chi.Mux{}, a.Engine())
	assert.Equal(t, "chi", a.Name())
}

func TestAdapter_NotFoundAndMethodNotAllowed(t *testing.T) {
	a := newAdapter()
	require.NoError(t, a.Handle("GET", "/ping", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest("POST", "/ping", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestAdapter_AllMethods(t *testing.T) {
	a := newAdapter()
	routes, err := router.NewResolver(nil).Resolve([]router.Route{{
		Method:  router.MethodAll,
		Path:    "/any",
		Handler: func(c *router.Ctx) (any, error) { return map[string]string{"m": c.Request.Method}, nil },
	}})
	require.NoError(t, err)
	require.NoError(t, a.RegisterRoute(routes[0]))

	for _, m := range []string{"GET", "POST", "PATCH"} {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(m, "/any", nil))
		assert.Equal(t, http.StatusOK, rec.Code, m)
	}
}

func TestAdapter_BadPatternIsError(t *testing.T) {
	a := newAdapter()
	err := a.Handle("GET", "no-leading-slash", http.NotFoundHandler())
	assert.Error(t, err)
}
