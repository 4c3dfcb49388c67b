package testkit

import (
	"net/http"
	"testing"

	"github.com/dalemusser/nural/router"
	"github.com/dalemusser/nural/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type createItem struct {
	Name string `json:"name" validate:"required"`
	Qty  int    `json:"qty" validate:"gte=1"`
}

func TestClient_AgainstApp(t *testing.T) {
	a, c := NewApp(t, nil)
	require.NoError(t, a.Register(
		router.Route{
			Method:  "POST",
			Path:    "/items",
			Request: router.RequestSchemas{Body: schema.Struct[createItem]()},
			Handler: func(ctx *router.Ctx) (any, error) {
				in := router.BodyAs[createItem](ctx)
				return map[string]any{"items": []any{map[string]any{"name": in.Name, "qty": in.Qty}}}, nil
			},
		},
		router.Route{
			Method: "GET",
			Path:   "/echo",
			Handler: func(ctx *router.Ctx) (any, error) {
				return map[string]any{
					"q":    ctx.Request.URL.Query().Get("q"),
					"auth": ctx.Request.Header.Get("Authorization"),
				}, nil
			},
		},
	))

	c.Post("/items").JSON(map[string]any{"name": "bolt", "qty": 3}).Do().
		Status(http.StatusOK).
		JSONPathEquals("items.0.name", "bolt").
		JSONPathEquals("items.0.qty", 3)

	res := c.Post("/items").JSON(map[string]any{"qty": 0}).Do().Status(http.StatusBadRequest)
	assert.Equal(t, "Validation Error", res.JSONPath("error"))

	c.Get("/echo").Query("q", "hi").Bearer("tok").Do().
		Status(http.StatusOK).
		JSONPathEquals("q", "hi").
		JSONPathEquals("auth", "Bearer tok")

	c.Get("/missing").Do().Status(http.StatusNotFound).BodyContains("Cannot GET /missing")
}

func TestClient_DefaultHeader(t *testing.T) {
	a, c := NewApp(t, nil)
	require.NoError(t, a.Register(router.Route{Method: "GET", Path: "/whoami", Handler: func(ctx *router.Ctx) (any, error) {
		return map[string]any{"tenant": ctx.Request.Header.Get("X-Tenant")}, nil
	}}))
	c.Header.Set("X-Tenant", "acme")
	c.Get("/whoami").Do().Status(http.StatusOK).JSONPathEquals("tenant", "acme")
	c.Get("/whoami").Header("X-Tenant", "other").Do().JSONPathEquals("tenant", "other")
}
