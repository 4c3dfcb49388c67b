package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/dalemusser/nural/exception"
	"github.com/dalemusser/nural/pipeline"
	"github.com/dalemusser/nural/router"
	"github.com/dalemusser/nural/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chatMessage struct {
	Text string `json:"text" validate:"required"`
}

type greeter struct{ prefix string }

func (g greeter) Greet(s string) string { return g.prefix + s }

func startServer(t *testing.T, gws ...*Gateway) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(nil, AcceptOptions{InsecureSkipVerify: true})
	mux := http.NewServeMux()
	for _, g := range gws {
		h, err := s.Register(g)
		require.NoError(t, err)
		mux.Handle(g.Namespace(), h)
	}
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return s, ts
}

func dial(t *testing.T, ts *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + path
	c, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.CloseNow() })
	return c
}

func roundTrip(t *testing.T, c *websocket.Conn, env map[string]any) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, c, env))
	var out map[string]any
	require.NoError(t, wsjson.Read(ctx, c, &out))
	return out
}

func chatGateway(execs chan<- *pipeline.Context) *Gateway {
	return New(Config{
		Namespace: "chat",
		Inject:    router.Services{"greeter": greeter{prefix: "hi "}},
	}).
		Event("message", schema.Struct[chatMessage](), func(e *EventCtx) (any, error) {
			if execs != nil {
				execs <- e.Exec()
			}
			g, _ := Service[greeter](e, "greeter")
			return map[string]any{"echo": g.Greet(MessageAs[chatMessage](e).Text)}, nil
		}).
		Event("fail", nil, func(e *EventCtx) (any, error) {
			return nil, exception.Forbidden("not allowed", map[string]any{"reason": "muted"})
		}).
		Event("boom", nil, func(e *EventCtx) (any, error) {
			panic("kaboom")
		}).
		Event("plain", nil, func(e *EventCtx) (any, error) {
			return nil, errors.New("plain failure")
		})
}

func TestGateway_AckOK(t *testing.T) {
	execs := make(chan *pipeline.Context, 1)
	_, ts := startServer(t, chatGateway(execs))
	c := dial(t, ts, "/chat")

	ack := roundTrip(t, c, map[string]any{"event": "message", "id": "1", "data": map[string]any{"text": "there"}})
	assert.Equal(t, "1", ack["id"])
	assert.Equal(t, "ok", ack["status"])
	assert.Equal(t, map[string]any{"echo": "hi there"}, ack["data"])

	ec := <-execs
	assert.Equal(t, pipeline.TypeWS, ec.Type())
	assert.Equal(t, "message", ec.HandlerName())
	assert.IsType(t, &Client{}, ec.SwitchToWS().Client())
	assert.Equal(t, chatMessage{Text: "there"}, ec.SwitchToWS().Data())
	_, ok := ec.Get("greeter")
	assert.True(t, ok)
}

func TestGateway_ValidationAck(t *testing.T) {
	_, ts := startServer(t, chatGateway(nil))
	c := dial(t, ts, "/chat")

	ack := roundTrip(t, c, map[string]any{"event": "message", "id": "2", "data": map[string]any{}})
	assert.Equal(t, "error", ack["status"])
	assert.Equal(t, "Validation Failed", ack["error"])
	assert.NotEmpty(t, ack["details"])
}

func TestGateway_ErrorAcks(t *testing.T) {
	_, ts := startServer(t, chatGateway(nil))
	c := dial(t, ts, "/chat")

	ack := roundTrip(t, c, map[string]any{"event": "fail", "id": "3"})
	assert.Equal(t, "error", ack["status"])
	assert.Equal(t, "not allowed", ack["error"])
	assert.Equal(t, map[string]any{"reason": "muted"}, ack["details"])

	ack = roundTrip(t, c, map[string]any{"event": "plain", "id": "4"})
	assert.Equal(t, "plain failure", ack["error"])

	ack = roundTrip(t, c, map[string]any{"event": "boom", "id": "5"})
	assert.Equal(t, "error", ack["status"])
	assert.Equal(t, "event handler panicked", ack["error"])

	ack = roundTrip(t, c, map[string]any{"event": "nope", "id": "6"})
	assert.Equal(t, "error", ack["status"])

	// the connection survives handler failures
	ack = roundTrip(t, c, map[string]any{"event": "message", "id": "7", "data": map[string]any{"text": "still"}})
	assert.Equal(t, "ok", ack["status"])
}

func TestGateway_MiddlewareRejects(t *testing.T) {
	g := New(Config{
		Namespace: "/secure",
		Middleware: []ConnMiddleware{func(c *Client, _ router.Services) error {
			if c.Request().URL.Query().Get("token") != "good" {
				return errors.New("unauthorized")
			}
			c.Set("user", "ada")
			return nil
		}},
	}).Event("whoami", nil, func(e *EventCtx) (any, error) {
		u, _ := e.Client.Get("user")
		return u, nil
	})
	_, ts := startServer(t, g)

	bad := dial(t, ts, "/secure")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := bad.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))

	good := dial(t, ts, "/secure?token=good")
	ack := roundTrip(t, good, map[string]any{"event": "whoami", "id": "1"})
	assert.Equal(t, "ada", ack["data"])
}

func TestGateway_RoomsAndLifecycle(t *testing.T) {
	var connects, disconnects atomic.Int32
	g := New(Config{
		Namespace:    "/rooms",
		OnConnect:    func(*Client, router.Services) { connects.Add(1) },
		OnDisconnect: func(*Client, router.Services) { disconnects.Add(1) },
	}).
		Event("join", nil, func(e *EventCtx) (any, error) {
			e.Client.Join(e.Message.(string))
			return e.Client.Rooms(), nil
		}).
		Event("say", nil, func(e *EventCtx) (any, error) {
			return nil, e.Client.To(e.Context(), "lobby", "said", e.Message)
		})
	s, ts := startServer(t, g)

	a := dial(t, ts, "/rooms")
	b := dial(t, ts, "/rooms")
	ack := roundTrip(t, a, map[string]any{"event": "join", "id": "1", "data": "lobby"})
	assert.Equal(t, []any{"lobby"}, ack["data"])
	roundTrip(t, b, map[string]any{"event": "join", "id": "1", "data": "lobby"})
	assert.Equal(t, 2, s.Clients("/rooms"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, a, map[string]any{"event": "say", "data": "hello"}))
	var got map[string]any
	require.NoError(t, wsjson.Read(ctx, b, &got))
	assert.Equal(t, map[string]any{"event": "said", "data": "hello"}, got)

	require.NoError(t, s.Emit(ctx, "/rooms", "", "notice", "all"))
	require.NoError(t, wsjson.Read(ctx, a, &got))
	assert.Equal(t, "notice", got["event"])

	assert.Equal(t, int32(2), connects.Load())
	a.Close(websocket.StatusNormalClosure, "")
	assert.Eventually(t, func() bool { return disconnects.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, s.Clients("/rooms"))
}

func TestServer_StopClosesWithGoingAway(t *testing.T) {
	s, ts := startServer(t, chatGateway(nil))
	c := dial(t, ts, "/chat")
	roundTrip(t, c, map[string]any{"event": "message", "id": "1", "data": map[string]any{"text": "x"}})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	readErr := make(chan error, 1)
	go func() {
		_, _, err := c.Read(ctx)
		readErr <- err
	}()
	require.NoError(t, s.Stop(ctx))

	err := <-readErr
	require.Error(t, err)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))

	resp, err := http.Get(ts.URL + "/chat")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	_, err = s.Register(New(Config{Namespace: "/late"}))
	assert.ErrorIs(t, err, ErrServerClosed)
}

func TestServer_DuplicateNamespace(t *testing.T) {
	s := NewServer(nil, AcceptOptions{})
	_, err := s.Register(New(Config{Namespace: "/chat"}))
	require.NoError(t, err)
	_, err = s.Register(New(Config{Namespace: "chat/"}))
	assert.ErrorIs(t, err, ErrDuplicateNamespace)
	assert.Equal(t, []string{"/chat"}, s.Namespaces())
}
