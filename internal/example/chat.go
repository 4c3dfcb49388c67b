// internal/example/chat.go
package example

import (
	"strings"
	"time"

	"github.com/dalemusser/nural/exception"
	"github.com/dalemusser/nural/gateway"
	"github.com/dalemusser/nural/pantry/auth/jwt"
	"github.com/dalemusser/nural/router"
	"github.com/dalemusser/nural/schema"
	"go.uber.org/zap"
)

// RoomInput is the payload of join and leave.
type RoomInput struct {
	Room string `json:"room" validate:"required,min=1,max=64"`
}

// ChatInput is the payload of message.
type ChatInput struct {
	Room string `json:"room" validate:"required,min=1,max=64"`
	Text string `json:"text" validate:"required,min=1,max=1000"`
}

// ChatMessage is what room members receive.
type ChatMessage struct {
	Room   string `json:"room"`
	From   string `json:"from"`
	Name   string `json:"name"`
	Text   string `json:"text"`
	SentAt string `json:"sentAt"`
}

// socketAuth verifies the token from the "token" query parameter or the
// Authorization header before any event is read.
func socketAuth(signer *jwt.Signer) gateway.ConnMiddleware {
	return func(c *gateway.Client, _ router.Services) error {
		r := c.Request()
		token := r.URL.Query().Get("token")
		if token == "" {
			token = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if token == "" {
			return exception.Unauthorized("missing token")
		}
		cl := &jwt.UserClaims{}
		if err := signer.Verify(token, cl); err != nil {
			return exception.Unauthorized("invalid token").Wrap(err)
		}
		c.Set(jwt.UserKey, cl)
		return nil
	}
}

func sender(c *gateway.Client) *jwt.UserClaims {
	v, _ := c.Get(jwt.UserKey)
	cl, _ := v.(*jwt.UserClaims)
	return cl
}

// chatGateway is a room-based chat on /chat.
func chatGateway(d deps) *gateway.Gateway {
	log := d.logger.Named("chat")

	g := gateway.New(gateway.Config{
		Namespace:  "/chat",
		Inject:     router.Services{"users": d.users},
		Middleware: []gateway.ConnMiddleware{socketAuth(d.signer)},
		OnConnect: func(c *gateway.Client, _ router.Services) {
			log.Info("client connected", zap.String("client", c.ID()), zap.String("user", sender(c).UserID))
		},
		OnDisconnect: func(c *gateway.Client, _ router.Services) {
			log.Info("client disconnected", zap.String("client", c.ID()))
		},
	})

	g.Event("join", schema.Struct[RoomInput](), func(e *gateway.EventCtx) (any, error) {
		room := gateway.MessageAs[RoomInput](e).Room
		e.Client.Join(room)
		u := sender(e.Client)
		_ = e.Client.To(e.Context(), room, "joined", map[string]any{"room": room, "user": u.Username})
		return map[string]any{"room": room, "rooms": e.Client.Rooms()}, nil
	})

	g.Event("leave", schema.Struct[RoomInput](), func(e *gateway.EventCtx) (any, error) {
		room := gateway.MessageAs[RoomInput](e).Room
		if !e.Client.InRoom(room) {
			return nil, exception.BadRequest("not in room " + room)
		}
		e.Client.Leave(room)
		_ = e.Client.To(e.Context(), room, "left", map[string]any{"room": room, "user": sender(e.Client).Username})
		return map[string]any{"room": room, "rooms": e.Client.Rooms()}, nil
	})

	g.Event("message", schema.Struct[ChatInput](), func(e *gateway.EventCtx) (any, error) {
		in := gateway.MessageAs[ChatInput](e)
		if !e.Client.InRoom(in.Room) {
			return nil, exception.Forbidden("join the room first")
		}
		u := sender(e.Client)
		msg := ChatMessage{
			Room:   in.Room,
			From:   u.UserID,
			Name:   u.Username,
			Text:   in.Text,
			SentAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := e.Client.To(e.Context(), in.Room, "message", msg); err != nil {
			log.Warn("message delivery incomplete", zap.String("room", in.Room), zap.Error(err))
		}
		return msg, nil
	})

	g.Event("whoami", nil, func(e *gateway.EventCtx) (any, error) {
		users, ok := gateway.Service[*UserStore](e, "users")
		if !ok {
			return nil, exception.Internal("user store unavailable")
		}
		u, ok := users.Get(sender(e.Client).UserID)
		if !ok {
			return nil, exception.NotFound("User not found")
		}
		return Profile{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}, nil
	})

	return g
}
