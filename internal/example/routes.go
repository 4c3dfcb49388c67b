// internal/example/routes.go
package example

import (
	"net/http"
	"time"

	"github.com/dalemusser/nural/exception"
	"github.com/dalemusser/nural/lifecycle"
	"github.com/dalemusser/nural/pantry/auth/jwt"
	"github.com/dalemusser/nural/pantry/interceptors"
	"github.com/dalemusser/nural/pantry/ratelimit"
	"github.com/dalemusser/nural/pipeline"
	"github.com/dalemusser/nural/router"
	"github.com/dalemusser/nural/schema"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const createInputKey = "create_user_input"

var bearer = []router.Security{{"bearerAuth": {}}}

// deps are the shared pieces every module of the example needs.
type deps struct {
	signer     *jwt.Signer
	users      *lifecycle.Definition[*UserStore]
	logger     *zap.Logger
	tracer     trace.TracerProvider
	tokenTTL   time.Duration
	loginLimit *ratelimit.KeyLimiter
}

func (d deps) authGuard() pipeline.Guard {
	return jwt.Guard(jwt.Options{Signer: d.signer})
}

func store(c *router.Ctx) *UserStore {
	return router.MustService[*UserStore](c, "users")
}

func claims(c *router.Ctx) *jwt.UserClaims {
	u, _ := jwt.User[*jwt.UserClaims](c)
	return u
}

// authModule serves /auth/login and /auth/me.
func authModule(d deps) router.Module {
	return router.Module{
		Name:      "auth",
		Prefix:    "/auth",
		Tags:      []string{"Auth"},
		Providers: router.Services{"users": d.users},
		Routes: []router.Route{
			{
				Method:  router.MethodPost,
				Path:    "/login",
				Summary: "Exchange credentials for an access token",
				Request: router.RequestSchemas{Body: schema.Struct[LoginInput]()},
				Responses: map[int]schema.Schema{
					http.StatusOK:              schema.Struct[Token](),
					http.StatusUnauthorized:    schema.Struct[ErrorBody](),
					http.StatusTooManyRequests: schema.Struct[ErrorBody](),
				},
				Guards:  []pipeline.Guard{ratelimit.Guard(ratelimit.Config{Limiter: d.loginLimit, Message: "Too many login attempts"})},
				Handler: d.handleLogin,
			},
			{
				Method:    router.MethodGet,
				Path:      "/me",
				Summary:   "Current user",
				Guards:    []pipeline.Guard{d.authGuard()},
				Security:  bearer,
				Responses: map[int]schema.Schema{http.StatusOK: schema.Struct[Profile]()},
				Handler: func(c *router.Ctx) (any, error) {
					u, ok := store(c).Get(claims(c).UserID)
					if !ok {
						return nil, exception.NotFound("User not found")
					}
					return Profile{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role}, nil
				},
			},
		},
	}
}

func (d deps) handleLogin(c *router.Ctx) (any, error) {
	in := router.BodyAs[LoginInput](c)
	u, ok := store(c).Authenticate(in.Email, in.Password)
	if !ok {
		return nil, exception.Unauthorized("Invalid credentials")
	}
	cl := jwt.NewUserClaims(u.ID, d.tokenTTL)
	cl.Issuer = Issuer
	cl.UserID = u.ID
	cl.Email = u.Email
	cl.Username = u.Name
	cl.Roles = []string{u.Role}
	token, err := d.signer.Sign(cl)
	if err != nil {
		return nil, exception.Internal("could not sign token").Wrap(err)
	}
	return Token{AccessToken: token, ExpiresIn: int(d.tokenTTL.Seconds())}, nil
}

// usersModule is the admin-facing CRUD surface under /users.
func usersModule(d deps) router.Module {
	admin := jwt.RequireRoles("admin")
	id := router.RequestSchemas{Params: schema.Struct[IDParams]()}

	return router.Module{
		Name:   "users",
		Prefix: "/users",
		Tags:   []string{"Users"},
		Guards: []pipeline.Guard{d.authGuard()},
		Interceptors: []pipeline.Interceptor{
			interceptors.Logging(d.logger.Named("users")),
			interceptors.Tracing(d.tracer),
			interceptors.CircuitBreaker(interceptors.DefaultBreakerConfig("users")),
		},
		Filters:   []pipeline.Filter{emailTakenFilter()},
		Security:  bearer,
		Providers: router.Services{"users": d.users},
		Routes: []router.Route{
			{
				Method:    router.MethodGet,
				Path:      "/",
				Summary:   "List users",
				Guards:    []pipeline.Guard{admin},
				Request:   router.RequestSchemas{Query: schema.Struct[Pagination]()},
				Responses: map[int]schema.Schema{http.StatusOK: schema.Struct[UserList]()},
				Handler: func(c *router.Ctx) (any, error) {
					p := router.QueryAs[Pagination](c)
					if p.Limit == 0 {
						p.Limit = 10
					}
					page, total := store(c).List(p.Limit, p.Offset)
					return UserList{Data: page, Total: total, Limit: p.Limit, Offset: p.Offset}, nil
				},
			},
			{
				Method:    router.MethodGet,
				Path:      "/:id",
				Summary:   "Get a user",
				Request:   id,
				Responses: map[int]schema.Schema{http.StatusOK: schema.Struct[User]()},
				Handler: func(c *router.Ctx) (any, error) {
					u, ok := store(c).Get(router.ParamsAs[IDParams](c).ID)
					if !ok {
						return nil, exception.NotFound("User not found")
					}
					return u, nil
				},
			},
			{
				Method:  router.MethodPost,
				Path:    "/",
				Summary: "Create a user",
				Guards:  []pipeline.Guard{admin},
				Request: router.RequestSchemas{Body: schema.Struct[CreateUserInput]()},
				Responses: map[int]schema.Schema{
					http.StatusCreated:  schema.Struct[User](),
					http.StatusConflict: schema.Struct[ErrorBody](),
				},
				Handler: func(c *router.Ctx) (any, error) {
					in := router.BodyAs[CreateUserInput](c)
					c.Set(createInputKey, in)
					return store(c).Create(in)
				},
			},
			{
				Method:  router.MethodPatch,
				Path:    "/:id",
				Summary: "Update a user",
				Request: router.RequestSchemas{
					Params: schema.Struct[IDParams](),
					Body:   schema.Struct[UpdateUserInput](),
				},
				Responses: map[int]schema.Schema{http.StatusOK: schema.Struct[User]()},
				Handler:   updateUser,
			},
			{
				Method:    router.MethodDelete,
				Path:      "/:id",
				Summary:   "Delete a user",
				Guards:    []pipeline.Guard{admin},
				Request:   id,
				Responses: map[int]schema.Schema{http.StatusOK: schema.Struct[Deleted]()},
				Handler: func(c *router.Ctx) (any, error) {
					if !store(c).Delete(router.ParamsAs[IDParams](c).ID) {
						return nil, exception.NotFound("User not found")
					}
					return Deleted{Success: true}, nil
				},
			},
		},
	}
}

// updateUser lets users rename themselves. Admins may edit anyone,
// including roles.
func updateUser(c *router.Ctx) (any, error) {
	target := router.ParamsAs[IDParams](c).ID
	in := router.BodyAs[UpdateUserInput](c)
	me := claims(c)
	isAdmin := me.HasRole("admin")

	if !isAdmin && me.UserID != target {
		return nil, exception.Forbidden("You can only update your own profile")
	}
	if !isAdmin && in.Role != nil {
		return nil, exception.Forbidden("Only admins can change roles")
	}
	u, ok := store(c).Update(target, in)
	if !ok {
		return nil, exception.NotFound("User not found")
	}
	return u, nil
}
