// auth/jwt/guard.go
package jwt

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dalemusser/nural/exception"
	"github.com/dalemusser/nural/pipeline"
	"github.com/dalemusser/nural/router"
	"github.com/golang-jwt/jwt/v5"
)

// UserKey is where verified claims are stored on the execution context.
const UserKey = "user"

// Options configures Guard and Middleware.
type Options struct {
	Signer *Signer
	// Scheme is the Authorization scheme. Default "Bearer".
	Scheme string
	// Query and Cookie name fallback token locations, tried in that order
	// after the header.
	Query  string
	Cookie string
	// Optional lets requests without a token through. A token that is
	// present but invalid is still rejected.
	Optional bool
	// NewClaims allocates the claim set to decode into. Default
	// *UserClaims.
	NewClaims func() jwt.Claims
}

func (o *Options) defaults() {
	if o.Scheme == "" {
		o.Scheme = "Bearer"
	}
	if o.NewClaims == nil {
		o.NewClaims = func() jwt.Claims { return &UserClaims{} }
	}
}

// Guard verifies the request's token and stores the claims under UserKey.
// Missing or invalid tokens deny with 401.
func Guard(opts Options) pipeline.Guard {
	opts.defaults()
	return func(r *http.Request, ec *pipeline.Context) (bool, error) {
		claims, err := authenticate(r, opts)
		if err != nil {
			return false, err
		}
		if claims != nil {
			ec.Set(UserKey, claims)
		}
		return true, nil
	}
}

// Middleware is Guard in route-middleware form, for routes that want the
// claims before input validation runs.
func Middleware(opts Options) router.Middleware {
	opts.defaults()
	return func(c *router.Ctx) error {
		claims, err := authenticate(c.Request, opts)
		if err != nil {
			return err
		}
		if claims != nil {
			c.Set(UserKey, claims)
		}
		return nil
	}
}

// RequireRoles denies with 403 unless the stored *UserClaims holds one of
// roles. It must run after Guard.
func RequireRoles(roles ...string) pipeline.Guard {
	return func(_ *http.Request, ec *pipeline.Context) (bool, error) {
		claims, ok := pipeline.Value[*UserClaims](ec, UserKey)
		if !ok {
			return false, exception.Unauthorized("authentication required")
		}
		if !claims.HasAnyRole(roles...) {
			return false, exception.Forbidden("insufficient role")
		}
		return true, nil
	}
}

// User returns the claims stored by Guard or Middleware.
func User[T jwt.Claims](c *router.Ctx) (T, bool) {
	return router.Value[T](c, UserKey)
}

func authenticate(r *http.Request, opts Options) (jwt.Claims, error) {
	if opts.Signer == nil {
		return nil, exception.Internal("jwt guard has no signer")
	}
	token := extract(r, opts)
	if token == "" {
		if opts.Optional {
			return nil, nil
		}
		return nil, exception.Unauthorized("missing bearer token").Wrap(ErrMissingToken)
	}
	claims := opts.NewClaims()
	if err := opts.Signer.Verify(token, claims); err != nil {
		msg := "invalid token"
		if errors.Is(err, ErrTokenExpired) {
			msg = "token expired"
		}
		return nil, exception.Unauthorized(msg).Wrap(err)
	}
	return claims, nil
}

func extract(r *http.Request, opts Options) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, opts.Scheme) {
			return strings.TrimSpace(token)
		}
	}
	if opts.Query != "" {
		if t := r.URL.Query().Get(opts.Query); t != "" {
			return t
		}
	}
	if opts.Cookie != "" {
		if c, err := r.Cookie(opts.Cookie); err == nil {
			return c.Value
		}
	}
	return ""
}
