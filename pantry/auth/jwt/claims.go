// auth/jwt/claims.go
package jwt

import (
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// RegisteredClaims re-exports the RFC 7519 claim set.
type RegisteredClaims = jwt.RegisteredClaims

// UserClaims is the claim set the guard decodes by default.
type UserClaims struct {
	jwt.RegisteredClaims
	UserID   string   `json:"uid,omitempty"`
	Username string   `json:"username,omitempty"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// NewUserClaims returns claims for subject issued now and expiring after
// ttl. A zero ttl produces a token without exp.
func NewUserClaims(subject string, ttl time.Duration) *UserClaims {
	now := time.Now()
	c := &UserClaims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:  subject,
		IssuedAt: jwt.NewNumericDate(now),
	}}
	if ttl > 0 {
		c.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return c
}

// HasRole checks if the user has a specific role.
func (c *UserClaims) HasRole(role string) bool {
	return slices.Contains(c.Roles, role)
}

// HasAnyRole checks if the user has any of the specified roles.
func (c *UserClaims) HasAnyRole(roles ...string) bool {
	return slices.ContainsFunc(roles, c.HasRole)
}
