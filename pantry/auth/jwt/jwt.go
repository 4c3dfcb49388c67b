// auth/jwt/jwt.go
package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Common errors.
var (
	ErrMissingSecret = errors.New("jwt: missing secret")
	ErrMissingToken  = errors.New("jwt: missing token")
	ErrInvalidToken  = errors.New("jwt: invalid token")
	ErrTokenExpired  = errors.New("jwt: token expired")
)

// Signer creates and verifies HMAC-signed tokens.
type Signer struct {
	secret []byte
	method jwt.SigningMethod
	opts   []jwt.ParserOption
}

// SignerOption customizes a Signer.
type SignerOption func(*Signer)

// WithIssuer requires the iss claim on verification.
func WithIssuer(iss string) SignerOption {
	return func(s *Signer) { s.opts = append(s.opts, jwt.WithIssuer(iss)) }
}

// WithAudience requires aud to contain aud on verification.
func WithAudience(aud string) SignerOption {
	return func(s *Signer) { s.opts = append(s.opts, jwt.WithAudience(aud)) }
}

// WithLeeway tolerates clock skew on exp/nbf/iat.
func WithLeeway(d time.Duration) SignerOption {
	return func(s *Signer) { s.opts = append(s.opts, jwt.WithLeeway(d)) }
}

// NewHS256 creates a signer using HMAC-SHA256.
func NewHS256(secret []byte, opts ...SignerOption) (*Signer, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	s := &Signer{secret: secret, method: jwt.SigningMethodHS256}
	s.opts = append(s.opts, jwt.WithValidMethods([]string{s.method.Alg()}))
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Sign serializes claims into a signed compact token.
func (s *Signer) Sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
}

// Verify checks the signature and registered claims of token and decodes
// it into claims. Expired tokens return ErrTokenExpired; every other
// failure is ErrInvalidToken wrapping the parser's reason.
func (s *Signer) Verify(token string, claims jwt.Claims) error {
	if token == "" {
		return ErrMissingToken
	}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, s.opts...)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	default:
		return errors.Join(ErrInvalidToken, err)
	}
}
