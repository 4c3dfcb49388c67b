// middleware/cors.go
package middleware

import (
	"net/http"

	"github.com/dalemusser/nural/config"
	"github.com/go-chi/cors"
)

// DefaultCORSMethods is used when cors_allowed_methods is empty.
var DefaultCORSMethods = []string{
	http.MethodGet, http.MethodHead, http.MethodPut, http.MethodPatch,
	http.MethodPost, http.MethodDelete, http.MethodOptions,
}

// CORSFromConfig applies the CORS block of cfg. With enable_cors off it
// passes requests through untouched.
func CORSFromConfig(cfg *config.CoreConfig) func(next http.Handler) http.Handler {
	if cfg == nil || !cfg.CORS.EnableCORS {
		return passThrough
	}
	c := cfg.CORS

	methods := c.CORSAllowedMethods
	if len(methods) == 0 {
		methods = DefaultCORSMethods
	}
	origins := c.CORSAllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   methods,
		AllowedHeaders:   c.CORSAllowedHeaders,
		ExposedHeaders:   c.CORSExposedHeaders,
		AllowCredentials: c.CORSAllowCredentials,
		MaxAge:           c.CORSMaxAge,
	})
}
