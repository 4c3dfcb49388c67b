// middleware/notfound.go
package middleware

import (
	"net/http"

	"github.com/dalemusser/nural/httputil"
	"go.uber.org/zap"
)

// NotFoundHandler answers unmatched routes with a JSON 404.
func NotFoundHandler(logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("not_found",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))
		httputil.JSONError(w, http.StatusNotFound, "Cannot "+r.Method+" "+r.URL.Path)
	}
}

// MethodNotAllowedHandler answers a known path with the wrong method.
func MethodNotAllowedHandler(logger *zap.Logger) http.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("method_not_allowed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))
		httputil.JSONError(w, http.StatusMethodNotAllowed, "Method "+r.Method+" not allowed on "+r.URL.Path)
	}
}
