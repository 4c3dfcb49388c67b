// middleware/sizelimit.go
package middleware

import (
	"net/http"

	"github.com/dalemusser/nural/httputil"
)

// LimitBodySize caps request bodies at maxBytes. Requests that declare a
// larger Content-Length are refused with 413 up front; chunked bodies are
// cut off by http.MaxBytesReader while being read. maxBytes <= 0 disables
// the limit.
func LimitBodySize(maxBytes int64) func(next http.Handler) http.Handler {
	if maxBytes <= 0 {
		return passThrough
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				httputil.JSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
