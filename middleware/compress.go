// middleware/compress.go
package middleware

import (
	"net/http"

	"github.com/dalemusser/nural/config"
	"github.com/go-chi/chi/v5/middleware"
)

// CompressibleTypes are compressed by CompressFromConfig.
var CompressibleTypes = []string{
	"application/json",
	"application/yaml",
	"text/html",
	"text/plain",
	"text/css",
	"application/javascript",
}

// CompressFromConfig gzips/deflates responses of CompressibleTypes when
// enable_compression is set.
func CompressFromConfig(cfg *config.CoreConfig) func(next http.Handler) http.Handler {
	if cfg == nil || !cfg.EnableCompression {
		return passThrough
	}
	return Compress(5, CompressibleTypes...)
}

// Compress clamps level to 1..9 and compresses the given content types
// (chi's defaults when none are given).
func Compress(level int, types ...string) func(next http.Handler) http.Handler {
	level = min(max(level, 1), 9)
	return middleware.Compress(level, types...)
}
