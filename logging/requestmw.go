// logging/requestmw.go
package logging

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CorrelationHeader carries the per-request correlation id.
const CorrelationHeader = "X-Correlation-ID"

// RequestLoggerOptions tunes RequestLogger.
type RequestLoggerOptions struct {
	// UserAgent adds the user agent to every entry.
	UserAgent bool
}

// RequestLogger logs one entry per request once the response is done.
// 5xx responses log at error, 4xx at warn, everything else at info.
// Each request gets a correlation id, taken from the incoming
// X-Correlation-ID or X-Request-Id header or generated, echoed on the
// response.
func RequestLogger(logger *zap.Logger, opts ...RequestLoggerOptions) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o RequestLoggerOptions
	if len(opts) > 0 {
		o = opts[0]
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			cid := correlationID(r)
			w.Header().Set(CorrelationHeader, cid)

			ww := middleware.NewWrapResponseWriter(w, protoMajor(r))
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("latency", time.Since(start)),
				zap.String("scheme", schemeFromRequest(r)),
				zap.String("remote_ip", r.RemoteAddr),
				zap.String("correlation_id", cid),
			}
			if o.UserAgent {
				fields = append(fields, zap.String("user_agent", r.UserAgent()))
			}
			logger.Log(levelFor(status), "http_request", fields...)
		})
	}
}

func levelFor(status int) zapcore.Level {
	switch {
	case status >= 500:
		return zapcore.ErrorLevel
	case status >= 400:
		return zapcore.WarnLevel
	}
	return zapcore.InfoLevel
}

func correlationID(r *http.Request) string {
	if id := r.Header.Get(CorrelationHeader); id != "" {
		return id
	}
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	if id := r.Header.Get(middleware.RequestIDHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

func protoMajor(r *http.Request) int {
	if r.ProtoMajor < 1 {
		return 1
	}
	return r.ProtoMajor
}

func schemeFromRequest(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if xf := r.Header.Get("X-Forwarded-Proto"); xf != "" {
		return xf
	}
	return "http"
}
