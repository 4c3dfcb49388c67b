// interceptors/logging.go
package interceptors

import (
	"net/http"
	"time"

	"github.com/dalemusser/nural/pipeline"
	"go.uber.org/zap"
)

// Logging records every handler invocation with its duration: debug on
// success, warn on error.
func Logging(logger *zap.Logger) pipeline.Interceptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(r *http.Request, next pipeline.Next, ec *pipeline.Context) (any, error) {
		start := time.Now()
		res, err := next()

		fields := []zap.Field{
			zap.String("handler", ec.HandlerName()),
			zap.String("context_id", ec.ID()),
			zap.Duration("duration", time.Since(start)),
		}
		if r != nil {
			fields = append(fields, zap.String("method", r.Method), zap.String("path", r.URL.Path))
		}
		if err != nil {
			logger.Warn("handler failed", append(fields, zap.Error(err))...)
			return nil, err
		}
		logger.Debug("handler completed", fields...)
		return res, nil
	}
}
