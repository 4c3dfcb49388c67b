// internal/example/errors.go
package example

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dalemusser/nural/exception"
	"github.com/dalemusser/nural/httputil"
	"github.com/dalemusser/nural/pipeline"
	"go.uber.org/zap"
)

// ErrorHandler extends the default handler with request logging, a
// "path" field on every body, and a 400 for plain duplicate errors that
// carry no status of their own.
func ErrorHandler(logger *zap.Logger, production bool) exception.ErrorHandler {
	base := exception.DefaultErrorHandler(production)
	return func(ec exception.ErrorContext) exception.ErrorResponse {
		resp := base(ec)
		if resp.Status == http.StatusInternalServerError && duplicate(ec.Err) {
			resp = exception.ErrorResponse{
				Status: http.StatusBadRequest,
				Body: map[string]any{
					"error":   "Bad Request",
					"message": ec.Err.Error(),
				},
			}
		}
		if resp.Body == nil {
			resp.Body = map[string]any{}
		}
		resp.Body["path"] = ec.Path

		fields := []zap.Field{
			zap.String("method", ec.Method),
			zap.String("path", ec.Path),
			zap.Int("status", resp.Status),
			zap.Error(ec.Err),
		}
		if resp.Status >= 500 {
			logger.Error("request failed", fields...)
		} else {
			logger.Debug("request rejected", fields...)
		}
		return resp
	}
}

func duplicate(err error) bool {
	var he *exception.HTTPException
	if err == nil || errors.As(err, &he) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "already registered") || strings.Contains(msg, "already exists")
}

// emailTakenFilter answers duplicate-email errors for the users module
// with the offending address.
func emailTakenFilter() pipeline.Filter {
	return pipeline.FilterFor(
		func(err error) bool { return errors.Is(err, ErrEmailTaken) },
		func(_ error, r *http.Request, w pipeline.ResponseWriter, ec *pipeline.Context) {
			email := ""
			if in, ok := pipeline.Value[CreateUserInput](ec, createInputKey); ok {
				email = in.Email
			}
			httputil.WriteJSON(w, http.StatusConflict, map[string]any{
				"statusCode": http.StatusConflict,
				"error":      "Conflict",
				"message":    "Email already registered",
				"email":      email,
				"path":       r.URL.Path,
				"timestamp":  time.Now().UTC().Format(time.RFC3339),
			})
		},
	)
}
