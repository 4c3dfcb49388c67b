// httputil/json.go
package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"reflect"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrorBody is the JSON shape written for framework-level errors (404, 405,
// 503 while shutting down). It matches what the global error handler
// writes for an exception.
type ErrorBody struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message,omitempty"`
	Timestamp  string `json:"timestamp"`
}

var encodeLogger atomic.Pointer[zap.Logger]

// SetLogger configures the logger used when encoding fails after the
// status line has been sent.
func SetLogger(logger *zap.Logger) {
	encodeLogger.Store(logger)
}

// WriteJSON writes v as JSON with the given status. Statuses outside
// 100-599 are clamped to 500.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	if status < 100 || status > 599 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		if logger := encodeLogger.Load(); logger != nil {
			typeName := "nil"
			if v != nil {
				typeName = reflect.TypeOf(v).String()
			}
			logger.Error("json encoding failed after headers sent",
				zap.String("type", typeName),
				zap.Error(err))
		}
	}
}

// JSONError writes an ErrorBody for status.
func JSONError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorBody{
		StatusCode: status,
		Error:      statusName(status),
		Message:    message,
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func statusName(status int) string {
	if s := http.StatusText(status); s != "" {
		return s
	}
	return fmt.Sprintf("Status %d", status)
}
