// exception/exception.go
package exception

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"
)

// Kind tags an HTTPException. The set is closed; KindCustom carries its
// own status code.
type Kind int

const (
	KindBadRequest Kind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
	KindInternal
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInternal:
		return "internal"
	case KindCustom:
		return "custom"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Status returns the HTTP status implied by the kind. KindCustom has no
// implied status and returns 0.
func (k Kind) Status() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindInternal:
		return http.StatusInternalServerError
	case KindCustom:
		return 0
	}
	return 0
}

// HTTPException is an error that knows which HTTP response it should
// become.
type HTTPException struct {
	Kind    Kind
	Status  int
	Message string
	Details any
	Err     error

	stack []uintptr
}

func newException(kind Kind, status int, msg string, details any) *HTTPException {
	if msg == "" {
		msg = StatusName(status)
	}
	e := &HTTPException{Kind: kind, Status: status, Message: msg, Details: details}
	var pcs [32]uintptr
	n := runtime.Callers(3, pcs[:])
	e.stack = pcs[:n]
	return e
}

func (e *HTTPException) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *HTTPException) Unwrap() error { return e.Err }

// StatusCode reports the HTTP status for the exception.
func (e *HTTPException) StatusCode() int {
	if e.Status == 0 {
		return http.StatusInternalServerError
	}
	return e.Status
}

// Wrap attaches an underlying cause.
func (e *HTTPException) Wrap(err error) *HTTPException {
	e.Err = err
	return e
}

// WithDetails replaces the structured details.
func (e *HTTPException) WithDetails(details any) *HTTPException {
	e.Details = details
	return e
}

// Stack renders the call stack captured when the exception was created.
func (e *HTTPException) Stack() string {
	if len(e.stack) == 0 {
		return ""
	}
	var b strings.Builder
	frames := runtime.CallersFrames(e.stack)
	for {
		f, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", f.Function, f.File, f.Line)
		if !more {
			break
		}
	}
	return b.String()
}

// Body is the JSON shape written for an HTTPException.
func (e *HTTPException) Body() map[string]any {
	body := map[string]any{
		"statusCode": e.StatusCode(),
		"message":    e.Message,
		"error":      StatusName(e.StatusCode()),
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if e.Details != nil {
		body["details"] = e.Details
	}
	return body
}

func BadRequest(msg string, details ...any) *HTTPException {
	return newException(KindBadRequest, http.StatusBadRequest, msg, first(details))
}

func Unauthorized(msg string, details ...any) *HTTPException {
	return newException(KindUnauthorized, http.StatusUnauthorized, msg, first(details))
}

func Forbidden(msg string, details ...any) *HTTPException {
	return newException(KindForbidden, http.StatusForbidden, msg, first(details))
}

func NotFound(msg string, details ...any) *HTTPException {
	return newException(KindNotFound, http.StatusNotFound, msg, first(details))
}

func Conflict(msg string, details ...any) *HTTPException {
	return newException(KindConflict, http.StatusConflict, msg, first(details))
}

func Internal(msg string, details ...any) *HTTPException {
	return newException(KindInternal, http.StatusInternalServerError, msg, first(details))
}

// Custom builds an exception with an arbitrary status code (429, 503, ...).
func Custom(status int, msg string, details ...any) *HTTPException {
	return newException(KindCustom, status, msg, first(details))
}

func first(details []any) any {
	if len(details) == 0 {
		return nil
	}
	return details[0]
}

// StatusName returns the reason phrase for status, or "Error" when the
// status is unknown.
func StatusName(status int) string {
	if s := http.StatusText(status); s != "" {
		return s
	}
	return "Error"
}
