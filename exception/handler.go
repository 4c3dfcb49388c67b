package exception

import (
	"errors"
	"net/http"
	"strings"
)

// ErrorContext describes a request that ended in an error.
type ErrorContext struct {
	Err      error
	Request  *http.Request
	Response http.ResponseWriter
	Path     string
	Method   string
}

// ErrorResponse is what a global error handler wants written.
type ErrorResponse struct {
	Status  int
	Body    map[string]any
	Headers map[string]string
}

// ErrorHandler converts an unrecovered error into a response. It must
// always return something writable.
type ErrorHandler func(ErrorContext) ErrorResponse

// HandlerConfig controls how the adapter reports unrecovered errors.
type HandlerConfig struct {
	Handler      ErrorHandler
	IncludeStack bool
	LogErrors    bool
}

// DefaultConfig returns the config used when the application supplies
// none. Stacks are included only outside production.
func DefaultConfig(production bool) HandlerConfig {
	return HandlerConfig{
		Handler:      DefaultErrorHandler(production),
		IncludeStack: !production,
		LogErrors:    true,
	}
}

// Resolve fills the zero fields of c.
func (c HandlerConfig) Resolve(production bool) HandlerConfig {
	if c.Handler == nil {
		c.Handler = DefaultErrorHandler(production)
	}
	return c
}

// statusCoder is the legacy shape for errors that carry their own status.
type statusCoder interface {
	StatusCode() int
}

const maskedMessage = "An unexpected error occurred"

// DefaultErrorHandler classifies errors in this order: validation errors,
// typed exceptions, errors exposing StatusCode(), then message keywords.
// In production, internal exceptions and other server errors lose their
// message and details; custom exceptions keep the message they were given.
//
// The keyword pass is kept for compatibility only. A business error whose
// message happens to contain "not found" becomes a 404; new code should
// return typed exceptions instead.
func DefaultErrorHandler(production bool) ErrorHandler {
	return func(ctx ErrorContext) ErrorResponse {
		err := ctx.Err
		if err == nil {
			err = errors.New("unknown error")
		}

		var ve *ValidationError
		if errors.As(err, &ve) {
			return ErrorResponse{
				Status: http.StatusBadRequest,
				Body: map[string]any{
					"error":   "Validation Error",
					"message": "Request validation failed",
					"details": ve.Issues,
				},
			}
		}

		var he *HTTPException
		if errors.As(err, &he) {
			res := fromException(he)
			if production && he.Kind == KindInternal {
				res.Body["message"] = maskedMessage
				delete(res.Body, "details")
			}
			return res
		}

		var sc statusCoder
		if errors.As(err, &sc) && sc.StatusCode() > 0 {
			message := err.Error()
			if production && sc.StatusCode() >= http.StatusInternalServerError {
				message = maskedMessage
			}
			return ErrorResponse{
				Status: sc.StatusCode(),
				Body: map[string]any{
					"error":   StatusName(sc.StatusCode()),
					"message": message,
				},
			}
		}

		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "unauthorized"), strings.Contains(msg, "authentication"):
			return keyword(http.StatusUnauthorized, err)
		case strings.Contains(msg, "forbidden"), strings.Contains(msg, "permission"):
			return keyword(http.StatusForbidden, err)
		case strings.Contains(msg, "not found"):
			return keyword(http.StatusNotFound, err)
		}

		message := err.Error()
		if production {
			message = maskedMessage
		}
		return ErrorResponse{
			Status: http.StatusInternalServerError,
			Body: map[string]any{
				"error":   "Internal Server Error",
				"message": message,
			},
		}
	}
}

func fromException(he *HTTPException) ErrorResponse {
	status := he.StatusCode()
	switch he.Kind {
	case KindBadRequest, KindUnauthorized, KindForbidden, KindNotFound, KindConflict, KindInternal:
		if he.Status == 0 {
			status = he.Kind.Status()
		}
	case KindCustom:
	}
	body := he.Body()
	body["statusCode"] = status
	return ErrorResponse{Status: status, Body: body}
}

func keyword(status int, err error) ErrorResponse {
	return ErrorResponse{
		Status: status,
		Body: map[string]any{
			"error":   StatusName(status),
			"message": err.Error(),
		},
	}
}

// Stack returns the stack captured by the first exception in err's chain,
// or "" when none was captured.
func Stack(err error) string {
	var s interface{ Stack() string }
	if errors.As(err, &s) {
		return s.Stack()
	}
	return ""
}
