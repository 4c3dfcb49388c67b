package exception

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type legacyErr struct{ code int }

func (e legacyErr) Error() string   { return "payment required" }
func (e legacyErr) StatusCode() int { return e.code }

func TestDefaultErrorHandler(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		prod    bool
		status  int
		errName string
		message string
	}{
		{"validation", &ValidationError{Source: "body", Issues: []Issue{{Path: []string{"name"}, Code: "required", Message: "is required"}}}, false, 400, "Validation Error", "Request validation failed"},
		{"typed unauthorized", Unauthorized("token expired"), false, 401, "Unauthorized", "token expired"},
		{"typed forbidden default message", Forbidden(""), false, 403, "Forbidden", "Forbidden"},
		{"typed custom", Custom(429, "slow down"), false, 429, "Too Many Requests", "slow down"},
		{"wrapped typed", fmt.Errorf("lookup: %w", NotFound("user missing")), false, 404, "Not Found", "user missing"},
		{"legacy status", legacyErr{code: 402}, false, 402, "Payment Required", "payment required"},
		{"keyword unauthorized", errors.New("Unauthorized access"), false, 401, "Unauthorized", "Unauthorized access"},
		{"keyword authentication", errors.New("authentication failed"), false, 401, "Unauthorized", "authentication failed"},
		{"keyword permission", errors.New("no permission for that"), false, 403, "Forbidden", "no permission for that"},
		{"keyword not found", errors.New("record not found"), false, 404, "Not Found", "record not found"},
		{"plain dev", errors.New("boom"), false, 500, "Internal Server Error", "boom"},
		{"plain prod hides message", errors.New("boom"), true, 500, "Internal Server Error", "An unexpected error occurred"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := DefaultErrorHandler(tt.prod)
			res := h(ErrorContext{Err: tt.err, Path: "/x", Method: http.MethodGet})
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.errName, res.Body["error"])
			assert.Equal(t, tt.message, res.Body["message"])
		})
	}
}

func TestDefaultErrorHandler_ProductionMasksServerErrors(t *testing.T) {
	h := DefaultErrorHandler(true)

	res := h(ErrorContext{Err: Internal("panic in getUser: nil map write")})
	assert.Equal(t, http.StatusInternalServerError, res.Status)
	assert.Equal(t, "An unexpected error occurred", res.Body["message"])

	res = h(ErrorContext{Err: Internal("response validation failed", []Issue{{Path: []string{"password"}, Code: "unexpected"}})})
	assert.Equal(t, "An unexpected error occurred", res.Body["message"])
	assert.NotContains(t, res.Body, "details")

	res = h(ErrorContext{Err: legacyErr{code: http.StatusBadGateway}})
	assert.Equal(t, http.StatusBadGateway, res.Status)
	assert.Equal(t, "An unexpected error occurred", res.Body["message"])

	res = h(ErrorContext{Err: Custom(http.StatusServiceUnavailable, "service temporarily unavailable")})
	assert.Equal(t, "service temporarily unavailable", res.Body["message"])

	res = DefaultErrorHandler(false)(ErrorContext{Err: Internal("response validation failed", "detail")})
	assert.Equal(t, "response validation failed", res.Body["message"])
	assert.Equal(t, "detail", res.Body["details"])
}

func TestDefaultErrorHandler_ValidationDetails(t *testing.T) {
	issues := []Issue{{Path: []string{"email"}, Code: "email", Message: "must be a valid email"}}
	res := DefaultErrorHandler(false)(ErrorContext{Err: &ValidationError{Issues: issues}})
	require.Equal(t, http.StatusBadRequest, res.Status)
	assert.Equal(t, issues, res.Body["details"])
}

func TestHTTPException_BodyAndUnwrap(t *testing.T) {
	cause := errors.New("db down")
	ex := Internal("could not load").Wrap(cause).WithDetails(map[string]any{"retry": true})

	assert.True(t, errors.Is(ex, cause))
	assert.Equal(t, "could not load: db down", ex.Error())

	body := ex.Body()
	assert.Equal(t, 500, body["statusCode"])
	assert.Equal(t, "Internal Server Error", body["error"])
	assert.Equal(t, map[string]any{"retry": true}, body["details"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestStack(t *testing.T) {
	ex := BadRequest("bad")
	assert.Contains(t, Stack(ex), "TestStack")
	assert.Empty(t, Stack(errors.New("plain")))
}

func TestKindStatus(t *testing.T) {
	assert.Equal(t, 400, KindBadRequest.Status())
	assert.Equal(t, 409, KindConflict.Status())
	assert.Equal(t, 0, KindCustom.Status())
	assert.Equal(t, "not_found", KindNotFound.String())
}

func TestValidationError_Message(t *testing.T) {
	ve := &ValidationError{Source: "query", Issues: []Issue{
		{Path: []string{"page"}, Message: "must be >= 1"},
		{Message: "unexpected input"},
	}}
	assert.Equal(t, "query validation failed: page: must be >= 1; unexpected input", ve.Error())
	assert.Equal(t, "validation failed", (&ValidationError{}).Error())
}
