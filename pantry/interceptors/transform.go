// interceptors/transform.go
package interceptors

import (
	"net/http"

	"github.com/dalemusser/nural/pipeline"
)

// Transform wraps a handler's result as {"data": result}. Routes using it
// should declare their response schema for the envelope, since the schema
// sees the wrapped value.
func Transform() pipeline.Interceptor {
	return Map(func(result any) any {
		return map[string]any{"data": result}
	})
}

// Map applies fn to a successful result. Errors pass through untouched.
func Map(fn func(any) any) pipeline.Interceptor {
	return func(_ *http.Request, next pipeline.Next, _ *pipeline.Context) (any, error) {
		res, err := next()
		if err != nil {
			return nil, err
		}
		return fn(res), nil
	}
}
