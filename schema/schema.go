// Package schema is the validation boundary for route inputs and outputs.
// A Schema turns an untrusted value into a validated one or reports a
// *exception.ValidationError.
package schema

import (
	"errors"
	"reflect"

	"github.com/dalemusser/nural/exception"
)

// Schema parses v and returns the validated value.
type Schema interface {
	Parse(v any) (any, error)
}

// Describer is implemented by schemas backed by a Go type, which lets the
// OpenAPI generator reflect a JSON Schema for them.
type Describer interface {
	Type() reflect.Type
}

// Func adapts a plain function to Schema.
type Func func(v any) (any, error)

func (f Func) Parse(v any) (any, error) { return f(v) }

// ParseAs runs s and labels any validation failure with source.
func ParseAs(s Schema, source string, v any) (any, error) {
	out, err := s.Parse(v)
	if err != nil {
		var ve *exception.ValidationError
		if errors.As(err, &ve) {
			if ve.Source == "" {
				ve.Source = source
			}
			return nil, ve
		}
		return nil, &exception.ValidationError{
			Source: source,
			Issues: []exception.Issue{{Code: "invalid", Message: err.Error()}},
		}
	}
	return out, nil
}
