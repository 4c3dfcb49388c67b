package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"
	"sync"

	"github.com/dalemusser/nural/exception"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// Validator returns the shared validator. Field names in reported issues
// follow json tags.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// RegisterValidation adds a custom validate tag to the shared validator.
func RegisterValidation(tag string, fn validator.Func) error {
	return Validator().RegisterValidation(tag, fn)
}

// StructSchema validates values of type T using `validate` struct tags.
type StructSchema[T any] struct {
	typ reflect.Type
}

// Struct returns a schema for T.
//
// Inputs are accepted as raw JSON ([]byte, json.RawMessage), as string
// maps or url.Values (path params and query strings, decoded weakly so
// "42" fills an int field), or as any Go value, which is converted through
// its JSON form. The JSON path drops fields T does not declare, so parsing
// a handler result strips undeclared fields.
func Struct[T any]() *StructSchema[T] {
	return &StructSchema[T]{typ: reflect.TypeOf((*T)(nil)).Elem()}
}

func (s *StructSchema[T]) Type() reflect.Type { return s.typ }

func (s *StructSchema[T]) Parse(v any) (any, error) {
	out, err := s.decode(v)
	if err != nil {
		return nil, err
	}
	if err := check(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *StructSchema[T]) decode(v any) (T, error) {
	var out T
	switch in := v.(type) {
	case nil:
		return out, nil
	case T:
		// Re-encode so a value that merely shares the type is copied.
		return s.fromJSONValue(in)
	case *T:
		if in == nil {
			return out, nil
		}
		return s.fromJSONValue(*in)
	case []byte:
		return s.fromJSON(in)
	case json.RawMessage:
		return s.fromJSON(in)
	case url.Values:
		return s.fromMap(flatten(in))
	case map[string]string:
		m := make(map[string]any, len(in))
		for k, val := range in {
			m[k] = val
		}
		return s.fromMap(m)
	case map[string][]string:
		return s.fromMap(flatten(url.Values(in)))
	default:
		return s.fromJSONValue(in)
	}
}

func (s *StructSchema[T]) fromJSON(b []byte) (T, error) {
	var out T
	if len(strings.TrimSpace(string(b))) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, jsonIssue(err)
	}
	return out, nil
}

func (s *StructSchema[T]) fromJSONValue(v any) (T, error) {
	var out T
	b, err := json.Marshal(v)
	if err != nil {
		return out, &exception.ValidationError{Issues: []exception.Issue{{Code: "invalid_type", Message: err.Error()}}}
	}
	return s.fromJSON(b)
}

func (s *StructSchema[T]) fromMap(m map[string]any) (T, error) {
	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "json",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(m); err != nil {
		return out, &exception.ValidationError{Issues: []exception.Issue{{Code: "invalid_type", Message: err.Error()}}}
	}
	return out, nil
}

func flatten(q url.Values) map[string]any {
	m := make(map[string]any, len(q))
	for k, vs := range q {
		switch len(vs) {
		case 0:
		case 1:
			m[k] = vs[0]
		default:
			m[k] = vs
		}
	}
	return m
}

func check(v any) error {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	var err error
	switch rv.Kind() {
	case reflect.Struct:
		err = Validator().Struct(v)
	case reflect.Slice, reflect.Array:
		elem := rv.Type().Elem()
		for elem.Kind() == reflect.Pointer {
			elem = elem.Elem()
		}
		if elem.Kind() == reflect.Struct {
			err = Validator().Var(v, "dive")
		}
	default:
		return nil
	}
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &exception.ValidationError{Issues: []exception.Issue{{Code: "invalid", Message: err.Error()}}}
	}
	issues := make([]exception.Issue, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		issues = append(issues, exception.Issue{
			Path:    fieldPath(fe.Namespace()),
			Code:    fe.Tag(),
			Message: describe(fe),
		})
	}
	return &exception.ValidationError{Issues: issues}
}

// fieldPath drops the root type name from a validator namespace.
func fieldPath(ns string) []string {
	parts := strings.Split(ns, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return parts
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "uuid", "uuid4":
		return "must be a valid UUID"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "len":
		return fmt.Sprintf("must have length %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be <= %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be > %s", fe.Param())
	case "lt":
		return fmt.Sprintf("must be < %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	}
	if fe.Param() != "" {
		return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
	}
	return "failed " + fe.Tag()
}

func jsonIssue(err error) error {
	var path []string
	var te *json.UnmarshalTypeError
	if errors.As(err, &te) {
		if te.Field != "" {
			path = strings.Split(te.Field, ".")
		}
		return &exception.ValidationError{Issues: []exception.Issue{{
			Path:    path,
			Code:    "invalid_type",
			Message: fmt.Sprintf("expected %s, received %s", te.Type, te.Value),
		}}}
	}
	return &exception.ValidationError{Issues: []exception.Issue{{Code: "invalid_json", Message: err.Error()}}}
}
