// docs/schema.go
package docs

import (
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Schema is an OpenAPI 3.0 schema object.
type Schema struct {
	Ref                  string             `json:"$ref,omitempty"`
	Type                 string             `json:"type,omitempty"`
	Format               string             `json:"format,omitempty"`
	Description          string             `json:"description,omitempty"`
	Nullable             bool               `json:"nullable,omitempty"`
	Properties           map[string]*Schema `json:"properties,omitempty"`
	Required             []string           `json:"required,omitempty"`
	Items                *Schema            `json:"items,omitempty"`
	AdditionalProperties *Schema            `json:"additionalProperties,omitempty"`
	Enum                 []any              `json:"enum,omitempty"`
	Minimum              *float64           `json:"minimum,omitempty"`
	Maximum              *float64           `json:"maximum,omitempty"`
	ExclusiveMinimum     bool               `json:"exclusiveMinimum,omitempty"`
	ExclusiveMaximum     bool               `json:"exclusiveMaximum,omitempty"`
	MinLength            *int               `json:"minLength,omitempty"`
	MaxLength            *int               `json:"maxLength,omitempty"`
	Pattern              string             `json:"pattern,omitempty"`
	Example              any                `json:"example,omitempty"`
}

const componentPrefix = "#/components/schemas/"

// reflector turns Go types into schemas. Named structs become components
// and are referenced by $ref.
type reflector struct {
	components map[string]*Schema
	seen       map[reflect.Type]bool
}

func newReflector() *reflector {
	return &reflector{components: make(map[string]*Schema), seen: make(map[reflect.Type]bool)}
}

func (rf *reflector) schema(t reflect.Type) *Schema {
	if t == nil {
		return &Schema{Type: "object"}
	}
	if t == reflect.TypeFor[time.Time]() {
		return &Schema{Type: "string", Format: "date-time"}
	}
	if t == reflect.TypeFor[time.Duration]() {
		return &Schema{Type: "string", Example: "1m30s"}
	}
	if t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8 {
		return &Schema{Type: "string", Format: "byte"}
	}
	if t.Kind() == reflect.Pointer {
		s := rf.schema(t.Elem())
		if s.Ref == "" {
			s.Nullable = true
		}
		return s
	}
	if rf.seen[t] {
		if name := componentName(t); name != "" {
			return &Schema{Ref: componentPrefix + name}
		}
		return &Schema{Type: "object"}
	}

	switch t.Kind() {
	case reflect.String:
		return &Schema{Type: "string"}
	case reflect.Bool:
		return &Schema{Type: "boolean"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return &Schema{Type: "integer", Format: "int32"}
	case reflect.Int64, reflect.Uint64:
		return &Schema{Type: "integer", Format: "int64"}
	case reflect.Float32:
		return &Schema{Type: "number", Format: "float"}
	case reflect.Float64:
		return &Schema{Type: "number", Format: "double"}
	case reflect.Slice, reflect.Array:
		return &Schema{Type: "array", Items: rf.schema(t.Elem())}
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return &Schema{Type: "object"}
		}
		return &Schema{Type: "object", AdditionalProperties: rf.schema(t.Elem())}
	case reflect.Struct:
		return rf.structSchema(t)
	}
	return &Schema{Type: "object"}
}

func (rf *reflector) structSchema(t reflect.Type) *Schema {
	name := componentName(t)
	if name != "" {
		if _, ok := rf.components[name]; ok {
			return &Schema{Ref: componentPrefix + name}
		}
	}

	rf.seen[t] = true
	defer delete(rf.seen, t)

	s := &Schema{Type: "object", Properties: map[string]*Schema{}}
	for _, f := range fields(t) {
		fs := rf.schema(f.Type)
		if fs.Ref == "" {
			if doc := f.Tag.Get("doc"); doc != "" {
				fs.Description = doc
			}
			if ex := f.Tag.Get("example"); ex != "" {
				fs.Example = ex
			}
			applyConstraints(fs, f.Tag.Get("validate"))
		}
		s.Properties[f.name] = fs
		if f.required {
			s.Required = append(s.Required, f.name)
		}
	}

	if name != "" {
		rf.components[name] = s
		return &Schema{Ref: componentPrefix + name}
	}
	return s
}

type field struct {
	reflect.StructField
	name     string
	required bool
}

// fields lists the JSON-visible fields of t, flattening embedded structs.
func fields(t reflect.Type) []field {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	var out []field
	for i := range t.NumField() {
		f := t.Field(i)
		tag := f.Tag.Get("json")
		if tag == "-" {
			continue
		}
		if f.Anonymous && tag == "" {
			ft := f.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				out = append(out, fields(ft)...)
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			name = f.Name
		}
		out = append(out, field{
			StructField: f,
			name:        name,
			required:    hasRule(f.Tag.Get("validate"), "required") && !strings.Contains(opts, "omitempty"),
		})
	}
	return out
}

func hasRule(validate, rule string) bool {
	for part := range strings.SplitSeq(validate, ",") {
		if strings.TrimSpace(part) == rule {
			return true
		}
	}
	return false
}

func componentName(t reflect.Type) string {
	if t.Name() == "" {
		return ""
	}
	name := t.Name()
	// generic instantiations carry their type arguments in brackets
	if i := strings.IndexByte(name, '['); i >= 0 {
		name = name[:i]
	}
	return name
}

func applyConstraints(s *Schema, validate string) {
	if validate == "" {
		return
	}
	isString := s.Type == "string"
	for part := range strings.SplitSeq(validate, ",") {
		part = strings.TrimSpace(part)
		key, val, _ := strings.Cut(part, "=")
		switch key {
		case "email":
			s.Format = "email"
		case "url", "uri":
			s.Format = "uri"
		case "uuid", "uuid4":
			s.Format = "uuid"
		case "alphanum":
			s.Pattern = "^[a-zA-Z0-9]+$"
		case "oneof":
			for _, v := range strings.Fields(val) {
				s.Enum = append(s.Enum, v)
			}
		case "min", "gte", "gt":
			if isString {
				if n, err := strconv.Atoi(val); err == nil {
					s.MinLength = &n
				}
				continue
			}
			if x, err := strconv.ParseFloat(val, 64); err == nil {
				s.Minimum = &x
				s.ExclusiveMinimum = key == "gt"
			}
		case "max", "lte", "lt":
			if isString {
				if n, err := strconv.Atoi(val); err == nil {
					s.MaxLength = &n
				}
				continue
			}
			if x, err := strconv.ParseFloat(val, 64); err == nil {
				s.Maximum = &x
				s.ExclusiveMaximum = key == "lt"
			}
		case "len":
			if n, err := strconv.Atoi(val); err == nil && isString {
				s.MinLength, s.MaxLength = &n, &n
			}
		}
	}
}
