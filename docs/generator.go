// docs/generator.go
package docs

import (
	"encoding/json"
	"maps"
	"net/http"
	"reflect"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/dalemusser/nural/router"
	"github.com/dalemusser/nural/schema"
	"gopkg.in/yaml.v3"
)

// OpenAPIVersion is the document version emitted by Generator.
const OpenAPIVersion = "3.0.3"

// Info is the document's info block.
type Info struct {
	Title          string   `json:"title"`
	Version        string   `json:"version"`
	Description    string   `json:"description,omitempty"`
	TermsOfService string   `json:"termsOfService,omitempty"`
	Contact        *Contact `json:"contact,omitempty"`
	License        *License `json:"license,omitempty"`
}

type Contact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	URL   string `json:"url,omitempty"`
}

type License struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

type ServerInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

type Tag struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// Components holds reusable schemas and security schemes.
type Components struct {
	Schemas         map[string]*Schema `json:"schemas,omitempty"`
	SecuritySchemes map[string]any     `json:"securitySchemes,omitempty"`
}

// Document is a complete OpenAPI document. Operations are kept as generic
// maps so per-route overrides can add any field.
type Document struct {
	OpenAPI    string                               `json:"openapi"`
	Info       Info                                 `json:"info"`
	Servers    []ServerInfo                         `json:"servers,omitempty"`
	Paths      map[string]map[string]map[string]any `json:"paths"`
	Components Components                           `json:"components,omitempty"`
	Security   []router.Security                    `json:"security,omitempty"`
	Tags       []Tag                                `json:"tags,omitempty"`
}

// JSON encodes d with indentation.
func (d *Document) JSON() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// YAML encodes d with the same field names as JSON.
func (d *Document) YAML() ([]byte, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return yaml.Marshal(generic)
}

// Generator accumulates hydrated routes and renders them as a Document.
type Generator struct {
	mu     sync.Mutex
	info   Info
	extra  Overrides
	routes []router.Route
}

// Overrides are merged into the generated document.
type Overrides struct {
	Servers         []ServerInfo
	SecuritySchemes map[string]any
	Security        []router.Security
	Tags            []Tag
}

// NewGenerator returns a Generator with the given info block.
func NewGenerator(info Info, extra Overrides) *Generator {
	if info.Title == "" {
		info.Title = "Nural API"
	}
	if info.Version == "" {
		info.Version = "1.0.0"
	}
	return &Generator{info: info, extra: extra}
}

// AddRoute records r for the next Spec call.
func (g *Generator) AddRoute(r router.Route) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.routes = append(g.routes, r)
}

// Spec renders every recorded route. Routes with method ALL are skipped
// since OpenAPI has no wildcard operation.
func (g *Generator) Spec() *Document {
	g.mu.Lock()
	routes := slices.Clone(g.routes)
	g.mu.Unlock()

	rf := newReflector()
	doc := &Document{
		OpenAPI: OpenAPIVersion,
		Info:    g.info,
		Servers: g.extra.Servers,
		Paths:   map[string]map[string]map[string]any{},
		Tags:    g.extra.Tags,
	}

	for _, r := range routes {
		if r.Method == router.MethodAll {
			continue
		}
		path := PathTemplate(r.Path)
		if doc.Paths[path] == nil {
			doc.Paths[path] = map[string]map[string]any{}
		}
		doc.Paths[path][strings.ToLower(r.Method)] = operation(rf, r)
	}

	doc.Components.Schemas = rf.components
	if len(g.extra.SecuritySchemes) > 0 {
		doc.Components.SecuritySchemes = maps.Clone(g.extra.SecuritySchemes)
	}
	doc.Security = g.extra.Security
	return doc
}

var paramPattern = regexp.MustCompile(`:([A-Za-z0-9_]+)`)

// PathTemplate converts "/users/:id" to "/users/{id}".
func PathTemplate(path string) string {
	return paramPattern.ReplaceAllString(path, "{$1}")
}

func operation(rf *reflector, r router.Route) map[string]any {
	summary := r.Summary
	if summary == "" {
		summary = "No summary"
	}
	op := map[string]any{
		"summary":   summary,
		"responses": responses(rf, r.Responses),
	}
	if r.Name != "" && r.Name != "anonymous" {
		op["operationId"] = r.Name
	}
	if r.Description != "" {
		op["description"] = r.Description
	}
	if len(r.Tags) > 0 {
		op["tags"] = r.Tags
	}
	if len(r.Security) > 0 {
		op["security"] = r.Security
	}

	params := parameters(rf, "path", r.Request.Params, r.Path)
	params = append(params, parameters(rf, "query", r.Request.Query, "")...)
	if len(params) > 0 {
		op["parameters"] = params
	}
	if t := typeOf(r.Request.Body); t != nil {
		op["requestBody"] = map[string]any{
			"required": true,
			"content":  map[string]any{"application/json": map[string]any{"schema": rf.schema(t)}},
		}
	}

	maps.Copy(op, r.OpenAPI)
	return op
}

func responses(rf *reflector, rs map[int]schema.Schema) map[string]any {
	out := map[string]any{}
	if len(rs) == 0 {
		out["200"] = map[string]any{"description": "Response"}
		return out
	}
	codes := make([]int, 0, len(rs))
	for code := range rs {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		desc := http.StatusText(code)
		if desc == "" {
			desc = "Response"
		}
		resp := map[string]any{"description": desc}
		if t := typeOf(rs[code]); t != nil {
			resp["content"] = map[string]any{"application/json": map[string]any{"schema": rf.schema(t)}}
		}
		out[strconv.Itoa(code)] = resp
	}
	return out
}

// parameters lists one entry per struct field. Path params without a
// schema are read from the route path itself.
func parameters(rf *reflector, in string, s schema.Schema, path string) []map[string]any {
	t := typeOf(s)
	if t == nil {
		if in != "path" {
			return nil
		}
		var out []map[string]any
		for _, m := range paramPattern.FindAllStringSubmatch(path, -1) {
			out = append(out, map[string]any{
				"name": m[1], "in": "path", "required": true, "schema": &Schema{Type: "string"},
			})
		}
		return out
	}
	var out []map[string]any
	for _, f := range fields(t) {
		fs := rf.schema(f.Type)
		applyConstraints(fs, f.Tag.Get("validate"))
		p := map[string]any{
			"name":     f.name,
			"in":       in,
			"required": in == "path" || f.required,
			"schema":   fs,
		}
		if doc := f.Tag.Get("doc"); doc != "" {
			p["description"] = doc
		}
		out = append(out, p)
	}
	return out
}

func typeOf(s schema.Schema) reflect.Type {
	if d, ok := s.(schema.Describer); ok {
		return d.Type()
	}
	return nil
}
