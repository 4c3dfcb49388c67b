// testkit/testkit.go
package testkit

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dalemusser/nural/app"
	"github.com/dalemusser/nural/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Client drives an http.Handler in process; no listener is opened.
type Client struct {
	t *testing.T
	h http.Handler
	// Header is sent with every request.
	Header http.Header
}

// New returns a Client for h.
func New(t *testing.T, h http.Handler) *Client {
	return &Client{t: t, h: h, Header: make(http.Header)}
}

// NewApp builds an App suited to tests: silent logger, no signal
// handling, no process exit, no flush delay. mutate may adjust the default
// config. The app is closed when the test ends.
func NewApp(t *testing.T, mutate func(*config.CoreConfig), opts ...app.Option) (*app.App, *Client) {
	t.Helper()
	cfg := config.Default()
	cfg.Timeouts.FlushDelay = 0
	cfg.Timeouts.ShutdownTimeout = 5 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	base := []app.Option{
		app.WithLogger(zap.NewNop()),
		app.WithoutSignals(),
		app.WithoutRequestLog(),
		app.WithExitFunc(func(int) {}),
	}
	a, err := app.New(&cfg, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a, New(t, a.Handler())
}

// Request starts a request builder.
func (c *Client) Request(method, path string) *Request {
	h := c.Header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	return &Request{c: c, method: method, path: path, header: h, query: url.Values{}}
}

func (c *Client) Get(path string) *Request    { return c.Request(http.MethodGet, path) }
func (c *Client) Post(path string) *Request   { return c.Request(http.MethodPost, path) }
func (c *Client) Put(path string) *Request    { return c.Request(http.MethodPut, path) }
func (c *Client) Patch(path string) *Request  { return c.Request(http.MethodPatch, path) }
func (c *Client) Delete(path string) *Request { return c.Request(http.MethodDelete, path) }

// Request builds one call.
type Request struct {
	c      *Client
	method string
	path   string
	header http.Header
	query  url.Values
	body   io.Reader
}

// Header sets a request header.
func (r *Request) Header(key, value string) *Request {
	r.header.Set(key, value)
	return r
}

// Query sets a query parameter.
func (r *Request) Query(key, value string) *Request {
	r.query.Set(key, value)
	return r
}

// BodyString sets a raw body.
func (r *Request) BodyString(body string) *Request {
	r.body = strings.NewReader(body)
	return r
}

// JSON marshals v as the body and sets Content-Type.
func (r *Request) JSON(v any) *Request {
	r.c.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(r.c.t, err, "marshal request body")
	r.body = bytes.NewReader(data)
	r.header.Set("Content-Type", "application/json")
	return r
}

// Bearer sets the Authorization header.
func (r *Request) Bearer(token string) *Request {
	return r.Header("Authorization", "Bearer "+token)
}

// Cookie adds a cookie.
func (r *Request) Cookie(name, value string) *Request {
	c := (&http.Cookie{Name: name, Value: value}).String()
	if existing := r.header.Get("Cookie"); existing != "" {
		c = existing + "; " + c
	}
	r.header.Set("Cookie", c)
	return r
}

// Build returns the *http.Request without running it.
func (r *Request) Build() *http.Request {
	target := r.path
	if len(r.query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + r.query.Encode()
	}
	req := httptest.NewRequest(r.method, target, r.body)
	req.Header = r.header
	return req
}

// Do runs the request through the handler.
func (r *Request) Do() *Response {
	r.c.t.Helper()
	rec := httptest.NewRecorder()
	r.c.h.ServeHTTP(rec, r.Build())
	return &Response{
		Code:   rec.Code,
		Header: rec.Header(),
		Body:   rec.Body.Bytes(),
		t:      r.c.t,
	}
}

// Response is the recorded result with assertion helpers.
type Response struct {
	Code   int
	Header http.Header
	Body   []byte
	t      *testing.T
}

// Status asserts the status code.
func (r *Response) Status(code int) *Response {
	r.t.Helper()
	assert.Equal(r.t, code, r.Code, "body: %s", r.Body)
	return r
}

// HeaderEquals asserts a header value.
func (r *Response) HeaderEquals(key, expected string) *Response {
	r.t.Helper()
	assert.Equal(r.t, expected, r.Header.Get(key), "header %s", key)
	return r
}

// BodyContains asserts the body contains substr.
func (r *Response) BodyContains(substr string) *Response {
	r.t.Helper()
	assert.Contains(r.t, string(r.Body), substr)
	return r
}

// JSON unmarshals the body into v.
func (r *Response) JSON(v any) *Response {
	r.t.Helper()
	require.NoError(r.t, json.Unmarshal(r.Body, v), "body: %s", r.Body)
	return r
}

// JSONPath returns the value at a dot-separated path such as
// "data.items.0.id".
func (r *Response) JSONPath(path string) any {
	r.t.Helper()
	var cur any
	require.NoError(r.t, json.Unmarshal(r.Body, &cur), "body: %s", r.Body)
	for _, part := range strings.Split(path, ".") {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[part]
			require.True(r.t, ok, "path %q: missing %q", path, part)
			cur = next
		case []any:
			idx, err := strconv.Atoi(part)
			require.NoError(r.t, err, "path %q: bad index %q", path, part)
			require.True(r.t, idx >= 0 && idx < len(v), "path %q: index %d out of range", path, idx)
			cur = v[idx]
		default:
			require.Failf(r.t, "bad path", "path %q: cannot descend into %T at %q", path, cur, part)
		}
	}
	return cur
}

// JSONPathEquals compares the value at path with expected by their JSON
// encodings, so 1 and 1.0 match.
func (r *Response) JSONPathEquals(path string, expected any) *Response {
	r.t.Helper()
	want, err := json.Marshal(expected)
	require.NoError(r.t, err)
	got, err := json.Marshal(r.JSONPath(path))
	require.NoError(r.t, err)
	assert.JSONEq(r.t, string(want), string(got), "path %s", path)
	return r
}

// String returns the body.
func (r *Response) String() string { return string(r.Body) }
