package adapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/dalemusser/nural/exception"
	"github.com/dalemusser/nural/httputil"
	"github.com/dalemusser/nural/metrics"
	"github.com/dalemusser/nural/pipeline"
	"github.com/dalemusser/nural/router"
	"github.com/dalemusser/nural/schema"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Dispatcher runs the engine-independent part of a request: route
// middleware, input validation, the hydrated handler, response mapping,
// and global error handling.
type Dispatcher struct {
	errs   exception.HandlerConfig
	logger *zap.Logger
}

// NewDispatcher returns a Dispatcher. A zero cfg.Handler falls back to the
// default classifier for the given mode.
func NewDispatcher(cfg exception.HandlerConfig, production bool, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{errs: cfg.Resolve(production), logger: logger}
}

// SuccessResponse picks the lowest declared 2xx status and its schema.
// Routes without a 2xx entry answer 200 with no schema.
func SuccessResponse(responses map[int]schema.Schema) (int, schema.Schema) {
	codes := make([]int, 0, len(responses))
	for code := range responses {
		if code >= 200 && code < 300 {
			codes = append(codes, code)
		}
	}
	if len(codes) == 0 {
		return http.StatusOK, nil
	}
	sort.Ints(codes)
	return codes[0], responses[codes[0]]
}

// Serve handles one request for a hydrated route. params are the path
// parameters extracted by the engine.
func (d *Dispatcher) Serve(route router.Route, w http.ResponseWriter, r *http.Request, params map[string]string) {
	metrics.SetRoute(r.Context(), route.Path)
	rw := pipeline.WrapResponse(w, r.ProtoMajor)
	c := router.NewCtx(rw, r)

	defer func() {
		if rec := recover(); rec != nil {
			d.HandleError(exception.Internal(fmt.Sprintf("panic: %v", rec)), rw, r, route.Path)
		}
	}()

	for _, mw := range route.Middleware {
		if err := mw(c); err != nil {
			d.HandleError(err, rw, r, route.Path)
			return
		}
		if rw.Written() {
			return
		}
	}

	if err := d.bindInputs(route, c, params); err != nil {
		d.HandleError(err, rw, r, route.Path)
		return
	}

	result, err := route.Handler(c)
	if err != nil {
		d.HandleError(err, rw, r, route.Path)
		return
	}
	if rw.Written() {
		return
	}

	status, out := SuccessResponse(route.Responses)
	if out != nil {
		clean, err := out.Parse(result)
		if err != nil {
			d.logger.Error("response failed its schema",
				zap.String("method", r.Method),
				zap.String("path", route.Path),
				zap.Error(err))
			var ve *exception.ValidationError
			if errors.As(err, &ve) {
				err = exception.Internal("response validation failed", ve.Issues)
			}
			d.HandleError(err, rw, r, route.Path)
			return
		}
		httputil.WriteJSON(rw, status, clean)
		return
	}
	if result == nil {
		rw.WriteHeader(status)
		return
	}
	httputil.WriteJSON(rw, status, result)
}

func (d *Dispatcher) bindInputs(route router.Route, c *router.Ctx, params map[string]string) error {
	if params == nil {
		params = map[string]string{}
	}
	c.Params = params
	if s := route.Request.Params; s != nil {
		v, err := schema.ParseAs(s, "params", params)
		if err != nil {
			return err
		}
		c.Params = v
	}

	q := c.Request.URL.Query()
	c.Query = q
	if s := route.Request.Query; s != nil {
		v, err := schema.ParseAs(s, "query", q)
		if err != nil {
			return err
		}
		c.Query = v
	}

	raw, err := readBody(c.Request)
	if err != nil {
		return err
	}
	if s := route.Request.Body; s != nil {
		v, err := schema.ParseAs(s, "body", raw)
		if err != nil {
			return err
		}
		c.Body = v
		return nil
	}
	body, err := decodeLoose(c.Request, raw)
	if err != nil {
		return err
	}
	c.Body = body
	return nil
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, exception.Custom(http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", mbe.Limit))
		}
		return nil, exception.BadRequest("could not read request body").Wrap(err)
	}
	return b, nil
}

// decodeLoose decodes a JSON body for routes without a body schema.
// Non-JSON bodies are passed through as bytes.
func decodeLoose(r *http.Request, raw []byte) (any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	ct := r.Header.Get("Content-Type")
	if ct != "" {
		mt, _, _ := mime.ParseMediaType(ct)
		if mt == "application/x-www-form-urlencoded" {
			form, err := url.ParseQuery(string(raw))
			if err != nil {
				return nil, exception.BadRequest("malformed form body")
			}
			return form, nil
		}
		if !strings.Contains(mt, "json") {
			return raw, nil
		}
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, exception.BadRequest("malformed JSON body")
	}
	return v, nil
}

// ServeStatic runs a StaticHandler and writes its result.
func (d *Dispatcher) ServeStatic(path string, h StaticHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics.SetRoute(r.Context(), path)
		res, err := h(r)
		if err != nil {
			d.HandleError(err, w, r, path)
			return
		}
		switch res.Type {
		case "html", "text":
			ct := res.ContentType
			if ct == "" && res.Type == "html" {
				ct = "text/html; charset=utf-8"
			} else if ct == "" {
				ct = "text/plain; charset=utf-8"
			}
			w.Header().Set("Content-Type", ct)
			w.WriteHeader(http.StatusOK)
			switch data := res.Data.(type) {
			case string:
				_, _ = io.WriteString(w, data)
			case []byte:
				_, _ = w.Write(data)
			default:
				_, _ = fmt.Fprint(w, data)
			}
		default:
			if res.ContentType != "" {
				w.Header().Set("Content-Type", res.ContentType)
			}
			httputil.WriteJSON(w, http.StatusOK, res.Data)
		}
	}
}

// HandleError turns err into a response through the configured global
// error handler. Something is always written unless a response already
// went out.
func (d *Dispatcher) HandleError(err error, w http.ResponseWriter, r *http.Request, path string) {
	if path == "" {
		path = r.URL.Path
	}
	ectx := exception.ErrorContext{Err: err, Request: r, Response: w, Path: path, Method: r.Method}

	if d.errs.LogErrors {
		d.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err))
	}

	if rw, ok := w.(pipeline.ResponseWriter); ok && rw.Written() {
		d.logger.Warn("error after response was written; dropping", zap.String("path", path), zap.Error(err))
		return
	}

	res, herr := d.runHandler(ectx)
	if herr != nil {
		d.logger.Error("error handler failed", zap.Error(herr))
		httputil.WriteJSON(w, http.StatusInternalServerError, map[string]any{"error": "Internal Server Error"})
		return
	}

	for k, v := range res.Headers {
		w.Header().Set(k, v)
	}
	body := maps.Clone(res.Body)
	if body == nil {
		body = map[string]any{}
	}
	if d.errs.IncludeStack {
		if st := exception.Stack(err); st != "" {
			body["stack"] = st
		}
	}
	status := res.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	httputil.WriteJSON(w, status, body)
}

func (d *Dispatcher) runHandler(ectx exception.ErrorContext) (res exception.ErrorResponse, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("error handler panic: %v", rec)
		}
	}()
	return d.errs.Handler(ectx), nil
}
