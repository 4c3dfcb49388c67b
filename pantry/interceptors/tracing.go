// interceptors/tracing.go
package interceptors

import (
	"errors"
	"net/http"

	"github.com/dalemusser/nural/pipeline"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TraceIDKey is where Tracing stores the active trace id.
const TraceIDKey = "trace_id"

// Tracing opens a span around the handler named after the handler. The
// span's parent comes from the request context, and the span's context is
// what later interceptors and the handler see from Context. When tp is nil the global
// provider is used.
func Tracing(tp trace.TracerProvider) pipeline.Interceptor {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer("github.com/dalemusser/nural/pantry/interceptors")

	return func(r *http.Request, next pipeline.Next, ec *pipeline.Context) (any, error) {
		attrs := []attribute.KeyValue{
			attribute.String("nural.context_type", string(ec.Type())),
			attribute.String("nural.context_id", ec.ID()),
		}
		if r != nil {
			attrs = append(attrs,
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path))
		}
		parent := ec.Context()
		ctx, span := tracer.Start(parent, ec.HandlerName(), trace.WithAttributes(attrs...))
		defer span.End()
		ec.SetContext(ctx)
		defer ec.SetContext(parent)

		if sc := span.SpanContext(); sc.HasTraceID() {
			ec.Set(TraceIDKey, sc.TraceID().String())
		}

		res, err := next()
		if err != nil {
			span.RecordError(err)
			var sc interface{ StatusCode() int }
			if errors.As(err, &sc) {
				span.SetAttributes(attribute.Int("http.response.status_code", sc.StatusCode()))
			}
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		span.SetStatus(codes.Ok, "")
		return res, nil
	}
}
