package pipeline

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
)

// ResponseWriter is the writer handed to exception filters and handlers.
// Written reports whether a status line has already been sent, which is
// how the filter runner knows a filter produced a response.
type ResponseWriter interface {
	middleware.WrapResponseWriter
	Written() bool
}

type responseWriter struct {
	middleware.WrapResponseWriter
}

func (w *responseWriter) Written() bool {
	return w.Status() != 0 || w.BytesWritten() > 0
}

// WrapResponse wraps w so writes can be observed. An already wrapped
// writer is returned as is.
func WrapResponse(w http.ResponseWriter, protoMajor int) ResponseWriter {
	if rw, ok := w.(ResponseWriter); ok {
		return rw
	}
	if protoMajor < 1 {
		protoMajor = 1
	}
	return &responseWriter{middleware.NewWrapResponseWriter(w, protoMajor)}
}
