// app/options.go
package app

import (
	"net/http"

	"github.com/dalemusser/nural/docs"
	"github.com/dalemusser/nural/exception"
	"github.com/dalemusser/nural/gateway"
	"github.com/dalemusser/nural/logging"
	"go.uber.org/zap"
)

type options struct {
	sink         *logging.Sink
	errorHandler exception.ErrorHandler
	exit         func(code int)
	signals      bool
	quietHTTP    bool
	middleware   []func(http.Handler) http.Handler
	docs         docs.Overrides
	accept       gateway.AcceptOptions
}

// Option customizes New.
type Option func(*options)

// WithLogger uses logger instead of building one from config. Closing the
// app syncs it but does not close its outputs.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.sink = logging.NewSinkFromLogger(logger) }
}

// WithSink hands ownership of sink to the app; it is closed as the last
// shutdown step.
func WithSink(sink *logging.Sink) Option {
	return func(o *options) { o.sink = sink }
}

// WithErrorHandler replaces the default global error classifier.
func WithErrorHandler(h exception.ErrorHandler) Option {
	return func(o *options) { o.errorHandler = h }
}

// WithExitFunc replaces os.Exit at the end of shutdown.
func WithExitFunc(exit func(code int)) Option {
	return func(o *options) { o.exit = exit }
}

// WithoutSignals leaves OS signal handling to the caller.
func WithoutSignals() Option {
	return func(o *options) { o.signals = false }
}

// WithoutRequestLog drops the per-request access log.
func WithoutRequestLog() Option {
	return func(o *options) { o.quietHTTP = true }
}

// WithMiddleware appends process-wide middleware after the built-in chain.
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(o *options) { o.middleware = append(o.middleware, mw...) }
}

// WithDocs adds servers, security schemes and tags to the OpenAPI
// document.
func WithDocs(extra docs.Overrides) Option {
	return func(o *options) { o.docs = extra }
}

// WithGatewayAccept tunes WebSocket upgrades for every gateway.
func WithGatewayAccept(opts gateway.AcceptOptions) Option {
	return func(o *options) { o.accept = opts }
}
