// metrics/metrics.go
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	reqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: []float64{0.01, 0.1, 0.3, 1.2, 5},
		},
		[]string{"route", "method", "status"},
	)

	inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_requests_in_flight",
		Help: "Requests currently being served.",
	})

	cronRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cron_job_runs_total",
			Help: "Scheduled job executions by outcome.",
		},
		[]string{"job", "outcome"},
	)

	wsClients = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ws_clients",
			Help: "Connected WebSocket clients per gateway namespace.",
		},
		[]string{"namespace"},
	)
)

// UnmatchedRoute labels requests no route claimed.
const UnmatchedRoute = "unmatched"

// RegisterDefault registers the Go runtime and process collectors plus
// the nural collectors with the default registry. Calling it again is a
// no-op.
func RegisterDefault(logger *zap.Logger) {
	mustRegister(logger, "Go collector", collectors.NewGoCollector())
	mustRegister(logger, "process collector", collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	mustRegister(logger, "HTTP request histogram", reqDuration)
	mustRegister(logger, "in-flight gauge", inFlight)
	mustRegister(logger, "cron run counter", cronRuns)
	mustRegister(logger, "websocket client gauge", wsClients)
}

func mustRegister(logger *zap.Logger, name string, c prometheus.Collector) {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return
		}
		if logger != nil {
			logger.Fatal("failed to register "+name, zap.Error(err))
		}
		panic("metrics: failed to register " + name + ": " + err.Error())
	}
}

// routeLabel is filled in by whichever handler claims the request.
type routeLabel struct{ v atomic.Pointer[string] }

type labelKey struct{}

// SetRoute records the route pattern for the current request. It is a
// no-op when the request is not wrapped by HTTPMetrics.
func SetRoute(ctx context.Context, pattern string) {
	if l, ok := ctx.Value(labelKey{}).(*routeLabel); ok {
		l.v.Store(&pattern)
	}
}

// Labeled wraps h so requests reaching it are labeled with pattern.
func Labeled(pattern string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetRoute(r.Context(), pattern)
		h.ServeHTTP(w, r)
	})
}

const maxRouteLabelLength = 256

// HTTPMetrics records request durations into
// http_request_duration_seconds. The route label is the pattern reported
// through SetRoute (":id" style), so path parameters do not multiply
// series; requests nobody claimed are labeled "unmatched".
func HTTPMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		inFlight.Inc()
		defer inFlight.Dec()

		label := &routeLabel{}
		r = r.WithContext(context.WithValue(r.Context(), labelKey{}, label))

		protoMajor := r.ProtoMajor
		if protoMajor < 1 {
			protoMajor = 1
		}
		ww := middleware.NewWrapResponseWriter(w, protoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if status < 100 || status > 599 {
			status = http.StatusInternalServerError
		}

		route := UnmatchedRoute
		if p := label.v.Load(); p != nil && *p != "" {
			route = *p
		}
		if len(route) > maxRouteLabelLength {
			route = truncateUTF8(route, maxRouteLabelLength-3) + "..."
		}

		reqDuration.WithLabelValues(route, r.Method, strconv.Itoa(status)).
			Observe(time.Since(start).Seconds())
	})
}

// CronRun counts one job execution.
func CronRun(job string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	cronRuns.WithLabelValues(job, outcome).Inc()
}

// WSClientConnected and WSClientDisconnected track live gateway clients.
func WSClientConnected(namespace string)    { wsClients.WithLabelValues(namespace).Inc() }
func WSClientDisconnected(namespace string) { wsClients.WithLabelValues(namespace).Dec() }

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// truncateUTF8 cuts s to at most maxBytes without splitting a rune.
func truncateUTF8(s string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}
