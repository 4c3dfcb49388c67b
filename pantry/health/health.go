// health/health.go
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/dalemusser/nural/adapter"
	"github.com/dalemusser/nural/httputil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Check probes one dependency. A nil error means healthy.
type Check func(ctx context.Context) error

// CheckResult is one entry of Response.Checks.
type CheckResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Response is the JSON body of the health endpoint.
type Response struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Uptime    float64                `json:"uptime"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Options tune Handler.
type Options struct {
	// Timeout bounds each check. Default 5s.
	Timeout time.Duration
	Logger  *zap.Logger
}

var started = time.Now()

// Handler runs every check concurrently on each request. With no checks it
// is a plain liveness probe. Any failing check turns the response into a
// 503 with status "error".
func Handler(checks map[string]Check, opts Options) http.Handler {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := Response{
			Status:    "ok",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Uptime:    time.Since(started).Seconds(),
		}
		if len(names) > 0 {
			resp.Checks = run(r.Context(), names, checks, opts)
		}

		status := http.StatusOK
		for _, res := range resp.Checks {
			if res.Status != "ok" {
				resp.Status = "error"
				status = http.StatusServiceUnavailable
				break
			}
		}
		httputil.WriteJSON(w, status, resp)
	})
}

func run(ctx context.Context, names []string, checks map[string]Check, opts Options) map[string]CheckResult {
	var (
		mu      sync.Mutex
		results = make(map[string]CheckResult, len(names))
		g       errgroup.Group
	)
	for _, name := range names {
		check := checks[name]
		g.Go(func() error {
			res := CheckResult{Status: "ok"}
			if check != nil {
				cctx, cancel := context.WithTimeout(ctx, opts.Timeout)
				start := time.Now()
				err := check(cctx)
				res.LatencyMS = time.Since(start).Milliseconds()
				cancel()
				if err != nil {
					res.Status = "error"
					res.Error = err.Error()
					opts.Logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
				}
			}
			mu.Lock()
			results[name] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Mount serves Handler at GET path on a.
func Mount(a adapter.ServerAdapter, path string, checks map[string]Check, opts Options) error {
	return a.Handle(http.MethodGet, path, Handler(checks, opts))
}
