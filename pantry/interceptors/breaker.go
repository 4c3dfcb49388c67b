// interceptors/breaker.go
package interceptors

import (
	"errors"
	"net/http"
	"time"

	"github.com/dalemusser/nural/exception"
	"github.com/dalemusser/nural/pipeline"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig configures CircuitBreaker.
type BreakerConfig struct {
	Name string
	// MaxRequests is how many calls a half-open breaker lets through.
	MaxRequests uint32
	// Interval clears the closed-state counts. Zero never clears.
	Interval time.Duration
	// Timeout is how long the breaker stays open.
	Timeout time.Duration
	// The breaker opens once at least MinRequests calls were counted and
	// the failure ratio reaches FailureThreshold.
	MinRequests      uint32
	FailureThreshold float64
	Logger           *zap.Logger
}

// DefaultBreakerConfig returns moderate settings for name.
func DefaultBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:             name,
		MaxRequests:      5,
		Interval:         30 * time.Second,
		Timeout:          60 * time.Second,
		MinRequests:      5,
		FailureThreshold: 0.8,
	}
}

// CircuitBreaker fails fast with 503 while the downstream handler keeps
// failing. Only 5xx-class errors count as failures; a 404 or a validation
// error means the service is healthy.
func CircuitBreaker(cfg BreakerConfig) pipeline.Interceptor {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < cfg.MinRequests {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !serverSide(err)
		},
	})

	return func(_ *http.Request, next pipeline.Next, _ *pipeline.Context) (any, error) {
		res, err := cb.Execute(func() (any, error) { return next() })
		switch {
		case errors.Is(err, gobreaker.ErrOpenState):
			return nil, exception.Custom(http.StatusServiceUnavailable, "service temporarily unavailable").Wrap(err)
		case errors.Is(err, gobreaker.ErrTooManyRequests):
			return nil, exception.Custom(http.StatusServiceUnavailable, "service recovering, retry shortly").Wrap(err)
		}
		return res, err
	}
}

func serverSide(err error) bool {
	var sc interface{ StatusCode() int }
	if errors.As(err, &sc) {
		return sc.StatusCode() >= 500
	}
	var ve *exception.ValidationError
	return !errors.As(err, &ve)
}
