// ratelimit/ratelimit.go
package ratelimit

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dalemusser/nural/exception"
	"github.com/dalemusser/nural/httputil"
	"github.com/dalemusser/nural/pipeline"
	"golang.org/x/time/rate"
)

// KeyLimiter keeps one token bucket per key. Buckets idle for longer than
// the TTL are dropped by a background sweep until Stop is called.
type KeyLimiter struct {
	mu       sync.Mutex
	limiters map[string]*entry
	limit    rate.Limit
	burst    int
	ttl      time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyLimiter creates a limiter allowing perSecond events per key with
// bursts of up to burst.
func NewKeyLimiter(perSecond float64, burst int, ttl time.Duration) *KeyLimiter {
	if ttl <= 0 {
		ttl = time.Hour
	}
	kl := &KeyLimiter{
		limiters: make(map[string]*entry),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		ttl:      ttl,
		stop:     make(chan struct{}),
	}
	go kl.sweep()
	return kl
}

// Reserve takes a token for key. When none is available it returns false
// and how long until one is.
func (kl *KeyLimiter) Reserve(key string) (bool, time.Duration) {
	now := time.Now()
	kl.mu.Lock()
	e, ok := kl.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(kl.limit, kl.burst)}
		kl.limiters[key] = e
	}
	e.lastSeen = now
	kl.mu.Unlock()

	res := e.limiter.ReserveN(now, 1)
	if !res.OK() {
		return false, time.Second
	}
	if d := res.DelayFrom(now); d > 0 {
		res.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Allow reports whether key may proceed now.
func (kl *KeyLimiter) Allow(key string) bool {
	ok, _ := kl.Reserve(key)
	return ok
}

// Size returns the number of tracked keys.
func (kl *KeyLimiter) Size() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.limiters)
}

// Stop ends the background sweep. It satisfies lifecycle.Stopper and is
// safe to call more than once.
func (kl *KeyLimiter) Stop(context.Context) error {
	kl.stopOnce.Do(func() { close(kl.stop) })
	return nil
}

func (kl *KeyLimiter) sweep() {
	ticker := time.NewTicker(kl.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-kl.stop:
			return
		case now := <-ticker.C:
			kl.mu.Lock()
			for key, e := range kl.limiters {
				if now.Sub(e.lastSeen) > kl.ttl {
					delete(kl.limiters, key)
				}
			}
			kl.mu.Unlock()
		}
	}
}

// KeyFunc extracts the bucket key from a request.
type KeyFunc func(r *http.Request) string

// IPKeyFunc keys by client IP: the first X-Forwarded-For hop, then
// X-Real-IP, then RemoteAddr without its port.
func IPKeyFunc(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// IPPathKeyFunc keys by client IP and path.
func IPPathKeyFunc(r *http.Request) string {
	return IPKeyFunc(r) + " " + r.URL.Path
}

// Config configures Guard and Middleware.
type Config struct {
	// Rate is events per second per key.
	Rate  float64
	Burst int
	// KeyFunc defaults to IPKeyFunc.
	KeyFunc KeyFunc
	// TTL is how long idle keys are kept. Default 1h.
	TTL time.Duration
	// Message is the error message. Default "rate limit exceeded".
	Message string
	// Skip exempts requests.
	Skip func(r *http.Request) bool
	// Limiter shares buckets between several guards. When nil one is
	// created from Rate, Burst and TTL.
	Limiter *KeyLimiter
}

func (c *Config) defaults() {
	if c.KeyFunc == nil {
		c.KeyFunc = IPKeyFunc
	}
	if c.Message == "" {
		c.Message = "rate limit exceeded"
	}
	if c.Limiter == nil {
		c.Limiter = NewKeyLimiter(c.Rate, c.Burst, c.TTL)
	}
}

// Guard denies with 429 once a client exhausts its bucket. Retry-After is
// set on the response.
func Guard(cfg Config) pipeline.Guard {
	cfg.defaults()
	return func(r *http.Request, ec *pipeline.Context) (bool, error) {
		if cfg.Skip != nil && cfg.Skip(r) {
			return true, nil
		}
		ok, wait := cfg.Limiter.Reserve(cfg.KeyFunc(r))
		if ok {
			return true, nil
		}
		if w := ec.SwitchToHTTP().Response(); w != nil {
			w.Header().Set("Retry-After", retryAfter(wait))
		}
		return false, exception.Custom(http.StatusTooManyRequests, cfg.Message)
	}
}

// Middleware applies the same limit as global middleware, ahead of route
// resolution.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	cfg.defaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Skip != nil && cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}
			if ok, wait := cfg.Limiter.Reserve(cfg.KeyFunc(r)); !ok {
				w.Header().Set("Retry-After", retryAfter(wait))
				httputil.JSONError(w, http.StatusTooManyRequests, cfg.Message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryAfter(d time.Duration) string {
	return strconv.Itoa(int(math.Max(1, math.Ceil(d.Seconds()))))
}
