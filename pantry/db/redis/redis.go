// db/redis/redis.go
package redis

import (
	"context"
	"time"

	"github.com/dalemusser/nural/lifecycle"
	"github.com/redis/go-redis/v9"
)

// Client is an alias for the go-redis client, re-exported for convenience.
type Client = redis.Client

// Options is an alias for redis.Options, re-exported for convenience.
type Options = redis.Options

// Config configures Provider. URL wins over Options when both are set.
type Config struct {
	// URL formats:
	//
	//	redis://localhost:6379
	//	redis://:password@localhost:6379/0
	//	rediss://localhost:6379 (TLS)
	URL     string
	Options *Options
	// Timeout bounds the connect ping. Default 10s.
	Timeout time.Duration
}

// Provider defines a Redis client that is pinged on Init and closed on
// Destroy.
//
//	cache := redis.Provider("cache", redis.Config{URL: "redis://localhost:6379"})
//	app.RegisterProvider(ctx, cache)
func Provider(name string, cfg Config) *lifecycle.Definition[*Client] {
	return lifecycle.Define(lifecycle.ProviderConfig[*Client]{
		Name: name,
		Setup: func(ctx context.Context) (*Client, error) {
			opts := cfg.Options
			if cfg.URL != "" {
				parsed, err := redis.ParseURL(cfg.URL)
				if err != nil {
					return nil, err
				}
				opts = parsed
			}
			if opts == nil {
				opts = &Options{Addr: "localhost:6379"}
			}
			return ConnectWithOptions(ctx, opts, cfg.Timeout)
		},
		Teardown: func(_ context.Context, c *Client) error {
			return c.Close()
		},
	})
}

// ConnectWithOptions opens a client and pings it before returning.
//
// The caller is responsible for calling client.Close() when done.
func ConnectWithOptions(ctx context.Context, opts *Options, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// HealthCheck returns a check for health.Handler.
//
//	app.MountHealth("/health", map[string]health.Check{
//	    "redis": redis.HealthCheck(client),
//	})
func HealthCheck(client *Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
