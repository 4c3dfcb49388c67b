// db/mongo/mongo.go
package mongo

import (
	"context"
	"time"

	"github.com/dalemusser/nural/lifecycle"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Config configures Provider.
type Config struct {
	URI string
	// Pool sizes; zero keeps the driver default.
	MinPoolSize uint64
	MaxPoolSize uint64
	// Timeout bounds connect and ping. Default 10s.
	Timeout time.Duration
}

// Provider defines a Mongo client that is pinged on Init and disconnected
// on Destroy.
func Provider(name string, cfg Config) *lifecycle.Definition[*mongo.Client] {
	return lifecycle.Define(lifecycle.ProviderConfig[*mongo.Client]{
		Name: name,
		Setup: func(ctx context.Context) (*mongo.Client, error) {
			return Connect(ctx, cfg)
		},
		Teardown: func(ctx context.Context, c *mongo.Client) error {
			return c.Disconnect(ctx)
		},
	})
}

// Connect opens a client and pings the primary.
//
// The caller is responsible for calling client.Disconnect(...) when done.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetMaxConnIdleTime(5 * time.Minute).
		SetServerSelectionTimeout(timeout)
	if cfg.MinPoolSize > 0 {
		clientOpts.SetMinPoolSize(cfg.MinPoolSize)
	}
	if cfg.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(cfg.MaxPoolSize)
	}

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, err
	}
	return client, nil
}

// HealthCheck pings the primary.
func HealthCheck(client *mongo.Client) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx, readpref.Primary())
	}
}
