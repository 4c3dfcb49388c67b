// db/mysql/mysql.go
package mysql

import (
	"context"
	"database/sql"
	"time"

	"github.com/dalemusser/nural/lifecycle"
	"github.com/go-sql-driver/mysql"
)

// PoolConfig holds connection pool settings. Zero fields keep the
// database/sql defaults.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig returns sensible defaults for production use.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// Config configures Provider.
type Config struct {
	// DSN format:
	//
	//	user:password@tcp(host:port)/dbname?parseTime=true
	DSN     string
	Pool    PoolConfig
	Timeout time.Duration
}

// Provider defines a MySQL pool that is pinged on Init and closed on
// Destroy. parseTime is forced on so DATETIME columns scan into
// time.Time.
func Provider(name string, cfg Config) *lifecycle.Definition[*sql.DB] {
	return lifecycle.Define(lifecycle.ProviderConfig[*sql.DB]{
		Name: name,
		Setup: func(ctx context.Context) (*sql.DB, error) {
			mc, err := mysql.ParseDSN(cfg.DSN)
			if err != nil {
				return nil, err
			}
			mc.ParseTime = true
			return Connect(ctx, mc.FormatDSN(), cfg.Pool, cfg.Timeout)
		},
		Teardown: func(_ context.Context, db *sql.DB) error {
			return db.Close()
		},
	})
}

// Connect opens a pool with the given settings and pings it.
//
// The caller is responsible for calling db.Close() when done.
func Connect(ctx context.Context, dsn string, pool PoolConfig, timeout time.Duration) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	if pool.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// HealthCheck pings the pool.
func HealthCheck(db *sql.DB) func(ctx context.Context) error {
	return db.PingContext
}
