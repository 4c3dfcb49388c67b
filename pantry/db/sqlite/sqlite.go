// db/sqlite/sqlite.go
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/dalemusser/nural/lifecycle"
	_ "github.com/mattn/go-sqlite3"
)

// Options configures SQLite database behavior.
type Options struct {
	// WALMode enables write-ahead logging. Ignored for in-memory databases.
	WALMode     bool
	ForeignKeys bool
	// BusyTimeout is in milliseconds.
	BusyTimeout int
	// CacheSize is KiB when negative, pages when positive.
	CacheSize int
	// Synchronous is OFF, NORMAL, FULL or EXTRA.
	Synchronous string

	// SQLite serializes writers; more than one open connection mostly
	// produces "database is locked".
	MaxOpenConns int
	MaxIdleConns int
}

// DefaultOptions suits a web application with a single writer.
func DefaultOptions() Options {
	return Options{
		WALMode:      true,
		ForeignKeys:  true,
		BusyTimeout:  5000,
		CacheSize:    -64000,
		Synchronous:  "NORMAL",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	}
}

// InMemoryOptions is DefaultOptions without durability.
func InMemoryOptions() Options {
	opts := DefaultOptions()
	opts.WALMode = false
	opts.Synchronous = "OFF"
	return opts
}

// Provider defines a SQLite database opened on Init and closed on
// Destroy. Path may be a file path, ":memory:", or a "file:" URI.
func Provider(name, path string, opts Options) *lifecycle.Definition[*sql.DB] {
	return lifecycle.Define(lifecycle.ProviderConfig[*sql.DB]{
		Name: name,
		Setup: func(ctx context.Context) (*sql.DB, error) {
			return Open(ctx, path, opts)
		},
		Teardown: func(_ context.Context, db *sql.DB) error {
			return db.Close()
		},
	})
}

// Open opens path, pings it and applies the pragmas in opts.
//
// The caller is responsible for calling db.Close() when done.
func Open(ctx context.Context, path string, opts Options) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", buildDSN(path, opts))
	if err != nil {
		return nil, err
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applyPragmas(ctx, db, path, opts); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func buildDSN(path string, opts Options) string {
	q := url.Values{}
	if opts.BusyTimeout > 0 {
		q.Set("_busy_timeout", fmt.Sprint(opts.BusyTimeout))
	}
	if opts.ForeignKeys {
		q.Set("_foreign_keys", "on")
	}
	if len(q) == 0 {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + q.Encode()
}

func applyPragmas(ctx context.Context, db *sql.DB, path string, opts Options) error {
	if opts.WALMode && !inMemory(path) {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			return fmt.Errorf("set journal_mode: %w", err)
		}
	}
	if opts.Synchronous != "" {
		if _, err := db.ExecContext(ctx, "PRAGMA synchronous="+opts.Synchronous); err != nil {
			return fmt.Errorf("set synchronous: %w", err)
		}
	}
	if opts.CacheSize != 0 {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA cache_size=%d", opts.CacheSize)); err != nil {
			return fmt.Errorf("set cache_size: %w", err)
		}
	}
	return nil
}

func inMemory(path string) bool {
	return path == ":memory:" || strings.Contains(path, "mode=memory") || strings.HasPrefix(path, "file::memory:")
}

// HealthCheck pings the database.
func HealthCheck(db *sql.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return db.PingContext(ctx)
	}
}
