// Package storage provides persistence for Mind Sprite.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// Supported database/sql driver names
const (
	DriverModernc = "sqlite"  // pure Go, default
	DriverCGO     = "sqlite3" // mattn/go-sqlite3
)

// DB wraps the SQLite database connection pool
type DB struct {
	conn     *sql.DB
	path     string
	driver   string
	isMemory bool
}

// Config for database initialization
type Config struct {
	Path         string        `mapstructure:"path" yaml:"path"`                     // Path to database file
	InMemory     bool          `mapstructure:"in_memory" yaml:"in_memory"`           // Use in-memory database (for testing)
	Driver       string        `mapstructure:"driver" yaml:"driver"`                 // "sqlite" or "sqlite3"
	MaxOpenConns int           `mapstructure:"max_open_conns" yaml:"max_open_conns"` // Pool bound for file databases
	BusyTimeout  time.Duration `mapstructure:"busy_timeout" yaml:"busy_timeout"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Driver:       DriverModernc,
		MaxOpenConns: 4,
		BusyTimeout:  30 * time.Second,
	}
}

// Open opens or creates a SQLite database
func Open(cfg Config) (*DB, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverModernc
	}
	if cfg.Driver != DriverModernc && cfg.Driver != DriverCGO {
		return nil, fmt.Errorf("unsupported sqlite driver %q", cfg.Driver)
	}
	if cfg.BusyTimeout < 30*time.Second {
		cfg.BusyTimeout = 30 * time.Second
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 4
	}

	var dsn string
	if cfg.InMemory {
		// Each in-memory database gets a unique shared-cache name so tests stay isolated.
		dsn = "file:mindsprite-" + uuid.NewString() + "?mode=memory&cache=shared"
	} else {
		// Ensure directory exists
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = "file:" + cfg.Path
	}
	dsn = withPragmas(dsn, cfg.Driver, cfg.BusyTimeout, !cfg.InMemory)

	conn, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.InMemory {
		// One connection keeps the memory database alive and serializes access.
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
	} else {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
		conn.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	return &DB{
		conn:     conn,
		path:     cfg.Path,
		driver:   cfg.Driver,
		isMemory: cfg.InMemory,
	}, nil
}

// withPragmas appends per-connection pragmas in the syntax each driver expects,
// so every pooled connection gets the busy timeout, WAL, and foreign keys.
func withPragmas(dsn, driver string, busy time.Duration, wal bool) string {
	q := url.Values{}
	ms := fmt.Sprintf("%d", busy.Milliseconds())

	switch driver {
	case DriverCGO:
		q.Set("_busy_timeout", ms)
		q.Set("_foreign_keys", "on")
		if wal {
			q.Set("_journal_mode", "WAL")
		}
	default:
		q.Add("_pragma", "busy_timeout("+ms+")")
		q.Add("_pragma", "foreign_keys(1)")
		if wal {
			q.Add("_pragma", "journal_mode(WAL)")
		}
	}

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + q.Encode()
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sql.DB for direct access
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Driver reports which database/sql driver backs the pool
func (db *DB) Driver() string {
	return db.driver
}

// Ping verifies the store is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Transaction executes a function within a transaction.
// fn must only use tx; the pool may hold a single connection.
func (db *DB) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// DeleteSession removes every row keyed by the session identifier
func (db *DB) DeleteSession(ctx context.Context, sessionID string) error {
	return db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"emotion_records", "care_tasks", "messages", "user_profiles"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE session_id = ?", sessionID); err != nil {
				return fmt.Errorf("delete from %s: %w", table, err)
			}
		}
		return nil
	})
}
