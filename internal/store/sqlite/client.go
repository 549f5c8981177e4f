// Package sqlite implements the ledger backend on an embedded SQLite
// database via the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// timeLayout stores instants as fixed-width UTC text so lexical order is
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// ClientConfig holds connection parameters for the SQLite client.
type ClientConfig struct {
	Path         string
	MaxOpenConns int
	BusyTimeout  time.Duration
}

// Client wraps a *sql.DB opened on the SQLite driver.
type Client struct {
	db   *sql.DB
	path string
}

// New opens (creating if needed) the database at cfg.Path and pings it.
// An in-memory database is pinned to a single connection so every caller
// sees the same data.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = MemoryPath
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}

	memory := path == MemoryPath
	dsn := path
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create database directory: %w", err)
		}
		dsn = fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)",
			path, busy.Milliseconds())
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	if memory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		maxOpen := cfg.MaxOpenConns
		if maxOpen <= 0 {
			maxOpen = 4
		}
		db.SetMaxOpenConns(maxOpen)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if memory {
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
		}
	}

	return &Client{db: db, path: path}, nil
}

// DB returns the underlying handle.
func (c *Client) DB() *sql.DB {
	return c.db
}

// Ping verifies the database is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close closes the database.
func (c *Client) Close() error {
	return c.db.Close()
}

// RunMigrations applies the embedded migrations/ files in lexicographic
// order and records them in schema_migrations.
func (c *Client) RunMigrations(ctx context.Context) error {
	const createTracker = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL
		);`
	if _, err := c.db.ExecContext(ctx, createTracker); err != nil {
		return fmt.Errorf("sqlite: create schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("sqlite: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var exists bool
		if err := c.db.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE filename = ?)", entry.Name(),
		).Scan(&exists); err != nil {
			return fmt.Errorf("sqlite: check migration %s: %w", entry.Name(), err)
		}
		if exists {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("sqlite: read migration %s: %w", entry.Name(), err)
		}

		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("sqlite: begin tx for %s: %w", entry.Name(), err)
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: exec migration %s: %w", entry.Name(), err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (filename, applied_at) VALUES (?, ?)",
			entry.Name(), formatTime(time.Now()),
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: record migration %s: %w", entry.Name(), err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("sqlite: commit migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t, nil
}
