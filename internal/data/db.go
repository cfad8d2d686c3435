// Package data provides the SQLite-based persistence layer.
// It uses modernc.org/sqlite for pure-Go, CGO-free database access.
package data

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// DB wraps the SQLite connection shared by the memory and snippet stores.
type DB struct {
	db *sql.DB
}

// Open creates (if needed) dataDir and opens the database inside it.
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "converse.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	d := &DB{db: db}
	if err := d.initPragmas(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize pragmas: %w", err)
	}

	log.Debug().Str("path", dbPath).Msg("database opened")
	return d, nil
}

// OpenInMemory opens a transient database. Used in tests.
func OpenInMemory() (*DB, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return &DB{db: db}, nil
}

// SQL exposes the underlying connection for store construction.
func (d *DB) SQL() *sql.DB { return d.db }

// Close closes the connection.
func (d *DB) Close() error { return d.db.Close() }

// initPragmas configures SQLite for safety and single-user performance.
func (d *DB) initPragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := d.db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %s: %w", pragma, err)
		}
	}
	return nil
}
