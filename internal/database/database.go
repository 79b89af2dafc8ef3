package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

var ErrNotFound = errors.New("not found")

// DB is the local state store: backend profiles, watermarks, bindings and
// the persisted import queue.
type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers; a single connection also keeps :memory: coherent.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("state database initialized")
	return &DB{DB: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS backends (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT UNIQUE NOT NULL,
            version TEXT NOT NULL,
            driver TEXT NOT NULL,
            server TEXT NOT NULL,
            username TEXT,
            password TEXT,
            pool_size INTEGER NOT NULL,
            max_overflow INTEGER NOT NULL,
            pool_timeout_seconds INTEGER NOT NULL,
            date_data_start DATETIME NOT NULL,
            import_inverse BOOLEAN NOT NULL DEFAULT 1,
            sale_prefix TEXT UNIQUE NOT NULL,
            rx_prefix TEXT UNIQUE NOT NULL,
            default_tz TEXT,
            company_id INTEGER NOT NULL DEFAULT 0,
            is_default BOOLEAN NOT NULL DEFAULT 1,
            active BOOLEAN NOT NULL DEFAULT 1,
            can_export BOOLEAN NOT NULL DEFAULT 1,
            fdb_ndc_control_code TEXT,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS backend_watermarks (
            backend_id INTEGER NOT NULL REFERENCES backends(id) ON DELETE CASCADE,
            key TEXT NOT NULL,
            value DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            PRIMARY KEY (backend_id, key)
        )`,
		`CREATE TABLE IF NOT EXISTS bindings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            backend_id INTEGER NOT NULL REFERENCES backends(id) ON DELETE CASCADE,
            entity TEXT NOT NULL,
            remote_id TEXT NOT NULL,
            checksum TEXT NOT NULL,
            payload TEXT NOT NULL,
            sync_date DATETIME NOT NULL,
            UNIQUE (backend_id, entity, remote_id)
        )`,
		`CREATE TABLE IF NOT EXISTS import_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            uuid TEXT UNIQUE NOT NULL,
            backend_id INTEGER NOT NULL,
            entity TEXT NOT NULL,
            remote_id TEXT NOT NULL,
            force BOOLEAN NOT NULL DEFAULT 0,
            priority INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,

		`CREATE INDEX IF NOT EXISTS idx_backends_company ON backends(company_id, is_default)`,
		`CREATE INDEX IF NOT EXISTS idx_bindings_entity ON bindings(entity)`,
		`CREATE INDEX IF NOT EXISTS idx_import_queue_status ON import_queue(status, priority, created_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return err
}
