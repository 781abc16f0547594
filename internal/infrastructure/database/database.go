package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/nerrad567/pulse-gateway/internal/infrastructure/config"
)

const (
	dirPermissions  = 0750
	filePermissions = 0600

	// MemoryPath opens a private in-memory database (tests only).
	MemoryPath = ":memory:"

	pingTimeout     = 5 * time.Second
	connMaxIdleTime = 30 * time.Minute
)

// DB wraps a sql.DB connected to the gateway's SQLite file.
//
// The gateway reads the point directory and current values through it; the
// value ingest is the only writer.
type DB struct {
	*sql.DB
	path string
}

// Open connects to the SQLite database described by cfg.
//
// The parent directory is created when missing. WAL mode and the busy
// timeout are applied through the connection string so every pooled
// connection carries them.
func Open(cfg config.DatabaseConfig) (*DB, error) {
	if cfg.Path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), dirPermissions); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One connection: SQLite has a single writer, and ":memory:" databases
	// are private to the connection that created them.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(connMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("verifying database connection: %w", err)
	}

	if cfg.Path != MemoryPath {
		_ = os.Chmod(cfg.Path, filePermissions) //nolint:errcheck // File may appear on first write
	}

	return &DB{DB: sqlDB, path: cfg.Path}, nil
}

// dsn builds the go-sqlite3 connection string.
// See: https://github.com/mattn/go-sqlite3#connection-string
func dsn(cfg config.DatabaseConfig) string {
	s := fmt.Sprintf("file:%s?_busy_timeout=%d&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout*int(time.Second/time.Millisecond))
	if cfg.WALMode && cfg.Path != MemoryPath {
		s += "&_journal_mode=WAL&_synchronous=NORMAL"
	}
	return s
}

// Close closes the database connection.
func (db *DB) Close() error {
	if db.DB == nil {
		return nil
	}
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("closing database: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the database file.
func (db *DB) Path() string {
	return db.path
}

// HealthCheck runs a trivial query to prove the connection is usable.
func (db *DB) HealthCheck(ctx context.Context) error {
	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}
	return nil
}

// BeginTx starts a transaction, wrapping the driver error.
//
//	tx, err := db.BeginTx(ctx, nil)
//	if err != nil {
//	    return err
//	}
//	defer tx.Rollback() // No-op if committed
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("starting transaction: %w", err)
	}
	return tx, nil
}
