// Package store opens the REM database: Postgres when a DSN is configured,
// otherwise a local SQLite file ("lite mode").
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/lib/pq" // Postgres Driver
	_ "modernc.org/sqlite"
)

// LiteDBName is the SQLite file created under the data directory.
const LiteDBName = "rem.db"

// DB is an open database handle and the driver it was opened with.
type DB struct {
	*sql.DB
	Driver string
}

// Lite reports whether the handle is the embedded SQLite database.
func (d *DB) Lite() bool { return d.Driver == "sqlite" }

// Open connects to Postgres at databaseURL, or, when databaseURL is empty,
// to SQLite at dataDir/rem.db. The connection is verified with a ping.
func Open(ctx context.Context, databaseURL, dataDir string) (*DB, error) {
	logger := slog.Default().With("component", "rem.store")

	if databaseURL == "" {
		if err := os.MkdirAll(dataDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		dbPath := filepath.Join(dataDir, LiteDBName)
		db, err := sql.Open("sqlite", dbPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %w", err)
		}
		// SQLite serialises writers; one connection avoids SQLITE_BUSY.
		db.SetMaxOpenConns(1)
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite ping failed: %w", err)
		}
		logger.InfoContext(ctx, "lite mode: using sqlite", "path", dbPath)
		return &DB{DB: db, Driver: "sqlite"}, nil
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to DB: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("DB ping failed: %w", err)
	}
	logger.InfoContext(ctx, "postgres: connected")
	return &DB{DB: db, Driver: "postgres"}, nil
}
