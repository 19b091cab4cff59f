// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package database provides the embedded SQLite store backing the stream
// record collection. Writes and structural operations (vacuum, checkpoint)
// are serialized through a single-writer mutex; reads go straight to the
// connection pool and may run concurrently with appends.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	defaultBusyTimeout       = 5 * time.Second
	defaultBusyTimeoutMillis = int(defaultBusyTimeout / time.Millisecond)
	connectionSetupTimeout   = 5 * time.Second
)

var driverInit sync.Once

type pragmaExecFn func(ctx context.Context, stmt string) error

func registerConnectionHook() {
	driverInit.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, dsn string) error {
			ctx, cancel := context.WithTimeout(context.Background(), connectionSetupTimeout)
			defer cancel()

			return applyConnectionPragmas(ctx, func(ctx context.Context, stmt string) error {
				_, err := conn.ExecContext(ctx, stmt, nil)
				if err != nil {
					return fmt.Errorf("connection hook exec %q: %w", stmt, err)
				}
				return nil
			})
		})
	})
}

func applyConnectionPragmas(ctx context.Context, exec pragmaExecFn) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", defaultBusyTimeoutMillis),
	}

	for _, pragma := range pragmas {
		if err := exec(ctx, pragma); err != nil {
			return fmt.Errorf("apply connection pragma %q: %w", pragma, err)
		}
	}

	return nil
}

// DB wraps the SQLite connection pool with single-writer serialization.
type DB struct {
	conn *sql.DB

	// writeMtx serializes every mutation and structural operation so a
	// vacuum never interleaves with an in-flight append.
	writeMtx sync.Mutex
}

// New opens (or creates) the database at databasePath and applies pending
// migrations.
func New(databasePath string) (*DB, error) {
	log.Info().Msgf("Initializing database at: %s", databasePath)

	dir := filepath.Dir(databasePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	registerConnectionHook()

	conn, err := sql.Open("sqlite", databasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", databasePath, err)
	}

	// A single connection during migrations prevents stale schema reads.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), connectionSetupTimeout)
	defer cancel()
	if err := applyConnectionPragmas(ctx, func(ctx context.Context, stmt string) error {
		_, execErr := conn.ExecContext(ctx, stmt)
		return execErr
	}); err != nil {
		conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	// Widen the pool for normal operation now that the schema is settled.
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)

	return db, nil
}

func (db *DB) migrate(ctx context.Context) error {
	var version int
	if err := db.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	entries, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(entries)

	for i, entry := range entries {
		migrationVersion := i + 1
		if migrationVersion <= version {
			continue
		}

		script, err := migrationsFS.ReadFile(entry)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry, err)
		}

		if _, err := db.conn.ExecContext(ctx, string(script)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry, err)
		}
		if _, err := db.conn.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", migrationVersion)); err != nil {
			return fmt.Errorf("record migration %s: %w", entry, err)
		}

		log.Debug().Str("migration", entry).Msg("applied database migration")
	}

	return nil
}

// ExecContext runs a mutation under the single-writer lock.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	db.writeMtx.Lock()
	defer db.writeMtx.Unlock()
	return db.conn.ExecContext(ctx, query, args...)
}

// QueryContext runs a read; reads may proceed concurrently with appends.
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return db.conn.QueryContext(ctx, query, args...)
}

// QueryRowContext runs a single-row read.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return db.conn.QueryRowContext(ctx, query, args...)
}

// Ping verifies the connection is alive. Used by the readiness probe.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Checkpoint flushes the WAL into the main database file. Used by the
// autosave job and during drain; redundant invocations are harmless.
func (db *DB) Checkpoint(ctx context.Context) error {
	db.writeMtx.Lock()
	defer db.writeMtx.Unlock()

	if _, err := db.conn.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	return nil
}

// Vacuum compacts the on-disk representation. The writer lock keeps it
// serialized against appends so an acknowledged write is never lost.
func (db *DB) Vacuum(ctx context.Context) error {
	db.writeMtx.Lock()
	defer db.writeMtx.Unlock()

	started := time.Now()
	if _, err := db.conn.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}

	log.Debug().Dur("elapsed", time.Since(started)).Msg("database vacuum complete")
	return nil
}

// Close checkpoints and closes the underlying pool.
func (db *DB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), connectionSetupTimeout)
	defer cancel()

	if err := db.Checkpoint(ctx); err != nil {
		log.Error().Err(err).Msg("final checkpoint before close failed")
	}
	return db.conn.Close()
}
