// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(filepath.Join(t.TempDir(), "streambridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestNewAppliesSchema(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	var version int
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version))
	assert.Equal(t, 1, version)

	// Both tables exist and accept rows.
	_, err := db.ExecContext(ctx, "INSERT INTO string_pool (value) VALUES ('realdebrid')")
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `
		INSERT INTO stream_records (title, info_hash, provider_id, media_type, media_id, created_at)
		VALUES ('Test', 'abc', 1, 'movie', 'tt0000001', ?)`, time.Now().UTC())
	require.NoError(t, err)
}

func TestMigrationsAreIdempotentAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streambridge.db")

	db, err := New(path)
	require.NoError(t, err)
	_, err = db.ExecContext(context.Background(), "INSERT INTO string_pool (value) VALUES ('kept')")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	reopened, err := New(path)
	require.NoError(t, err)
	defer reopened.Close()

	var value string
	require.NoError(t, reopened.QueryRowContext(context.Background(),
		"SELECT value FROM string_pool WHERE value = 'kept'").Scan(&value))
	assert.Equal(t, "kept", value)
}

func TestVacuumConcurrentWithAppends(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, "INSERT INTO string_pool (value) VALUES ('provider')")
	require.NoError(t, err)

	const appends = 50
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < appends; i++ {
			_, execErr := db.ExecContext(ctx, `
				INSERT INTO stream_records (title, info_hash, provider_id, media_type, media_id, created_at)
				VALUES (?, ?, 1, 'movie', 'tt0000001', ?)`,
				fmt.Sprintf("Release %d", i), fmt.Sprintf("hash%d", i), time.Now().UTC())
			assert.NoError(t, execErr)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 5; i++ {
			assert.NoError(t, db.Vacuum(ctx))
		}
	}()
	wg.Wait()

	// Every acknowledged append survived the interleaved vacuums.
	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM stream_records").Scan(&count))
	assert.Equal(t, appends, count)
}

func TestCheckpointIsRedundantSafe(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	require.NoError(t, db.Checkpoint(ctx))
	require.NoError(t, db.Checkpoint(ctx))
}
