// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dbinterface

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func poolTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		CREATE TABLE string_pool (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			value TEXT NOT NULL UNIQUE
		);
		CREATE TABLE stream_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			provider_id INTEGER NOT NULL REFERENCES string_pool(id),
			indexer_id INTEGER REFERENCES string_pool(id)
		);
	`)
	require.NoError(t, err)

	return db
}

func TestInternStringDeduplicates(t *testing.T) {
	db := poolTestDB(t)
	ctx := context.Background()

	first, err := InternString(ctx, db, "realdebrid")
	require.NoError(t, err)
	second, err := InternString(ctx, db, "realdebrid")
	require.NoError(t, err)
	other, err := InternString(ctx, db, "alldebrid")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)

	value, err := GetString(ctx, db, first)
	require.NoError(t, err)
	assert.Equal(t, "realdebrid", value)
}

func TestInternStringRejectsEmpty(t *testing.T) {
	db := poolTestDB(t)

	_, err := InternString(context.Background(), db, "")
	require.Error(t, err)
}

func TestInternStringNullable(t *testing.T) {
	db := poolTestDB(t)
	ctx := context.Background()

	empty, err := InternStringNullable(ctx, db, "")
	require.NoError(t, err)
	assert.False(t, empty.Valid)

	filled, err := InternStringNullable(ctx, db, "indexer-a")
	require.NoError(t, err)
	assert.True(t, filled.Valid)
	assert.Positive(t, filled.Int64)
}

func TestCleanupUnreferenced(t *testing.T) {
	db := poolTestDB(t)
	ctx := context.Background()

	used, err := InternString(ctx, db, "realdebrid")
	require.NoError(t, err)
	_, err = InternString(ctx, db, "orphan-value")
	require.NoError(t, err)

	_, err = db.ExecContext(ctx,
		"INSERT INTO stream_records (provider_id, indexer_id) VALUES (?, NULL)", used)
	require.NoError(t, err)

	deleted, err := CleanupUnreferenced(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	// Referenced entry survives.
	value, err := GetString(ctx, db, used)
	require.NoError(t, err)
	assert.Equal(t, "realdebrid", value)
}
