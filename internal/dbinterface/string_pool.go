// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dbinterface

import (
	"context"
	"database/sql"
	"fmt"
)

// The string pool deduplicates provider and indexer names across stream
// records. Both columns repeat the same handful of values for every row, so
// records reference string_pool ids instead of storing the text inline.

// InternString ensures value exists in string_pool and returns its id.
// Uses INSERT OR IGNORE followed by a SELECT; the unique index makes the
// lookup cheap and the pair is safe under concurrent callers.
func InternString(ctx context.Context, q Querier, value string) (int64, error) {
	if value == "" {
		return 0, fmt.Errorf("cannot intern empty string")
	}

	if _, err := q.ExecContext(ctx,
		"INSERT OR IGNORE INTO string_pool (value) VALUES (?)",
		value); err != nil {
		return 0, fmt.Errorf("intern string %q: %w", value, err)
	}

	var id int64
	if err := q.QueryRowContext(ctx,
		"SELECT id FROM string_pool WHERE value = ?",
		value).Scan(&id); err != nil {
		return 0, fmt.Errorf("lookup interned string %q: %w", value, err)
	}

	return id, nil
}

// InternStringNullable interns value when non-empty; an empty value maps to
// a NULL reference instead of a pool entry.
func InternStringNullable(ctx context.Context, q Querier, value string) (sql.NullInt64, error) {
	if value == "" {
		return sql.NullInt64{}, nil
	}

	id, err := InternString(ctx, q, value)
	if err != nil {
		return sql.NullInt64{}, err
	}
	return sql.NullInt64{Int64: id, Valid: true}, nil
}

// GetString resolves a string_pool id back to its value.
func GetString(ctx context.Context, q Querier, id int64) (string, error) {
	var value string
	if err := q.QueryRowContext(ctx,
		"SELECT value FROM string_pool WHERE id = ?",
		id).Scan(&value); err != nil {
		return "", fmt.Errorf("get string %d from pool: %w", id, err)
	}
	return value, nil
}

// CleanupUnreferenced removes pool entries no stream record points at.
// Orphans are harmless between runs; this just keeps the table from growing
// without bound.
func CleanupUnreferenced(ctx context.Context, q Querier) (int64, error) {
	res, err := q.ExecContext(ctx, `
		DELETE FROM string_pool
		WHERE id NOT IN (SELECT provider_id FROM stream_records)
		  AND id NOT IN (SELECT indexer_id FROM stream_records WHERE indexer_id IS NOT NULL)
	`)
	if err != nil {
		return 0, fmt.Errorf("cleanup string pool: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup string pool rows affected: %w", err)
	}
	return deleted, nil
}
