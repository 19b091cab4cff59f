// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/streambridge/streambridge/internal/dbinterface"
)

// StreamRecord is a resolved, user-visible stream entry. Records are
// immutable once written; the clean job removes them after the retention
// horizon.
type StreamRecord struct {
	ID        int64
	Title     string
	InfoHash  string
	URL       string
	Quality   string
	Languages []string
	Provider  string
	Indexer   string
	MediaType string
	MediaID   string
	FileSize  int64
	Seeders   int
	CreatedAt time.Time
}

// StreamRecordStore persists stream records. Provider and indexer names are
// interned through the string pool since the same few values repeat on
// every row.
type StreamRecordStore struct {
	db dbinterface.Querier

	// mtx guards lastCreatedAt so insert timestamps stay monotonically
	// non-decreasing even when the wall clock steps backwards.
	mtx           sync.Mutex
	lastCreatedAt time.Time
}

// NewStreamRecordStore constructs a new stream record store.
func NewStreamRecordStore(db dbinterface.Querier) *StreamRecordStore {
	return &StreamRecordStore{db: db}
}

// nextTimestamp returns a UTC timestamp clamped to never precede the
// previous insert's timestamp.
func (s *StreamRecordStore) nextTimestamp() time.Time {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	now := time.Now().UTC()
	if now.Before(s.lastCreatedAt) {
		now = s.lastCreatedAt
	}
	s.lastCreatedAt = now
	return now
}

// Append inserts a record. The store assigns the creation timestamp; a
// caller-supplied CreatedAt is ignored.
func (s *StreamRecordStore) Append(ctx context.Context, record *StreamRecord) error {
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if strings.TrimSpace(record.Title) == "" {
		return fmt.Errorf("record title cannot be empty")
	}
	if strings.TrimSpace(record.Provider) == "" {
		return fmt.Errorf("record provider cannot be empty")
	}

	providerID, err := dbinterface.InternString(ctx, s.db, record.Provider)
	if err != nil {
		return fmt.Errorf("intern provider: %w", err)
	}
	indexerID, err := dbinterface.InternStringNullable(ctx, s.db, record.Indexer)
	if err != nil {
		return fmt.Errorf("intern indexer: %w", err)
	}

	languagesJSON, err := json.Marshal(record.Languages)
	if err != nil {
		return fmt.Errorf("encode languages: %w", err)
	}

	createdAt := s.nextTimestamp()

	const query = `
		INSERT INTO stream_records (
			title, info_hash, url, quality, languages_json,
			provider_id, indexer_id, media_type, media_id,
			file_size, seeders, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := s.db.ExecContext(
		ctx,
		query,
		record.Title,
		strings.ToLower(record.InfoHash),
		record.URL,
		record.Quality,
		string(languagesJSON),
		providerID,
		indexerID,
		record.MediaType,
		record.MediaID,
		record.FileSize,
		record.Seeders,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("append stream record: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		record.ID = id
	}
	record.CreatedAt = createdAt

	return nil
}

// Clean deletes records older than the retention horizon. Idempotent;
// running it twice produces the same resulting set.
func (s *StreamRecordStore) Clean(ctx context.Context, horizon time.Duration) (int64, error) {
	if horizon <= 0 {
		return 0, fmt.Errorf("retention horizon must be positive")
	}

	cutoff := time.Now().UTC().Add(-horizon)
	res, err := s.db.ExecContext(ctx, `DELETE FROM stream_records WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("clean stream records: %w", err)
	}

	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clean stream records rows affected: %w", err)
	}

	if deleted > 0 {
		if orphans, err := dbinterface.CleanupUnreferenced(ctx, s.db); err != nil {
			log.Error().Err(err).Msg("string pool cleanup after clean failed")
		} else if orphans > 0 {
			log.Debug().Int64("orphans", orphans).Msg("string pool entries removed")
		}
	}

	return deleted, nil
}

// Count returns the number of persisted records.
func (s *StreamRecordStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stream_records`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count stream records: %w", err)
	}
	return count, nil
}

// ListRecent returns the newest records, newest first.
func (s *StreamRecordStore) ListRecent(ctx context.Context, limit int) ([]*StreamRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}

	const query = `
		SELECT r.id, r.title, r.info_hash, r.url, r.quality, r.languages_json,
		       p.value, COALESCE(i.value, ''), r.media_type, r.media_id,
		       r.file_size, r.seeders, r.created_at
		FROM stream_records r
		JOIN string_pool p ON p.id = r.provider_id
		LEFT JOIN string_pool i ON i.id = r.indexer_id
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent stream records: %w", err)
	}
	defer rows.Close()

	var records []*StreamRecord
	for rows.Next() {
		var (
			record        StreamRecord
			languagesJSON sql.NullString
		)
		if err := rows.Scan(
			&record.ID,
			&record.Title,
			&record.InfoHash,
			&record.URL,
			&record.Quality,
			&languagesJSON,
			&record.Provider,
			&record.Indexer,
			&record.MediaType,
			&record.MediaID,
			&record.FileSize,
			&record.Seeders,
			&record.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan stream record: %w", err)
		}

		if languagesJSON.Valid && strings.TrimSpace(languagesJSON.String) != "" {
			if err := json.Unmarshal([]byte(languagesJSON.String), &record.Languages); err != nil {
				log.Debug().Err(err).Int64("id", record.ID).Msg("decode stream record languages failed")
			}
		}

		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stream records: %w", err)
	}

	return records, nil
}
