// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stores

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // registers the pure-Go "sqlite" driver
)

const relationalSchema = `
CREATE TABLE IF NOT EXISTS patterns (
	pattern_id   TEXT NOT NULL,
	pattern_type TEXT NOT NULL,
	project_id   TEXT NOT NULL DEFAULT '',
	payload      TEXT NOT NULL,
	updated_at   INTEGER NOT NULL,
	PRIMARY KEY (pattern_id, pattern_type)
);
CREATE INDEX IF NOT EXISTS idx_patterns_project ON patterns(project_id, pattern_type);
`

// RelationalStore is the relational adapter backed by SQLite.
//
// The relational store holds the canonical row projection of a pattern:
// one row per (pattern_id, pattern_type) with the payload as JSON text.
// It also implements Lister and serves as the engine's pattern index.
//
// # Thread Safety
//
// Safe for concurrent use; database/sql pools connections internally.
type RelationalStore struct {
	db      *sql.DB
	timeout time.Duration
	stats   *opStats
	logger  *slog.Logger
}

// RelationalConfig configures the relational adapter.
type RelationalConfig struct {
	// Path is the SQLite database file. ":memory:" opens an in-memory
	// database, useful for testing.
	Path string

	// Timeout bounds every store round-trip. Default: 2s.
	Timeout time.Duration

	// Logger for adapter operations. Default: slog.Default().
	Logger *slog.Logger
}

// NewRelationalStore opens the SQLite database and ensures the schema.
//
// Description:
//
//	Opens (creating if needed) the patterns table. The returned store
//	owns the connection; call Close() when done.
//
// Outputs:
//
//	*RelationalStore - Ready-to-use adapter.
//	error - Non-nil if the database cannot be opened or migrated.
func NewRelationalStore(cfg RelationalConfig) (*RelationalStore, error) {
	if cfg.Path == "" {
		return nil, errors.New("path is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if _, err := db.Exec(relationalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure patterns schema: %w", err)
	}

	return &RelationalStore{
		db:      db,
		timeout: cfg.Timeout,
		stats:   newOpStats(),
		logger:  cfg.Logger.With(slog.String("component", "relational_store")),
	}, nil
}

// Type returns StoreRelational.
func (s *RelationalStore) Type() StoreType {
	return StoreRelational
}

// Fetch reads one pattern row. Never returns an error; failures are
// folded into the snapshot.
func (s *RelationalStore) Fetch(ctx context.Context, patternID string, patternType PatternType) StoreSnapshot {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	now := time.Now().UTC()

	var payloadJSON string
	var updatedAtMS int64
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, updated_at FROM patterns WHERE pattern_id = ? AND pattern_type = ?`,
		patternID, string(patternType),
	).Scan(&payloadJSON, &updatedAtMS)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		s.stats.record(false)
		return emptySnapshot(StoreRelational, now)
	case err != nil:
		s.stats.record(true)
		return failedSnapshot(StoreRelational, now, err)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		s.stats.record(true)
		return failedSnapshot(StoreRelational, now, fmt.Errorf("decode payload: %w", err))
	}

	s.stats.record(false)
	writtenAt := time.UnixMilli(updatedAtMS).UTC()
	return StoreSnapshot{
		Store:     StoreRelational,
		Payload:   payload,
		FetchedAt: now,
		WrittenAt: &writtenAt,
	}
}

// Write upserts one pattern row.
func (s *RelationalStore) Write(ctx context.Context, patternID string, patternType PatternType, payload map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO patterns (pattern_id, pattern_type, payload, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (pattern_id, pattern_type)
		 DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		patternID, string(patternType), string(data), time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		s.stats.record(true)
		return fmt.Errorf("upsert pattern %s: %w", patternID, err)
	}
	s.stats.record(false)
	return nil
}

// HealthCheck pings the database with a trivial query.
func (s *RelationalStore) HealthCheck(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := s.db.PingContext(ctx)
	elapsed := time.Since(start)

	report := HealthReport{
		Healthy:          err == nil,
		ResponseTimeMS:   float64(elapsed.Microseconds()) / 1000,
		ErrorRatePercent: s.stats.errorRatePercent(),
	}
	if err != nil {
		report.Err = err.Error()
	}
	return report
}

// ListPatterns enumerates patterns for project-wide sweeps.
//
// An empty projectID matches all rows; an empty patternTypes slice
// matches all types. Rows without a project assignment (written by
// repair, which has no project context) match every project.
func (s *RelationalStore) ListPatterns(ctx context.Context, projectID string, patternTypes []PatternType) ([]PatternRef, error) {
	query := `SELECT pattern_id, pattern_type FROM patterns`
	args := []any{}
	where := ""
	if projectID != "" {
		where = ` WHERE (project_id = ? OR project_id = '')`
		args = append(args, projectID)
	}
	query += where + ` ORDER BY pattern_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	typeFilter := map[PatternType]bool{}
	for _, t := range patternTypes {
		typeFilter[t] = true
	}

	var refs []PatternRef
	for rows.Next() {
		var id, ptype string
		if err := rows.Scan(&id, &ptype); err != nil {
			return nil, fmt.Errorf("scan pattern row: %w", err)
		}
		if len(typeFilter) > 0 && !typeFilter[PatternType(ptype)] {
			continue
		}
		refs = append(refs, PatternRef{PatternID: id, PatternType: PatternType(ptype)})
	}
	return refs, rows.Err()
}

// Close releases the underlying database handle.
func (s *RelationalStore) Close() error {
	return s.db.Close()
}
