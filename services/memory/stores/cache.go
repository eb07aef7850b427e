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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// CacheStore is the cache adapter backed by an embedded BadgerDB.
//
// The cache holds the hot-path projection of a pattern: a single value
// per key with the payload and write timestamp in a small JSON envelope.
// Keys are "pattern:<type>:<id>".
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions handle isolation.
type CacheStore struct {
	db      *badger.DB
	timeout time.Duration
	stats   *opStats
	logger  *slog.Logger
}

// CacheConfig configures the cache adapter.
type CacheConfig struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Timeout bounds every store round-trip. Default: 2s.
	Timeout time.Duration

	// Logger for adapter operations. If nil, BadgerDB's internal
	// logging is disabled and slog.Default() is used for the adapter.
	Logger *slog.Logger
}

// cacheEnvelope is the stored value format.
type cacheEnvelope struct {
	Payload   map[string]any `json:"payload"`
	WrittenAt int64          `json:"written_at"` // Unix milliseconds UTC
}

// cacheLogger adapts slog.Logger to BadgerDB's Logger interface.
type cacheLogger struct {
	logger *slog.Logger
}

func (l *cacheLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *cacheLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *cacheLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *cacheLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// NewCacheStore opens the BadgerDB instance.
//
// Description:
//
//	Opens a BadgerDB database at the configured path, or in memory if
//	InMemory is true. Creates the directory if it doesn't exist.
//
// Outputs:
//
//	*CacheStore - Ready-to-use adapter. Call Close() when done.
//	error - Non-nil if path is invalid or database cannot be opened.
func NewCacheStore(cfg CacheConfig) (*CacheStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent cache")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create cache directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&cacheLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CacheStore{
		db:      db,
		timeout: cfg.Timeout,
		stats:   newOpStats(),
		logger:  logger.With(slog.String("component", "cache_store")),
	}, nil
}

// Type returns StoreCache.
func (s *CacheStore) Type() StoreType {
	return StoreCache
}

func cacheKey(patternID string, patternType PatternType) []byte {
	return []byte("pattern:" + string(patternType) + ":" + patternID)
}

// Fetch reads one cached pattern. Never returns an error; failures are
// folded into the snapshot.
func (s *CacheStore) Fetch(ctx context.Context, patternID string, patternType PatternType) StoreSnapshot {
	now := time.Now().UTC()
	if err := ctx.Err(); err != nil {
		s.stats.record(true)
		return failedSnapshot(StoreCache, now, err)
	}

	var envelope cacheEnvelope
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(cacheKey(patternID, patternType))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &envelope)
		})
	})

	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		s.stats.record(false)
		return emptySnapshot(StoreCache, now)
	case err != nil:
		s.stats.record(true)
		return failedSnapshot(StoreCache, now, err)
	}

	s.stats.record(false)
	writtenAt := time.UnixMilli(envelope.WrittenAt).UTC()
	return StoreSnapshot{
		Store:     StoreCache,
		Payload:   envelope.Payload,
		FetchedAt: now,
		WrittenAt: &writtenAt,
	}
}

// Write stores one pattern envelope.
func (s *CacheStore) Write(ctx context.Context, patternID string, patternType PatternType, payload map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(cacheEnvelope{
		Payload:   payload,
		WrittenAt: time.Now().UTC().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(cacheKey(patternID, patternType), data)
	})
	if err != nil {
		s.stats.record(true)
		return fmt.Errorf("set pattern %s: %w", patternID, err)
	}
	s.stats.record(false)
	return nil
}

// HealthCheck performs a read transaction against a sentinel key.
func (s *CacheStore) HealthCheck(ctx context.Context) HealthReport {
	start := time.Now()
	err := ctx.Err()
	if err == nil {
		err = s.db.View(func(txn *badger.Txn) error {
			_, getErr := txn.Get([]byte("health:ping"))
			if errors.Is(getErr, badger.ErrKeyNotFound) {
				return nil // reachable, key just absent
			}
			return getErr
		})
	}
	elapsed := time.Since(start)

	report := HealthReport{
		Healthy:          err == nil && !s.db.IsClosed(),
		ResponseTimeMS:   float64(elapsed.Microseconds()) / 1000,
		ErrorRatePercent: s.stats.errorRatePercent(),
	}
	if err != nil {
		report.Err = err.Error()
	} else if s.db.IsClosed() {
		report.Err = "cache database is closed"
	}
	return report
}

// Close closes the underlying database.
func (s *CacheStore) Close() error {
	return s.db.Close()
}
