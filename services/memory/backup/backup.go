// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package backup stores pre-repair snapshots so a reconciliation that
// picked the wrong canonical copy can be unwound by hand.
package backup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/bettyai/betty/services/memory/stores"
)

// Entry is one persisted pre-repair backup.
type Entry struct {
	PatternID   string                                    `json:"pattern_id"`
	PatternType stores.PatternType                        `json:"pattern_type"`
	Snapshots   map[stores.StoreType]stores.StoreSnapshot `json:"snapshots"`
	SavedAt     time.Time                                 `json:"saved_at"`
}

// BadgerSink persists backups in an embedded Badger database. Entries
// are keyed by pattern and save time, so repeated repairs of the same
// pattern keep their full history.
//
// # Thread Safety
//
// Safe for concurrent use.
type BadgerSink struct {
	db  *badger.DB
	log *slog.Logger
}

// BadgerSinkConfig configures a BadgerSink.
type BadgerSinkConfig struct {
	// Path is the on-disk database directory. Ignored when InMemory is
	// set.
	Path string

	// InMemory keeps backups in process memory. For tests only: an
	// in-memory backup does not survive the crash it exists to protect
	// against.
	InMemory bool

	Logger *slog.Logger
}

// NewBadgerSink opens the backup database.
func NewBadgerSink(cfg BadgerSinkConfig) (*BadgerSink, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening backup database at %s: %w", cfg.Path, err)
	}
	return &BadgerSink{db: db, log: log}, nil
}

// Save persists one pre-repair backup entry.
func (s *BadgerSink) Save(ctx context.Context, patternID string, patternType stores.PatternType, snapshots map[stores.StoreType]stores.StoreSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entry := Entry{
		PatternID:   patternID,
		PatternType: patternType,
		Snapshots:   snapshots,
		SavedAt:     time.Now().UTC(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding backup for pattern %s: %w", patternID, err)
	}

	key := backupKey(patternID, patternType, entry.SavedAt)
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("writing backup for pattern %s: %w", patternID, err)
	}
	s.log.DebugContext(ctx, "pre-repair backup saved", "pattern_id", patternID, "key", key)
	return nil
}

// List returns all backup entries for a pattern, oldest first.
func (s *BadgerSink) List(ctx context.Context, patternID string, patternType stores.PatternType) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := []byte(backupPrefix(patternID, patternType))
	var entries []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing backups for pattern %s: %w", patternID, err)
	}
	return entries, nil
}

// Close flushes and closes the database.
func (s *BadgerSink) Close() error {
	return s.db.Close()
}

// backupKey orders entries by save time within a pattern prefix.
func backupKey(patternID string, patternType stores.PatternType, at time.Time) string {
	return fmt.Sprintf("%s%020d", backupPrefix(patternID, patternType), at.UnixNano())
}

func backupPrefix(patternID string, patternType stores.PatternType) string {
	return "backup:" + string(patternType) + ":" + patternID + ":"
}

// MemorySink is an in-process BackupSink for tests. It records entries
// in order and can be told to fail.
type MemorySink struct {
	mu      sync.Mutex
	entries []Entry

	// FailWith, when set, makes every Save return this error.
	FailWith error
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Save records the entry, or fails when FailWith is set.
func (s *MemorySink) Save(ctx context.Context, patternID string, patternType stores.PatternType, snapshots map[stores.StoreType]stores.StoreSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWith != nil {
		return s.FailWith
	}
	copied := make(map[stores.StoreType]stores.StoreSnapshot, len(snapshots))
	for store, snap := range snapshots {
		copied[store] = snap
	}
	s.entries = append(s.entries, Entry{
		PatternID:   patternID,
		PatternType: patternType,
		Snapshots:   copied,
		SavedAt:     time.Now().UTC(),
	})
	return nil
}

// Entries returns a copy of everything saved so far.
func (s *MemorySink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// SavedFor reports how many entries exist for a pattern.
func (s *MemorySink) SavedFor(patternID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, entry := range s.entries {
		if entry.PatternID == patternID {
			n++
		}
	}
	return n
}
