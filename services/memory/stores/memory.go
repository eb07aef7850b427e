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
	"sync"
	"time"
)

// MemStore is an in-memory adapter with injectable failures and latency.
//
// Used by tests and local development. Unlike the real adapters it also
// counts fetches and writes so tests can assert that validation never
// writes.
//
// # Thread Safety
//
// Safe for concurrent use.
type MemStore struct {
	storeType StoreType

	mu       sync.Mutex
	patterns map[string]memEntry

	// FailFetch, when non-nil, makes every Fetch return a failed
	// snapshot with this error.
	FailFetch error

	// FailWrite, when non-nil, makes every Write return this error.
	FailWrite error

	// FailHealth, when non-nil, makes HealthCheck report unhealthy.
	FailHealth error

	// Latency is added to every operation, and reported as the health
	// check response time.
	Latency time.Duration

	// ErrorRate overrides the reported health-check error rate.
	ErrorRate float64

	fetches int
	writes  int
}

type memEntry struct {
	payload   map[string]any
	writtenAt time.Time
}

// NewMemStore creates an empty in-memory adapter for the given store type.
func NewMemStore(storeType StoreType) *MemStore {
	return &MemStore{
		storeType: storeType,
		patterns:  make(map[string]memEntry),
	}
}

func memKey(patternID string, patternType PatternType) string {
	return string(patternType) + "/" + patternID
}

// Seed stores a payload directly, bypassing Write counters.
func (s *MemStore) Seed(patternID string, patternType PatternType, payload map[string]any) {
	s.SeedAt(patternID, patternType, payload, time.Now().UTC())
}

// SeedAt stores a payload with an explicit write timestamp.
func (s *MemStore) SeedAt(patternID string, patternType PatternType, payload map[string]any, writtenAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns[memKey(patternID, patternType)] = memEntry{payload: payload, writtenAt: writtenAt}
}

// Type returns the configured store type.
func (s *MemStore) Type() StoreType {
	return s.storeType
}

// Fetch returns the seeded payload, the injected failure, or an empty
// snapshot.
func (s *MemStore) Fetch(ctx context.Context, patternID string, patternType PatternType) StoreSnapshot {
	if s.Latency > 0 {
		select {
		case <-time.After(s.Latency):
		case <-ctx.Done():
			return failedSnapshot(s.storeType, time.Now().UTC(), ctx.Err())
		}
	}
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++

	if s.FailFetch != nil {
		return failedSnapshot(s.storeType, now, s.FailFetch)
	}
	entry, ok := s.patterns[memKey(patternID, patternType)]
	if !ok {
		return emptySnapshot(s.storeType, now)
	}
	writtenAt := entry.writtenAt
	return StoreSnapshot{
		Store:     s.storeType,
		Payload:   entry.payload,
		FetchedAt: now,
		WrittenAt: &writtenAt,
	}
}

// Write stores the payload, or returns the injected failure.
func (s *MemStore) Write(ctx context.Context, patternID string, patternType PatternType, payload map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes++

	if s.FailWrite != nil {
		return s.FailWrite
	}
	s.patterns[memKey(patternID, patternType)] = memEntry{payload: payload, writtenAt: time.Now().UTC()}
	return nil
}

// HealthCheck reports the injected health state.
func (s *MemStore) HealthCheck(ctx context.Context) HealthReport {
	report := HealthReport{
		Healthy:          s.FailHealth == nil,
		ResponseTimeMS:   float64(s.Latency.Microseconds()) / 1000,
		ErrorRatePercent: s.ErrorRate,
	}
	if s.FailHealth != nil {
		report.Err = s.FailHealth.Error()
	}
	return report
}

// Fetches returns the number of Fetch calls seen.
func (s *MemStore) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// Writes returns the number of Write calls seen.
func (s *MemStore) Writes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes
}
