// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stores defines the store adapter contract for the memory
// correctness engine, plus one adapter per backing store.
//
// A pattern (one logical knowledge item) is replicated in different
// projections across four stores: relational, graph, vector, and cache.
// Each adapter exposes the same minimal surface:
//
//   - Fetch: read one pattern's projection. Never returns an error; any
//     failure is folded into the returned StoreSnapshot. Partial
//     availability is an expected state, not an exception.
//   - Write: rewrite one pattern's projection. Only the repair
//     orchestrator calls this.
//   - HealthCheck: a bounded round-trip (ping/describe) with latency and
//     error-rate reporting.
//
// # Thread Safety
//
// All adapters in this package are safe for concurrent use.
package stores

import (
	"context"
	"sync"
	"time"
)

// StoreType identifies one of the four backing stores.
type StoreType string

const (
	StoreRelational StoreType = "relational"
	StoreGraph      StoreType = "graph"
	StoreVector     StoreType = "vector"
	StoreCache      StoreType = "cache"
)

// AllStoreTypes lists every store type in lexicographic order.
//
// The order matters: scoring and reconciliation iterate stores in this
// order so results are deterministic regardless of map iteration.
var AllStoreTypes = []StoreType{StoreCache, StoreGraph, StoreRelational, StoreVector}

// PatternType categorizes a knowledge pattern.
type PatternType string

const (
	PatternKnowledgeEntity PatternType = "knowledge_entity"
	PatternConversation    PatternType = "conversation"
	PatternDecision        PatternType = "decision"
	PatternCode            PatternType = "code_pattern"
)

// ValidPatternTypes is the set of recognized pattern types.
var ValidPatternTypes = map[PatternType]bool{
	PatternKnowledgeEntity: true,
	PatternConversation:    true,
	PatternDecision:        true,
	PatternCode:            true,
}

// AllPatternTypes returns every recognized pattern type in a fresh
// slice, lexicographically ordered.
func AllPatternTypes() []PatternType {
	return []PatternType{PatternCode, PatternConversation, PatternDecision, PatternKnowledgeEntity}
}

// PatternRef identifies one pattern for bulk operations.
type PatternRef struct {
	PatternID   string      `json:"pattern_id"`
	PatternType PatternType `json:"pattern_type"`
}

// StoreSnapshot is the result of fetching a pattern from one store.
//
// Payload is nil when the store has no data for the pattern or the fetch
// failed; Err distinguishes the two. Snapshots are ephemeral: produced
// fresh on every validation and never persisted by the engine.
type StoreSnapshot struct {
	Store     StoreType      `json:"store_type"`
	Payload   map[string]any `json:"payload,omitempty"`
	FetchedAt time.Time      `json:"fetched_at"`

	// WrittenAt is the store-local write timestamp, when the store can
	// report one. Used for most-recent reconciliation and sync-lag
	// estimation.
	WrittenAt *time.Time `json:"written_at,omitempty"`

	// Err is the fetch failure message, empty on success. A successful
	// fetch of an absent pattern has both Payload nil and Err empty.
	Err string `json:"error,omitempty"`
}

// HasData reports whether the snapshot carries a payload.
func (s StoreSnapshot) HasData() bool {
	return s.Payload != nil
}

// HealthReport is the result of one adapter health check.
type HealthReport struct {
	Healthy          bool    `json:"healthy"`
	ResponseTimeMS   float64 `json:"response_time_ms"`
	ErrorRatePercent float64 `json:"error_rate_percent"`
	Err              string  `json:"error,omitempty"`
}

// Adapter is the contract every backing store implements.
//
// Fetch must never return an error: failures are reported inside the
// snapshot so that one store being down cannot block validation of data
// present in the others.
type Adapter interface {
	// Type returns the store this adapter fronts.
	Type() StoreType

	// Fetch reads one pattern's projection from the store.
	Fetch(ctx context.Context, patternID string, patternType PatternType) StoreSnapshot

	// Write rewrites one pattern's projection. Repair only; validation
	// never calls this.
	Write(ctx context.Context, patternID string, patternType PatternType, payload map[string]any) error

	// HealthCheck performs a trivial round-trip against the store.
	HealthCheck(ctx context.Context) HealthReport
}

// Lister is implemented by adapters that can enumerate stored patterns.
// The relational adapter implements it and serves as the engine's
// pattern index for project-wide sweeps.
type Lister interface {
	ListPatterns(ctx context.Context, projectID string, patternTypes []PatternType) ([]PatternRef, error)
}

// opStats tracks a rolling window of operation outcomes for error-rate
// reporting in health checks.
//
// Thread Safety: safe for concurrent use.
type opStats struct {
	mu       sync.Mutex
	window   []bool // true = failure
	idx      int
	recorded int
}

const statsWindowSize = 100

func newOpStats() *opStats {
	return &opStats{window: make([]bool, statsWindowSize)}
}

// record notes one operation outcome.
func (s *opStats) record(failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window[s.idx] = failed
	s.idx = (s.idx + 1) % len(s.window)
	if s.recorded < len(s.window) {
		s.recorded++
	}
}

// errorRatePercent returns the failure percentage over the window.
// Returns 0 when nothing has been recorded yet.
func (s *opStats) errorRatePercent() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recorded == 0 {
		return 0
	}
	failures := 0
	for i := 0; i < s.recorded; i++ {
		if s.window[i] {
			failures++
		}
	}
	return float64(failures) / float64(s.recorded) * 100
}

// failedSnapshot builds a snapshot for a failed fetch.
func failedSnapshot(store StoreType, now time.Time, err error) StoreSnapshot {
	return StoreSnapshot{
		Store:     store,
		FetchedAt: now,
		Err:       err.Error(),
	}
}

// emptySnapshot builds a snapshot for a pattern the store does not hold.
func emptySnapshot(store StoreType, now time.Time) StoreSnapshot {
	return StoreSnapshot{
		Store:     store,
		FetchedAt: now,
	}
}
