// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package correctness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bettyai/betty/services/memory/stores"
)

// fakeClock returns a fixed time for deterministic result timestamps.
type fakeClock struct {
	now time.Time
}

func (c fakeClock) Now() time.Time { return c.now }

func testClock() fakeClock {
	return fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func snapshotsWithPayloads(payloads map[stores.StoreType]map[string]any) map[stores.StoreType]stores.StoreSnapshot {
	out := make(map[stores.StoreType]stores.StoreSnapshot, len(stores.AllStoreTypes))
	for _, store := range stores.AllStoreTypes {
		out[store] = stores.StoreSnapshot{Store: store, Payload: payloads[store]}
	}
	return out
}

func uniformSnapshots(payload map[string]any) map[stores.StoreType]stores.StoreSnapshot {
	payloads := make(map[stores.StoreType]map[string]any)
	for _, store := range stores.AllStoreTypes {
		payloads[store] = payload
	}
	return snapshotsWithPayloads(payloads)
}

func TestIntegrityScorer_AllStoresPresent(t *testing.T) {
	scorer := NewIntegrityScorer(nil, testClock())
	score := scorer.Score("p1", stores.PatternKnowledgeEntity, uniformSnapshots(map[string]any{"v": 1}), false)

	assert.Equal(t, 100.0, score.Score)
	assert.Equal(t, 4, score.StoresWithData)
	assert.Equal(t, 4, score.StoresTotal)
	assert.True(t, score.ChecksumVerified)
	assert.NotEqual(t, emptyContentHash, score.ContentHash)
	// Minimum interval width is 5 points, half above and half below.
	assert.InDelta(t, 97.5, score.ConfidenceLow, 0.001)
	assert.Equal(t, 100.0, score.ConfidenceHigh)
}

func TestIntegrityScorer_NoData(t *testing.T) {
	scorer := NewIntegrityScorer(nil, testClock())
	score := scorer.Score("p1", stores.PatternKnowledgeEntity, uniformSnapshots(nil), false)

	assert.Equal(t, 0.0, score.Score)
	assert.Equal(t, emptyContentHash, score.ContentHash)
	assert.False(t, score.ChecksumVerified)
	assert.Equal(t, 0.0, score.ConfidenceLow)
	assert.Equal(t, 0.0, score.ConfidenceHigh)
}

func TestIntegrityScorer_PartialPresence(t *testing.T) {
	payload := map[string]any{"v": 1}
	snapshots := snapshotsWithPayloads(map[stores.StoreType]map[string]any{
		stores.StoreRelational: payload,
		stores.StoreGraph:      payload,
		stores.StoreVector:     payload,
		// cache holds nothing
	})

	scorer := NewIntegrityScorer(nil, testClock())
	score := scorer.Score("p1", stores.PatternKnowledgeEntity, snapshots, false)

	assert.Equal(t, 75.0, score.Score)
	assert.Equal(t, 3, score.StoresWithData)
	// Interval widens with missing stores: max(5, 0.25*20) = 5 points.
	assert.InDelta(t, 72.5, score.ConfidenceLow, 0.001)
	assert.InDelta(t, 77.5, score.ConfidenceHigh, 0.001)
}

func TestIntegrityScorer_DriftPenalty(t *testing.T) {
	scorer := NewIntegrityScorer(nil, testClock())

	first := scorer.Score("p1", stores.PatternKnowledgeEntity, uniformSnapshots(map[string]any{"v": 1}), false)
	require.True(t, first.ChecksumVerified)
	require.Equal(t, 100.0, first.Score)

	// Same pattern, different content, no known write in between.
	second := scorer.Score("p1", stores.PatternKnowledgeEntity, uniformSnapshots(map[string]any{"v": 2}), false)
	assert.False(t, second.ChecksumVerified)
	assert.InDelta(t, 80.0, second.Score, 0.001)
	assert.Contains(t, second.Details, "drift")

	// The new hash becomes the baseline: a third identical check passes.
	third := scorer.Score("p1", stores.PatternKnowledgeEntity, uniformSnapshots(map[string]any{"v": 2}), false)
	assert.True(t, third.ChecksumVerified)
	assert.Equal(t, 100.0, third.Score)
}

func TestIntegrityScorer_InvalidateClearsDrift(t *testing.T) {
	scorer := NewIntegrityScorer(nil, testClock())

	scorer.Score("p1", stores.PatternKnowledgeEntity, uniformSnapshots(map[string]any{"v": 1}), false)
	scorer.Invalidate("p1")

	// After invalidation a changed payload is not drift.
	result := scorer.Score("p1", stores.PatternKnowledgeEntity, uniformSnapshots(map[string]any{"v": 2}), false)
	assert.True(t, result.ChecksumVerified)
	assert.Equal(t, 100.0, result.Score)
}

type halfValidator struct{}

func (halfValidator) ValidateShape(payload map[string]any) float64 {
	if _, ok := payload["required_field"]; !ok {
		return 0.5
	}
	return 1.0
}

func TestIntegrityScorer_DeepValidation(t *testing.T) {
	validators := map[stores.PatternType]StructuralValidator{
		stores.PatternDecision: halfValidator{},
	}
	scorer := NewIntegrityScorer(validators, testClock())

	t.Run("invalid shape halves the score", func(t *testing.T) {
		score := scorer.Score("p1", stores.PatternDecision, uniformSnapshots(map[string]any{"v": 1}), true)
		assert.True(t, score.DeepValidated)
		assert.InDelta(t, 50.0, score.Score, 0.001)
		assert.Contains(t, score.Details, "structural_validity")
	})

	t.Run("valid shape keeps full score", func(t *testing.T) {
		score := scorer.Score("p2", stores.PatternDecision, uniformSnapshots(map[string]any{"required_field": true}), true)
		assert.Equal(t, 100.0, score.Score)
	})

	t.Run("no validator for type means factor one", func(t *testing.T) {
		score := scorer.Score("p3", stores.PatternConversation, uniformSnapshots(map[string]any{"v": 1}), true)
		assert.True(t, score.DeepValidated)
		assert.Equal(t, 100.0, score.Score)
	})
}

func TestContentHash_OrderIndependent(t *testing.T) {
	a := uniformSnapshots(map[string]any{"b": 2, "a": 1})
	b := uniformSnapshots(map[string]any{"a": 1, "b": 2})
	assert.Equal(t, contentHash(a), contentHash(b))
}

func TestContentHash_IgnoresFailedStores(t *testing.T) {
	payload := map[string]any{"v": 1}
	full := uniformSnapshots(payload)

	partial := uniformSnapshots(payload)
	partial[stores.StoreCache] = stores.StoreSnapshot{Store: stores.StoreCache, Err: "connection refused"}

	// A failed store contributes nothing, so the hashes differ only by
	// the missing payload.
	assert.NotEqual(t, contentHash(full), contentHash(partial))
}

func TestCanonicalJSON_Deterministic(t *testing.T) {
	payload := map[string]any{
		"z":    []any{1, "two", true, nil},
		"a":    map[string]any{"nested": map[string]any{"k": "v"}},
		"mid":  3.14,
		"flag": false,
	}
	first := canonicalJSON(payload)
	second := canonicalJSON(payload)
	assert.Equal(t, first, second)
	assert.Equal(t, `{"a":{"nested":{"k":"v"}},"flag":false,"mid":3.14,"z":[1,"two",true,null]}`, first)
}

func TestLevelForScore(t *testing.T) {
	cases := []struct {
		score float64
		want  ConsistencyLevel
	}{
		{100, LevelPerfect},
		{99.95, LevelExcellent},
		{97, LevelGood},
		{92, LevelDegraded},
		{50, LevelPoor},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, LevelForScore(tc.score), "score %v", tc.score)
	}
}
