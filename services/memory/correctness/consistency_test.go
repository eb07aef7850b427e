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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bettyai/betty/services/memory/stores"
)

func TestJaccardComparator_ExactEquality(t *testing.T) {
	cmp := JaccardComparator{}
	a := map[string]any{"name": "pattern", "count": 3}
	b := map[string]any{"count": 3, "name": "pattern"}
	assert.Equal(t, 100.0, cmp.Compare(a, b))
}

func TestJaccardComparator_Divergence(t *testing.T) {
	cmp := JaccardComparator{}
	a := map[string]any{"v": 1}
	b := map[string]any{"v": 2}
	// Tokens {v,1} vs {v,2}: one shared of three distinct.
	score := cmp.Compare(a, b)
	assert.InDelta(t, 33.33, score, 0.1)
}

func TestJaccardComparator_Symmetric(t *testing.T) {
	cmp := JaccardComparator{}
	a := map[string]any{"title": "memory engine", "tags": []any{"go", "storage"}}
	b := map[string]any{"title": "memory engine", "tags": []any{"go"}}
	assert.Equal(t, cmp.Compare(a, b), cmp.Compare(b, a))
	assert.Less(t, cmp.Compare(a, b), 100.0)
}

// stubComparator returns a fixed score so threshold grading can be
// tested precisely.
type stubComparator struct {
	score float64
}

func (s stubComparator) Compare(a, b map[string]any) float64 { return s.score }

func TestConsistencyChecker_FewerThanTwoStores(t *testing.T) {
	checker := NewConsistencyChecker(nil)

	t.Run("no data", func(t *testing.T) {
		score, inconsistencies := checker.Check("p1", stores.PatternKnowledgeEntity, uniformSnapshots(nil))
		assert.Equal(t, 100.0, score)
		assert.Empty(t, inconsistencies)
	})

	t.Run("single store", func(t *testing.T) {
		snapshots := snapshotsWithPayloads(map[stores.StoreType]map[string]any{
			stores.StoreRelational: {"v": 1},
		})
		score, inconsistencies := checker.Check("p1", stores.PatternKnowledgeEntity, snapshots)
		assert.Equal(t, 100.0, score)
		assert.Empty(t, inconsistencies)
	})
}

func TestConsistencyChecker_AllAgree(t *testing.T) {
	checker := NewConsistencyChecker(nil)
	score, inconsistencies := checker.Check("p1", stores.PatternKnowledgeEntity, uniformSnapshots(map[string]any{"v": 1}))
	assert.Equal(t, 100.0, score)
	assert.Empty(t, inconsistencies)
}

func TestConsistencyChecker_CriticalDivergence(t *testing.T) {
	checker := NewConsistencyChecker(nil)
	payloads := map[stores.StoreType]map[string]any{
		stores.StoreRelational: {"v": 1},
		stores.StoreGraph:      {"v": 1},
		stores.StoreVector:     {"v": 1},
		stores.StoreCache:      {"v": 2},
	}
	score, inconsistencies := checker.Check("p1", stores.PatternKnowledgeEntity, snapshotsWithPayloads(payloads))

	// Three of six pairs involve the divergent cache copy.
	assert.Less(t, score, 95.0)
	require.Len(t, inconsistencies, 3)
	for _, inc := range inconsistencies {
		assert.Equal(t, KindPayloadDivergence, inc.Kind)
		assert.Equal(t, SeverityCritical, inc.Severity)
		assert.False(t, inc.AutoRepairable)
		assert.Contains(t, inc.AffectedStores, stores.StoreCache)
		assert.InDelta(t, 33.33, inc.Similarity, 0.1)
	}
}

func TestConsistencyChecker_SeverityGrading(t *testing.T) {
	snapshots := uniformSnapshots(map[string]any{"v": 1})

	t.Run("between 90 and 95 is an auto-repairable warning", func(t *testing.T) {
		checker := NewConsistencyChecker(stubComparator{score: 93})
		score, inconsistencies := checker.Check("p1", stores.PatternKnowledgeEntity, snapshots)
		assert.InDelta(t, 93.0, score, 0.001)
		require.Len(t, inconsistencies, 6) // All pairs fall below 95.
		for _, inc := range inconsistencies {
			assert.Equal(t, SeverityWarning, inc.Severity)
			assert.True(t, inc.AutoRepairable)
		}
	})

	t.Run("below 90 is critical and not auto-repairable", func(t *testing.T) {
		checker := NewConsistencyChecker(stubComparator{score: 85})
		_, inconsistencies := checker.Check("p1", stores.PatternKnowledgeEntity, snapshots)
		require.NotEmpty(t, inconsistencies)
		for _, inc := range inconsistencies {
			assert.Equal(t, SeverityCritical, inc.Severity)
			assert.False(t, inc.AutoRepairable)
		}
	})

	t.Run("at or above 95 records nothing", func(t *testing.T) {
		checker := NewConsistencyChecker(stubComparator{score: 95})
		score, inconsistencies := checker.Check("p1", stores.PatternKnowledgeEntity, snapshots)
		assert.Equal(t, 95.0, score)
		assert.Empty(t, inconsistencies)
	})
}

func TestConsistencyChecker_DeterministicPairOrder(t *testing.T) {
	checker := NewConsistencyChecker(stubComparator{score: 50})
	snapshots := uniformSnapshots(map[string]any{"v": 1})

	first, _ := checkPairs(checker, snapshots)
	for i := 0; i < 10; i++ {
		again, _ := checkPairs(checker, snapshots)
		assert.Equal(t, first, again)
	}
}

func checkPairs(checker *ConsistencyChecker, snapshots map[stores.StoreType]stores.StoreSnapshot) ([][2]stores.StoreType, float64) {
	score, inconsistencies := checker.Check("p1", stores.PatternKnowledgeEntity, snapshots)
	pairs := make([][2]stores.StoreType, 0, len(inconsistencies))
	for _, inc := range inconsistencies {
		pairs = append(pairs, [2]stores.StoreType{inc.AffectedStores[0], inc.AffectedStores[1]})
	}
	return pairs, score
}
