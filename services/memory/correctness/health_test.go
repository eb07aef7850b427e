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
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bettyai/betty/services/memory/stores"
)

func TestHealthMonitor_AllHealthy(t *testing.T) {
	adapters, _ := memAdapters()
	monitor := NewHealthMonitor(adapters, DefaultConfig(), testClock())

	status := monitor.Snapshot(context.Background(), "proj")
	assert.Equal(t, 100.0, status.OverallScore)
	assert.Equal(t, StatusHealthy, status.Overall)
	assert.Len(t, status.Stores, 4)
	for storeType, health := range status.Stores {
		assert.Equal(t, StatusHealthy, health.Status, "store %s", storeType)
	}
	assert.Empty(t, status.Alerts)
	assert.Zero(t, status.ActiveCorruptions)
	// With no observations the rolling averages default to perfect.
	assert.Equal(t, 100.0, status.PatternIntegrityAvg)
	assert.Equal(t, 100.0, status.ConsistencyAvg)
	assert.Equal(t, testClock().Now().Add(5*time.Minute), status.NextCheckAt)
}

func TestHealthMonitor_FailedStoreIsCritical(t *testing.T) {
	adapters, mems := memAdapters()
	mems[stores.StoreGraph].FailHealth = errors.New("connection refused")
	monitor := NewHealthMonitor(adapters, DefaultConfig(), testClock())

	status := monitor.Snapshot(context.Background(), "proj")
	assert.Equal(t, StatusCritical, status.Stores[stores.StoreGraph].Status)
	// (100*3 + 25) / 4
	assert.InDelta(t, 81.25, status.OverallScore, 0.001)
	assert.Equal(t, StatusWarning, status.Overall)
	assert.NotEmpty(t, status.Alerts)
	assert.NotEmpty(t, status.Recommendations)
}

func TestHealthMonitor_ErrorRateGrading(t *testing.T) {
	t.Run("at five percent critical", func(t *testing.T) {
		adapters, mems := memAdapters()
		mems[stores.StoreCache].ErrorRate = 5
		monitor := NewHealthMonitor(adapters, DefaultConfig(), testClock())
		status := monitor.Snapshot(context.Background(), "proj")
		assert.Equal(t, StatusCritical, status.Stores[stores.StoreCache].Status)
	})

	t.Run("at two percent warning", func(t *testing.T) {
		adapters, mems := memAdapters()
		mems[stores.StoreCache].ErrorRate = 2
		monitor := NewHealthMonitor(adapters, DefaultConfig(), testClock())
		status := monitor.Snapshot(context.Background(), "proj")
		assert.Equal(t, StatusWarning, status.Stores[stores.StoreCache].Status)
	})
}

func TestHealthMonitor_SlowStoreIsWarning(t *testing.T) {
	adapters, mems := memAdapters()
	mems[stores.StoreVector].Latency = 700 * time.Millisecond // budget is 500ms
	monitor := NewHealthMonitor(adapters, DefaultConfig(), testClock())

	status := monitor.Snapshot(context.Background(), "proj")
	assert.Equal(t, StatusWarning, status.Stores[stores.StoreVector].Status)

	// An over-budget store must raise a latency alert, not just degrade
	// the overall score.
	var sawLatencyAlert bool
	for _, alert := range status.Alerts {
		if strings.Contains(alert, "vector") && strings.Contains(alert, "latency") {
			sawLatencyAlert = true
		}
	}
	assert.True(t, sawLatencyAlert, "alerts: %v", status.Alerts)
}

func TestHealthMonitor_CorruptionMarksStore(t *testing.T) {
	adapters, _ := memAdapters()
	monitor := NewHealthMonitor(adapters, DefaultConfig(), testClock())

	monitor.RecordCorruption(CorruptionRecord{
		CorruptionID:   "c1",
		PatternID:      "p1",
		PatternType:    stores.PatternKnowledgeEntity,
		Kind:           CorruptionDivergence,
		AffectedStores: []stores.StoreType{stores.StoreCache},
	})

	status := monitor.Snapshot(context.Background(), "proj")
	assert.Equal(t, StatusCorrupted, status.Stores[stores.StoreCache].Status)
	assert.Equal(t, StatusCorrupted, status.Overall)
	assert.Equal(t, 1, status.ActiveCorruptions)
	assert.NotEmpty(t, status.Alerts)

	monitor.ResolveCorruption("p1", stores.PatternKnowledgeEntity)
	status = monitor.Snapshot(context.Background(), "proj")
	assert.Equal(t, StatusHealthy, status.Stores[stores.StoreCache].Status)
	assert.Zero(t, status.ActiveCorruptions)
}

func TestHealthMonitor_RedetectionReplacesIncident(t *testing.T) {
	adapters, _ := memAdapters()
	monitor := NewHealthMonitor(adapters, DefaultConfig(), testClock())

	// Two validations of the same still-corrupt pattern produce records
	// with distinct corruption ids. Only one incident must stay active.
	monitor.RecordCorruption(CorruptionRecord{
		CorruptionID:   "c1",
		PatternID:      "p1",
		PatternType:    stores.PatternKnowledgeEntity,
		Kind:           CorruptionDivergence,
		AffectedStores: []stores.StoreType{stores.StoreCache},
	})
	monitor.RecordCorruption(CorruptionRecord{
		CorruptionID:   "c2",
		PatternID:      "p1",
		PatternType:    stores.PatternKnowledgeEntity,
		Kind:           CorruptionDivergence,
		AffectedStores: []stores.StoreType{stores.StoreCache},
	})
	assert.Equal(t, 1, monitor.ActiveCorruptions())

	// Resolving by pattern clears it no matter which detection ran last.
	monitor.ResolveCorruption("p1", stores.PatternKnowledgeEntity)
	assert.Zero(t, monitor.ActiveCorruptions())

	status := monitor.Snapshot(context.Background(), "proj")
	assert.Equal(t, StatusHealthy, status.Stores[stores.StoreCache].Status)
	assert.NotEqual(t, StatusCorrupted, status.Overall)
}

func TestHealthMonitor_RollingAverages(t *testing.T) {
	adapters, _ := memAdapters()
	cfg := DefaultConfig()
	cfg.RollingWindowSize = 3
	monitor := NewHealthMonitor(adapters, cfg, testClock())

	observe := func(integrity, consistency float64) {
		monitor.Observe(ValidationResult{
			Integrity:        PatternIntegrityScore{Score: integrity},
			ConsistencyScore: consistency,
		})
	}
	observe(100, 100)
	observe(50, 80)
	observe(90, 90)

	status := monitor.Snapshot(context.Background(), "proj")
	assert.InDelta(t, 80.0, status.PatternIntegrityAvg, 0.001)
	assert.InDelta(t, 90.0, status.ConsistencyAvg, 0.001)

	// A fourth observation evicts the oldest.
	observe(100, 100)
	status = monitor.Snapshot(context.Background(), "proj")
	assert.InDelta(t, 80.0, status.PatternIntegrityAvg, 0.001)
	assert.InDelta(t, 90.0, status.ConsistencyAvg, 0.001)
}

func TestScoreWindow(t *testing.T) {
	w := newScoreWindow(2)
	assert.Equal(t, 42.0, w.Mean(42))

	w.Push(10)
	assert.Equal(t, 10.0, w.Mean(0))
	w.Push(20)
	assert.Equal(t, 15.0, w.Mean(0))
	w.Push(30) // evicts 10
	assert.Equal(t, 25.0, w.Mean(0))
	require.Equal(t, 2, w.Len())
}
