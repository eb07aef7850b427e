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
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bettyai/betty/services/memory/stores"
)

// HealthMonitor maintains rolling validation statistics and produces
// point-in-time health snapshots across all stores.
//
// Snapshots are recomputed on every call and never persisted; the only
// state the monitor owns is two rolling score windows and the set of
// unresolved corruption incidents.
//
// # Thread Safety
//
// Safe for concurrent use.
type HealthMonitor struct {
	adapters map[stores.StoreType]stores.Adapter
	cfg      Config
	clock    ClockSource

	mu             sync.Mutex
	integrityWin   *scoreWindow
	consistencyWin *scoreWindow
	corruptions    map[string]CorruptionRecord // pattern key -> latest unresolved incident
}

// NewHealthMonitor creates a monitor with empty rolling windows.
func NewHealthMonitor(adapters map[stores.StoreType]stores.Adapter, cfg Config, clock ClockSource) *HealthMonitor {
	if clock == nil {
		clock = systemClock{}
	}
	return &HealthMonitor{
		adapters:       adapters,
		cfg:            cfg,
		clock:          clock,
		integrityWin:   newScoreWindow(cfg.RollingWindowSize),
		consistencyWin: newScoreWindow(cfg.RollingWindowSize),
		corruptions:    make(map[string]CorruptionRecord),
	}
}

// Observe feeds one validation result into the rolling windows.
func (m *HealthMonitor) Observe(result ValidationResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.integrityWin.Push(result.Integrity.Score)
	m.consistencyWin.Push(result.ConsistencyScore)
}

// RecordCorruption registers an unresolved incident so affected stores
// report as corrupted until it is resolved.
//
// Incidents are keyed by pattern: re-detecting a still-corrupt pattern
// replaces its earlier record instead of accumulating one per
// validation, so a later repair of the pattern clears all of them.
func (m *HealthMonitor) RecordCorruption(record CorruptionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corruptions[lockKey(record.PatternID, record.PatternType)] = record
}

// ResolveCorruption clears a pattern's incident, typically after a
// successful repair.
func (m *HealthMonitor) ResolveCorruption(patternID string, patternType stores.PatternType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.corruptions, lockKey(patternID, patternType))
}

// ActiveCorruptions returns the number of unresolved incidents.
func (m *HealthMonitor) ActiveCorruptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.corruptions)
}

// Snapshot probes every store concurrently and assembles a health
// snapshot.
//
// Description:
//
//	Per-store status grading, in order of precedence: a store named in
//	an unresolved corruption incident is corrupted; a failed health
//	check or an error rate at or above 5% is critical; an error rate at
//	or above 2% or a response time over the performance threshold is
//	warning; otherwise healthy. The overall score is the mean of the
//	per-store status scores.
func (m *HealthMonitor) Snapshot(ctx context.Context, projectID string) HealthStatus {
	now := m.clock.Now()
	status := HealthStatus{
		ProjectID:   projectID,
		CheckedAt:   now,
		Stores:      make(map[stores.StoreType]StoreHealth, len(m.adapters)),
		NextCheckAt: now.Add(time.Duration(m.cfg.ValidationIntervalMinutes) * time.Minute),
	}

	reports := make(map[stores.StoreType]stores.HealthReport, len(m.adapters))
	var reportsMu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for store, adapter := range m.adapters {
		g.Go(func() error {
			report := adapter.HealthCheck(gctx)
			reportsMu.Lock()
			reports[store] = report
			reportsMu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // Probes never return errors; failures land in reports.

	corrupted := m.corruptedStores()

	total := 0.0
	for _, store := range stores.AllStoreTypes {
		report, probed := reports[store]
		if !probed {
			continue
		}

		health := StoreHealth{
			Store:            store,
			ResponseTimeMS:   report.ResponseTimeMS,
			ErrorRatePercent: report.ErrorRatePercent,
			Err:              report.Err,
		}
		switch {
		case corrupted[store]:
			health.Status = StatusCorrupted
		case !report.Healthy || report.ErrorRatePercent >= 5:
			health.Status = StatusCritical
		case report.ErrorRatePercent >= 2 || report.ResponseTimeMS > m.cfg.PerformanceThresholdMS:
			health.Status = StatusWarning
		default:
			health.Status = StatusHealthy
		}
		status.Stores[store] = health
		total += health.Status.Score()
	}

	m.mu.Lock()
	status.PatternIntegrityAvg = m.integrityWin.Mean(100)
	status.ConsistencyAvg = m.consistencyWin.Mean(100)
	status.ActiveCorruptions = len(m.corruptions)
	m.mu.Unlock()

	if len(status.Stores) > 0 {
		status.OverallScore = total / float64(len(status.Stores))
	} else {
		status.OverallScore = StatusUnknown.Score()
	}
	status.Overall = overallStatus(status)
	m.annotate(&status)
	return status
}

// corruptedStores flattens unresolved incidents into a store set.
func (m *HealthMonitor) corruptedStores() map[stores.StoreType]bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[stores.StoreType]bool)
	for _, record := range m.corruptions {
		for _, store := range record.AffectedStores {
			out[store] = true
		}
	}
	return out
}

// overallStatus grades the snapshot as a whole.
func overallStatus(status HealthStatus) StoreStatus {
	anyCorrupted := false
	for _, health := range status.Stores {
		if health.Status == StatusCorrupted {
			anyCorrupted = true
			break
		}
	}
	switch {
	case len(status.Stores) == 0:
		return StatusUnknown
	case anyCorrupted:
		return StatusCorrupted
	case status.OverallScore >= 90:
		return StatusHealthy
	case status.OverallScore >= 70:
		return StatusWarning
	default:
		return StatusCritical
	}
}

// annotate fills alerts and recommendations from the assembled snapshot.
func (m *HealthMonitor) annotate(status *HealthStatus) {
	if status.OverallScore < 95 {
		status.Alerts = append(status.Alerts,
			fmt.Sprintf("overall store health %.1f below 95", status.OverallScore))
	}
	if status.ActiveCorruptions > 0 {
		status.Alerts = append(status.Alerts,
			fmt.Sprintf("%d unresolved corruption incidents", status.ActiveCorruptions))
		status.Recommendations = append(status.Recommendations,
			"run repair for outstanding corruption reports")
	}

	var names []string
	for _, store := range stores.AllStoreTypes {
		health, ok := status.Stores[store]
		if !ok {
			continue
		}
		if health.ErrorRatePercent > 1 {
			status.Alerts = append(status.Alerts,
				fmt.Sprintf("%s error rate %.1f%% over the last operations window", store, health.ErrorRatePercent))
		}
		if health.Status == StatusCritical || health.Status == StatusCorrupted {
			names = append(names, string(store))
		}
		if health.ResponseTimeMS > m.cfg.PerformanceThresholdMS {
			status.Alerts = append(status.Alerts,
				fmt.Sprintf("%s latency elevated: %.0fms response time over the %.0fms budget", store, health.ResponseTimeMS, m.cfg.PerformanceThresholdMS))
			status.Recommendations = append(status.Recommendations,
				fmt.Sprintf("investigate %s latency (%.0fms over %.0fms budget)", store, health.ResponseTimeMS, m.cfg.PerformanceThresholdMS))
		}
	}
	if len(names) > 0 {
		sort.Strings(names)
		status.Recommendations = append(status.Recommendations,
			"restore connectivity or data for: "+strings.Join(names, ", "))
	}
	if status.PatternIntegrityAvg < m.cfg.IntegrityThresholdPercent {
		status.Recommendations = append(status.Recommendations,
			fmt.Sprintf("rolling integrity average %.1f is below the %.0f threshold, schedule a consistency sweep", status.PatternIntegrityAvg, m.cfg.IntegrityThresholdPercent))
	}
}
