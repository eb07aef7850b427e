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
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/bettyai/betty/services/memory/stores"
)

// CorruptionDetector classifies validation evidence into corruption
// incidents. Detection is derived entirely from the integrity score and
// the inconsistency list of a single validation pass; it issues no store
// reads of its own.
//
// # Thread Safety
//
// Safe for concurrent use.
type CorruptionDetector struct {
	integrityThreshold float64
	clock              ClockSource
}

// NewCorruptionDetector creates a detector. The threshold is the
// integrity score below which a pattern counts as corrupted.
func NewCorruptionDetector(integrityThreshold float64, clock ClockSource) *CorruptionDetector {
	if clock == nil {
		clock = systemClock{}
	}
	return &CorruptionDetector{integrityThreshold: integrityThreshold, clock: clock}
}

// Detect returns a CorruptionRecord when the validation evidence crosses
// the corruption bar, nil otherwise.
//
// Description:
//
//	Corruption requires integrity below the threshold or at least one
//	critical inconsistency. Classification picks the most severe
//	applicable kind: total_loss (no store holds data, unrecoverable),
//	then partial_loss (some stores empty or unreachable), then
//	divergence (critical payload mismatch), then drift (unexpected
//	checksum change). Everything short of total loss is recoverable.
func (d *CorruptionDetector) Detect(integrity PatternIntegrityScore, inconsistencies []Inconsistency, snapshots map[stores.StoreType]stores.StoreSnapshot) *CorruptionRecord {
	critical := false
	for _, inc := range inconsistencies {
		if inc.Severity == SeverityCritical {
			critical = true
			break
		}
	}
	if integrity.Score >= d.integrityThreshold && !critical {
		return nil
	}

	record := &CorruptionRecord{
		CorruptionID:     uuid.NewString(),
		PatternID:        integrity.PatternID,
		PatternType:      integrity.PatternType,
		DetectedAt:       d.clock.Now(),
		RecoveryPossible: true,
	}

	var missing []stores.StoreType
	for store, snap := range snapshots {
		if !snap.HasData() {
			missing = append(missing, store)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })

	switch {
	case integrity.StoresWithData == 0:
		record.Kind = CorruptionTotalLoss
		record.RecoveryPossible = false
		record.AffectedStores = missing
		record.Evidence = append(record.Evidence, "no store holds data for this pattern")
	case len(missing) > 0 && !critical:
		record.Kind = CorruptionPartialLoss
		record.AffectedStores = missing
		for _, store := range missing {
			snap := snapshots[store]
			if snap.Err != "" {
				record.Evidence = append(record.Evidence, fmt.Sprintf("%s unreachable: %s", store, snap.Err))
			} else {
				record.Evidence = append(record.Evidence, fmt.Sprintf("%s holds no data", store))
			}
		}
	case critical:
		record.Kind = CorruptionDivergence
		affected := map[stores.StoreType]bool{}
		for _, inc := range inconsistencies {
			if inc.Severity != SeverityCritical {
				continue
			}
			for _, store := range inc.AffectedStores {
				affected[store] = true
			}
			record.Evidence = append(record.Evidence, inc.Description)
		}
		for store := range affected {
			record.AffectedStores = append(record.AffectedStores, store)
		}
		sort.Slice(record.AffectedStores, func(i, j int) bool {
			return record.AffectedStores[i] < record.AffectedStores[j]
		})
	default:
		record.Kind = CorruptionDrift
		record.AffectedStores = dataBearing(snapshots)
		record.Evidence = append(record.Evidence,
			fmt.Sprintf("content hash %s differs from the last verified hash", integrity.ContentHash))
	}

	record.Evidence = append(record.Evidence,
		fmt.Sprintf("integrity score %.1f against threshold %.1f", integrity.Score, d.integrityThreshold))
	return record
}

// BuildReport rolls incidents into a project-wide corruption report.
// The estimated data loss is the unrecoverable share of affected
// patterns.
func (d *CorruptionDetector) BuildReport(projectID string, patternsChecked int, incidents []CorruptionRecord) CorruptionReport {
	report := CorruptionReport{
		ReportID:              uuid.NewString(),
		ProjectID:             projectID,
		GeneratedAt:           d.clock.Now(),
		Incidents:             incidents,
		TotalPatternsAffected: len(incidents),
	}

	databases := map[stores.StoreType]bool{}
	lost := 0
	for _, incident := range incidents {
		for _, store := range incident.AffectedStores {
			databases[store] = true
		}
		if !incident.RecoveryPossible {
			lost++
		}
	}
	for store := range databases {
		report.DatabasesAffected = append(report.DatabasesAffected, store)
	}
	sort.Slice(report.DatabasesAffected, func(i, j int) bool {
		return report.DatabasesAffected[i] < report.DatabasesAffected[j]
	})
	if patternsChecked > 0 {
		report.EstimatedDataLossPercent = 100 * float64(lost) / float64(patternsChecked)
	}
	return report
}

// dataBearing lists the stores holding data, lexicographically.
func dataBearing(snapshots map[stores.StoreType]stores.StoreSnapshot) []stores.StoreType {
	var out []stores.StoreType
	for store, snap := range snapshots {
		if snap.HasData() {
			out = append(out, store)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
