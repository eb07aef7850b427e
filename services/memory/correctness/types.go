// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package correctness implements the memory correctness engine: it
// validates that a pattern is represented consistently across the four
// backing stores, detects and classifies corruption, repairs divergent
// copies with backup-first semantics, and reports aggregate health.
//
// The engine is a read-mostly auditor. Stores remain the source of
// truth; the only writes it ever issues are reconciliation writes during
// an explicit repair.
package correctness

import (
	"time"

	"github.com/bettyai/betty/services/memory/stores"
)

// Severity grades an inconsistency.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// InconsistencyKind classifies what diverged.
type InconsistencyKind string

const (
	KindPayloadDivergence InconsistencyKind = "payload_divergence"
	KindChecksumDrift     InconsistencyKind = "checksum_drift"
	KindStoreUnavailable  InconsistencyKind = "store_unavailable"
	KindTotalLoss         InconsistencyKind = "total_data_loss"
	KindTimeout           InconsistencyKind = "timeout"
	KindInternalError     InconsistencyKind = "internal_error"
)

// Inconsistency records one cross-store disagreement for a pattern.
type Inconsistency struct {
	PatternID      string             `json:"pattern_id"`
	PatternType    stores.PatternType `json:"pattern_type"`
	AffectedStores []stores.StoreType `json:"affected_stores"`
	Kind           InconsistencyKind  `json:"kind"`
	Severity       Severity           `json:"severity"`
	Description    string             `json:"description"`
	AutoRepairable bool               `json:"auto_repairable"`

	// Similarity is the pairwise score that triggered the record, when
	// the kind is payload_divergence.
	Similarity float64 `json:"similarity,omitempty"`
}

// ConsistencyLevel maps an aggregate consistency score to a coarse label.
type ConsistencyLevel string

const (
	LevelPerfect   ConsistencyLevel = "perfect"
	LevelExcellent ConsistencyLevel = "excellent"
	LevelGood      ConsistencyLevel = "good"
	LevelDegraded  ConsistencyLevel = "degraded"
	LevelPoor      ConsistencyLevel = "poor"
)

// LevelForScore returns the consistency level for an aggregate score.
func LevelForScore(score float64) ConsistencyLevel {
	switch {
	case score >= 100:
		return LevelPerfect
	case score >= 99.9:
		return LevelExcellent
	case score >= 95:
		return LevelGood
	case score >= 90:
		return LevelDegraded
	default:
		return LevelPoor
	}
}

// PatternIntegrityScore is the integrity verdict for one pattern.
//
// Invariant: the score is monotonically non-decreasing in the number of
// stores holding matching, checksum-stable data, and penalized by drift
// and deep-validation failures.
type PatternIntegrityScore struct {
	PatternID        string             `json:"pattern_id"`
	PatternType      stores.PatternType `json:"pattern_type"`
	Score            float64            `json:"score"` // [0,100]
	ConfidenceLow    float64            `json:"confidence_low"`
	ConfidenceHigh   float64            `json:"confidence_high"`
	ChecksumVerified bool               `json:"checksum_verified"`
	ContentHash      string             `json:"content_hash"`
	StoresWithData   int                `json:"stores_with_data"`
	StoresTotal      int                `json:"stores_total"`
	DeepValidated    bool               `json:"deep_validated"`
	ComputedAt       time.Time          `json:"computed_at"`
	Details          map[string]string  `json:"details,omitempty"`
}

// CorruptionKind classifies a detected corruption.
type CorruptionKind string

const (
	CorruptionDivergence  CorruptionKind = "divergence"
	CorruptionDrift       CorruptionKind = "drift"
	CorruptionPartialLoss CorruptionKind = "partial_loss"
	CorruptionTotalLoss   CorruptionKind = "total_loss"
)

// CorruptionRecord is one detected corruption incident.
type CorruptionRecord struct {
	CorruptionID     string             `json:"corruption_id"`
	PatternID        string             `json:"pattern_id"`
	PatternType      stores.PatternType `json:"pattern_type"`
	DetectedAt       time.Time          `json:"detected_at"`
	Kind             CorruptionKind     `json:"kind"`
	RecoveryPossible bool               `json:"recovery_possible"`
	AffectedStores   []stores.StoreType `json:"affected_stores"`
	Evidence         []string           `json:"evidence"`
}

// CorruptionReport aggregates corruption incidents for a project.
type CorruptionReport struct {
	ReportID                 string             `json:"report_id"`
	ProjectID                string             `json:"project_id"`
	GeneratedAt              time.Time          `json:"generated_at"`
	Incidents                []CorruptionRecord `json:"incidents"`
	TotalPatternsAffected    int                `json:"total_patterns_affected"`
	DatabasesAffected        []stores.StoreType `json:"databases_affected"`
	EstimatedDataLossPercent float64            `json:"estimated_data_loss_percent"`
}

// RepairStrategy names how a divergent pattern is reconciled.
type RepairStrategy string

const (
	// RebuildFromMajority reconciles to the value held by the largest
	// agreeing subset of stores. Ties break to the group containing the
	// lexicographically smallest store name.
	RebuildFromMajority RepairStrategy = "rebuild_from_majority"

	// RebuildFromMostRecent prefers the freshest store-local write
	// timestamp. Timestamp ties break to the lexicographically smallest
	// store name.
	RebuildFromMostRecent RepairStrategy = "rebuild_from_most_recent"

	// RebuildFromSourceOfTruth uses the store designated authoritative
	// for the pattern type.
	RebuildFromSourceOfTruth RepairStrategy = "rebuild_from_source_of_truth"
)

// RepairState is the repair job state machine position.
type RepairState string

const (
	RepairDetected     RepairState = "detected"
	RepairBackingUp    RepairState = "backup"
	RepairRepairing    RepairState = "repairing"
	RepairRevalidating RepairState = "revalidating"
	RepairRepaired     RepairState = "repaired"
	RepairFailed       RepairState = "failed"
)

// RecoveryActionType names what a recovery action attempted.
type RecoveryActionType string

const (
	ActionBackup  RecoveryActionType = "backup"
	ActionRewrite RecoveryActionType = "rewrite"
	ActionSkip    RecoveryActionType = "skip"
)

// RecoveryAction is one entry in the append-only repair audit trail.
type RecoveryAction struct {
	ActionType  RecoveryActionType `json:"action_type"`
	TargetStore stores.StoreType   `json:"target_store,omitempty"`
	PatternID   string             `json:"pattern_id"`
	Description string             `json:"description"`
	Success     *bool              `json:"success"`
	ExecutedAt  *time.Time         `json:"executed_at,omitempty"`
	Err         string             `json:"error,omitempty"`
}

// PatternRepairOutcome is the per-pattern verdict inside a RepairResult.
type PatternRepairOutcome struct {
	PatternID          string             `json:"pattern_id"`
	PatternType        stores.PatternType `json:"pattern_type"`
	CorruptionID       string             `json:"corruption_id"`
	Strategy           RepairStrategy     `json:"strategy,omitempty"`
	FinalState         RepairState        `json:"final_state"`
	PreRepairIntegrity float64            `json:"pre_repair_integrity"`
	PostRepairScore    float64            `json:"post_repair_integrity"`
	Err                string             `json:"error,omitempty"`
}

// RepairResult rolls up one repair run over a corruption report.
type RepairResult struct {
	CorruptionReportID   string                 `json:"corruption_report_id"`
	PatternsRepaired     int                    `json:"patterns_repaired"`
	PatternsFailedRepair int                    `json:"patterns_failed_repair"`
	Outcomes             []PatternRepairOutcome `json:"outcomes"`
	RecoveryActions      []RecoveryAction       `json:"recovery_actions"`
	OverallSuccess       bool                   `json:"overall_success"`
	IntegrityRestored    bool                   `json:"integrity_restored"`
	DataLossPercent      float64                `json:"data_loss_percent"`
	StartedAt            time.Time              `json:"started_at"`
	CompletedAt          time.Time              `json:"completed_at"`
}

// ValidationResult is the verdict for one pattern validation.
type ValidationResult struct {
	PatternID        string                                    `json:"pattern_id"`
	PatternType      stores.PatternType                        `json:"pattern_type"`
	Integrity        PatternIntegrityScore                     `json:"integrity"`
	ConsistencyScore float64                                   `json:"consistency_score"`
	ConsistencyLevel ConsistencyLevel                          `json:"consistency_level"`
	Inconsistencies  []Inconsistency                           `json:"inconsistencies,omitempty"`
	Snapshots        map[stores.StoreType]stores.StoreSnapshot `json:"snapshots,omitempty"`
	Corruption       *CorruptionRecord                         `json:"corruption,omitempty"`
	Recommendations  []string                                  `json:"recommendations,omitempty"`
	TimedOut         bool                                      `json:"timed_out,omitempty"`
	ValidatedAt      time.Time                                 `json:"validated_at"`
}

// Healthy reports whether the pattern passed validation with no
// corruption and no critical inconsistency.
func (r ValidationResult) Healthy(integrityThreshold float64) bool {
	if r.Corruption != nil || r.Integrity.Score < integrityThreshold {
		return false
	}
	for _, inc := range r.Inconsistencies {
		if inc.Severity == SeverityCritical {
			return false
		}
	}
	return true
}

// MemoryValidationResult aggregates a project-wide validation sweep.
type MemoryValidationResult struct {
	ProjectID          string             `json:"project_id"`
	PatternsChecked    int                `json:"patterns_checked"`
	HealthyPatterns    int                `json:"healthy_patterns"`
	DegradedPatterns   int                `json:"degraded_patterns"`
	CorruptedPatterns  int                `json:"corrupted_patterns"`
	AverageIntegrity   float64            `json:"average_integrity"`
	AverageConsistency float64            `json:"average_consistency"`
	Results            []ValidationResult `json:"results,omitempty"`
	Recommendations    []string           `json:"recommendations,omitempty"`
	StartedAt          time.Time          `json:"started_at"`
	CompletedAt        time.Time          `json:"completed_at"`
}

// ConsistencyReport is the project-wide consistency verdict.
type ConsistencyReport struct {
	ReportID         string                       `json:"report_id"`
	ProjectID        string                       `json:"project_id"`
	GeneratedAt      time.Time                    `json:"generated_at"`
	PatternsChecked  int                          `json:"patterns_checked"`
	ConsistencyScore float64                      `json:"consistency_score"`
	ConsistencyLevel ConsistencyLevel             `json:"consistency_level"`
	Inconsistencies  []Inconsistency              `json:"inconsistencies,omitempty"`
	SyncLagSeconds   map[stores.StoreType]float64 `json:"sync_lag_seconds,omitempty"`
	Recommendations  []string                     `json:"recommendations,omitempty"`
}

// StoreStatus grades one store's health.
type StoreStatus string

const (
	StatusHealthy   StoreStatus = "healthy"
	StatusWarning   StoreStatus = "warning"
	StatusCritical  StoreStatus = "critical"
	StatusCorrupted StoreStatus = "corrupted"
	StatusUnknown   StoreStatus = "unknown"
)

// Score maps a store status to its contribution to overall health.
func (s StoreStatus) Score() float64 {
	switch s {
	case StatusHealthy:
		return 100
	case StatusWarning:
		return 75
	case StatusCritical:
		return 25
	case StatusCorrupted:
		return 0
	default:
		return 50
	}
}

// StoreHealth is one store's entry in a health snapshot.
type StoreHealth struct {
	Store            stores.StoreType `json:"store_type"`
	Status           StoreStatus      `json:"status"`
	ResponseTimeMS   float64          `json:"response_time_ms"`
	ErrorRatePercent float64          `json:"error_rate_percent"`
	Err              string           `json:"error,omitempty"`
}

// HealthStatus is a process-wide, time-windowed health snapshot.
//
// Recomputed on each monitoring tick; never persisted by this engine.
type HealthStatus struct {
	ProjectID           string                           `json:"project_id"`
	CheckedAt           time.Time                        `json:"checked_at"`
	Stores              map[stores.StoreType]StoreHealth `json:"stores"`
	PatternIntegrityAvg float64                          `json:"pattern_integrity_avg"`
	ConsistencyAvg      float64                          `json:"consistency_avg"`
	ActiveCorruptions   int                              `json:"active_corruptions"`
	OverallScore        float64                          `json:"overall_score"`
	Overall             StoreStatus                      `json:"overall"`
	Alerts              []string                         `json:"alerts,omitempty"`
	Recommendations     []string                         `json:"recommendations,omitempty"`
	NextCheckAt         time.Time                        `json:"next_check_at"`
}
