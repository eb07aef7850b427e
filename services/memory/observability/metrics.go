// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability exposes Prometheus metrics for the memory
// correctness engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ==============================================================================
// Prometheus Metrics
// ==============================================================================

var (
	// validationTotal counts pattern validations by outcome
	validationTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betty_memory_validation_total",
		Help: "Total pattern validations by outcome",
	}, []string{"outcome"})

	// validationDuration tracks single-pattern validation latency
	validationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "betty_memory_validation_duration_seconds",
		Help:    "Pattern validation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
	})

	// integrityScore tracks the distribution of integrity scores
	integrityScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "betty_memory_integrity_score",
		Help:    "Distribution of pattern integrity scores",
		Buckets: []float64{0, 25, 50, 75, 90, 95, 99, 100},
	})

	// consistencyScore tracks the distribution of consistency scores
	consistencyScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "betty_memory_consistency_score",
		Help:    "Distribution of cross-store consistency scores",
		Buckets: []float64{0, 25, 50, 75, 90, 95, 99, 100},
	})

	// repairTotal counts pattern repairs by final state
	repairTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betty_memory_repair_total",
		Help: "Total pattern repairs by final state",
	}, []string{"state"})

	// recoveryActionTotal counts recovery actions by type and success
	recoveryActionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betty_memory_recovery_action_total",
		Help: "Total recovery actions by type and success",
	}, []string{"action", "success"})

	// storeHealthScore is the latest per-store health score
	storeHealthScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "betty_memory_store_health_score",
		Help: "Latest health score per store (0-100)",
	}, []string{"store"})

	// activeCorruptions is the number of unresolved corruption incidents
	activeCorruptions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "betty_memory_active_corruptions",
		Help: "Unresolved corruption incidents",
	})
)

// RecordValidation records one pattern validation.
func RecordValidation(outcome string, durationSeconds, integrity, consistency float64) {
	validationTotal.WithLabelValues(outcome).Inc()
	validationDuration.Observe(durationSeconds)
	integrityScore.Observe(integrity)
	consistencyScore.Observe(consistency)
}

// RecordRepair records one pattern repair by its final state.
func RecordRepair(state string) {
	repairTotal.WithLabelValues(state).Inc()
}

// RecordRecoveryAction records one audit-trail action.
func RecordRecoveryAction(action string, success bool) {
	label := "false"
	if success {
		label = "true"
	}
	recoveryActionTotal.WithLabelValues(action, label).Inc()
}

// SetStoreHealth publishes the latest health score for a store.
func SetStoreHealth(store string, score float64) {
	storeHealthScore.WithLabelValues(store).Set(score)
}

// SetActiveCorruptions publishes the unresolved incident count.
func SetActiveCorruptions(n int) {
	activeCorruptions.Set(float64(n))
}
