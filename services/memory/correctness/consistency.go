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
	"strings"
	"unicode"

	"github.com/bettyai/betty/services/memory/stores"
)

// Comparator computes a pairwise similarity score in [0,100] between two
// store payloads. Implementations must be symmetric, and must return 100
// only on semantic equivalence. Pluggable so deployments can substitute
// structural or semantic diffing per pattern type without touching the
// consistency algorithm.
type Comparator interface {
	Compare(a, b map[string]any) float64
}

// JaccardComparator is the default comparator: token-set Jaccard
// similarity over the canonical serialization, scaled to [0,100].
//
// This is intentionally coarse. It is representation-agnostic across
// structurally different store projections (graph edges vs relational
// rows vs cached blobs), which is exactly what cross-store comparison
// needs; it is not a semantic diff.
type JaccardComparator struct{}

// Compare returns 100 on exact canonical equality, otherwise the token
// Jaccard similarity capped below 100.
func (JaccardComparator) Compare(a, b map[string]any) float64 {
	ca, cb := canonicalJSON(a), canonicalJSON(b)
	if ca == cb {
		return 100
	}

	ta, tb := tokenSet(ca), tokenSet(cb)
	if len(ta) == 0 && len(tb) == 0 {
		// Serializations differ but neither yields tokens; treat as
		// near-miss rather than equivalence.
		return 99
	}

	intersection := 0
	for tok := range ta {
		if tb[tok] {
			intersection++
		}
	}
	union := len(ta) + len(tb) - intersection
	if union == 0 {
		return 99
	}

	score := float64(intersection) / float64(union) * 100
	// Only exact canonical equality earns a perfect score.
	if score >= 100 {
		score = 99.9
	}
	return score
}

// tokenSet splits a canonical serialization into alphanumeric tokens.
func tokenSet(s string) map[string]bool {
	tokens := make(map[string]bool)
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			tokens[current.String()] = true
			current.Reset()
		}
	}
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// pairThresholds for recording inconsistencies. A pair below the record
// threshold produces an Inconsistency; below critical it is graded
// critical; above the repairable floor it is auto-repairable.
const (
	pairRecordThreshold   = 95
	pairCriticalThreshold = 90
	pairRepairableFloor   = 90
)

// ConsistencyChecker compares a pattern's payloads pairwise across
// stores.
//
// # Thread Safety
//
// Safe for concurrent use; the checker is stateless beyond its
// comparator.
type ConsistencyChecker struct {
	comparator Comparator
}

// NewConsistencyChecker creates a checker. A nil comparator uses the
// default JaccardComparator.
func NewConsistencyChecker(comparator Comparator) *ConsistencyChecker {
	if comparator == nil {
		comparator = JaccardComparator{}
	}
	return &ConsistencyChecker{comparator: comparator}
}

// Check computes the aggregate consistency score and the inconsistency
// list for one pattern.
//
// Description:
//
//	Only stores with data participate. Fewer than two leaves nothing to
//	compare and scores 100. Every unordered pair is compared; pairs are
//	iterated in lexicographic store order so output ordering is
//	deterministic. The aggregate is the mean of all pairwise scores.
func (c *ConsistencyChecker) Check(patternID string, patternType stores.PatternType, snapshots map[stores.StoreType]stores.StoreSnapshot) (float64, []Inconsistency) {
	var withData []stores.StoreType
	for store, snap := range snapshots {
		if snap.HasData() {
			withData = append(withData, store)
		}
	}
	sort.Slice(withData, func(i, j int) bool { return withData[i] < withData[j] })

	if len(withData) < 2 {
		return 100, nil
	}

	var inconsistencies []Inconsistency
	total := 0.0
	pairs := 0
	for i := 0; i < len(withData); i++ {
		for j := i + 1; j < len(withData); j++ {
			a, b := withData[i], withData[j]
			score := c.comparator.Compare(snapshots[a].Payload, snapshots[b].Payload)
			score = clampScore(score)
			total += score
			pairs++

			if score < pairRecordThreshold {
				severity := SeverityWarning
				if score < pairCriticalThreshold {
					severity = SeverityCritical
				}
				inconsistencies = append(inconsistencies, Inconsistency{
					PatternID:      patternID,
					PatternType:    patternType,
					AffectedStores: []stores.StoreType{a, b},
					Kind:           KindPayloadDivergence,
					Severity:       severity,
					Description:    fmt.Sprintf("payloads in %s and %s diverge (similarity %.1f)", a, b, score),
					AutoRepairable: score > pairRepairableFloor,
					Similarity:     score,
				})
			}
		}
	}

	return total / float64(pairs), inconsistencies
}
