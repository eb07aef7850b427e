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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/bettyai/betty/services/memory/stores"
)

// emptyContentHash marks a pattern with no data in any store.
const emptyContentHash = "empty"

// driftPenalty scales the score when the content hash changed
// unexpectedly between checks.
const driftPenalty = 0.8

// StructuralValidator checks a payload against the expected shape for a
// pattern type. The returned factor is in [0,1]; 1 means the shape is
// fully valid.
type StructuralValidator interface {
	ValidateShape(payload map[string]any) float64
}

// IntegrityScorer computes per-pattern integrity scores.
//
// The drift cache (last seen content hash per pattern) is the only
// mutable state scoring owns. There is no TTL: callers must invalidate
// after any known write, including post-repair.
//
// # Thread Safety
//
// Safe for concurrent use.
type IntegrityScorer struct {
	mu         sync.Mutex
	knownHash  map[string]string // pattern id -> last content hash
	validators map[stores.PatternType]StructuralValidator
	clock      ClockSource
}

// NewIntegrityScorer creates a scorer with an empty drift cache.
//
// Inputs:
//
//	validators - Optional per-type structural validators for deep
//	validation. May be nil.
//	clock - Time source. Nil uses the system clock.
func NewIntegrityScorer(validators map[stores.PatternType]StructuralValidator, clock ClockSource) *IntegrityScorer {
	if clock == nil {
		clock = systemClock{}
	}
	return &IntegrityScorer{
		knownHash:  make(map[string]string),
		validators: validators,
		clock:      clock,
	}
}

// Score computes the integrity score for one pattern from its fresh
// per-store snapshots. Never returns an error: failed fetches count as
// absent data, not fatal conditions.
//
// Description:
//
//	Base score is the fraction of stores holding data, scaled to 100.
//	A drift penalty (×0.8) applies when the content hash changed since
//	the last check. With deep validation, a structural factor in [0,1]
//	from the pattern type's validator applies; no validator means 1.0.
func (s *IntegrityScorer) Score(patternID string, patternType stores.PatternType, snapshots map[stores.StoreType]stores.StoreSnapshot, deep bool) PatternIntegrityScore {
	result := PatternIntegrityScore{
		PatternID:   patternID,
		PatternType: patternType,
		StoresTotal: len(snapshots),
		ComputedAt:  s.clock.Now(),
		Details:     map[string]string{},
	}

	withData := 0
	for _, snap := range snapshots {
		if snap.HasData() {
			withData++
		} else if snap.Err != "" {
			result.Details[string(snap.Store)] = snap.Err
		}
	}
	result.StoresWithData = withData

	if withData == 0 {
		result.Score = 0
		result.ContentHash = emptyContentHash
		result.ChecksumVerified = false
		result.ConfidenceLow, result.ConfidenceHigh = 0, 0
		return result
	}

	hash := contentHash(snapshots)
	result.ContentHash = hash
	result.ChecksumVerified = s.verifyAndRemember(patternID, hash)

	score := 100 * float64(withData) / float64(len(snapshots))
	if !result.ChecksumVerified {
		score *= driftPenalty
		result.Details["drift"] = "content hash changed since last check"
	}

	if deep {
		result.DeepValidated = true
		factor := s.structuralFactor(patternType, snapshots)
		score *= factor
		if factor < 1 {
			result.Details["structural_validity"] = fmt.Sprintf("%.3f", factor)
		}
	}

	result.Score = clampScore(score)

	frac := float64(withData) / float64(len(snapshots))
	halfWidth := maxFloat(5, (1-frac)*20) / 2
	result.ConfidenceLow = clampScore(result.Score - halfWidth)
	result.ConfidenceHigh = clampScore(result.Score + halfWidth)
	return result
}

// verifyAndRemember compares against the cached hash and stores the new
// one. Returns false only when a different hash was previously cached.
func (s *IntegrityScorer) verifyAndRemember(patternID, hash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous, seen := s.knownHash[patternID]
	s.knownHash[patternID] = hash
	return !seen || previous == hash
}

// structuralFactor runs the pattern type's validator over every
// non-null payload and returns the worst factor observed.
func (s *IntegrityScorer) structuralFactor(patternType stores.PatternType, snapshots map[stores.StoreType]stores.StoreSnapshot) float64 {
	validator, ok := s.validators[patternType]
	if !ok || validator == nil {
		return 1.0
	}

	factor := 1.0
	for _, snap := range snapshots {
		if !snap.HasData() {
			continue
		}
		if f := validator.ValidateShape(snap.Payload); f < factor {
			factor = f
		}
	}
	if factor < 0 {
		factor = 0
	}
	return factor
}

// Invalidate drops the cached hash for a pattern. Call after any known
// write so the next check does not misreport drift.
func (s *IntegrityScorer) Invalidate(patternID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.knownHash, patternID)
}

// contentHash hashes the canonical serialization of all non-null
// payloads, iterated in lexicographic store order so the result is
// independent of fetch order.
func contentHash(snapshots map[stores.StoreType]stores.StoreSnapshot) string {
	types := make([]string, 0, len(snapshots))
	for store := range snapshots {
		types = append(types, string(store))
	}
	sort.Strings(types)

	h := sha256.New()
	for _, store := range types {
		snap := snapshots[stores.StoreType(store)]
		if !snap.HasData() {
			continue
		}
		h.Write([]byte(canonicalJSON(snap.Payload)))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// payloadHash hashes a single payload's canonical serialization. Used
// by majority grouping during repair.
func payloadHash(payload map[string]any) string {
	h := sha256.Sum256([]byte(canonicalJSON(payload)))
	return hex.EncodeToString(h[:])
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
