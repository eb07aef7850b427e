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
	"time"

	"github.com/bettyai/betty/services/memory/stores"
)

// ClockSource abstracts time for testability.
type ClockSource interface {
	Now() time.Time
}

// systemClock is the default ClockSource.
type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

// SyncLagEstimator estimates the write-time skew between stores for one
// pattern, in seconds. Injectable so deployments with reliable store
// timestamps can substitute a domain-aware estimator.
type SyncLagEstimator interface {
	EstimateLag(snapshots map[stores.StoreType]stores.StoreSnapshot) map[stores.StoreType]float64
}

// timestampLagEstimator is the default estimator: for every store that
// reports a write timestamp, the lag is its distance behind the newest
// reported write. Stores without timestamps are omitted.
type timestampLagEstimator struct{}

func (timestampLagEstimator) EstimateLag(snapshots map[stores.StoreType]stores.StoreSnapshot) map[stores.StoreType]float64 {
	var newest time.Time
	seen := 0
	for _, snap := range snapshots {
		if snap.WrittenAt == nil {
			continue
		}
		seen++
		if snap.WrittenAt.After(newest) {
			newest = *snap.WrittenAt
		}
	}
	if seen < 2 {
		return nil
	}

	lags := make(map[stores.StoreType]float64, seen)
	for store, snap := range snapshots {
		if snap.WrittenAt == nil {
			continue
		}
		lags[store] = newest.Sub(*snap.WrittenAt).Seconds()
	}
	return lags
}
