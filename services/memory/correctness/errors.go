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
	"errors"
	"fmt"
)

// Sentinel errors for correctness operations.
//
// Per-store I/O failures never surface as errors: adapters fold them
// into snapshots, and the coordinator folds everything else into
// degraded results. These sentinels exist for the few places where an
// error return is part of the contract (construction, repair locking)
// and for classifying failure kinds inside results.
var (
	// ErrStoreUnavailable marks a single store fetch or health check
	// failure. Non-fatal; degrades the score.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrChecksumDrift marks an unexpected content-hash change between
	// checks with no known intervening write.
	ErrChecksumDrift = errors.New("checksum drift detected")

	// ErrCrossStoreInconsistency marks divergent payloads across stores.
	ErrCrossStoreInconsistency = errors.New("cross-store inconsistency")

	// ErrTotalDataLoss marks a pattern no store holds. Non-repairable.
	ErrTotalDataLoss = errors.New("total data loss")

	// ErrRepairFailure marks a reconciliation write that failed on one
	// or more stores.
	ErrRepairFailure = errors.New("repair failure")

	// ErrRepairInProgress is returned when a repair is requested for a
	// pattern that another repair job currently holds locked.
	ErrRepairInProgress = errors.New("repair already in progress")

	// ErrValidationTimeout marks a validation that exceeded the
	// caller-supplied deadline. Surfaces inside results, never as a
	// panic or unhandled error.
	ErrValidationTimeout = errors.New("validation timed out")
)

// ConfigError reports invalid engine configuration.
//
// This is the one fatal error class: it is returned at construction
// time and must stop startup.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %s", e.Reason)
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}
