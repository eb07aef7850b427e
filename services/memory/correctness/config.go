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

	"github.com/go-playground/validator/v10"

	"github.com/bettyai/betty/services/memory/stores"
)

// Config is the engine configuration surface.
//
// Thresholds are carried over from the deployed defaults; treat them as
// configurable starting points, not proven optima.
type Config struct {
	// IntegrityThresholdPercent is the score below which a pattern is
	// degraded and corruption detection engages. Default: 95.
	IntegrityThresholdPercent float64 `yaml:"integrity_threshold_percent" env:"BETTY_INTEGRITY_THRESHOLD" validate:"gte=0,lte=100"`

	// ConsistencyCheckIntervalMinutes is the suggested cadence for
	// project-wide consistency sweeps. Default: 60.
	ConsistencyCheckIntervalMinutes int `yaml:"consistency_check_interval_minutes" env:"BETTY_CONSISTENCY_INTERVAL_MIN" validate:"gte=1"`

	// ValidationIntervalMinutes is the health monitor tick cadence.
	// Default: 5.
	ValidationIntervalMinutes int `yaml:"validation_interval_minutes" env:"BETTY_VALIDATION_INTERVAL_MIN" validate:"gte=1"`

	// PerformanceThresholdMS is the store response-time budget used by
	// health status mapping. Default: 500.
	PerformanceThresholdMS float64 `yaml:"performance_threshold_ms" env:"BETTY_PERFORMANCE_THRESHOLD_MS" validate:"gt=0"`

	// BackupBeforeRepair runs the backup stage before reconciliation
	// writes. A failed backup is recorded as a failed recovery action;
	// the repair itself still proceeds. Default: true.
	BackupBeforeRepair bool `yaml:"backup_before_repair" env:"BETTY_BACKUP_BEFORE_REPAIR"`

	// MaxConcurrentValidations bounds in-flight pattern validations
	// during project-wide sweeps. Default: 10.
	MaxConcurrentValidations int `yaml:"max_concurrent_validations" env:"BETTY_MAX_CONCURRENT_VALIDATIONS" validate:"gte=1,lte=128"`

	// RollingWindowSize is how many recent validation results the
	// health monitor averages over. Default: 200.
	RollingWindowSize int `yaml:"rolling_window_size" env:"BETTY_ROLLING_WINDOW_SIZE" validate:"gte=1"`

	// SourceOfTruth designates an authoritative store per pattern type
	// for the rebuild_from_source_of_truth strategy. Optional.
	SourceOfTruth map[stores.PatternType]stores.StoreType `yaml:"source_of_truth"`
}

// DefaultConfig returns the deployed defaults.
func DefaultConfig() Config {
	return Config{
		IntegrityThresholdPercent:       95,
		ConsistencyCheckIntervalMinutes: 60,
		ValidationIntervalMinutes:       5,
		PerformanceThresholdMS:          500,
		BackupBeforeRepair:              true,
		MaxConcurrentValidations:        10,
		RollingWindowSize:               200,
	}
}

// Validate checks the configuration.
//
// Outputs:
//
//	error - A *ConfigError if any field is out of range. This is fatal
//	and must stop engine construction.
func (c Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &ConfigError{Field: verrs[0].Field(), Reason: verrs[0].Tag() + " constraint violated"}
		}
		return &ConfigError{Reason: err.Error()}
	}
	for ptype, store := range c.SourceOfTruth {
		if !stores.ValidPatternTypes[ptype] {
			return &ConfigError{Field: "source_of_truth", Reason: "unknown pattern type " + string(ptype)}
		}
		if !validStoreType(store) {
			return &ConfigError{Field: "source_of_truth", Reason: "unknown store type " + string(store)}
		}
	}
	return nil
}

func validStoreType(t stores.StoreType) bool {
	for _, known := range stores.AllStoreTypes {
		if t == known {
			return true
		}
	}
	return false
}
