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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bettyai/betty/services/memory/stores"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{
			name:   "threshold above 100",
			mutate: func(c *Config) { c.IntegrityThresholdPercent = 101 },
			field:  "IntegrityThresholdPercent",
		},
		{
			name:   "negative threshold",
			mutate: func(c *Config) { c.IntegrityThresholdPercent = -1 },
			field:  "IntegrityThresholdPercent",
		},
		{
			name:   "zero consistency interval",
			mutate: func(c *Config) { c.ConsistencyCheckIntervalMinutes = 0 },
			field:  "ConsistencyCheckIntervalMinutes",
		},
		{
			name:   "zero performance threshold",
			mutate: func(c *Config) { c.PerformanceThresholdMS = 0 },
			field:  "PerformanceThresholdMS",
		},
		{
			name:   "excessive concurrency",
			mutate: func(c *Config) { c.MaxConcurrentValidations = 1000 },
			field:  "MaxConcurrentValidations",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			var cfgErr *ConfigError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tc.field, cfgErr.Field)
		})
	}
}

func TestConfigValidate_SourceOfTruth(t *testing.T) {
	t.Run("valid mapping", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.SourceOfTruth = map[stores.PatternType]stores.StoreType{
			stores.PatternDecision: stores.StoreRelational,
		}
		require.NoError(t, cfg.Validate())
	})

	t.Run("unknown store", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.SourceOfTruth = map[stores.PatternType]stores.StoreType{
			stores.PatternDecision: "blob",
		}
		var cfgErr *ConfigError
		require.ErrorAs(t, cfg.Validate(), &cfgErr)
	})

	t.Run("unknown pattern type", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.SourceOfTruth = map[stores.PatternType]stores.StoreType{
			"mystery": stores.StoreRelational,
		}
		var cfgErr *ConfigError
		require.ErrorAs(t, cfg.Validate(), &cfgErr)
	})
}

func TestConfigErrorMessage(t *testing.T) {
	err := &ConfigError{Field: "IntegrityThresholdPercent", Reason: "lte constraint violated"}
	assert.Contains(t, err.Error(), "IntegrityThresholdPercent")

	bare := &ConfigError{Reason: "broken"}
	assert.Equal(t, "invalid configuration: broken", bare.Error())
}
