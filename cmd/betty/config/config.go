// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the betty daemon/CLI configuration.
//
// Resolution order, later wins: built-in defaults, YAML file,
// environment variables (BETTY_* prefix).
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/bettyai/betty/services/memory/correctness"
)

// StoresConfig carries connection settings for the four backing stores.
type StoresConfig struct {
	Relational RelationalConfig `yaml:"relational"`
	Graph      GraphConfig      `yaml:"graph"`
	Vector     VectorConfig     `yaml:"vector"`
	Cache      CacheConfig      `yaml:"cache"`
}

type RelationalConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path" env:"BETTY_RELATIONAL_PATH" validate:"required"`
}

type GraphConfig struct {
	URI      string `yaml:"uri" env:"BETTY_GRAPH_URI" validate:"required"`
	Username string `yaml:"username" env:"BETTY_GRAPH_USERNAME"`
	Password string `yaml:"password" env:"BETTY_GRAPH_PASSWORD"`
}

type VectorConfig struct {
	URL string `yaml:"url" env:"BETTY_VECTOR_URL" validate:"required"`

	// Class overrides the Weaviate object class.
	Class string `yaml:"class" env:"BETTY_VECTOR_CLASS"`
}

type CacheConfig struct {
	Path       string `yaml:"path" env:"BETTY_CACHE_PATH" validate:"required"`
	SyncWrites bool   `yaml:"sync_writes" env:"BETTY_CACHE_SYNC_WRITES"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"BETTY_LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`
	Dir   string `yaml:"dir" env:"BETTY_LOG_DIR"`
	JSON  bool   `yaml:"json" env:"BETTY_LOG_JSON"`
}

// Config is the full betty configuration surface.
type Config struct {
	// ProjectID scopes all project-wide operations.
	ProjectID string `yaml:"project_id" env:"BETTY_PROJECT_ID" validate:"required"`

	// MetricsAddr, when set, serves Prometheus metrics on this address
	// in serve mode, e.g. ":9090".
	MetricsAddr string `yaml:"metrics_addr" env:"BETTY_METRICS_ADDR"`

	// BackupPath is the directory for the pre-repair backup database.
	BackupPath string `yaml:"backup_path" env:"BETTY_BACKUP_PATH"`

	Logging LoggingConfig      `yaml:"logging"`
	Stores  StoresConfig       `yaml:"stores"`
	Engine  correctness.Config `yaml:"engine"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ProjectID:  "default",
		BackupPath: "~/.betty/backups",
		Logging:    LoggingConfig{Level: "info"},
		Stores: StoresConfig{
			Relational: RelationalConfig{Path: "~/.betty/patterns.db"},
			Graph:      GraphConfig{URI: "bolt://localhost:7687"},
			Vector:     VectorConfig{URL: "http://localhost:8080"},
			Cache:      CacheConfig{Path: "~/.betty/cache"},
		},
		Engine: correctness.DefaultConfig(),
	}
}

// Load resolves the configuration from defaults, an optional YAML file,
// and environment overrides, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Engine.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
