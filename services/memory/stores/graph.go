// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// GraphStore is the graph adapter backed by Neo4j.
//
// A pattern is projected as a single (:Pattern {patternId, patternType})
// node carrying the payload as a JSON string property. Relationship-level
// projections belong to the ingestion pipeline; the correctness engine
// only needs the node-local payload to compare against the other stores.
//
// # Thread Safety
//
// Safe for concurrent use; the Neo4j driver manages its own pool.
type GraphStore struct {
	driver  neo4j.DriverWithContext
	timeout time.Duration
	stats   *opStats
	logger  *slog.Logger
}

// GraphConfig configures the graph adapter.
type GraphConfig struct {
	// URI is the bolt endpoint, e.g. "bolt://localhost:7687".
	URI string

	// Username and Password for basic auth. Leave empty for no auth.
	Username string
	Password string

	// Timeout bounds every store round-trip. Default: 2s.
	Timeout time.Duration

	// Logger for adapter operations. Default: slog.Default().
	Logger *slog.Logger
}

// NewGraphStore connects to Neo4j.
//
// Outputs:
//
//	*GraphStore - Ready-to-use adapter. Call Close() when done.
//	error - Non-nil if the driver cannot be constructed.
func NewGraphStore(cfg GraphConfig) (*GraphStore, error) {
	if cfg.URI == "" {
		return nil, errors.New("uri is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}
	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth)
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}

	return &GraphStore{
		driver:  driver,
		timeout: cfg.Timeout,
		stats:   newOpStats(),
		logger:  cfg.Logger.With(slog.String("component", "graph_store")),
	}, nil
}

// Type returns StoreGraph.
func (s *GraphStore) Type() StoreType {
	return StoreGraph
}

// Fetch reads one pattern node. Never returns an error; failures are
// folded into the snapshot.
func (s *GraphStore) Fetch(ctx context.Context, patternID string, patternType PatternType) StoreSnapshot {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	now := time.Now().UTC()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (p:Pattern {patternId: $id, patternType: $type})
		 RETURN p.payload AS payload, p.updatedAt AS updatedAt`,
		map[string]any{"id": patternID, "type": string(patternType)},
	)
	if err != nil {
		s.stats.record(true)
		return failedSnapshot(StoreGraph, now, err)
	}
	if !result.Next(ctx) {
		if err := result.Err(); err != nil {
			s.stats.record(true)
			return failedSnapshot(StoreGraph, now, err)
		}
		s.stats.record(false)
		return emptySnapshot(StoreGraph, now)
	}

	record := result.Record()
	raw, _ := record.Get("payload")
	payloadJSON, ok := raw.(string)
	if !ok {
		s.stats.record(true)
		return failedSnapshot(StoreGraph, now, fmt.Errorf("pattern %s: payload property is %T, want string", patternID, raw))
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		s.stats.record(true)
		return failedSnapshot(StoreGraph, now, fmt.Errorf("decode payload: %w", err))
	}

	snap := StoreSnapshot{
		Store:     StoreGraph,
		Payload:   payload,
		FetchedAt: now,
	}
	if rawAt, found := record.Get("updatedAt"); found {
		if ms, ok := rawAt.(int64); ok {
			writtenAt := time.UnixMilli(ms).UTC()
			snap.WrittenAt = &writtenAt
		}
	}
	s.stats.record(false)
	return snap
}

// Write merges one pattern node with the reconciled payload.
func (s *GraphStore) Write(ctx context.Context, patternID string, patternType PatternType, payload map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err = session.Run(ctx,
		`MERGE (p:Pattern {patternId: $id, patternType: $type})
		 SET p.payload = $payload, p.updatedAt = $updatedAt`,
		map[string]any{
			"id":        patternID,
			"type":      string(patternType),
			"payload":   string(data),
			"updatedAt": time.Now().UTC().UnixMilli(),
		},
	)
	if err != nil {
		s.stats.record(true)
		return fmt.Errorf("merge pattern %s: %w", patternID, err)
	}
	s.stats.record(false)
	return nil
}

// HealthCheck verifies connectivity to the Neo4j server.
func (s *GraphStore) HealthCheck(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := s.driver.VerifyConnectivity(ctx)
	elapsed := time.Since(start)

	report := HealthReport{
		Healthy:          err == nil,
		ResponseTimeMS:   float64(elapsed.Microseconds()) / 1000,
		ErrorRatePercent: s.stats.errorRatePercent(),
	}
	if err != nil {
		report.Err = err.Error()
	}
	return report
}

// Close releases the underlying driver.
func (s *GraphStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}
