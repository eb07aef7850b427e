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
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// VectorPatternClass is the Weaviate class holding pattern projections.
const VectorPatternClass = "KnowledgePattern"

// VectorStore is the vector adapter backed by Weaviate.
//
// A pattern is projected as one object in the KnowledgePattern class with
// the payload as a JSON string property. Embeddings and semantic search
// belong to the retrieval pipeline; the correctness engine only reads the
// payload property back for comparison.
//
// # Thread Safety
//
// Safe for concurrent use.
type VectorStore struct {
	client  *weaviate.Client
	class   string
	timeout time.Duration
	stats   *opStats
	logger  *slog.Logger
}

// VectorConfig configures the vector adapter.
type VectorConfig struct {
	// URL is the Weaviate endpoint, e.g. "http://localhost:8080".
	URL string

	// Class overrides the object class. Default: KnowledgePattern.
	Class string

	// Timeout bounds every store round-trip. Default: 2s.
	Timeout time.Duration

	// Logger for adapter operations. Default: slog.Default().
	Logger *slog.Logger
}

// NewVectorStore creates the Weaviate client.
func NewVectorStore(cfg VectorConfig) (*VectorStore, error) {
	if cfg.URL == "" {
		return nil, errors.New("url is required")
	}
	if cfg.Class == "" {
		cfg.Class = VectorPatternClass
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	wcfg := weaviate.Config{Host: cfg.URL, Scheme: "http"}
	if strings.HasPrefix(cfg.URL, "https://") {
		wcfg.Scheme = "https"
		wcfg.Host = strings.TrimPrefix(cfg.URL, "https://")
	} else if strings.HasPrefix(cfg.URL, "http://") {
		wcfg.Host = strings.TrimPrefix(cfg.URL, "http://")
	}

	client, err := weaviate.NewClient(wcfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}

	return &VectorStore{
		client:  client,
		class:   cfg.Class,
		timeout: cfg.Timeout,
		stats:   newOpStats(),
		logger:  cfg.Logger.With(slog.String("component", "vector_store")),
	}, nil
}

// Type returns StoreVector.
func (s *VectorStore) Type() StoreType {
	return StoreVector
}

// objectID derives a deterministic Weaviate object ID for a pattern so
// repair writes upsert in place instead of accumulating duplicates.
func (s *VectorStore) objectID(patternID string, patternType PatternType) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(string(patternType)+"/"+patternID)).String()
}

// Fetch reads one pattern object. Never returns an error; failures are
// folded into the snapshot.
func (s *VectorStore) Fetch(ctx context.Context, patternID string, patternType PatternType) StoreSnapshot {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	now := time.Now().UTC()

	where := filters.Where().
		WithOperator(filters.And).
		WithOperands([]*filters.WhereBuilder{
			filters.Where().
				WithPath([]string{"patternId"}).
				WithOperator(filters.Equal).
				WithValueString(patternID),
			filters.Where().
				WithPath([]string{"patternType"}).
				WithOperator(filters.Equal).
				WithValueString(string(patternType)),
		})

	result, err := s.client.GraphQL().Get().
		WithClassName(s.class).
		WithFields(
			graphql.Field{Name: "patternId"},
			graphql.Field{Name: "payload"},
			graphql.Field{Name: "updatedAt"},
		).
		WithWhere(where).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		s.stats.record(true)
		return failedSnapshot(StoreVector, now, err)
	}
	if len(result.Errors) > 0 {
		s.stats.record(true)
		return failedSnapshot(StoreVector, now, fmt.Errorf("graphql error: %s", result.Errors[0].Message))
	}

	objects := s.extractObjects(result.Data)
	if len(objects) == 0 {
		s.stats.record(false)
		return emptySnapshot(StoreVector, now)
	}

	payloadJSON, _ := objects[0]["payload"].(string)
	var payload map[string]any
	if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
		s.stats.record(true)
		return failedSnapshot(StoreVector, now, fmt.Errorf("decode payload: %w", err))
	}

	snap := StoreSnapshot{
		Store:     StoreVector,
		Payload:   payload,
		FetchedAt: now,
	}
	if ms, ok := objects[0]["updatedAt"].(float64); ok {
		writtenAt := time.UnixMilli(int64(ms)).UTC()
		snap.WrittenAt = &writtenAt
	}
	s.stats.record(false)
	return snap
}

// extractObjects unwraps the GraphQL Get response envelope.
func (s *VectorStore) extractObjects(data map[string]models.JSONObject) []map[string]any {
	get, ok := data["Get"].(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := get[s.class].([]any)
	if !ok {
		return nil
	}
	objects := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if obj, ok := item.(map[string]any); ok {
			objects = append(objects, obj)
		}
	}
	return objects
}

// Write upserts one pattern object with the reconciled payload.
func (s *VectorStore) Write(ctx context.Context, patternID string, patternType PatternType, payload map[string]any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	props := map[string]any{
		"patternId":   patternID,
		"patternType": string(patternType),
		"payload":     string(data),
		"updatedAt":   time.Now().UTC().UnixMilli(),
	}
	id := s.objectID(patternID, patternType)

	// Update in place; fall back to create when the object is absent.
	err = s.client.Data().Updater().
		WithClassName(s.class).
		WithID(id).
		WithProperties(props).
		Do(ctx)
	if err != nil {
		_, createErr := s.client.Data().Creator().
			WithClassName(s.class).
			WithID(id).
			WithProperties(props).
			Do(ctx)
		if createErr != nil {
			s.stats.record(true)
			return fmt.Errorf("upsert pattern %s: %w", patternID, createErr)
		}
	}
	s.stats.record(false)
	return nil
}

// HealthCheck runs the Weaviate readiness probe.
func (s *VectorStore) HealthCheck(ctx context.Context) HealthReport {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	ready, err := s.client.Misc().ReadyChecker().Do(ctx)
	elapsed := time.Since(start)

	report := HealthReport{
		Healthy:          err == nil && ready,
		ResponseTimeMS:   float64(elapsed.Microseconds()) / 1000,
		ErrorRatePercent: s.stats.errorRatePercent(),
	}
	if err != nil {
		report.Err = err.Error()
	} else if !ready {
		report.Err = "weaviate reports not ready"
	}
	return report
}
