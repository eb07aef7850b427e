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
	"testing"
)

func newTestCache(t *testing.T) *CacheStore {
	t.Helper()
	store, err := NewCacheStore(CacheConfig{InMemory: true})
	if err != nil {
		t.Fatalf("NewCacheStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCacheStore_RoundTrip(t *testing.T) {
	store := newTestCache(t)
	ctx := context.Background()

	payload := map[string]any{"summary": "cached projection"}
	if err := store.Write(ctx, "p1", PatternConversation, payload); err != nil {
		t.Fatalf("Write: %v", err)
	}

	snap := store.Fetch(ctx, "p1", PatternConversation)
	if snap.Err != "" {
		t.Fatalf("Fetch error: %s", snap.Err)
	}
	if snap.Payload["summary"] != "cached projection" {
		t.Errorf("payload = %v", snap.Payload)
	}
	if snap.WrittenAt == nil || snap.WrittenAt.IsZero() {
		t.Error("expected write timestamp from envelope")
	}
}

func TestCacheStore_FetchAbsent(t *testing.T) {
	store := newTestCache(t)

	snap := store.Fetch(context.Background(), "missing", PatternConversation)
	if snap.Err != "" {
		t.Fatalf("absent key must not be an error, got %s", snap.Err)
	}
	if snap.HasData() {
		t.Fatal("expected empty snapshot")
	}
}

func TestCacheStore_KeyIncludesType(t *testing.T) {
	store := newTestCache(t)
	ctx := context.Background()

	if err := store.Write(ctx, "p1", PatternConversation, map[string]any{"v": 1}); err != nil {
		t.Fatal(err)
	}
	snap := store.Fetch(ctx, "p1", PatternDecision)
	if snap.HasData() {
		t.Fatal("different pattern type must miss")
	}
}

func TestCacheStore_HealthCheck(t *testing.T) {
	store := newTestCache(t)
	report := store.HealthCheck(context.Background())
	if !report.Healthy {
		t.Fatalf("expected healthy, got %+v", report)
	}

	store.Close()
	report = store.HealthCheck(context.Background())
	if report.Healthy {
		t.Fatal("closed database must be unhealthy")
	}
}

func TestOpStats(t *testing.T) {
	stats := newOpStats()
	if got := stats.errorRatePercent(); got != 0 {
		t.Fatalf("empty window rate = %v, want 0", got)
	}

	for i := 0; i < 8; i++ {
		stats.record(false)
	}
	stats.record(true)
	stats.record(true)

	if got := stats.errorRatePercent(); got != 20 {
		t.Errorf("rate = %v, want 20", got)
	}
}
