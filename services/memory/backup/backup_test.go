// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bettyai/betty/services/memory/stores"
)

func sampleSnapshots() map[stores.StoreType]stores.StoreSnapshot {
	return map[stores.StoreType]stores.StoreSnapshot{
		stores.StoreRelational: {Store: stores.StoreRelational, Payload: map[string]any{"v": float64(1)}},
		stores.StoreCache:      {Store: stores.StoreCache, Payload: map[string]any{"v": float64(2)}},
	}
}

func TestBadgerSink_SaveAndList(t *testing.T) {
	sink, err := NewBadgerSink(BadgerSinkConfig{InMemory: true})
	require.NoError(t, err)
	defer sink.Close()

	ctx := context.Background()
	require.NoError(t, sink.Save(ctx, "p1", stores.PatternKnowledgeEntity, sampleSnapshots()))
	require.NoError(t, sink.Save(ctx, "p1", stores.PatternKnowledgeEntity, sampleSnapshots()))
	require.NoError(t, sink.Save(ctx, "other", stores.PatternKnowledgeEntity, sampleSnapshots()))

	entries, err := sink.List(ctx, "p1", stores.PatternKnowledgeEntity)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "p1", entries[0].PatternID)
	assert.Equal(t, map[string]any{"v": float64(1)}, entries[0].Snapshots[stores.StoreRelational].Payload)
	assert.False(t, entries[1].SavedAt.Before(entries[0].SavedAt))
}

func TestBadgerSink_ListEmpty(t *testing.T) {
	sink, err := NewBadgerSink(BadgerSinkConfig{InMemory: true})
	require.NoError(t, err)
	defer sink.Close()

	entries, err := sink.List(context.Background(), "nothing", stores.PatternDecision)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemorySink(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	require.NoError(t, sink.Save(ctx, "p1", stores.PatternDecision, sampleSnapshots()))
	require.NoError(t, sink.Save(ctx, "p2", stores.PatternDecision, sampleSnapshots()))

	assert.Equal(t, 1, sink.SavedFor("p1"))
	assert.Len(t, sink.Entries(), 2)

	sink.FailWith = errors.New("boom")
	err := sink.Save(ctx, "p3", stores.PatternDecision, sampleSnapshots())
	require.Error(t, err)
	assert.Equal(t, 0, sink.SavedFor("p3"))
}

func TestMemorySink_CancelledContext(t *testing.T) {
	sink := NewMemorySink()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, sink.Save(ctx, "p1", stores.PatternDecision, sampleSnapshots()))
}
