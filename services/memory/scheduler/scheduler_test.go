// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bettyai/betty/services/memory/backup"
	"github.com/bettyai/betty/services/memory/correctness"
	"github.com/bettyai/betty/services/memory/stores"
)

func newTestEngine(t *testing.T) *correctness.Engine {
	t.Helper()
	adapters := make(map[stores.StoreType]stores.Adapter)
	for _, storeType := range stores.AllStoreTypes {
		adapters[storeType] = stores.NewMemStore(storeType)
	}
	engine, err := correctness.New(correctness.DefaultConfig(), correctness.Options{
		Adapters: adapters,
		Backup:   backup.NewMemorySink(),
	})
	require.NoError(t, err)
	return engine
}

func TestScheduler_StartStop(t *testing.T) {
	sched := New(newTestEngine(t), correctness.DefaultConfig(), "proj", nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, sched.Start(ctx))
	// A second start must be rejected while running.
	require.Error(t, sched.Start(ctx))

	sched.Stop(time.Second)

	// After a clean stop the scheduler can be started again.
	require.NoError(t, sched.Start(ctx))
	sched.Stop(time.Second)
}

func TestScheduler_StopWithoutStart(t *testing.T) {
	sched := New(newTestEngine(t), correctness.DefaultConfig(), "proj", nil)
	sched.Stop(time.Second) // must not panic
}
