// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/bettyai/betty/cmd/betty/config"
	"github.com/bettyai/betty/pkg/logging"
	"github.com/bettyai/betty/services/memory/backup"
	"github.com/bettyai/betty/services/memory/correctness"
	"github.com/bettyai/betty/services/memory/stores"
)

// runtime holds everything a command needs: the engine, its config, and
// the resources to release on exit.
type runtime struct {
	cfg     config.Config
	log     *slog.Logger
	engine  *correctness.Engine
	closers []func() error
}

// buildRuntime connects to all four stores and assembles the engine.
//
// Description:
//
//	Construction is fail-fast: an unreachable store configuration (bad
//	URI, unwritable path) aborts startup. Runtime store outages after
//	startup degrade scores instead.
func buildRuntime(cfg config.Config) (*runtime, error) {
	logger, closeLog := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Logging.Level),
		LogDir:  cfg.Logging.Dir,
		Service: "betty",
		JSON:    cfg.Logging.JSON,
	})

	rt := &runtime{cfg: cfg, log: logger}
	rt.closers = append(rt.closers, closeLog)

	relational, err := stores.NewRelationalStore(stores.RelationalConfig{
		Path:   expandPath(cfg.Stores.Relational.Path),
		Logger: logger,
	})
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("relational store: %w", err)
	}
	rt.closers = append(rt.closers, relational.Close)

	graph, err := stores.NewGraphStore(stores.GraphConfig{
		URI:      cfg.Stores.Graph.URI,
		Username: cfg.Stores.Graph.Username,
		Password: cfg.Stores.Graph.Password,
		Logger:   logger,
	})
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("graph store: %w", err)
	}
	rt.closers = append(rt.closers, func() error { return graph.Close(context.Background()) })

	vector, err := stores.NewVectorStore(stores.VectorConfig{
		URL:    cfg.Stores.Vector.URL,
		Class:  cfg.Stores.Vector.Class,
		Logger: logger,
	})
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("vector store: %w", err)
	}

	cache, err := stores.NewCacheStore(stores.CacheConfig{
		Path:       expandPath(cfg.Stores.Cache.Path),
		SyncWrites: cfg.Stores.Cache.SyncWrites,
		Logger:     logger,
	})
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("cache store: %w", err)
	}
	rt.closers = append(rt.closers, cache.Close)

	var sink correctness.BackupSink
	if cfg.Engine.BackupBeforeRepair {
		badgerSink, err := backup.NewBadgerSink(backup.BadgerSinkConfig{
			Path:   expandPath(cfg.BackupPath),
			Logger: logger,
		})
		if err != nil {
			rt.close()
			return nil, fmt.Errorf("backup sink: %w", err)
		}
		rt.closers = append(rt.closers, badgerSink.Close)
		sink = badgerSink
	}

	engine, err := correctness.New(cfg.Engine, correctness.Options{
		Adapters: map[stores.StoreType]stores.Adapter{
			stores.StoreRelational: relational,
			stores.StoreGraph:      graph,
			stores.StoreVector:     vector,
			stores.StoreCache:      cache,
		},
		Backup: sink,
		Index:  relational,
		Logger: logger,
	})
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.engine = engine
	return rt, nil
}

// close releases resources in reverse acquisition order.
func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			fmt.Fprintf(os.Stderr, "cleanup: %v\n", err)
		}
	}
	rt.closers = nil
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
