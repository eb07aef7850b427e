// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scheduler drives the engine's periodic work: health
// monitoring ticks and project-wide consistency sweeps.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bettyai/betty/services/memory/correctness"
	"github.com/bettyai/betty/services/memory/stores"
)

// Scheduler owns the cron runner for one project.
//
// # Thread Safety
//
// Start and Stop must be called from a single goroutine; the scheduled
// jobs themselves run concurrently under the engine's own guarantees.
type Scheduler struct {
	engine    *correctness.Engine
	cfg       correctness.Config
	projectID string
	log       *slog.Logger

	runner *cron.Cron
}

// New creates a scheduler for a project. Jobs are registered at Start.
func New(engine *correctness.Engine, cfg correctness.Config, projectID string, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		engine:    engine,
		cfg:       cfg,
		projectID: projectID,
		log:       log,
	}
}

// Start registers the periodic jobs and begins running them.
//
// Description:
//
//	Two jobs: a health tick every ValidationIntervalMinutes and a
//	consistency sweep every ConsistencyCheckIntervalMinutes. Job bodies
//	inherit the supplied context so Stop plus context cancellation
//	ends in-flight work.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.runner != nil {
		return fmt.Errorf("scheduler already started")
	}
	s.runner = cron.New()

	healthSpec := fmt.Sprintf("@every %dm", s.cfg.ValidationIntervalMinutes)
	if _, err := s.runner.AddFunc(healthSpec, func() { s.healthTick(ctx) }); err != nil {
		return fmt.Errorf("registering health tick: %w", err)
	}

	sweepSpec := fmt.Sprintf("@every %dm", s.cfg.ConsistencyCheckIntervalMinutes)
	if _, err := s.runner.AddFunc(sweepSpec, func() { s.consistencySweep(ctx) }); err != nil {
		return fmt.Errorf("registering consistency sweep: %w", err)
	}

	s.runner.Start()
	s.log.InfoContext(ctx, "scheduler started",
		"project_id", s.projectID,
		"health_interval", healthSpec,
		"consistency_interval", sweepSpec)
	return nil
}

// Stop halts scheduling and waits for running jobs to finish, up to the
// given grace period.
func (s *Scheduler) Stop(grace time.Duration) {
	if s.runner == nil {
		return
	}
	stopCtx := s.runner.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(grace):
		s.log.Warn("scheduler stop grace period elapsed with jobs still running")
	}
	s.runner = nil
}

func (s *Scheduler) healthTick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	status := s.engine.MonitorHealth(ctx, s.projectID)
	s.log.InfoContext(ctx, "health tick",
		"project_id", s.projectID,
		"overall", string(status.Overall),
		"overall_score", status.OverallScore,
		"active_corruptions", status.ActiveCorruptions)
	for _, alert := range status.Alerts {
		s.log.WarnContext(ctx, "health alert", "project_id", s.projectID, "alert", alert)
	}
}

func (s *Scheduler) consistencySweep(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	report, err := s.engine.CheckConsistency(ctx, s.projectID, stores.AllPatternTypes())
	if err != nil {
		s.log.ErrorContext(ctx, "consistency sweep failed", "project_id", s.projectID, "error", err)
		return
	}
	s.log.InfoContext(ctx, "consistency sweep complete",
		"project_id", s.projectID,
		"patterns_checked", report.PatternsChecked,
		"consistency_score", report.ConsistencyScore,
		"level", string(report.ConsistencyLevel),
		"inconsistencies", len(report.Inconsistencies))
}
