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
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/bettyai/betty/services/memory/observability"
	"github.com/bettyai/betty/services/memory/stores"
)

// ValidateOptions tunes a single pattern validation.
type ValidateOptions struct {
	// Deep enables structural payload validation in addition to
	// presence and checksum checks.
	Deep bool

	// Timeout bounds the validation. Zero means the caller's context is
	// the only bound. On expiry the validation returns a degraded
	// result, never an error.
	Timeout time.Duration

	// IncludeSnapshots carries the raw per-store snapshots in the
	// result, for diagnostics.
	IncludeSnapshots bool
}

// Options carries the engine's collaborators. Adapters is the only
// required field; everything else has a working default.
type Options struct {
	Adapters   map[stores.StoreType]stores.Adapter
	Backup     BackupSink
	Validators map[stores.PatternType]StructuralValidator
	Index      stores.Lister
	Comparator Comparator
	Clock      ClockSource
	Lag        SyncLagEstimator
	Logger     *slog.Logger
}

// Engine validates, audits, repairs, and monitors pattern state across
// the four backing stores. It is the single entry point for correctness
// operations; the sub-components are not meant to be driven directly.
//
// # Thread Safety
//
// Safe for concurrent use.
type Engine struct {
	cfg      Config
	adapters map[stores.StoreType]stores.Adapter
	scorer   *IntegrityScorer
	checker  *ConsistencyChecker
	detector *CorruptionDetector
	repairer *RepairOrchestrator
	monitor  *HealthMonitor
	index    stores.Lister
	lag      SyncLagEstimator
	clock    ClockSource
	log      *slog.Logger
	tracer   trace.Tracer
}

// New constructs an engine.
//
// Outputs:
//
//	error - A *ConfigError when the configuration is invalid, or a plain
//	error when no adapters were supplied. Both are fatal.
func New(cfg Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(opts.Adapters) == 0 {
		return nil, &ConfigError{Field: "adapters", Reason: "at least one store adapter is required"}
	}
	if cfg.BackupBeforeRepair && opts.Backup == nil {
		return nil, &ConfigError{Field: "backup", Reason: "backup_before_repair is set but no backup sink was supplied"}
	}

	clock := opts.Clock
	if clock == nil {
		clock = systemClock{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	lag := opts.Lag
	if lag == nil {
		lag = timestampLagEstimator{}
	}

	scorer := NewIntegrityScorer(opts.Validators, clock)
	checker := NewConsistencyChecker(opts.Comparator)
	return &Engine{
		cfg:      cfg,
		adapters: opts.Adapters,
		scorer:   scorer,
		checker:  checker,
		detector: NewCorruptionDetector(cfg.IntegrityThresholdPercent, clock),
		repairer: NewRepairOrchestrator(opts.Adapters, opts.Backup, scorer, checker, cfg, clock, log),
		monitor:  NewHealthMonitor(opts.Adapters, cfg, clock),
		index:    opts.Index,
		lag:      lag,
		clock:    clock,
		log:      log,
		tracer:   otel.Tracer("memory.correctness"),
	}, nil
}

// ValidatePattern runs the full validation pipeline for one pattern:
// concurrent fetch, integrity scoring, pairwise consistency, corruption
// detection.
//
// Description:
//
//	Never returns an error and never panics outward. Store failures,
//	timeouts, and internal panics all fold into a degraded result so a
//	validation sweep can always complete.
func (e *Engine) ValidatePattern(ctx context.Context, patternID string, patternType stores.PatternType, opts ValidateOptions) (result ValidationResult) {
	started := e.clock.Now()
	ctx, span := e.tracer.Start(ctx, "correctness.Engine.ValidatePattern",
		trace.WithAttributes(
			attribute.String("pattern_id", patternID),
			attribute.String("pattern_type", string(patternType)),
			attribute.Bool("deep", opts.Deep),
		))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			e.log.ErrorContext(ctx, "validation panicked", "pattern_id", patternID, "panic", r)
			span.SetStatus(codes.Error, "validation panicked")
			result = e.degradedResult(patternID, patternType, fmt.Sprintf("internal error: %v", r))
		}
		outcome := "healthy"
		if !result.Healthy(e.cfg.IntegrityThresholdPercent) {
			outcome = "degraded"
		}
		if result.TimedOut {
			outcome = "timeout"
		}
		observability.RecordValidation(outcome, time.Since(started).Seconds(), result.Integrity.Score, result.ConsistencyScore)
	}()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	snapshots := e.fetchConcurrent(ctx, patternID, patternType)
	timedOut := ctx.Err() == context.DeadlineExceeded

	result = ValidationResult{
		PatternID:   patternID,
		PatternType: patternType,
		ValidatedAt: e.clock.Now(),
		TimedOut:    timedOut,
	}

	result.Integrity = e.scorer.Score(patternID, patternType, snapshots, opts.Deep)
	score, inconsistencies := e.checker.Check(patternID, patternType, snapshots)
	result.ConsistencyScore = score
	result.ConsistencyLevel = LevelForScore(score)
	result.Inconsistencies = inconsistencies

	// Fold fetch-level failures into the inconsistency list.
	for _, store := range stores.AllStoreTypes {
		snap, ok := snapshots[store]
		if !ok || snap.Err == "" {
			continue
		}
		result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
			PatternID:      patternID,
			PatternType:    patternType,
			AffectedStores: []stores.StoreType{store},
			Kind:           KindStoreUnavailable,
			Severity:       SeverityWarning,
			Description:    fmt.Sprintf("%s fetch failed: %s", store, snap.Err),
		})
	}
	if !result.Integrity.ChecksumVerified && result.Integrity.StoresWithData > 0 {
		result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
			PatternID:      patternID,
			PatternType:    patternType,
			AffectedStores: dataBearing(snapshots),
			Kind:           KindChecksumDrift,
			Severity:       SeverityWarning,
			Description:    ErrChecksumDrift.Error(),
		})
	}
	if timedOut {
		result.Inconsistencies = append(result.Inconsistencies, Inconsistency{
			PatternID:   patternID,
			PatternType: patternType,
			Kind:        KindTimeout,
			Severity:    SeverityWarning,
			Description: ErrValidationTimeout.Error(),
		})
	}

	result.Corruption = e.detector.Detect(result.Integrity, result.Inconsistencies, snapshots)
	if result.Corruption != nil {
		e.monitor.RecordCorruption(*result.Corruption)
		span.SetStatus(codes.Error, "corruption detected")
		e.log.WarnContext(ctx, "corruption detected",
			"pattern_id", patternID, "kind", string(result.Corruption.Kind),
			"recoverable", result.Corruption.RecoveryPossible)
	}

	result.Recommendations = e.recommend(result, snapshots)
	if opts.IncludeSnapshots {
		result.Snapshots = snapshots
	}

	e.monitor.Observe(result)
	span.SetAttributes(
		attribute.Float64("integrity", result.Integrity.Score),
		attribute.Float64("consistency", result.ConsistencyScore),
	)
	return result
}

// ValidateProject validates every indexed pattern in a project.
//
// Description:
//
//	Pattern validations run concurrently, bounded by
//	MaxConcurrentValidations. Requires an Index; per-pattern results are
//	ordered by pattern id for deterministic output.
func (e *Engine) ValidateProject(ctx context.Context, projectID string, patternTypes []stores.PatternType, opts ValidateOptions) (MemoryValidationResult, error) {
	ctx, span := e.tracer.Start(ctx, "correctness.Engine.ValidateProject",
		trace.WithAttributes(attribute.String("project_id", projectID)))
	defer span.End()

	summary := MemoryValidationResult{
		ProjectID: projectID,
		StartedAt: e.clock.Now(),
	}

	results, err := e.validateAll(ctx, projectID, patternTypes, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pattern listing failed")
		return summary, err
	}

	var integrityTotal, consistencyTotal float64
	for _, result := range results {
		integrityTotal += result.Integrity.Score
		consistencyTotal += result.ConsistencyScore
		switch {
		case result.Corruption != nil:
			summary.CorruptedPatterns++
		case result.Healthy(e.cfg.IntegrityThresholdPercent):
			summary.HealthyPatterns++
		default:
			summary.DegradedPatterns++
		}
	}
	summary.PatternsChecked = len(results)
	summary.Results = results
	if len(results) > 0 {
		summary.AverageIntegrity = integrityTotal / float64(len(results))
		summary.AverageConsistency = consistencyTotal / float64(len(results))
	} else {
		summary.AverageIntegrity = 100
		summary.AverageConsistency = 100
	}
	if summary.CorruptedPatterns > 0 {
		summary.Recommendations = append(summary.Recommendations,
			fmt.Sprintf("%d corrupted patterns, run corruption detection and repair", summary.CorruptedPatterns))
	}
	if summary.AverageIntegrity < e.cfg.IntegrityThresholdPercent {
		summary.Recommendations = append(summary.Recommendations,
			fmt.Sprintf("average integrity %.1f below the %.0f threshold", summary.AverageIntegrity, e.cfg.IntegrityThresholdPercent))
	}
	summary.CompletedAt = e.clock.Now()
	return summary, nil
}

// CheckConsistency sweeps a project and produces the cross-store
// consistency report, including per-store sync lag estimates.
func (e *Engine) CheckConsistency(ctx context.Context, projectID string, patternTypes []stores.PatternType) (ConsistencyReport, error) {
	ctx, span := e.tracer.Start(ctx, "correctness.Engine.CheckConsistency",
		trace.WithAttributes(attribute.String("project_id", projectID)))
	defer span.End()

	report := ConsistencyReport{
		ReportID:    uuid.NewString(),
		ProjectID:   projectID,
		GeneratedAt: e.clock.Now(),
	}

	results, err := e.validateAll(ctx, projectID, patternTypes, ValidateOptions{IncludeSnapshots: true})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pattern listing failed")
		return report, err
	}

	total := 0.0
	worstLag := map[stores.StoreType]float64{}
	for _, result := range results {
		total += result.ConsistencyScore
		report.Inconsistencies = append(report.Inconsistencies, result.Inconsistencies...)
		for store, lag := range e.lag.EstimateLag(result.Snapshots) {
			if lag > worstLag[store] {
				worstLag[store] = lag
			}
		}
	}
	report.PatternsChecked = len(results)
	if len(results) > 0 {
		report.ConsistencyScore = total / float64(len(results))
	} else {
		report.ConsistencyScore = 100
	}
	report.ConsistencyLevel = LevelForScore(report.ConsistencyScore)
	if len(worstLag) > 0 {
		report.SyncLagSeconds = worstLag
	}

	if report.ConsistencyScore < 95 {
		report.Recommendations = append(report.Recommendations,
			"consistency below 95, repair divergent patterns before they spread through sync")
	}
	for _, store := range stores.AllStoreTypes {
		if lag := worstLag[store]; lag > 60 {
			report.Recommendations = append(report.Recommendations,
				fmt.Sprintf("%s trails the newest write by %.0fs, check its sync pipeline", store, lag))
		}
	}
	return report, nil
}

// DetectCorruption sweeps a project and rolls all detected incidents
// into a corruption report suitable for Repair.
func (e *Engine) DetectCorruption(ctx context.Context, projectID string, patternTypes []stores.PatternType) (CorruptionReport, error) {
	ctx, span := e.tracer.Start(ctx, "correctness.Engine.DetectCorruption",
		trace.WithAttributes(attribute.String("project_id", projectID)))
	defer span.End()

	results, err := e.validateAll(ctx, projectID, patternTypes, ValidateOptions{})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pattern listing failed")
		return CorruptionReport{}, err
	}

	var incidents []CorruptionRecord
	for _, result := range results {
		if result.Corruption != nil {
			incidents = append(incidents, *result.Corruption)
		}
	}
	report := e.detector.BuildReport(projectID, len(results), incidents)
	span.SetAttributes(attribute.Int("incidents", len(incidents)))
	return report, nil
}

// Repair reconciles every recoverable incident in a corruption report.
// Successfully repaired incidents are resolved in the health monitor.
func (e *Engine) Repair(ctx context.Context, report CorruptionReport) (RepairResult, error) {
	ctx, span := e.tracer.Start(ctx, "correctness.Engine.Repair",
		trace.WithAttributes(
			attribute.String("report_id", report.ReportID),
			attribute.Int("incidents", len(report.Incidents)),
		))
	defer span.End()

	result, err := e.repairer.Repair(ctx, report)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "repair failed")
		return result, err
	}

	for _, outcome := range result.Outcomes {
		observability.RecordRepair(string(outcome.FinalState))
		if outcome.FinalState == RepairRepaired {
			e.monitor.ResolveCorruption(outcome.PatternID, outcome.PatternType)
		}
	}
	for _, action := range result.RecoveryActions {
		observability.RecordRecoveryAction(string(action.ActionType), action.Success != nil && *action.Success)
	}

	e.log.InfoContext(ctx, "repair run complete",
		"report_id", report.ReportID,
		"repaired", result.PatternsRepaired,
		"failed", result.PatternsFailedRepair,
		"overall_success", result.OverallSuccess)
	return result, nil
}

// MonitorHealth produces a point-in-time health snapshot and publishes
// the per-store gauges.
func (e *Engine) MonitorHealth(ctx context.Context, projectID string) HealthStatus {
	ctx, span := e.tracer.Start(ctx, "correctness.Engine.MonitorHealth",
		trace.WithAttributes(attribute.String("project_id", projectID)))
	defer span.End()

	status := e.monitor.Snapshot(ctx, projectID)
	for store, health := range status.Stores {
		observability.SetStoreHealth(string(store), health.Status.Score())
	}
	observability.SetActiveCorruptions(status.ActiveCorruptions)
	span.SetAttributes(
		attribute.Float64("overall_score", status.OverallScore),
		attribute.String("overall", string(status.Overall)),
	)
	return status
}

// fetchConcurrent pulls snapshots from every adapter in parallel. Each
// fetch is isolated: a panic inside one adapter degrades only that
// store's snapshot.
func (e *Engine) fetchConcurrent(ctx context.Context, patternID string, patternType stores.PatternType) map[stores.StoreType]stores.StoreSnapshot {
	snapshots := make(map[stores.StoreType]stores.StoreSnapshot, len(e.adapters))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for store, adapter := range e.adapters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap := safeFetch(ctx, adapter, patternID, patternType)
			mu.Lock()
			snapshots[store] = snap
			mu.Unlock()
		}()
	}
	wg.Wait()
	return snapshots
}

// safeFetch guards a single adapter fetch against panics.
func safeFetch(ctx context.Context, adapter stores.Adapter, patternID string, patternType stores.PatternType) (snap stores.StoreSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			snap = stores.StoreSnapshot{
				Store: adapter.Type(),
				Err:   fmt.Sprintf("adapter panic: %v", r),
			}
		}
	}()
	return adapter.Fetch(ctx, patternID, patternType)
}

// validateAll lists a project's patterns and validates them with bounded
// concurrency. Results come back sorted by pattern id.
func (e *Engine) validateAll(ctx context.Context, projectID string, patternTypes []stores.PatternType, opts ValidateOptions) ([]ValidationResult, error) {
	if e.index == nil {
		return nil, fmt.Errorf("no pattern index configured for project-wide operations")
	}
	refs, err := e.index.ListPatterns(ctx, projectID, patternTypes)
	if err != nil {
		return nil, fmt.Errorf("listing patterns for project %s: %w", projectID, err)
	}

	sem := semaphore.NewWeighted(int64(e.cfg.MaxConcurrentValidations))
	results := make([]ValidationResult, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	launched := 0
	for i, ref := range refs {
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		launched++
		g.Go(func() error {
			defer sem.Release(1)
			results[i] = e.ValidatePattern(gctx, ref.PatternID, ref.PatternType, opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Cancellation mid-sweep leaves the tail of the slice unvalidated;
	// report only the patterns actually checked.
	results = results[:launched]
	sort.Slice(results, func(i, j int) bool { return results[i].PatternID < results[j].PatternID })
	return results, nil
}

// degradedResult is the floor result returned when validation itself
// failed.
func (e *Engine) degradedResult(patternID string, patternType stores.PatternType, reason string) ValidationResult {
	return ValidationResult{
		PatternID:   patternID,
		PatternType: patternType,
		Integrity: PatternIntegrityScore{
			PatternID:   patternID,
			PatternType: patternType,
			Score:       0,
			ContentHash: emptyContentHash,
			ComputedAt:  e.clock.Now(),
		},
		ConsistencyScore: 0,
		ConsistencyLevel: LevelPoor,
		Inconsistencies: []Inconsistency{{
			PatternID:   patternID,
			PatternType: patternType,
			Kind:        KindInternalError,
			Severity:    SeverityCritical,
			Description: reason,
		}},
		Recommendations: []string{"validation itself failed, retry before trusting any score"},
		ValidatedAt:     e.clock.Now(),
	}
}

// recommend derives operator guidance from a validation result.
func (e *Engine) recommend(result ValidationResult, snapshots map[stores.StoreType]stores.StoreSnapshot) []string {
	var recs []string
	if result.Corruption != nil {
		if result.Corruption.RecoveryPossible {
			recs = append(recs, "corruption is recoverable, run repair with backup enabled")
		} else {
			recs = append(recs, "no store holds this pattern, restore from an external backup")
		}
	}
	for _, store := range stores.AllStoreTypes {
		snap, ok := snapshots[store]
		if !ok {
			continue
		}
		if snap.Err != "" {
			recs = append(recs, fmt.Sprintf("check %s connectivity", store))
		} else if !snap.HasData() && result.Integrity.StoresWithData > 0 {
			recs = append(recs, fmt.Sprintf("resync %s, it is missing this pattern", store))
		}
	}
	if result.Corruption == nil && result.ConsistencyScore < 95 {
		recs = append(recs, "payloads drift across stores, consider a repair before divergence worsens")
	}
	return recs
}
