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

	"github.com/bettyai/betty/services/memory/stores"
)

// BackupSink persists pre-repair snapshots so a bad reconciliation can
// be rolled back by hand. Implementations live in services/memory/backup.
type BackupSink interface {
	Save(ctx context.Context, patternID string, patternType stores.PatternType, snapshots map[stores.StoreType]stores.StoreSnapshot) error
}

// RepairOrchestrator drives the repair state machine for corrupted
// patterns:
//
//	detected -> backup -> repairing -> revalidating -> repaired | failed
//
// Repairs are the only writes the engine ever issues. Every write and
// backup lands in the append-only RecoveryAction audit trail, including
// failed ones.
//
// # Thread Safety
//
// Safe for concurrent use. Each pattern is guarded by an in-process
// lock; a second repair request for a pattern already under repair fails
// fast with ErrRepairInProgress instead of queueing.
type RepairOrchestrator struct {
	adapters map[stores.StoreType]stores.Adapter
	sink     BackupSink
	scorer   *IntegrityScorer
	checker  *ConsistencyChecker
	cfg      Config
	clock    ClockSource
	log      *slog.Logger

	locks *patternLocks
}

// NewRepairOrchestrator wires a repair orchestrator.
//
// Inputs:
//
//	adapters - One adapter per participating store.
//	sink - Backup destination. Required when cfg.BackupBeforeRepair is
//	set; otherwise may be nil.
//	scorer, checker - Shared with the validation path so the drift cache
//	is invalidated and revalidation uses identical scoring.
func NewRepairOrchestrator(adapters map[stores.StoreType]stores.Adapter, sink BackupSink, scorer *IntegrityScorer, checker *ConsistencyChecker, cfg Config, clock ClockSource, log *slog.Logger) *RepairOrchestrator {
	if clock == nil {
		clock = systemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &RepairOrchestrator{
		adapters: adapters,
		sink:     sink,
		scorer:   scorer,
		checker:  checker,
		cfg:      cfg,
		clock:    clock,
		log:      log,
		locks:    newPatternLocks(),
	}
}

// Repair attempts to reconcile every recoverable incident in a
// corruption report.
//
// Description:
//
//	Patterns are repaired independently: one failure never aborts the
//	rest. Unrecoverable incidents (total loss) are skipped with an audit
//	entry. The error return is reserved for contract-level problems; a
//	report full of failed repairs still returns nil error with the
//	failures described in the result.
func (o *RepairOrchestrator) Repair(ctx context.Context, report CorruptionReport) (RepairResult, error) {
	result := RepairResult{
		CorruptionReportID: report.ReportID,
		StartedAt:          o.clock.Now(),
	}

	unrecoverable := 0
	for _, incident := range report.Incidents {
		if ctx.Err() != nil {
			break
		}

		if !incident.RecoveryPossible {
			unrecoverable++
			result.RecoveryActions = append(result.RecoveryActions, RecoveryAction{
				ActionType:  ActionSkip,
				PatternID:   incident.PatternID,
				Description: "total data loss, no source remains to rebuild from",
				Success:     boolPtr(false),
				ExecutedAt:  timePtr(o.clock.Now()),
				Err:         ErrTotalDataLoss.Error(),
			})
			result.Outcomes = append(result.Outcomes, PatternRepairOutcome{
				PatternID:    incident.PatternID,
				PatternType:  incident.PatternType,
				CorruptionID: incident.CorruptionID,
				FinalState:   RepairFailed,
				Err:          ErrTotalDataLoss.Error(),
			})
			result.PatternsFailedRepair++
			continue
		}

		outcome, actions := o.repairPattern(ctx, incident)
		result.Outcomes = append(result.Outcomes, outcome)
		result.RecoveryActions = append(result.RecoveryActions, actions...)
		if outcome.FinalState == RepairRepaired {
			result.PatternsRepaired++
		} else {
			result.PatternsFailedRepair++
		}
	}

	result.CompletedAt = o.clock.Now()
	result.OverallSuccess = result.PatternsFailedRepair == 0 && len(result.Outcomes) > 0
	result.IntegrityRestored = result.PatternsFailedRepair == unrecoverable
	if len(report.Incidents) > 0 {
		result.DataLossPercent = 100 * float64(unrecoverable) / float64(len(report.Incidents))
	}
	return result, nil
}

// repairPattern runs one pattern through the full state machine.
func (o *RepairOrchestrator) repairPattern(ctx context.Context, incident CorruptionRecord) (PatternRepairOutcome, []RecoveryAction) {
	outcome := PatternRepairOutcome{
		PatternID:    incident.PatternID,
		PatternType:  incident.PatternType,
		CorruptionID: incident.CorruptionID,
		FinalState:   RepairDetected,
	}

	if !o.locks.acquire(lockKey(incident.PatternID, incident.PatternType)) {
		outcome.FinalState = RepairFailed
		outcome.Err = ErrRepairInProgress.Error()
		return outcome, nil
	}
	defer o.locks.release(lockKey(incident.PatternID, incident.PatternType))

	var actions []RecoveryAction

	snapshots := o.fetchAll(ctx, incident.PatternID, incident.PatternType)
	pre := o.scorer.Score(incident.PatternID, incident.PatternType, snapshots, false)
	outcome.PreRepairIntegrity = pre.Score

	if pre.StoresWithData == 0 {
		outcome.FinalState = RepairFailed
		outcome.Err = ErrTotalDataLoss.Error()
		return outcome, actions
	}

	// Backup stage. A failed backup is surfaced as a failed recovery
	// action but does not abort the repair; the incident is already
	// corrupt and reconciliation is still the better outcome.
	if o.cfg.BackupBeforeRepair {
		outcome.FinalState = RepairBackingUp
		action := RecoveryAction{
			ActionType:  ActionBackup,
			PatternID:   incident.PatternID,
			Description: "snapshot all stores before reconciliation",
			ExecutedAt:  timePtr(o.clock.Now()),
		}
		switch {
		case o.sink == nil:
			action.Success = boolPtr(false)
			action.Err = "no backup sink configured"
			o.log.WarnContext(ctx, "backup skipped, no sink configured",
				"pattern_id", incident.PatternID)
		default:
			if err := o.sink.Save(ctx, incident.PatternID, incident.PatternType, snapshots); err != nil {
				action.Success = boolPtr(false)
				action.Err = err.Error()
				o.log.WarnContext(ctx, "backup failed, proceeding with repair",
					"pattern_id", incident.PatternID, "error", err)
			} else {
				action.Success = boolPtr(true)
			}
		}
		actions = append(actions, action)
	}

	// Repairing stage: pick the canonical copy and rewrite every store
	// that disagrees with it.
	outcome.FinalState = RepairRepairing
	canonical, source, strategy := o.chooseCanonical(incident.PatternType, snapshots)
	outcome.Strategy = strategy
	canonicalHash := payloadHash(canonical)

	writeFailed := false
	for _, store := range stores.AllStoreTypes {
		adapter, ok := o.adapters[store]
		if !ok {
			continue
		}
		snap := snapshots[store]
		if snap.HasData() && payloadHash(snap.Payload) == canonicalHash {
			continue
		}

		action := RecoveryAction{
			ActionType:  ActionRewrite,
			TargetStore: store,
			PatternID:   incident.PatternID,
			Description: fmt.Sprintf("rewrite from %s (%s)", source, strategy),
			ExecutedAt:  timePtr(o.clock.Now()),
		}
		if err := adapter.Write(ctx, incident.PatternID, incident.PatternType, canonical); err != nil {
			writeFailed = true
			action.Success = boolPtr(false)
			action.Err = err.Error()
			o.log.WarnContext(ctx, "reconciliation write failed",
				"pattern_id", incident.PatternID, "store", store, "error", err)
		} else {
			action.Success = boolPtr(true)
		}
		actions = append(actions, action)
	}

	// Revalidating stage: clear the drift cache (our own writes are
	// expected changes) and verify against the same bar detection uses.
	outcome.FinalState = RepairRevalidating
	o.scorer.Invalidate(incident.PatternID)
	fresh := o.fetchAll(ctx, incident.PatternID, incident.PatternType)
	post := o.scorer.Score(incident.PatternID, incident.PatternType, fresh, false)
	outcome.PostRepairScore = post.Score
	_, inconsistencies := o.checker.Check(incident.PatternID, incident.PatternType, fresh)

	critical := false
	for _, inc := range inconsistencies {
		if inc.Severity == SeverityCritical {
			critical = true
			break
		}
	}

	if post.Score >= o.cfg.IntegrityThresholdPercent && !critical {
		outcome.FinalState = RepairRepaired
		o.log.InfoContext(ctx, "pattern repaired",
			"pattern_id", incident.PatternID, "strategy", string(strategy),
			"pre_integrity", pre.Score, "post_integrity", post.Score)
	} else {
		outcome.FinalState = RepairFailed
		if writeFailed {
			outcome.Err = ErrRepairFailure.Error()
		} else {
			outcome.Err = fmt.Sprintf("revalidation failed: integrity %.1f, critical inconsistency %t", post.Score, critical)
		}
	}
	return outcome, actions
}

// chooseCanonical picks the payload every store will be reconciled to.
//
// Strategy order: a configured source of truth for the pattern type wins
// when that store holds data; otherwise the freshest write timestamp
// when at least two stores report distinct timestamps; otherwise the
// largest agreeing group of stores. All ties break to the
// lexicographically smallest store name so repeated runs pick the same
// winner.
func (o *RepairOrchestrator) chooseCanonical(patternType stores.PatternType, snapshots map[stores.StoreType]stores.StoreSnapshot) (map[string]any, stores.StoreType, RepairStrategy) {
	if truth, ok := o.cfg.SourceOfTruth[patternType]; ok {
		if snap := snapshots[truth]; snap.HasData() {
			return snap.Payload, truth, RebuildFromSourceOfTruth
		}
	}

	withData := dataBearing(snapshots)

	distinct := map[int64]bool{}
	for _, store := range withData {
		if ts := snapshots[store].WrittenAt; ts != nil {
			distinct[ts.UnixMilli()] = true
		}
	}
	if len(distinct) >= 2 {
		var best stores.StoreType
		var bestTS time.Time
		for _, store := range withData {
			ts := snapshots[store].WrittenAt
			if ts == nil {
				continue
			}
			if best == "" || ts.After(bestTS) || (ts.Equal(bestTS) && store < best) {
				best, bestTS = store, *ts
			}
		}
		return snapshots[best].Payload, best, RebuildFromMostRecent
	}

	// Majority vote over payload hashes.
	groups := map[string][]stores.StoreType{}
	for _, store := range withData {
		h := payloadHash(snapshots[store].Payload)
		groups[h] = append(groups[h], store)
	}
	var winner []stores.StoreType
	for _, members := range groups {
		sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
		if winner == nil ||
			len(members) > len(winner) ||
			(len(members) == len(winner) && members[0] < winner[0]) {
			winner = members
		}
	}
	return snapshots[winner[0]].Payload, winner[0], RebuildFromMajority
}

// fetchAll pulls fresh snapshots from every adapter, sequentially; the
// repair path is rare enough that fetch parallelism is not worth the
// coordination.
func (o *RepairOrchestrator) fetchAll(ctx context.Context, patternID string, patternType stores.PatternType) map[stores.StoreType]stores.StoreSnapshot {
	snapshots := make(map[stores.StoreType]stores.StoreSnapshot, len(o.adapters))
	for _, store := range stores.AllStoreTypes {
		adapter, ok := o.adapters[store]
		if !ok {
			continue
		}
		snapshots[store] = adapter.Fetch(ctx, patternID, patternType)
	}
	return snapshots
}

// patternLocks is a non-blocking per-key lock set.
type patternLocks struct {
	mu   sync.Mutex
	held map[string]bool
}

func newPatternLocks() *patternLocks {
	return &patternLocks{held: make(map[string]bool)}
}

func (l *patternLocks) acquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false
	}
	l.held[key] = true
	return true
}

func (l *patternLocks) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
}

func lockKey(patternID string, patternType stores.PatternType) string {
	return string(patternType) + "/" + patternID
}

func boolPtr(v bool) *bool           { return &v }
func timePtr(t time.Time) *time.Time { return &t }
