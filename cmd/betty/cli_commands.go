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
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	cliconfig "github.com/bettyai/betty/cmd/betty/config"
	"github.com/bettyai/betty/services/memory/correctness"
	"github.com/bettyai/betty/services/memory/scheduler"
	"github.com/bettyai/betty/services/memory/stores"
)

var (
	configPath  string
	patternType string
	deep        bool
	timeoutSec  int
	snapshots   bool

	rootCmd = &cobra.Command{
		Use:   "betty",
		Short: "Memory correctness engine for the BETTY knowledge stores",
		Long: `betty validates that knowledge patterns are represented consistently
across the relational, graph, vector, and cache stores, detects and
repairs corruption, and reports store health.`,
		SilenceUsage: true,
	}

	validateCmd = &cobra.Command{
		Use:   "validate [pattern-id]",
		Short: "Validate one pattern across all stores",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Validate every pattern in the project",
		RunE:  runSweep,
	}

	consistencyCmd = &cobra.Command{
		Use:   "consistency",
		Short: "Run a project-wide cross-store consistency check",
		RunE:  runConsistency,
	}

	repairCmd = &cobra.Command{
		Use:   "repair",
		Short: "Detect corruption across the project and repair it",
		Long: `Sweeps the project for corrupted patterns, then reconciles every
recoverable one. Pre-repair snapshots are saved to the backup store
before any write.`,
		RunE: runRepair,
	}

	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Report current store health",
		RunE:  runHealth,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the periodic monitor until interrupted",
		Long: `Starts the scheduler (health ticks and consistency sweeps) and, when
metrics_addr is configured, serves Prometheus metrics. Stops cleanly on
SIGINT/SIGTERM.`,
		RunE: runServe,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to betty config file (YAML)")

	validateCmd.Flags().StringVar(&patternType, "type", string(stores.PatternKnowledgeEntity), "pattern type")
	validateCmd.Flags().BoolVar(&deep, "deep", false, "enable structural payload validation")
	validateCmd.Flags().IntVar(&timeoutSec, "timeout", 0, "validation timeout in seconds (0 = none)")
	validateCmd.Flags().BoolVar(&snapshots, "snapshots", false, "include raw store snapshots in output")

	sweepCmd.Flags().BoolVar(&deep, "deep", false, "enable structural payload validation")

	rootCmd.AddCommand(validateCmd, sweepCmd, consistencyCmd, repairCmd, healthCmd, serveCmd)
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func runValidate(cmd *cobra.Command, args []string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	ptype := stores.PatternType(patternType)
	if !stores.ValidPatternTypes[ptype] {
		return fmt.Errorf("unknown pattern type %q", patternType)
	}

	result := rt.engine.ValidatePattern(cmd.Context(), args[0], ptype, correctness.ValidateOptions{
		Deep:             deep,
		Timeout:          time.Duration(timeoutSec) * time.Second,
		IncludeSnapshots: snapshots,
	})
	return printJSON(result)
}

func runSweep(cmd *cobra.Command, args []string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	summary, err := rt.engine.ValidateProject(cmd.Context(), rt.cfg.ProjectID, stores.AllPatternTypes(),
		correctness.ValidateOptions{Deep: deep})
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func runConsistency(cmd *cobra.Command, args []string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	report, err := rt.engine.CheckConsistency(cmd.Context(), rt.cfg.ProjectID, stores.AllPatternTypes())
	if err != nil {
		return err
	}
	return printJSON(report)
}

func runRepair(cmd *cobra.Command, args []string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	report, err := rt.engine.DetectCorruption(cmd.Context(), rt.cfg.ProjectID, stores.AllPatternTypes())
	if err != nil {
		return err
	}
	if len(report.Incidents) == 0 {
		fmt.Println("no corruption detected")
		return nil
	}

	result, err := rt.engine.Repair(cmd.Context(), report)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func runHealth(cmd *cobra.Command, args []string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	status := rt.engine.MonitorHealth(cmd.Context(), rt.cfg.ProjectID)
	return printJSON(status)
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := setup()
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(rt.engine, rt.cfg.Engine, rt.cfg.ProjectID, rt.log)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop(30 * time.Second)

	var metricsSrv *http.Server
	if rt.cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: rt.cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				rt.log.Error("metrics server failed", "error", err)
			}
		}()
		rt.log.Info("metrics listening", "addr", rt.cfg.MetricsAddr)
	}

	// Immediate first health check so the gauges are populated before
	// the first scheduled tick.
	rt.engine.MonitorHealth(ctx, rt.cfg.ProjectID)

	<-ctx.Done()
	rt.log.Info("shutting down")
	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

func setup() (*runtime, error) {
	cfg, err := cliconfig.Load(configPath)
	if err != nil {
		return nil, err
	}
	return buildRuntime(cfg)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
