// Copyright (C) 2025 CFO Diagnosis Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/datatypes"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/observability"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/precompute"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/store"
)

// workerBudget bounds a detached generation worker's lifetime. Kept below
// the store row deadline so the worker terminates its own row before the
// watchdog would.
const workerBudget = 4 * time.Minute

// Service is the pipeline facade behind the HTTP surface: it owns the
// report rows, the detached generation workers, and the regeneration hint.
type Service struct {
	reports *store.ReportStore
	orch    *Orchestrator
	builder *precompute.Builder
	metrics *observability.PipelineMetrics
	logger  *slog.Logger

	// hashes collapses concurrent status requests for the same run into one
	// answer-facts read and digest.
	hashes singleflight.Group
}

// NewService wires the facade. Panics on nil reports, orchestrator, or
// builder, fail-fast for wiring errors. metrics may be nil.
func NewService(reports *store.ReportStore, orch *Orchestrator, builder *precompute.Builder, metrics *observability.PipelineMetrics, logger *slog.Logger) *Service {
	if reports == nil || orch == nil || builder == nil {
		panic("NewService: reports, orchestrator, and builder must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		reports: reports,
		orch:    orch,
		builder: builder,
		metrics: metrics,
		logger:  logger,
	}
}

// StartGeneration accepts a generation request: it inserts the versioned
// generating row and launches the detached worker. The returned report is
// the freshly inserted row; store.ErrGenerationInFlight propagates when a
// live generation already holds the run.
//
// The worker runs on a background context, not the request context: the
// caller gets 202 and disconnects, and the row must still reach a terminal
// status.
func (s *Service) StartGeneration(ctx context.Context, runID string) (*datatypes.InterpretationReport, error) {
	report, err := s.reports.StartGeneration(ctx, runID)
	if err != nil {
		return nil, err
	}

	go s.generate(report.RunID, report.Version)
	return report, nil
}

// Status returns the latest report row for the run plus the regeneration
// hint. store.ErrNoReport propagates when the run has no rows.
func (s *Service) Status(ctx context.Context, runID string) (*datatypes.StatusResponse, error) {
	report, err := s.reports.Latest(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &datatypes.StatusResponse{
		InterpretationReport: *report,
		CanRegenerate:        s.canRegenerate(ctx, report),
	}, nil
}

// canRegenerate reports whether re-running generation would act on changed
// input. Never true while a generation is in flight; false when the current
// hash cannot be derived, since a hint based on a guess is worse than none.
func (s *Service) canRegenerate(ctx context.Context, report *datatypes.InterpretationReport) bool {
	if report.Status == datatypes.StatusGenerating {
		return false
	}
	if report.Status == datatypes.StatusFailed {
		// A failed row is always worth retrying.
		return true
	}

	value, err, _ := s.hashes.Do(report.RunID, func() (interface{}, error) {
		return s.builder.InputHash(ctx, report.RunID)
	})
	if err != nil {
		s.logger.Warn("regeneration hint unavailable", "run_id", report.RunID, "error", err)
		return false
	}
	return value.(string) != report.InputHash
}

// generate is the detached worker body: run the cycle, persist the outcome
// onto the row that was inserted for it.
func (s *Service) generate(runID string, version int) {
	if s.metrics != nil {
		s.metrics.ActiveGenerations.Inc()
		defer s.metrics.ActiveGenerations.Dec()
	}

	ctx, cancel := context.WithTimeout(context.Background(), workerBudget)
	defer cancel()

	log := s.logger.With("run_id", runID, "version", version)

	defer func() {
		if r := recover(); r != nil {
			log.Error("generation worker panicked", "panic", r)
			if err := s.reports.MarkFailed(ctx, runID, version, "internal generation fault"); err != nil {
				log.Error("failed to mark panicked row failed", "error", err)
			}
		}
	}()

	result := s.orch.Run(ctx, runID)

	err := s.reports.MarkCompleted(ctx, runID, version, store.CompletionRecord{
		Sections:       result.Sections,
		InputHash:      result.InputHash,
		UsedFallback:   result.UsedFallback,
		FallbackReason: result.FallbackReason,
		Heuristics:     result.Heuristics,
		Attempts:       result.Attempts,
		Model:          result.Model,
		Telemetry:      result.Telemetry,
	})
	if err != nil {
		// The row may have been reclaimed by the watchdog while the worker
		// overran; the terminal state wins and the output is discarded.
		log.Error("failed to persist generation outcome", "outcome", result.Outcome(), "error", err)
		return
	}
	log.Info("generation persisted", "outcome", result.Outcome(), "attempts", result.Attempts)
}
