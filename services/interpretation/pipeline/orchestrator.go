// Copyright (C) 2025 CFO Diagnosis Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package pipeline orchestrates one interpretation generation cycle and
// exposes the service facade consumed by the HTTP handlers.
//
// The orchestrator is a small state machine: precompute, then up to
// MaxAttempts generate/validate rounds, then the template fallback. It
// never returns an error to its caller; every input ends in a surfaced
// section set. Failure of the scored-data load is the one path that yields
// the data-free degenerate output.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/datatypes"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/fallback"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/generator"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/heuristics"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/observability"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/precompute"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/tonality"
)

// MaxAttempts is the generate/validate round budget per cycle. Two rounds
// catch the transient bad generation without letting a systematically
// failing model burn tokens; beyond that the fallback is the better answer.
const MaxAttempts = 2

// Outcome labels for metrics and logs.
const (
	OutcomeCompleted  = "completed"
	OutcomeFallback   = "fallback"
	OutcomeDegenerate = "degenerate"
)

// Result is the terminal product of one generation cycle. Exactly one of
// three shapes: model sections that passed the gate, template fallback
// sections, or the data-free degenerate set.
type Result struct {
	Sections       []datatypes.GeneratedSection
	InputHash      string
	UsedFallback   bool
	Degenerate     bool
	FallbackReason string
	Heuristics     *datatypes.HeuristicResult
	Attempts       int
	Model          string
	Telemetry      datatypes.GenerationTelemetry
}

// Outcome returns the metrics label for this result.
func (r *Result) Outcome() string {
	switch {
	case r.Degenerate:
		return OutcomeDegenerate
	case r.UsedFallback:
		return OutcomeFallback
	default:
		return OutcomeCompleted
	}
}

// Orchestrator runs generation cycles. All collaborators are injected;
// metrics may be nil when running without Prometheus (tests).
type Orchestrator struct {
	builder    *precompute.Builder
	generator  *generator.Generator
	engine     *fallback.Engine
	pillar     *datatypes.PillarConfig
	thresholds tonality.Thresholds
	metrics    *observability.PipelineMetrics
	logger     *slog.Logger
}

// NewOrchestrator wires a generation cycle. Panics on nil builder,
// generator, engine, or pillar, fail-fast for wiring errors.
func NewOrchestrator(
	builder *precompute.Builder,
	gen *generator.Generator,
	engine *fallback.Engine,
	pillar *datatypes.PillarConfig,
	thresholds tonality.Thresholds,
	metrics *observability.PipelineMetrics,
	logger *slog.Logger,
) *Orchestrator {
	if builder == nil || gen == nil || engine == nil || pillar == nil {
		panic("NewOrchestrator: builder, generator, engine, and pillar must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		builder:    builder,
		generator:  gen,
		engine:     engine,
		pillar:     pillar,
		thresholds: thresholds,
		metrics:    metrics,
		logger:     logger,
	}
}

// Run executes one full generation cycle for the run. It never returns an
// error: every failure mode degrades to fallback or degenerate output, and
// the caller persists whatever comes back.
func (o *Orchestrator) Run(ctx context.Context, runID string) *Result {
	started := time.Now()
	result := o.run(ctx, runID)
	o.observe(result, time.Since(started))
	return result
}

func (o *Orchestrator) run(ctx context.Context, runID string) *Result {
	log := o.logger.With("run_id", runID, "pillar", o.pillar.ID)

	input, err := o.builder.Build(ctx, runID)
	if err != nil {
		log.Error("input assembly failed, emitting degenerate output", "error", err)
		return &Result{
			Sections:       fallback.Degenerate(o.pillar),
			UsedFallback:   true,
			Degenerate:     true,
			FallbackReason: "input assembly failed: " + err.Error(),
		}
	}

	hash, err := o.builder.InputHash(ctx, runID)
	if err != nil {
		// The hash only powers the regeneration hint; a valid snapshot
		// still generates without it.
		log.Warn("input hash derivation failed", "error", err)
	}

	tone := tonality.Select(input.OverallScore, input.HasCriticalFailures(), o.thresholds)
	log.Info("starting generation", "tonality", tone, "overall_score", input.OverallScore)

	result := &Result{InputHash: hash}
	var lastHeuristics *datatypes.HeuristicResult
	var lastFailure string

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		result.Attempts = attempt

		output, err := o.generator.Generate(ctx, input, o.pillar, tone)
		if err != nil {
			lastFailure = "generation failed: " + err.Error()
			log.Warn("generation attempt failed", "attempt", attempt, "error", err)
			continue
		}
		result.Model = output.Model
		result.Telemetry.PromptTokens += output.Usage.PromptTokens
		result.Telemetry.CompletionTokens += output.Usage.CompletionTokens

		verdict := heuristics.Evaluate(output.Sections, input, o.pillar)
		lastHeuristics = &verdict
		o.countViolations(verdict)

		if verdict.Passed {
			result.Sections = output.Sections
			result.Heuristics = &verdict
			log.Info("generation accepted", "attempt", attempt, "warnings", len(verdict.Violations))
			return result
		}

		lastFailure = "quality gate rejected output: " + verdict.Summary()
		log.Warn("quality gate rejected attempt", "attempt", attempt, "violations", verdict.Summary())
	}

	result.Sections = o.engine.Render(input, o.pillar)
	result.UsedFallback = true
	result.FallbackReason = lastFailure
	result.Heuristics = lastHeuristics
	log.Warn("attempts exhausted, using template fallback", "reason", lastFailure)
	return result
}

func (o *Orchestrator) countViolations(verdict datatypes.HeuristicResult) {
	if o.metrics == nil {
		return
	}
	for _, v := range verdict.Violations {
		o.metrics.HeuristicViolationsTotal.WithLabelValues(v.Rule, string(v.Severity)).Inc()
	}
}

func (o *Orchestrator) observe(result *Result, elapsed time.Duration) {
	result.Telemetry.LatencyMillis = elapsed.Milliseconds()
	if o.metrics == nil {
		return
	}
	outcome := result.Outcome()
	o.metrics.GenerationsTotal.WithLabelValues(outcome).Inc()
	o.metrics.GenerationDurationSeconds.WithLabelValues(outcome).Observe(elapsed.Seconds())
	o.metrics.AttemptsPerGeneration.Observe(float64(result.Attempts))
	o.metrics.TokensTotal.WithLabelValues("prompt").Add(float64(result.Telemetry.PromptTokens))
	o.metrics.TokensTotal.WithLabelValues("completion").Add(float64(result.Telemetry.CompletionTokens))
}
