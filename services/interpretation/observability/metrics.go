// Copyright (C) 2025 CFO Diagnosis Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the interpretation
// pipeline.
//
// Metrics are exposed via the /metrics endpoint. All operations are
// thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "cfodiagnosis"

const pipelineSubsystem = "interpretation"

// PipelineMetrics holds all Prometheus metrics for interpretation
// generation. Initialize once at startup via InitMetrics().
type PipelineMetrics struct {
	// GenerationsTotal counts finished generation cycles.
	// Labels: outcome (completed, fallback, degenerate, failed)
	GenerationsTotal *prometheus.CounterVec

	// AttemptsPerGeneration observes how many generate/validate attempts
	// each cycle consumed before settling.
	AttemptsPerGeneration prometheus.Histogram

	// HeuristicViolationsTotal counts quality-gate violations by rule.
	// Labels: rule, severity
	HeuristicViolationsTotal *prometheus.CounterVec

	// TokensTotal counts completion-service tokens.
	// Labels: direction (prompt, completion)
	TokensTotal *prometheus.CounterVec

	// GenerationDurationSeconds measures full-cycle duration.
	// Labels: outcome
	GenerationDurationSeconds *prometheus.HistogramVec

	// ActiveGenerations tracks detached workers currently running.
	ActiveGenerations prometheus.Gauge

	// WatchdogReclaimsTotal counts stuck generating rows swept to failed.
	WatchdogReclaimsTotal prometheus.Counter
}

// DefaultMetrics is the singleton instance, set by InitMetrics().
var DefaultMetrics *PipelineMetrics

// InitMetrics creates and registers all pipeline metrics. Call once at
// startup; calling twice panics on duplicate registration, which is the
// desired fail-fast behavior for wiring errors.
func InitMetrics() *PipelineMetrics {
	m := &PipelineMetrics{
		GenerationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "generations_total",
			Help:      "Finished interpretation generation cycles by outcome.",
		}, []string{"outcome"}),

		AttemptsPerGeneration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "attempts_per_generation",
			Help:      "Generate/validate attempts consumed per cycle.",
			Buckets:   []float64{0, 1, 2, 3},
		}),

		HeuristicViolationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "heuristic_violations_total",
			Help:      "Quality-gate violations by rule and severity.",
		}, []string{"rule", "severity"}),

		TokensTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "tokens_total",
			Help:      "Completion-service tokens by direction.",
		}, []string{"direction"}),

		GenerationDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "generation_duration_seconds",
			Help:      "Full generation cycle duration by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"outcome"}),

		ActiveGenerations: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "active_generations",
			Help:      "Detached generation workers currently running.",
		}),

		WatchdogReclaimsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: pipelineSubsystem,
			Name:      "watchdog_reclaims_total",
			Help:      "Stuck generating rows swept to failed by the watchdog.",
		}),
	}

	DefaultMetrics = m
	return m
}
