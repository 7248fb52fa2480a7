// Copyright (C) 2025 CFO Diagnosis Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// =============================================================================
// Persisted Report Rows
// =============================================================================

// ReportStatus is the lifecycle state of a persisted interpretation report.
// A row is created as generating and transitions exactly once to completed
// or failed; both are terminal.
type ReportStatus string

const (
	// StatusGenerating marks a row whose detached worker is still running.
	StatusGenerating ReportStatus = "generating"

	// StatusCompleted marks a row holding surfaced sections. Fallback
	// output also completes: quality-gate and generation failures are
	// absorbed into a fallback-flagged completed result, never failure.
	StatusCompleted ReportStatus = "completed"

	// StatusFailed marks a row whose worker hit a persistence error or an
	// unexpected panic-level fault, or whose deadline expired.
	StatusFailed ReportStatus = "failed"
)

// GenerationTelemetry captures provider accounting for one generation cycle.
type GenerationTelemetry struct {
	PromptTokens     int   `json:"prompt_tokens"`
	CompletionTokens int   `json:"completion_tokens"`
	LatencyMillis    int64 `json:"latency_millis"`
}

// InterpretationReport is one persisted generation attempt: a new version is
// written per accepted request and never mutated after reaching a terminal
// status.
//
// # Invariants
//
//   - Version numbers strictly increase per run id.
//   - At most one row per run is in generating status at a time
//     (transaction-checked on insert).
//   - Sections are only set on completed rows; ErrorMessage only on failed.
type InterpretationReport struct {
	ID      string       `json:"id"`
	RunID   string       `json:"run_id"`
	Version int          `json:"version"`
	Status  ReportStatus `json:"status"`

	Sections []GeneratedSection `json:"sections,omitempty"`

	InputHash      string `json:"input_hash"`
	UsedFallback   bool   `json:"used_fallback"`
	FallbackReason string `json:"fallback_reason,omitempty"`

	Heuristics *HeuristicResult `json:"heuristics,omitempty"`

	Attempts  int                 `json:"attempts"`
	Model     string              `json:"model,omitempty"`
	Telemetry GenerationTelemetry `json:"telemetry"`

	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`

	// Deadline is the instant after which a still-generating row may be
	// reclaimed as failed by the watchdog sweep.
	Deadline time.Time `json:"deadline"`
}

// Terminal reports whether the row has reached a terminal status.
func (r *InterpretationReport) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusFailed
}

// =============================================================================
// Request Surface Responses
// =============================================================================

// TriggerResponse is the body returned by the POST trigger endpoint.
type TriggerResponse struct {
	RunID   string `json:"run_id"`
	Version int    `json:"version"`
	Status  string `json:"status"`
}

// StatusResponse is the body returned by the GET status endpoint: the latest
// version's row verbatim plus the derived regeneration hint.
type StatusResponse struct {
	InterpretationReport
	CanRegenerate bool `json:"can_regenerate"`
}
