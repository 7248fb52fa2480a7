// Copyright (C) 2025 CFO Diagnosis Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes provides data structures for the interpretation service.
//
// This file contains the canonical input snapshot consumed by the generation
// pipeline and the section/violation types produced by it. Pillar
// configuration lives in pillar.go, persisted report rows in report.go.
package datatypes

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Evidence Citation Vocabulary
// =============================================================================

// EvidencePattern matches citation tokens embedded in narrative text.
// The delimiter form [EV:token] is shared by the generator prompt contract,
// the quality gate, and the fallback engine. Changing it invalidates all
// three at once, so it lives here rather than in any single component.
var EvidencePattern = regexp.MustCompile(`\[EV:([A-Za-z0-9_.:-]+)\]`)

// FormatEvidenceTag renders an evidence id in the fixed citation form.
func FormatEvidenceTag(id string) string {
	return "[EV:" + id + "]"
}

// ExtractEvidenceTags returns every citation token found in content, in
// order of appearance, duplicates included.
func ExtractEvidenceTags(content string) []string {
	matches := EvidencePattern.FindAllStringSubmatch(content, -1)
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tags = append(tags, m[1])
	}
	return tags
}

// =============================================================================
// Shared Validator Instance
// =============================================================================

// interpValidate is the validator instance for interpretation datatypes.
var interpValidate *validator.Validate

func init() {
	interpValidate = validator.New()
	_ = interpValidate.RegisterValidation("evidenceid", validateEvidenceID)
}

// validateEvidenceID ensures evidence ids are usable inside the [EV:...] tag
// form (no whitespace, no brackets).
func validateEvidenceID(fl validator.FieldLevel) bool {
	id := fl.Field().String()
	if id == "" {
		return false
	}
	return !strings.ContainsAny(id, "[] \t\n")
}

// =============================================================================
// Interpretation Input Snapshot
// =============================================================================

// ObjectiveResult is one scored objective of the assessed pillar.
//
// # Fields
//
//   - ID: Stable objective identifier from the assessment model.
//   - Name: Human-readable objective name.
//   - Score: Objective score on the 0-100 scale.
//   - Importance: Stakeholder-assigned importance, 1 (low) to 5 (critical).
//   - HasCriticalFailure: True when any critical question under this
//     objective was failed.
type ObjectiveResult struct {
	ID                 string  `json:"id" validate:"required"`
	Name               string  `json:"name" validate:"required"`
	Score              float64 `json:"score" validate:"gte=0,lte=100"`
	Importance         int     `json:"importance" validate:"gte=1,lte=5"`
	HasCriticalFailure bool    `json:"has_critical_failure"`
}

// CriticalFailure is a failed critical question surfaced to the narrative.
type CriticalFailure struct {
	QuestionID    string `json:"question_id" validate:"required"`
	Title         string `json:"title" validate:"required"`
	ObjectiveName string `json:"objective_name" validate:"required"`
}

// FailedGate is a maturity gate blocked by specific questions.
type FailedGate struct {
	Level       int      `json:"level" validate:"gte=1"`
	QuestionIDs []string `json:"question_ids" validate:"required,min=1"`
}

// PriorityMisalignment is an objective stakeholders rate as highly important
// but which scored low.
type PriorityMisalignment struct {
	ObjectiveID   string  `json:"objective_id" validate:"required"`
	ObjectiveName string  `json:"objective_name" validate:"required"`
	Importance    int     `json:"importance" validate:"gte=1,lte=5"`
	Score         float64 `json:"score" validate:"gte=0,lte=100"`
}

// InterpretationInput is the immutable value object the pipeline builds once
// per generation attempt from upstream scored-assessment facts.
//
// # Description
//
// Every numeric claim the generator may make must trace to a value already
// present here; the closed EvidenceIDs set is the only citation vocabulary
// the generator is permitted to use. The snapshot is schema-validated before
// any generation attempt, and the pipeline aborts upstream of generation
// when validation fails.
//
// # Validation
//
// Uses go-playground/validator:
//   - RunID, PillarID, OrganizationName, MaturityName: required
//   - OverallScore: 0-100
//   - Objectives: at least one, each element validated
//   - EvidenceIDs: at least one, each usable inside the [EV:...] tag form
type InterpretationInput struct {
	RunID            string `json:"run_id" validate:"required"`
	PillarID         string `json:"pillar_id" validate:"required"`
	OrganizationName string `json:"organization_name" validate:"required"`
	Industry         string `json:"industry"`

	OverallScore    float64  `json:"overall_score" validate:"gte=0,lte=100"`
	MaturityLevel   int      `json:"maturity_level" validate:"gte=0"`
	MaturityName    string   `json:"maturity_name" validate:"required"`
	Capped          bool     `json:"capped"`
	CappingBlockers []string `json:"capping_blockers"`

	Objectives            []ObjectiveResult      `json:"objectives" validate:"required,min=1,dive"`
	CriticalFailures      []CriticalFailure      `json:"critical_failures" validate:"dive"`
	FailedGates           []FailedGate           `json:"failed_gates" validate:"dive"`
	PriorityMisalignments []PriorityMisalignment `json:"priority_misalignments" validate:"dive"`

	EvidenceIDs []string `json:"evidence_ids" validate:"required,min=1,dive,evidenceid"`
}

// Validate schema-checks the snapshot. A non-nil error means the pipeline
// must not attempt generation with this input.
func (in *InterpretationInput) Validate() error {
	if err := interpValidate.Struct(in); err != nil {
		return fmt.Errorf("interpretation input failed schema validation: %w", err)
	}
	return nil
}

// HasCriticalFailures reports whether any critical question was failed.
func (in *InterpretationInput) HasCriticalFailures() bool {
	return len(in.CriticalFailures) > 0
}

// EvidenceSet returns the closed citation vocabulary as a lookup set.
func (in *InterpretationInput) EvidenceSet() map[string]struct{} {
	set := make(map[string]struct{}, len(in.EvidenceIDs))
	for _, id := range in.EvidenceIDs {
		set[id] = struct{}{}
	}
	return set
}

// KnownScores returns every numeric value narrative text may legitimately
// cite: the overall score plus each objective score.
func (in *InterpretationInput) KnownScores() []float64 {
	scores := make([]float64, 0, len(in.Objectives)+1)
	scores = append(scores, in.OverallScore)
	for _, obj := range in.Objectives {
		scores = append(scores, obj.Score)
	}
	return scores
}

// =============================================================================
// Generated Sections
// =============================================================================

// GeneratedSection is one narrative section of an interpretation. Identity
// and count are fixed by the pillar configuration, never chosen by the
// generator.
type GeneratedSection struct {
	ID      string `json:"id" validate:"required"`
	Title   string `json:"title" validate:"required"`
	Content string `json:"content" validate:"required"`
}

// =============================================================================
// Quality Gate Results
// =============================================================================

// Severity grades a heuristic violation.
type Severity string

const (
	// SeverityError blocks acceptance of the generation attempt.
	SeverityError Severity = "error"

	// SeverityWarning is recorded but does not block acceptance.
	SeverityWarning Severity = "warning"
)

// HeuristicViolation is a single rule breach found by the quality gate.
// SectionID is empty for violations that apply to the whole response.
type HeuristicViolation struct {
	Rule      string   `json:"rule"`
	SectionID string   `json:"section_id,omitempty"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
}

// HeuristicResult is the quality gate verdict for one generation attempt.
type HeuristicResult struct {
	Passed     bool                 `json:"passed"`
	Violations []HeuristicViolation `json:"violations"`
}

// ErrorCount returns the number of error-severity violations.
func (r HeuristicResult) ErrorCount() int {
	n := 0
	for _, v := range r.Violations {
		if v.Severity == SeverityError {
			n++
		}
	}
	return n
}

// Summary renders a short machine-readable digest of the violations, used
// as the fallback reason when attempts are exhausted.
func (r HeuristicResult) Summary() string {
	if len(r.Violations) == 0 {
		return ""
	}
	parts := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		if v.SectionID != "" {
			parts = append(parts, v.Rule+"("+v.SectionID+")")
		} else {
			parts = append(parts, v.Rule)
		}
	}
	return strings.Join(parts, ", ")
}
