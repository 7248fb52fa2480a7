// Copyright (C) 2025 CFO Diagnosis Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package precompute assembles the canonical interpretation input snapshot
// from upstream scored-assessment facts and derives the idempotency hash.
//
// This is the one pipeline stage with no retry: a missing run or malformed
// upstream facts fail the build hard, and the orchestrator answers with the
// data-free degenerate fallback instead of attempting generation.
package precompute

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/datatypes"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/facts"
)

// Priority misalignment rule: stakeholders care a lot, the score says
// otherwise.
const (
	misalignmentImportanceMin = 4
	misalignmentScoreMax      = 50.0
)

// PrecomputeError marks a fatal input-assembly failure. It is never retried;
// the pipeline routes it to the degenerate fallback.
type PrecomputeError struct {
	RunID string
	Err   error
}

func (e *PrecomputeError) Error() string {
	return fmt.Sprintf("precompute failed for run %s: %v", e.RunID, e.Err)
}

func (e *PrecomputeError) Unwrap() error { return e.Err }

// Builder assembles validated InterpretationInput snapshots.
type Builder struct {
	provider facts.Provider
}

// NewBuilder creates a Builder over an upstream facts provider. Panics on
// nil provider, fail-fast for wiring errors.
func NewBuilder(provider facts.Provider) *Builder {
	if provider == nil {
		panic("NewBuilder: provider must not be nil")
	}
	return &Builder{provider: provider}
}

// Build fetches the scored facts for a run, derives the full
// InterpretationInput (including priority misalignments and the closed
// evidence vocabulary) and schema-validates it.
//
// Every error is a *PrecomputeError; callers must not attempt generation
// after a failed build.
func (b *Builder) Build(ctx context.Context, runID string) (*datatypes.InterpretationInput, error) {
	assessment, err := b.provider.ScoredAssessment(ctx, runID)
	if err != nil {
		return nil, &PrecomputeError{RunID: runID, Err: err}
	}

	input := &datatypes.InterpretationInput{
		RunID:            assessment.RunID,
		PillarID:         assessment.PillarID,
		OrganizationName: assessment.OrganizationName,
		Industry:         assessment.Industry,
		OverallScore:     assessment.OverallScore,
		MaturityLevel:    assessment.MaturityLevel,
		MaturityName:     assessment.MaturityName,
		Capped:           assessment.Capped,
		CappingBlockers:  assessment.CappingBlockers,
		Objectives:       assessment.Objectives,
		CriticalFailures: assessment.CriticalFailures,
		FailedGates:      assessment.FailedGates,
	}

	input.PriorityMisalignments = deriveMisalignments(assessment.Objectives)
	input.EvidenceIDs = deriveEvidenceIDs(input)

	if err := input.Validate(); err != nil {
		return nil, &PrecomputeError{RunID: runID, Err: err}
	}
	return input, nil
}

// InputHash computes the stable idempotency digest for a run: sha256 over
// the sorted (question id, answered value) pairs plus the sorted calibration
// map. Identical answer sets hash identically regardless of map ordering;
// any single-character change to an answer changes the digest. This is not
// a security digest.
func (b *Builder) InputHash(ctx context.Context, runID string) (string, error) {
	answers, err := b.provider.AnswerFacts(ctx, runID)
	if err != nil {
		return "", &PrecomputeError{RunID: runID, Err: err}
	}

	questionIDs := make([]string, 0, len(answers.Answers))
	for id := range answers.Answers {
		questionIDs = append(questionIDs, id)
	}
	sort.Strings(questionIDs)

	objectiveIDs := make([]string, 0, len(answers.Calibration))
	for id := range answers.Calibration {
		objectiveIDs = append(objectiveIDs, id)
	}
	sort.Strings(objectiveIDs)

	// Length-prefixed fields so "a"+"bc" can never collide with "ab"+"c".
	var canonical strings.Builder
	writeField := func(s string) {
		canonical.WriteString(strconv.Itoa(len(s)))
		canonical.WriteByte(':')
		canonical.WriteString(s)
		canonical.WriteByte(';')
	}
	for _, id := range questionIDs {
		writeField(id)
		writeField(answers.Answers[id])
	}
	canonical.WriteByte('|')
	for _, id := range objectiveIDs {
		writeField(id)
		writeField(strconv.Itoa(answers.Calibration[id]))
	}

	sum := sha256.Sum256([]byte(canonical.String()))
	return hex.EncodeToString(sum[:]), nil
}

// deriveMisalignments selects objectives with high stakeholder importance
// but low scores, ordered by importance descending then score ascending.
func deriveMisalignments(objectives []datatypes.ObjectiveResult) []datatypes.PriorityMisalignment {
	var out []datatypes.PriorityMisalignment
	for _, obj := range objectives {
		if obj.Importance >= misalignmentImportanceMin && obj.Score < misalignmentScoreMax {
			out = append(out, datatypes.PriorityMisalignment{
				ObjectiveID:   obj.ID,
				ObjectiveName: obj.Name,
				Importance:    obj.Importance,
				Score:         obj.Score,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].Score < out[j].Score
	})
	return out
}

// deriveEvidenceIDs builds the closed citation vocabulary: every token the
// generator may reference maps to a fact already present in the snapshot.
func deriveEvidenceIDs(input *datatypes.InterpretationInput) []string {
	ids := []string{"overall_score", "maturity_level"}
	for _, obj := range input.Objectives {
		ids = append(ids, "obj:"+obj.ID)
	}
	for _, cf := range input.CriticalFailures {
		ids = append(ids, "cf:"+cf.QuestionID)
	}
	for _, gate := range input.FailedGates {
		ids = append(ids, "gate:"+strconv.Itoa(gate.Level))
	}
	for _, mis := range input.PriorityMisalignments {
		ids = append(ids, "misalignment:"+mis.ObjectiveID)
	}
	return ids
}
