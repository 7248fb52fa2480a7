// Copyright (C) 2025 CFO Diagnosis Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package precompute

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/datatypes"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/facts"
)

// stubProvider serves canned facts without a database.
type stubProvider struct {
	assessments map[string]*facts.ScoredAssessment
	answers     map[string]*facts.AnswerFacts
}

func (s *stubProvider) ScoredAssessment(ctx context.Context, runID string) (*facts.ScoredAssessment, error) {
	if a, ok := s.assessments[runID]; ok {
		return a, nil
	}
	return nil, facts.ErrRunNotFound
}

func (s *stubProvider) AnswerFacts(ctx context.Context, runID string) (*facts.AnswerFacts, error) {
	if a, ok := s.answers[runID]; ok {
		return a, nil
	}
	return nil, facts.ErrRunNotFound
}

func testAssessment() *facts.ScoredAssessment {
	return &facts.ScoredAssessment{
		RunID:            "run-1",
		PillarID:         "finance",
		OrganizationName: "Acme Corp",
		Industry:         "Manufacturing",
		OverallScore:     64,
		MaturityLevel:    3,
		MaturityName:     "Defined",
		Objectives: []datatypes.ObjectiveResult{
			{ID: "fpa", Name: "Planning and Analysis", Score: 30, Importance: 5},
			{ID: "close", Name: "Financial Close", Score: 82, Importance: 3},
			{ID: "treasury", Name: "Treasury", Score: 45, Importance: 4},
			{ID: "tax", Name: "Tax", Score: 48, Importance: 4},
		},
		CriticalFailures: []datatypes.CriticalFailure{
			{QuestionID: "q17", Title: "No cash forecast exists", ObjectiveName: "Planning and Analysis"},
		},
		FailedGates: []datatypes.FailedGate{
			{Level: 4, QuestionIDs: []string{"q17"}},
		},
	}
}

func newTestBuilder(assessment *facts.ScoredAssessment, answers *facts.AnswerFacts) *Builder {
	provider := &stubProvider{
		assessments: map[string]*facts.ScoredAssessment{},
		answers:     map[string]*facts.AnswerFacts{},
	}
	if assessment != nil {
		provider.assessments[assessment.RunID] = assessment
	}
	if answers != nil {
		provider.answers[answers.RunID] = answers
	}
	return NewBuilder(provider)
}

func TestBuild_AssemblesValidatedInput(t *testing.T) {
	builder := newTestBuilder(testAssessment(), nil)

	input, err := builder.Build(context.Background(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, "run-1", input.RunID)
	assert.Equal(t, "finance", input.PillarID)
	assert.Equal(t, 64.0, input.OverallScore)
	assert.True(t, input.HasCriticalFailures())
	require.NoError(t, input.Validate())
}

func TestBuild_DerivesMisalignmentsInOrder(t *testing.T) {
	builder := newTestBuilder(testAssessment(), nil)

	input, err := builder.Build(context.Background(), "run-1")
	require.NoError(t, err)

	// fpa (importance 5) leads; treasury beats tax on the lower score at
	// equal importance. close never qualifies (importance 3), nor would a
	// high scorer at any importance.
	require.Len(t, input.PriorityMisalignments, 3)
	assert.Equal(t, "fpa", input.PriorityMisalignments[0].ObjectiveID)
	assert.Equal(t, "treasury", input.PriorityMisalignments[1].ObjectiveID)
	assert.Equal(t, "tax", input.PriorityMisalignments[2].ObjectiveID)
}

func TestBuild_EvidenceVocabularyCoversEveryFact(t *testing.T) {
	builder := newTestBuilder(testAssessment(), nil)

	input, err := builder.Build(context.Background(), "run-1")
	require.NoError(t, err)

	set := input.EvidenceSet()
	for _, want := range []string{
		"overall_score", "maturity_level",
		"obj:fpa", "obj:close", "obj:treasury", "obj:tax",
		"cf:q17", "gate:4",
		"misalignment:fpa", "misalignment:treasury", "misalignment:tax",
	} {
		_, ok := set[want]
		assert.True(t, ok, "missing evidence id %s", want)
	}
}

func TestBuild_UnknownRun(t *testing.T) {
	builder := newTestBuilder(nil, nil)

	_, err := builder.Build(context.Background(), "missing")
	require.Error(t, err)

	var pcErr *PrecomputeError
	require.ErrorAs(t, err, &pcErr)
	assert.Equal(t, "missing", pcErr.RunID)
	assert.ErrorIs(t, err, facts.ErrRunNotFound)
}

func TestBuild_InvalidUpstreamFactsFailHard(t *testing.T) {
	assessment := testAssessment()
	assessment.Objectives = nil

	builder := newTestBuilder(assessment, nil)
	_, err := builder.Build(context.Background(), "run-1")

	var pcErr *PrecomputeError
	require.ErrorAs(t, err, &pcErr)
}

func testAnswers() *facts.AnswerFacts {
	return &facts.AnswerFacts{
		RunID: "run-1",
		Answers: map[string]string{
			"q1": "yes",
			"q2": "monthly",
			"q3": "no",
		},
		Calibration: map[string]int{
			"fpa":   5,
			"close": 3,
		},
	}
}

func TestInputHash_Deterministic(t *testing.T) {
	builder := newTestBuilder(nil, testAnswers())

	first, err := builder.InputHash(context.Background(), "run-1")
	require.NoError(t, err)
	second, err := builder.InputHash(context.Background(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestInputHash_SingleCharacterChangeChangesDigest(t *testing.T) {
	base := newTestBuilder(nil, testAnswers())
	baseHash, err := base.InputHash(context.Background(), "run-1")
	require.NoError(t, err)

	changed := testAnswers()
	changed.Answers["q2"] = "monthlY"
	other := newTestBuilder(nil, changed)
	changedHash, err := other.InputHash(context.Background(), "run-1")
	require.NoError(t, err)

	assert.NotEqual(t, baseHash, changedHash)
}

func TestInputHash_CalibrationChangesDigest(t *testing.T) {
	base := newTestBuilder(nil, testAnswers())
	baseHash, err := base.InputHash(context.Background(), "run-1")
	require.NoError(t, err)

	changed := testAnswers()
	changed.Calibration["close"] = 4
	other := newTestBuilder(nil, changed)
	changedHash, err := other.InputHash(context.Background(), "run-1")
	require.NoError(t, err)

	assert.NotEqual(t, baseHash, changedHash)
}

// Moving a suffix between adjacent fields must not collide thanks to the
// length prefixes in the canonical form.
func TestInputHash_FieldBoundariesMatter(t *testing.T) {
	a := &facts.AnswerFacts{RunID: "run-1", Answers: map[string]string{"qa": "bc"}}
	b := &facts.AnswerFacts{RunID: "run-1", Answers: map[string]string{"qab": "c"}}

	hashA, err := newTestBuilder(nil, a).InputHash(context.Background(), "run-1")
	require.NoError(t, err)
	hashB, err := newTestBuilder(nil, b).InputHash(context.Background(), "run-1")
	require.NoError(t, err)

	assert.NotEqual(t, hashA, hashB)
}

func TestInputHash_UnknownRun(t *testing.T) {
	builder := newTestBuilder(nil, nil)
	_, err := builder.InputHash(context.Background(), "missing")
	assert.True(t, errors.Is(err, facts.ErrRunNotFound))
}
