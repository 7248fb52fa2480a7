// Copyright (C) 2025 CFO Diagnosis Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package heuristics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/datatypes"
)

// testPillar keeps the section set small so each rule can be exercised
// without hauling the full finance pillar through every case.
func testPillar() *datatypes.PillarConfig {
	return &datatypes.PillarConfig{
		ID:   "finance",
		Name: "Finance Function Diagnostic",
		Sections: []datatypes.SectionConfig{
			{ID: "summary", Title: "Summary", Guidance: "Summarize.", MaxWords: 50},
			{ID: "actions", Title: "Actions", Guidance: "Recommend.", MaxWords: 50},
		},
		ForbiddenPhrases:     []string{"as an AI", "world-class"},
		LexiconBandThreshold: 60,
		UpperBandVocabulary:  []string{"solid"},
		LowerBandVocabulary:  []string{"emerging"},
	}
}

func testInput() *datatypes.InterpretationInput {
	return &datatypes.InterpretationInput{
		RunID:            "run-1",
		PillarID:         "finance",
		OrganizationName: "Acme Corp",
		OverallScore:     72,
		MaturityLevel:    3,
		MaturityName:     "Defined",
		Objectives: []datatypes.ObjectiveResult{
			{ID: "fpa", Name: "Planning and Analysis", Score: 45, Importance: 5},
			{ID: "close", Name: "Financial Close", Score: 88, Importance: 3},
		},
		EvidenceIDs: []string{"overall_score", "maturity_level", "obj:fpa", "obj:close"},
	}
}

func goodSections() []datatypes.GeneratedSection {
	return []datatypes.GeneratedSection{
		{ID: "summary", Title: "Summary", Content: "The function is established overall [EV:overall_score] with planning still emerging [EV:obj:fpa]."},
		{ID: "actions", Title: "Actions", Content: "Focus on planning first [EV:obj:fpa], then protect the close process [EV:obj:close]."},
	}
}

func TestEvaluate_CleanSectionsPass(t *testing.T) {
	result := Evaluate(goodSections(), testInput(), testPillar())
	assert.True(t, result.Passed)
	assert.Empty(t, result.Violations)
}

func TestEvaluate_SectionCountMismatch(t *testing.T) {
	sections := goodSections()[:1]
	result := Evaluate(sections, testInput(), testPillar())
	assert.False(t, result.Passed)
	require.NotEmpty(t, result.Violations)
	assert.Equal(t, RuleSectionCount, result.Violations[0].Rule)
}

// A blank section must yield exactly one violation: piling evidence and
// word-count complaints onto empty text helps nobody.
func TestEvaluate_EmptyContentShortCircuits(t *testing.T) {
	sections := goodSections()
	sections[1].Content = "   "

	result := Evaluate(sections, testInput(), testPillar())
	assert.False(t, result.Passed)

	var forSection []datatypes.HeuristicViolation
	for _, v := range result.Violations {
		if v.SectionID == "actions" {
			forSection = append(forSection, v)
		}
	}
	require.Len(t, forSection, 1)
	assert.Equal(t, RuleEmptyContent, forSection[0].Rule)
}

func TestEvaluate_ForbiddenPhraseCaseInsensitive(t *testing.T) {
	sections := goodSections()
	sections[0].Content = "As an ai advisor I see a solid close [EV:obj:close]."

	result := Evaluate(sections, testInput(), testPillar())
	assert.False(t, result.Passed)

	found := false
	for _, v := range result.Violations {
		if v.Rule == RuleForbiddenPhrase {
			found = true
			assert.Equal(t, "summary", v.SectionID)
		}
	}
	assert.True(t, found, "expected a forbidden_phrase violation")
}

func TestEvaluate_WordCountIsWarningOnly(t *testing.T) {
	sections := goodSections()
	// 50-word ceiling, 20% grace = 60 words tolerated. Write 70.
	sections[0].Content = strings.Repeat("word ", 70) + "[EV:overall_score]"

	result := Evaluate(sections, testInput(), testPillar())
	assert.True(t, result.Passed, "a word_count overshoot alone must not block")

	require.Len(t, result.Violations, 1)
	assert.Equal(t, RuleWordCount, result.Violations[0].Rule)
	assert.Equal(t, datatypes.SeverityWarning, result.Violations[0].Severity)
}

func TestEvaluate_WordCountGraceTolerated(t *testing.T) {
	sections := goodSections()
	// 58 words of content sits inside the 60-word graced limit.
	sections[0].Content = strings.Repeat("word ", 57) + "[EV:overall_score]"

	result := Evaluate(sections, testInput(), testPillar())
	assert.True(t, result.Passed)
	assert.Empty(t, result.Violations)
}

func TestEvaluate_MissingEvidence(t *testing.T) {
	sections := goodSections()
	sections[1].Content = "Focus on planning first, then protect the close process."

	result := Evaluate(sections, testInput(), testPillar())
	assert.False(t, result.Passed)

	found := false
	for _, v := range result.Violations {
		if v.Rule == RuleEvidencePresence && v.SectionID == "actions" {
			found = true
		}
	}
	assert.True(t, found, "expected an evidence_presence violation")
}

func TestEvaluate_UnknownEvidenceToken(t *testing.T) {
	sections := goodSections()
	sections[0].Content = "A claim backed by nothing real [EV:obj:made_up]."

	result := Evaluate(sections, testInput(), testPillar())
	assert.False(t, result.Passed)

	found := false
	for _, v := range result.Violations {
		if v.Rule == RuleEvidenceValidity {
			found = true
			assert.Contains(t, v.Message, "obj:made_up")
		}
	}
	assert.True(t, found, "expected an evidence_validity violation")
}

func TestEvaluate_NumericHallucination(t *testing.T) {
	sections := goodSections()
	// 90% matches neither 72 nor 45/88 within the tolerance.
	sections[0].Content = "The function reached 90% of its potential [EV:overall_score]."

	result := Evaluate(sections, testInput(), testPillar())
	assert.False(t, result.Passed)

	found := false
	for _, v := range result.Violations {
		if v.Rule == RuleNumericHallucination {
			found = true
		}
	}
	assert.True(t, found, "expected a numeric_hallucination violation")
}

func TestEvaluate_NumbersWithinToleranceAccepted(t *testing.T) {
	sections := goodSections()
	// 71% is within ±2.0 of the overall score 72; 87/100 within range of 88.
	sections[0].Content = "Roughly 71% overall [EV:overall_score], with the close near 87/100 [EV:obj:close]."

	result := Evaluate(sections, testInput(), testPillar())
	assert.True(t, result.Passed, "violations: %s", result.Summary())
}

func TestEvaluate_PlainNumbersIgnored(t *testing.T) {
	sections := goodSections()
	// Figures without % or /100 markers are not score claims.
	sections[0].Content = "Plan 3 workstreams over 18 months [EV:overall_score]."

	result := Evaluate(sections, testInput(), testPillar())
	assert.True(t, result.Passed, "violations: %s", result.Summary())
}
