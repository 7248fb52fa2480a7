// Copyright (C) 2025 CFO Diagnosis Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package heuristics is the deterministic quality gate for generated
// interpretation sections.
//
// Evaluate is a pure function of (sections, input, pillar): no network, no
// model calls, constant time per section. It is the sole determinant of
// whether a generation attempt is accepted.
package heuristics

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/datatypes"
)

// Rule names surfaced in violations and in fallback reasons.
const (
	RuleSectionCount         = "section_count"
	RuleEmptyContent         = "empty_content"
	RuleForbiddenPhrase      = "forbidden_phrase"
	RuleWordCount            = "word_count"
	RuleEvidencePresence     = "evidence_presence"
	RuleEvidenceValidity     = "evidence_validity"
	RuleNumericHallucination = "numeric_hallucination"
)

const (
	// wordCountGrace is the tolerated overshoot before a word_count
	// warning is raised.
	wordCountGrace = 1.2

	// scoreTolerance is the absolute distance within which a cited figure
	// is considered to match a known score.
	scoreTolerance = 2.0
)

// percentPattern matches percentage-like figures: "72%", "72.5 %", "72/100".
var percentPattern = regexp.MustCompile(`(\d{1,3}(?:\.\d+)?)\s*(?:%|/\s*100)`)

// Evaluate runs every rule against the generated sections and returns the
// gate verdict. Passed is true exactly when no violation carries error
// severity; warnings never block.
func Evaluate(sections []datatypes.GeneratedSection, input *datatypes.InterpretationInput, pillar *datatypes.PillarConfig) datatypes.HeuristicResult {
	var violations []datatypes.HeuristicViolation

	if len(sections) != len(pillar.Sections) {
		violations = append(violations, datatypes.HeuristicViolation{
			Rule:     RuleSectionCount,
			Message:  fmt.Sprintf("got %d sections, pillar %q requires %d", len(sections), pillar.ID, len(pillar.Sections)),
			Severity: datatypes.SeverityError,
		})
	}

	evidenceSet := input.EvidenceSet()
	knownScores := input.KnownScores()

	for _, section := range sections {
		violations = append(violations, evaluateSection(section, pillar, evidenceSet, knownScores)...)
	}

	result := datatypes.HeuristicResult{Violations: violations}
	result.Passed = result.ErrorCount() == 0
	return result
}

// evaluateSection applies the per-section rules. Blank content
// short-circuits the remaining rules: they would only produce noise on top
// of an already-fatal violation.
func evaluateSection(section datatypes.GeneratedSection, pillar *datatypes.PillarConfig, evidenceSet map[string]struct{}, knownScores []float64) []datatypes.HeuristicViolation {
	if strings.TrimSpace(section.Content) == "" {
		return []datatypes.HeuristicViolation{{
			Rule:      RuleEmptyContent,
			SectionID: section.ID,
			Message:   "section content is blank",
			Severity:  datatypes.SeverityError,
		}}
	}

	var violations []datatypes.HeuristicViolation
	lower := strings.ToLower(section.Content)

	for _, phrase := range pillar.ForbiddenPhrases {
		if strings.Contains(lower, strings.ToLower(phrase)) {
			violations = append(violations, datatypes.HeuristicViolation{
				Rule:      RuleForbiddenPhrase,
				SectionID: section.ID,
				Message:   fmt.Sprintf("content contains forbidden phrase %q", phrase),
				Severity:  datatypes.SeverityError,
			})
		}
	}

	if config, ok := pillar.SectionByID(section.ID); ok {
		words := len(strings.Fields(section.Content))
		limit := int(float64(config.MaxWords) * wordCountGrace)
		if words > limit {
			violations = append(violations, datatypes.HeuristicViolation{
				Rule:      RuleWordCount,
				SectionID: section.ID,
				Message:   fmt.Sprintf("%d words exceeds the %d-word ceiling (max %d with grace)", words, config.MaxWords, limit),
				Severity:  datatypes.SeverityWarning,
			})
		}
	}

	violations = append(violations, checkEvidence(section, evidenceSet)...)
	violations = append(violations, checkNumbers(section, knownScores)...)
	return violations
}

// checkEvidence enforces citation presence and validity: at least one
// [EV:...] tag, and every tag must resolve to the closed input vocabulary.
func checkEvidence(section datatypes.GeneratedSection, evidenceSet map[string]struct{}) []datatypes.HeuristicViolation {
	tags := datatypes.ExtractEvidenceTags(section.Content)
	if len(tags) == 0 {
		return []datatypes.HeuristicViolation{{
			Rule:      RuleEvidencePresence,
			SectionID: section.ID,
			Message:   "content cites no evidence tokens",
			Severity:  datatypes.SeverityError,
		}}
	}

	var violations []datatypes.HeuristicViolation
	for _, tag := range tags {
		if _, ok := evidenceSet[tag]; !ok {
			violations = append(violations, datatypes.HeuristicViolation{
				Rule:      RuleEvidenceValidity,
				SectionID: section.ID,
				Message:   fmt.Sprintf("citation %q is not in the input evidence set", tag),
				Severity:  datatypes.SeverityError,
			})
		}
	}
	return violations
}

// checkNumbers flags percentage-like figures that match no known score
// within tolerance. A figure the input cannot account for is treated as a
// hallucination regardless of how plausible it reads.
func checkNumbers(section datatypes.GeneratedSection, knownScores []float64) []datatypes.HeuristicViolation {
	var violations []datatypes.HeuristicViolation
	for _, match := range percentPattern.FindAllStringSubmatch(section.Content, -1) {
		value, err := strconv.ParseFloat(match[1], 64)
		if err != nil {
			continue
		}
		if !nearAnyScore(value, knownScores) {
			violations = append(violations, datatypes.HeuristicViolation{
				Rule:      RuleNumericHallucination,
				SectionID: section.ID,
				Message:   fmt.Sprintf("figure %s matches no known score within ±%.1f", match[0], scoreTolerance),
				Severity:  datatypes.SeverityError,
			})
		}
	}
	return violations
}

func nearAnyScore(value float64, scores []float64) bool {
	for _, score := range scores {
		if math.Abs(value-score) <= scoreTolerance {
			return true
		}
	}
	return false
}
