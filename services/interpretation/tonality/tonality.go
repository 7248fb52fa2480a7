// Copyright (C) 2025 CFO Diagnosis Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package tonality maps a run's overall score and critical-failure state to
// the qualitative stance steering generation language.
package tonality

// Tonality is the four-way stance the generator is instructed to take.
type Tonality string

const (
	// Celebrate: high score, no criticals. Confident, optimization framing.
	Celebrate Tonality = "celebrate"

	// Refine: good score, no criticals. Constructive framing.
	Refine Tonality = "refine"

	// Urgent: criticals present regardless of score. Directive framing.
	Urgent Tonality = "urgent"

	// Remediate: low score, no criticals. Supportive, step-by-step framing.
	Remediate Tonality = "remediate"
)

// Thresholds holds the score cutoffs separating the non-urgent categories.
// The exact values are a product decision; keep them here, named, rather
// than inlined at call sites.
type Thresholds struct {
	// CelebrateMin is the lowest score mapped to Celebrate.
	CelebrateMin float64

	// RefineMin is the lowest score mapped to Refine. Scores below fall
	// through to Remediate.
	RefineMin float64
}

// DefaultThresholds are the current product cutoffs, pending confirmation.
var DefaultThresholds = Thresholds{
	CelebrateMin: 85,
	RefineMin:    60,
}

// Select is the pure, total tonality mapping. Critical failures dominate:
// any critical yields Urgent no matter the score.
func Select(overallScore float64, hasCriticalFailure bool, t Thresholds) Tonality {
	if hasCriticalFailure {
		return Urgent
	}
	switch {
	case overallScore >= t.CelebrateMin:
		return Celebrate
	case overallScore >= t.RefineMin:
		return Refine
	default:
		return Remediate
	}
}
