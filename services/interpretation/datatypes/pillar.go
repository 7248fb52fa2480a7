// Copyright (C) 2025 CFO Diagnosis Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Pillar Configuration
// =============================================================================

// SectionConfig fixes the identity and authoring constraints of one
// narrative section. The section set is contractual per pillar: the
// generator must return exactly these sections in this order.
type SectionConfig struct {
	ID       string `json:"id" yaml:"id" validate:"required"`
	Title    string `json:"title" yaml:"title" validate:"required"`
	Guidance string `json:"guidance" yaml:"guidance" validate:"required"`
	MaxWords int    `json:"max_words" yaml:"max_words" validate:"gte=40"`
}

// PillarConfig is a domain profile selecting which narrative structure and
// vocabulary rules apply to an assessment type.
//
// # Fields
//
//   - ID, Name: Pillar identity.
//   - Sections: The fixed, ordered section set.
//   - ForbiddenPhrases: Case-insensitive substrings that must never appear
//     in surfaced text.
//   - LexiconBandThreshold: Score splitting the vocabulary bands. At or
//     above the threshold the generator uses UpperBandVocabulary framing,
//     below it LowerBandVocabulary.
//   - UpperBandVocabulary / LowerBandVocabulary: The banded lexicons.
type PillarConfig struct {
	ID   string `json:"id" yaml:"id" validate:"required"`
	Name string `json:"name" yaml:"name" validate:"required"`

	Sections []SectionConfig `json:"sections" yaml:"sections" validate:"required,min=1,dive"`

	ForbiddenPhrases []string `json:"forbidden_phrases" yaml:"forbidden_phrases"`

	LexiconBandThreshold float64  `json:"lexicon_band_threshold" yaml:"lexicon_band_threshold" validate:"gte=0,lte=100"`
	UpperBandVocabulary  []string `json:"upper_band_vocabulary" yaml:"upper_band_vocabulary" validate:"required,min=1"`
	LowerBandVocabulary  []string `json:"lower_band_vocabulary" yaml:"lower_band_vocabulary" validate:"required,min=1"`
}

// Validate schema-checks the pillar configuration.
func (p *PillarConfig) Validate() error {
	if err := interpValidate.Struct(p); err != nil {
		return fmt.Errorf("pillar %q failed validation: %w", p.ID, err)
	}
	seen := make(map[string]struct{}, len(p.Sections))
	for _, s := range p.Sections {
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("pillar %q has duplicate section id %q", p.ID, s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

// SectionByID returns the config for a section id, or false when the id is
// not part of this pillar.
func (p *PillarConfig) SectionByID(id string) (SectionConfig, bool) {
	for _, s := range p.Sections {
		if s.ID == id {
			return s, true
		}
	}
	return SectionConfig{}, false
}

// LoadPillarFile reads a pillar override from a YAML file. Operators use
// this to re-tune section guidance and the phrase blocklist without a
// rebuild; the compiled-in default remains authoritative otherwise.
func LoadPillarFile(path string) (*PillarConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pillar file: %w", err)
	}
	var pillar PillarConfig
	if err := yaml.Unmarshal(data, &pillar); err != nil {
		return nil, fmt.Errorf("failed to parse pillar file %s: %w", path, err)
	}
	if err := pillar.Validate(); err != nil {
		return nil, err
	}
	return &pillar, nil
}

// DefaultFinancePillar returns the compiled-in finance pillar: five sections
// covering the CFO diagnostic narrative.
func DefaultFinancePillar() *PillarConfig {
	return &PillarConfig{
		ID:   "finance",
		Name: "Finance Function Diagnostic",
		Sections: []SectionConfig{
			{
				ID:       "executive_summary",
				Title:    "Executive Summary",
				Guidance: "Open with the overall score and maturity level, then the single most consequential finding. Address the reader as the CFO of the organization.",
				MaxWords: 160,
			},
			{
				ID:       "strengths",
				Title:    "What Is Working",
				Guidance: "Cover the highest-scoring objectives and what they enable. Do not inflate: only objectives at or above the band threshold belong here.",
				MaxWords: 180,
			},
			{
				ID:       "gaps_and_risks",
				Title:    "Gaps and Risks",
				Guidance: "Cover critical failures first, then failed maturity gates, then low-scoring objectives. Name the owning objective for every critical failure.",
				MaxWords: 220,
			},
			{
				ID:       "priority_actions",
				Title:    "Priority Actions",
				Guidance: "Derive 3-5 concrete actions from the gaps. Order by stakeholder importance; priority misalignments come first.",
				MaxWords: 200,
			},
			{
				ID:       "maturity_outlook",
				Title:    "Maturity Outlook",
				Guidance: "Explain what blocks the next maturity level and what reaching it would change, referencing capping blockers when the level is capped.",
				MaxWords: 160,
			},
		},
		ForbiddenPhrases: []string{
			"as an ai",
			"i cannot",
			"language model",
			"guaranteed outcome",
			"world-class",
			"best-in-class",
			"industry-leading",
		},
		LexiconBandThreshold: 60,
		UpperBandVocabulary:  []string{"solid", "established", "effective", "consistent"},
		LowerBandVocabulary:  []string{"emerging", "developing", "foundational", "early-stage"},
	}
}
