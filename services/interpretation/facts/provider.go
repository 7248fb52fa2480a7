// Copyright (C) 2025 CFO Diagnosis Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package facts exposes the upstream scored-assessment facts the
// interpretation pipeline consumes. Scoring and aggregation happen
// elsewhere; this package only reads what the scoring service persisted.
package facts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/datatypes"
)

// ErrRunNotFound is returned when no facts exist for a run id.
var ErrRunNotFound = errors.New("run not found")

// =============================================================================
// Fact Types
// =============================================================================

// ScoredAssessment is the upstream fact sheet for one diagnostic run,
// computed by the scoring service and treated as opaque truth here.
type ScoredAssessment struct {
	RunID            string `json:"run_id"`
	PillarID         string `json:"pillar_id"`
	OrganizationName string `json:"organization_name"`
	Industry         string `json:"industry"`

	OverallScore    float64  `json:"overall_score"`
	MaturityLevel   int      `json:"maturity_level"`
	MaturityName    string   `json:"maturity_name"`
	Capped          bool     `json:"capped"`
	CappingBlockers []string `json:"capping_blockers"`

	Objectives       []datatypes.ObjectiveResult `json:"objectives"`
	CriticalFailures []datatypes.CriticalFailure `json:"critical_failures"`
	FailedGates      []datatypes.FailedGate      `json:"failed_gates"`
}

// AnswerFacts are the raw answered values and the calibration map for a run.
// They feed only the input hash; narrative text never sees them.
type AnswerFacts struct {
	RunID string `json:"run_id"`

	// Answers maps question id to the answered value.
	Answers map[string]string `json:"answers"`

	// Calibration maps objective id to stakeholder-assigned importance.
	Calibration map[string]int `json:"calibration"`
}

// =============================================================================
// Provider Interface
// =============================================================================

// Provider serves upstream facts for a run. Implementations must be safe
// for concurrent use and queryable synchronously relative to the precompute
// step.
type Provider interface {
	// ScoredAssessment returns the scored fact sheet for a run.
	// Returns ErrRunNotFound when the run does not exist.
	ScoredAssessment(ctx context.Context, runID string) (*ScoredAssessment, error)

	// AnswerFacts returns the raw answers and calibration for a run.
	// Returns ErrRunNotFound when the run does not exist.
	AnswerFacts(ctx context.Context, runID string) (*AnswerFacts, error)
}

// =============================================================================
// Badger-backed Provider
// =============================================================================

const (
	scoredKeyPrefix  = "facts:scored:"
	answersKeyPrefix = "facts:answers:"
)

// BadgerProvider reads facts from the embedded store the scoring service
// writes into. It also exposes save methods used by the scoring side and by
// tests; the interpretation pipeline itself only reads.
type BadgerProvider struct {
	db *badger.DB
}

// NewBadgerProvider wraps an open badger database. Panics on nil db,
// fail-fast for wiring errors.
func NewBadgerProvider(db *badger.DB) *BadgerProvider {
	if db == nil {
		panic("NewBadgerProvider: db must not be nil")
	}
	return &BadgerProvider{db: db}
}

// ScoredAssessment implements Provider.
func (p *BadgerProvider) ScoredAssessment(ctx context.Context, runID string) (*ScoredAssessment, error) {
	var assessment ScoredAssessment
	if err := p.getJSON(scoredKeyPrefix+runID, &assessment); err != nil {
		return nil, err
	}
	return &assessment, nil
}

// AnswerFacts implements Provider.
func (p *BadgerProvider) AnswerFacts(ctx context.Context, runID string) (*AnswerFacts, error) {
	var answers AnswerFacts
	if err := p.getJSON(answersKeyPrefix+runID, &answers); err != nil {
		return nil, err
	}
	return &answers, nil
}

// SaveScoredAssessment persists a scored fact sheet for a run.
func (p *BadgerProvider) SaveScoredAssessment(ctx context.Context, assessment *ScoredAssessment) error {
	return p.putJSON(scoredKeyPrefix+assessment.RunID, assessment)
}

// SaveAnswerFacts persists raw answers and calibration for a run.
func (p *BadgerProvider) SaveAnswerFacts(ctx context.Context, answers *AnswerFacts) error {
	return p.putJSON(answersKeyPrefix+answers.RunID, answers)
}

func (p *BadgerProvider) getJSON(key string, out any) error {
	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrRunNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", key, err)
	}
	return nil
}

func (p *BadgerProvider) putJSON(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	err = p.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

var _ Provider = (*BadgerProvider)(nil)
