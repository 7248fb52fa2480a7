// Copyright (C) 2025 CFO Diagnosis Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package store persists interpretation report rows with per-run
// versioning, single-flight generation enforcement, and a watchdog for
// stuck rows.
//
// Rows live in the embedded badger database under keys of the form
// `report:<run id>:<version>` with the version zero-padded so lexicographic
// key order matches numeric version order. The generating-row check and the
// new-row insert run inside one transaction, turning the check-then-act
// race into a hard conflict within a process; across processes the
// monotonic key still keeps versions unique.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/datatypes"
)

const reportKeyPrefix = "report:"

// DefaultGenerationDeadline bounds how long a row may sit in generating
// status before the watchdog may reclaim it.
const DefaultGenerationDeadline = 5 * time.Minute

var (
	// ErrGenerationInFlight is returned when a generating row already
	// exists for the run. Callers surface this as an HTTP conflict.
	ErrGenerationInFlight = errors.New("a generation is already in flight for this run")

	// ErrNoReport is returned when a run has no report rows yet.
	ErrNoReport = errors.New("no interpretation report exists for this run")

	// ErrReportTerminal is returned on an attempt to update a row that
	// already reached completed or failed. Terminal rows are immutable.
	ErrReportTerminal = errors.New("report row is already terminal")
)

// CompletionRecord carries the orchestrator output written onto a row when
// it transitions to completed.
type CompletionRecord struct {
	Sections       []datatypes.GeneratedSection
	InputHash      string
	UsedFallback   bool
	FallbackReason string
	Heuristics     *datatypes.HeuristicResult
	Attempts       int
	Model          string
	Telemetry      datatypes.GenerationTelemetry
}

// ReportStore persists interpretation report rows in badger.
type ReportStore struct {
	db       *badger.DB
	deadline time.Duration
}

// NewReportStore wraps an open badger database. Panics on nil db,
// fail-fast for wiring errors.
func NewReportStore(db *badger.DB) *ReportStore {
	if db == nil {
		panic("NewReportStore: db must not be nil")
	}
	return &ReportStore{db: db, deadline: DefaultGenerationDeadline}
}

// WithDeadline overrides the generating-row deadline, used by tests.
func (s *ReportStore) WithDeadline(d time.Duration) *ReportStore {
	s.deadline = d
	return s
}

// reportKey builds the badger key for one row. Versions are zero-padded to
// ten digits so key order equals version order under prefix iteration.
func reportKey(runID string, version int) []byte {
	return []byte(fmt.Sprintf("%s%s:%010d", reportKeyPrefix, runID, version))
}

func runPrefix(runID string) []byte {
	return []byte(reportKeyPrefix + runID + ":")
}

// StartGeneration inserts a new generating row for the run and returns it.
//
// Inside a single transaction it scans the run's existing rows: a live
// generating row rejects the request with ErrGenerationInFlight; an
// expired generating row is reclaimed as failed first (the inline
// equivalent of a watchdog sweep). The new row takes version max+1.
func (s *ReportStore) StartGeneration(ctx context.Context, runID string) (*datatypes.InterpretationReport, error) {
	now := time.Now().UTC()
	report := &datatypes.InterpretationReport{
		ID:        uuid.NewString(),
		RunID:     runID,
		Version:   1,
		Status:    datatypes.StatusGenerating,
		CreatedAt: now,
		Deadline:  now.Add(s.deadline),
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = runPrefix(runID)
		it := txn.NewIterator(opts)
		defer it.Close()

		maxVersion := 0
		for it.Rewind(); it.Valid(); it.Next() {
			var existing datatypes.InterpretationReport
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &existing)
			})
			if err != nil {
				return fmt.Errorf("failed to decode report row: %w", err)
			}
			if existing.Version > maxVersion {
				maxVersion = existing.Version
			}
			if existing.Status == datatypes.StatusGenerating {
				if now.Before(existing.Deadline) {
					return ErrGenerationInFlight
				}
				// Expired in-flight row: reclaim it before starting anew.
				existing.Status = datatypes.StatusFailed
				existing.ErrorMessage = "generation timed out"
				existing.CompletedAt = now
				if err := writeRow(txn, &existing); err != nil {
					return err
				}
			}
		}

		report.Version = maxVersion + 1
		return writeRow(txn, report)
	})
	if err != nil {
		if errors.Is(err, ErrGenerationInFlight) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to start generation for run %s: %w", runID, err)
	}
	return report, nil
}

// MarkCompleted transitions a generating row to completed with the
// orchestrator output. The transition happens exactly once; a terminal row
// yields ErrReportTerminal.
func (s *ReportStore) MarkCompleted(ctx context.Context, runID string, version int, rec CompletionRecord) error {
	return s.transition(runID, version, func(row *datatypes.InterpretationReport) {
		row.Status = datatypes.StatusCompleted
		row.Sections = rec.Sections
		row.InputHash = rec.InputHash
		row.UsedFallback = rec.UsedFallback
		row.FallbackReason = rec.FallbackReason
		row.Heuristics = rec.Heuristics
		row.Attempts = rec.Attempts
		row.Model = rec.Model
		row.Telemetry = rec.Telemetry
		row.CompletedAt = time.Now().UTC()
	})
}

// MarkFailed transitions a generating row to failed with the caught
// message. Reserved for persistence errors and unexpected worker faults;
// generation-quality problems complete with the fallback instead.
func (s *ReportStore) MarkFailed(ctx context.Context, runID string, version int, message string) error {
	return s.transition(runID, version, func(row *datatypes.InterpretationReport) {
		row.Status = datatypes.StatusFailed
		row.ErrorMessage = message
		row.CompletedAt = time.Now().UTC()
	})
}

// Latest returns the highest-version row for the run, or ErrNoReport.
func (s *ReportStore) Latest(ctx context.Context, runID string) (*datatypes.InterpretationReport, error) {
	var latest *datatypes.InterpretationReport
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = runPrefix(runID)
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration must seek past the prefix range first.
		seek := append(runPrefix(runID), 0xFF)
		it.Seek(seek)
		if !it.ValidForPrefix(runPrefix(runID)) {
			return ErrNoReport
		}
		var row datatypes.InterpretationReport
		err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &row)
		})
		if err != nil {
			return fmt.Errorf("failed to decode report row: %w", err)
		}
		latest = &row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return latest, nil
}

// SweepExpired marks every generating row whose deadline has passed as
// failed with a timeout reason, returning the number of rows reclaimed.
func (s *ReportStore) SweepExpired(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	reclaimed := 0
	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(reportKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var row datatypes.InterpretationReport
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &row)
			})
			if err != nil {
				return fmt.Errorf("failed to decode report row: %w", err)
			}
			if row.Status != datatypes.StatusGenerating || now.Before(row.Deadline) {
				continue
			}
			row.Status = datatypes.StatusFailed
			row.ErrorMessage = "generation timed out"
			row.CompletedAt = now
			if err := writeRow(txn, &row); err != nil {
				return err
			}
			reclaimed++
		}
		return nil
	})
	if err != nil {
		return reclaimed, fmt.Errorf("sweep failed: %w", err)
	}
	return reclaimed, nil
}

// transition applies a terminal mutation to a generating row.
func (s *ReportStore) transition(runID string, version int, mutate func(*datatypes.InterpretationReport)) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := reportKey(runID, version)
		item, err := txn.Get(key)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNoReport
			}
			return err
		}
		var row datatypes.InterpretationReport
		if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &row) }); err != nil {
			return fmt.Errorf("failed to decode report row: %w", err)
		}
		if row.Terminal() {
			return ErrReportTerminal
		}
		mutate(&row)
		return writeRow(txn, &row)
	})
	if err != nil {
		if errors.Is(err, ErrNoReport) || errors.Is(err, ErrReportTerminal) {
			return err
		}
		return fmt.Errorf("failed to update report %s v%d: %w", runID, version, err)
	}
	return nil
}

func writeRow(txn *badger.Txn, row *datatypes.InterpretationReport) error {
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal report row: %w", err)
	}
	return txn.Set(reportKey(row.RunID, row.Version), data)
}

// RunIDFromKey extracts the run id from a report key, used in diagnostics.
func RunIDFromKey(key []byte) string {
	trimmed := strings.TrimPrefix(string(key), reportKeyPrefix)
	if idx := strings.LastIndexByte(trimmed, ':'); idx > 0 {
		return trimmed[:idx]
	}
	return trimmed
}
