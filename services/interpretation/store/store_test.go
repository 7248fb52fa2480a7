// Copyright (C) 2025 CFO Diagnosis Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/datatypes"
)

func newTestStore(t *testing.T) *ReportStore {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewReportStore(db)
}

func complete(t *testing.T, s *ReportStore, runID string, version int) {
	t.Helper()
	err := s.MarkCompleted(context.Background(), runID, version, CompletionRecord{
		Sections:  []datatypes.GeneratedSection{{ID: "summary", Title: "Summary", Content: "done [EV:overall_score]"}},
		InputHash: "abc123",
		Attempts:  1,
	})
	require.NoError(t, err)
}

func TestStartGeneration_FirstRowIsVersionOne(t *testing.T) {
	s := newTestStore(t)

	report, err := s.StartGeneration(context.Background(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Version)
	assert.Equal(t, datatypes.StatusGenerating, report.Status)
	assert.NotEmpty(t, report.ID)
	assert.True(t, report.Deadline.After(report.CreatedAt))
}

func TestStartGeneration_RejectsLiveInFlightRow(t *testing.T) {
	s := newTestStore(t)

	_, err := s.StartGeneration(context.Background(), "run-1")
	require.NoError(t, err)

	_, err = s.StartGeneration(context.Background(), "run-1")
	assert.ErrorIs(t, err, ErrGenerationInFlight)
}

func TestStartGeneration_VersionsIncreaseMonotonically(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		report, err := s.StartGeneration(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, want, report.Version)
		complete(t, s, "run-1", report.Version)
	}
}

func TestStartGeneration_ReclaimsExpiredRow(t *testing.T) {
	s := newTestStore(t).WithDeadline(time.Millisecond)
	ctx := context.Background()

	first, err := s.StartGeneration(ctx, "run-1")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	second, err := s.StartGeneration(ctx, "run-1")
	require.NoError(t, err, "an expired generating row must not block new work")
	assert.Equal(t, first.Version+1, second.Version)

	// The expired row was terminated, not left dangling.
	err = s.MarkFailed(ctx, "run-1", first.Version, "late")
	assert.ErrorIs(t, err, ErrReportTerminal)
}

func TestStartGeneration_RunsAreIndependent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.StartGeneration(ctx, "run-1")
	require.NoError(t, err)

	report, err := s.StartGeneration(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Version)
}

func TestMarkCompleted_PersistsRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	report, err := s.StartGeneration(ctx, "run-1")
	require.NoError(t, err)

	err = s.MarkCompleted(ctx, "run-1", report.Version, CompletionRecord{
		Sections:       []datatypes.GeneratedSection{{ID: "summary", Title: "Summary", Content: "text [EV:overall_score]"}},
		InputHash:      "deadbeef",
		UsedFallback:   true,
		FallbackReason: "quality gate rejected output: evidence_presence(summary)",
		Attempts:       2,
		Model:          "test-model",
		Telemetry:      datatypes.GenerationTelemetry{PromptTokens: 10, CompletionTokens: 20, LatencyMillis: 30},
	})
	require.NoError(t, err)

	latest, err := s.Latest(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusCompleted, latest.Status)
	assert.Equal(t, "deadbeef", latest.InputHash)
	assert.True(t, latest.UsedFallback)
	assert.Equal(t, 2, latest.Attempts)
	assert.False(t, latest.CompletedAt.IsZero())
}

func TestTransitions_TerminalRowsAreImmutable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	report, err := s.StartGeneration(ctx, "run-1")
	require.NoError(t, err)
	complete(t, s, "run-1", report.Version)

	err = s.MarkFailed(ctx, "run-1", report.Version, "too late")
	assert.ErrorIs(t, err, ErrReportTerminal)
	err = s.MarkCompleted(ctx, "run-1", report.Version, CompletionRecord{})
	assert.ErrorIs(t, err, ErrReportTerminal)
}

func TestMarkFailed_UnknownRow(t *testing.T) {
	s := newTestStore(t)
	err := s.MarkFailed(context.Background(), "run-1", 7, "nothing there")
	assert.ErrorIs(t, err, ErrNoReport)
}

func TestLatest_ReturnsHighestVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		report, err := s.StartGeneration(ctx, "run-1")
		require.NoError(t, err)
		complete(t, s, "run-1", report.Version)
	}
	third, err := s.StartGeneration(ctx, "run-1")
	require.NoError(t, err)

	latest, err := s.Latest(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, third.Version, latest.Version)
	assert.Equal(t, datatypes.StatusGenerating, latest.Status)
}

func TestLatest_NoRows(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Latest(context.Background(), "run-1")
	assert.ErrorIs(t, err, ErrNoReport)
}

func TestSweepExpired_ReclaimsOnlyExpiredGeneratingRows(t *testing.T) {
	s := newTestStore(t).WithDeadline(time.Millisecond)
	ctx := context.Background()

	// run-1: expired generating row. run-2: completed row.
	_, err := s.StartGeneration(ctx, "run-1")
	require.NoError(t, err)
	done, err := s.StartGeneration(ctx, "run-2")
	require.NoError(t, err)
	complete(t, s, "run-2", done.Version)
	time.Sleep(5 * time.Millisecond)

	reclaimed, err := s.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	failed, err := s.Latest(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusFailed, failed.Status)
	assert.Equal(t, "generation timed out", failed.ErrorMessage)

	untouched, err := s.Latest(ctx, "run-2")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusCompleted, untouched.Status)
}

func TestSweepExpired_LiveRowsSurvive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.StartGeneration(ctx, "run-1")
	require.NoError(t, err)

	reclaimed, err := s.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, reclaimed)
}

func TestRunIDFromKey(t *testing.T) {
	key := reportKey("run-with:colon", 12)
	assert.Equal(t, "run-with:colon", RunIDFromKey(key))
}
