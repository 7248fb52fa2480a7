// Copyright (C) 2025 CFO Diagnosis Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/datatypes"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/precompute"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/store"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/llm"
)

func newTestService(t *testing.T, provider *stubProvider, client *stubClient) (*Service, *store.ReportStore) {
	t.Helper()
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reports := store.NewReportStore(db)
	builder := precompute.NewBuilder(provider)
	orch := newTestOrchestrator(t, provider, client)
	return NewService(reports, orch, builder, nil, nil), reports
}

func waitTerminal(t *testing.T, service *Service, runID string) *datatypes.StatusResponse {
	t.Helper()
	var status *datatypes.StatusResponse
	require.Eventually(t, func() bool {
		var err error
		status, err = service.Status(context.Background(), runID)
		return err == nil && status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	return status
}

func TestService_StartGenerationCompletesAsynchronously(t *testing.T) {
	service, _ := newTestService(t, testProvider(), &stubClient{responses: []string{validCompletion()}})

	report, err := service.StartGeneration(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusGenerating, report.Status)
	assert.Equal(t, 1, report.Version)

	status := waitTerminal(t, service, "run-1")
	assert.Equal(t, datatypes.StatusCompleted, status.Status)
	assert.False(t, status.UsedFallback)
	assert.Len(t, status.Sections, 2)
	assert.NotEmpty(t, status.InputHash)
}

// blockingClient parks the worker until released, keeping the generating
// row observable.
type blockingClient struct {
	release chan struct{}
}

func (b *blockingClient) Complete(ctx context.Context, system, prompt string, params llm.GenerationParams) (llm.Completion, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	return llm.Completion{}, ctx.Err()
}

func TestService_ConflictWhileGenerating(t *testing.T) {
	blocked := &blockingClient{release: make(chan struct{})}
	defer close(blocked.release)
	service, _ := newTestService(t, testProvider(), nil)
	service.orch = newTestOrchestrator(t, testProvider(), blocked)

	_, err := service.StartGeneration(context.Background(), "run-1")
	require.NoError(t, err)

	_, err = service.StartGeneration(context.Background(), "run-1")
	assert.ErrorIs(t, err, store.ErrGenerationInFlight)

	status, err := service.Status(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, datatypes.StatusGenerating, status.Status)
	assert.False(t, status.CanRegenerate, "never true while generating")
}

func TestService_FallbackStillCompletes(t *testing.T) {
	service, _ := newTestService(t, testProvider(), &stubClient{responses: []string{invalidCompletion()}})

	_, err := service.StartGeneration(context.Background(), "run-1")
	require.NoError(t, err)

	status := waitTerminal(t, service, "run-1")
	assert.Equal(t, datatypes.StatusCompleted, status.Status, "fallback output completes, never fails")
	assert.True(t, status.UsedFallback)
	assert.NotEmpty(t, status.FallbackReason)
}

func TestService_CanRegenerateTracksInputChanges(t *testing.T) {
	provider := testProvider()
	service, _ := newTestService(t, provider, &stubClient{responses: []string{validCompletion()}})

	_, err := service.StartGeneration(context.Background(), "run-1")
	require.NoError(t, err)
	status := waitTerminal(t, service, "run-1")
	assert.False(t, status.CanRegenerate, "input unchanged since the report")

	provider.answers["run-1"].Answers["q1"] = "no"
	status, err = service.Status(context.Background(), "run-1")
	require.NoError(t, err)
	assert.True(t, status.CanRegenerate, "changed answers must flip the hint")
}

func TestService_CanRegenerateFalseWhenHashUnavailable(t *testing.T) {
	provider := testProvider()
	service, _ := newTestService(t, provider, &stubClient{responses: []string{validCompletion()}})

	_, err := service.StartGeneration(context.Background(), "run-1")
	require.NoError(t, err)
	waitTerminal(t, service, "run-1")

	delete(provider.answers, "run-1")
	status, err := service.Status(context.Background(), "run-1")
	require.NoError(t, err)
	assert.False(t, status.CanRegenerate)
}

func TestService_StatusUnknownRun(t *testing.T) {
	service, _ := newTestService(t, testProvider(), &stubClient{responses: []string{validCompletion()}})

	_, err := service.Status(context.Background(), "run-unknown")
	assert.ErrorIs(t, err, store.ErrNoReport)
}
