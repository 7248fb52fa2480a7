// Copyright (C) 2025 CFO Diagnosis Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers provides HTTP request handlers for the interpretation
// service.
//
// This file implements the asynchronous trigger and status endpoints for
// interpretation report generation.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/datatypes"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/store"
)

var tracer = otel.Tracer("interpretation/handlers")

// =============================================================================
// Interfaces
// =============================================================================

// Service is the pipeline surface the handlers depend on.
//
// # Description
//
// Declared here so the handlers own their contract with the pipeline and
// tests can substitute a stub without a real store or completion client.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Service interface {
	// StartGeneration inserts a new generating report row for the run and
	// launches the detached worker. Returns store.ErrGenerationInFlight
	// when a live generation already holds the run.
	StartGeneration(ctx context.Context, runID string) (*datatypes.InterpretationReport, error)

	// Status returns the latest report row for the run plus the
	// regeneration hint. Returns store.ErrNoReport when none exists.
	Status(ctx context.Context, runID string) (*datatypes.StatusResponse, error)
}

// =============================================================================
// Handler Functions
// =============================================================================

// TriggerInterpretation creates a gin handler for the generation trigger.
//
// # Description
//
// HTTP handler for POST /v1/runs/:runId/interpretation. Inserts a new
// versioned report row and launches generation asynchronously; the
// response returns immediately with 202 Accepted and the row identity.
// A run with a live in-flight generation answers 409 Conflict.
//
// # Inputs
//
//   - service: Pipeline facade owning rows and workers
//
// # Outputs
//
//   - gin.HandlerFunc: HTTP handler function
//
// # Examples
//
//	router.POST("/v1/runs/:runId/interpretation", TriggerInterpretation(service))
func TriggerInterpretation(service Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, span := tracer.Start(c.Request.Context(), "TriggerInterpretation.handler")
		defer span.End()

		runID := c.Param("runId")
		if runID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "runId is required"})
			return
		}

		span.SetAttributes(attribute.String("run.id", runID))
		slog.Info("Received interpretation trigger", "runId", runID)

		report, err := service.StartGeneration(c.Request.Context(), runID)
		if err != nil {
			if errors.Is(err, store.ErrGenerationInFlight) {
				slog.Info("Interpretation trigger rejected, generation in flight", "runId", runID)
				c.JSON(http.StatusConflict, gin.H{
					"error":  "an interpretation is already being generated for this run",
					"run_id": runID,
				})
				return
			}
			slog.Error("Failed to start interpretation generation", "runId", runID, "error", err)
			span.RecordError(err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":  "failed to start interpretation generation",
				"run_id": runID,
			})
			return
		}

		span.SetAttributes(attribute.Int("report.version", report.Version))
		slog.Info("Interpretation generation accepted", "runId", runID, "version", report.Version)

		c.JSON(http.StatusAccepted, datatypes.TriggerResponse{
			RunID:   report.RunID,
			Version: report.Version,
			Status:  string(report.Status),
		})
	}
}

// GetInterpretationStatus creates a gin handler for the status endpoint.
//
// # Description
//
// HTTP handler for GET /v1/runs/:runId/interpretation. Returns the latest
// report version for the run, whatever its status, plus the regeneration
// hint. A run with no report rows answers 404.
//
// # Inputs
//
//   - service: Pipeline facade owning rows and workers
//
// # Outputs
//
//   - gin.HandlerFunc: HTTP handler function
//
// # Examples
//
//	router.GET("/v1/runs/:runId/interpretation", GetInterpretationStatus(service))
func GetInterpretationStatus(service Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, span := tracer.Start(c.Request.Context(), "GetInterpretationStatus.handler")
		defer span.End()

		runID := c.Param("runId")
		if runID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "runId is required"})
			return
		}

		span.SetAttributes(attribute.String("run.id", runID))

		status, err := service.Status(c.Request.Context(), runID)
		if err != nil {
			if errors.Is(err, store.ErrNoReport) {
				c.JSON(http.StatusNotFound, gin.H{
					"error":  "no interpretation report exists for this run",
					"run_id": runID,
				})
				return
			}
			slog.Error("Failed to load interpretation status", "runId", runID, "error", err)
			span.RecordError(err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":  "failed to load interpretation status",
				"run_id": runID,
			})
			return
		}

		span.SetAttributes(
			attribute.String("report.status", string(status.Status)),
			attribute.Int("report.version", status.Version),
		)

		c.JSON(http.StatusOK, status)
	}
}
