// Copyright (C) 2025 CFO Diagnosis Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/handlers"
)

func SetupRoutes(router *gin.Engine, service handlers.Service) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		runs := v1.Group("/runs")
		{
			runs.POST("/:runId/interpretation", handlers.TriggerInterpretation(service))
			runs.GET("/:runId/interpretation", handlers.GetInterpretationStatus(service))
		}
	}
}
