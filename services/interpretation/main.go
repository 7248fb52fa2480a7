// Copyright (C) 2025 CFO Diagnosis Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/pkg/logging"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/datatypes"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/facts"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/fallback"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/generator"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/observability"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/pipeline"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/precompute"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/routes"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/store"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/tonality"
	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/llm"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "cfodiagnosis-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("interpretation-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

func loadPillar() *datatypes.PillarConfig {
	pillarFile := os.Getenv("PILLAR_FILE")
	if pillarFile == "" {
		slog.Info("PILLAR_FILE not set, using the built-in finance pillar")
		return datatypes.DefaultFinancePillar()
	}
	pillar, err := datatypes.LoadPillarFile(pillarFile)
	if err != nil {
		log.Fatalf("FATAL: Could not load pillar config from %s: %v", pillarFile, err)
	}
	slog.Info("Loaded pillar config", "file", pillarFile, "pillar", pillar.ID)
	return pillar
}

func main() {
	port := os.Getenv("INTERPRETATION_PORT")
	if port == "" {
		port = "12230"
	}

	appLogger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  os.Getenv("LOG_DIR"),
		Service: "interpretation",
		JSON:    true,
	})
	defer appLogger.Close()
	logger := appLogger.Slog()
	slog.SetDefault(logger)

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	badgerPath := os.Getenv("BADGER_PATH")
	if badgerPath == "" {
		badgerPath = "/data/interpretation"
	}
	badgerOpts := badger.DefaultOptions(badgerPath)
	badgerOpts.Logger = nil
	db, err := badger.Open(badgerOpts)
	if err != nil {
		log.Fatalf("FATAL: Could not open badger at %s: %v", badgerPath, err)
	}
	defer db.Close()

	log.Println("Configuring the completion client")
	client, err := llm.NewOpenAIClient()
	if err != nil {
		log.Fatalf("Failed to initialize completion client: %v", err)
	}

	metrics := observability.InitMetrics()
	pillar := loadPillar()

	provider := facts.NewBadgerProvider(db)
	builder := precompute.NewBuilder(provider)
	gen := generator.New(client)
	engine := fallback.NewEngine()

	orch := pipeline.NewOrchestrator(builder, gen, engine, pillar, tonality.DefaultThresholds, metrics, logger)

	reports := store.NewReportStore(db)
	service := pipeline.NewService(reports, orch, builder, metrics, logger)

	watchdog := store.NewWatchdog(reports, store.DefaultSweepInterval, metrics, logger)
	watchdog.Start(context.Background())
	defer watchdog.Stop()

	router := gin.Default()
	router.Use(otelgin.Middleware("interpretation-service"))

	routes.SetupRoutes(router, service)

	log.Println("Starting the interpretation server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
