// Copyright (C) 2025 CFO Diagnosis Platform
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/CanKoseoglu123/CFOdiagnosis-v1-sub000/services/interpretation/observability"
)

// DefaultSweepInterval is how often the watchdog scans for expired
// generating rows.
const DefaultSweepInterval = 1 * time.Minute

// Watchdog periodically sweeps generating rows whose deadline has passed
// and marks them failed. A crashed worker can never complete its row;
// without the sweep the run would report generating forever and block
// regeneration.
type Watchdog struct {
	store    *ReportStore
	interval time.Duration
	metrics  *observability.PipelineMetrics
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWatchdog creates a watchdog over the given store. metrics may be nil
// when running without Prometheus (tests).
func NewWatchdog(store *ReportStore, interval time.Duration, metrics *observability.PipelineMetrics, logger *slog.Logger) *Watchdog {
	if store == nil {
		panic("NewWatchdog: store must not be nil")
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{
		store:    store,
		interval: interval,
		metrics:  metrics,
		logger:   logger,
	}
}

// Start launches the background sweep loop. Idempotent.
func (w *Watchdog) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.done = make(chan struct{})

	w.wg.Add(1)
	go w.runLoop(ctx)
	w.logger.Info("report watchdog started", "interval", w.interval.String())
}

// Stop halts the sweep loop and waits for an in-flight sweep to finish.
// Idempotent.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.done)
	w.mu.Unlock()

	w.wg.Wait()
	w.logger.Info("report watchdog stopped")
}

// RunNow triggers one sweep immediately, outside the ticker cadence.
func (w *Watchdog) RunNow(ctx context.Context) (int, error) {
	return w.sweep(ctx)
}

func (w *Watchdog) runLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.sweep(ctx); err != nil {
				w.logger.Error("watchdog sweep failed", "error", err)
			}
		}
	}
}

func (w *Watchdog) sweep(ctx context.Context) (int, error) {
	reclaimed, err := w.store.SweepExpired(ctx)
	if err != nil {
		return reclaimed, err
	}
	if reclaimed > 0 {
		w.logger.Warn("reclaimed stuck generation rows", "count", reclaimed)
		if w.metrics != nil {
			w.metrics.WatchdogReclaimsTotal.Add(float64(reclaimed))
		}
	}
	return reclaimed, nil
}
