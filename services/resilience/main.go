// Copyright (C) 2025 AstraGuard AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/Suvam-paul145/AstraGuard-AI-Apertre-3.0/services/resilience/apm"
	"github.com/Suvam-paul145/AstraGuard-AI-Apertre-3.0/services/resilience/fallback"
	"github.com/Suvam-paul145/AstraGuard-AI-Apertre-3.0/services/resilience/middleware"
	"github.com/Suvam-paul145/AstraGuard-AI-Apertre-3.0/services/resilience/routes"
	"github.com/Suvam-paul145/AstraGuard-AI-Apertre-3.0/services/resilience/shutdown"
	"github.com/Suvam-paul145/AstraGuard-AI-Apertre-3.0/services/resilience/telemetry"
)

// defaultLimits are the heuristic-tier operating ranges for the standard
// satellite bus channels. Overridable via FALLBACK_LIMITS_FILE.
var defaultLimits = map[string]fallback.Limit{
	"temperature":   {Min: -40, Max: 85},
	"battery_level": {Min: 10, Max: 100},
	"voltage":       {Min: 3.0, Max: 4.2},
	"signal_noise":  {Min: 0, Max: 0.5},
	"gyro_drift":    {Min: -0.1, Max: 0.1},
}

func main() {
	port := os.Getenv("RESILIENCE_PORT")
	if port == "" {
		port = "12230"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// --- APM configuration ---
	apmCfg := apm.FromEnv(logger)
	if path := os.Getenv("APM_CONFIG_FILE"); path != "" {
		var err error
		apmCfg, err = apm.FromFile(path, apmCfg)
		if err != nil {
			log.Fatalf("failed to load APM config file: %v", err)
		}
	}
	if err := apmCfg.Validate(); err != nil {
		log.Fatalf("invalid APM config: %v", err)
	}

	// --- Telemetry (traces + metrics) ---
	telemetryCfg := telemetry.DefaultConfig()
	telemetryCfg.ServiceName = apmCfg.ServiceName
	telemetryCfg.ServiceVersion = apmCfg.ServiceVersion
	telemetryCfg.Environment = apmCfg.Environment
	telemetryCfg.SampleRate = apmCfg.SampleRate
	if !apmCfg.Enabled {
		telemetryCfg.TraceExporter = "none"
	}

	otelShutdown, err := telemetry.Init(context.Background(), telemetryCfg)
	if err != nil {
		log.Fatalf("failed to setup telemetry: %v", err)
	}

	// --- Resilience core ---
	metrics := apm.NewMetrics(prometheus.DefaultRegisterer)
	monitor := apm.New(apmCfg, logger, metrics)

	coord := shutdown.NewCoordinator(shutdown.TimeoutFromEnv(logger), logger)
	coord.RegisterSignalHandlers()

	limits := defaultLimits
	if path := os.Getenv("FALLBACK_LIMITS_FILE"); path != "" {
		loaded, err := fallback.LimitsFromFile(path)
		if err != nil {
			log.Fatalf("failed to load fallback limits: %v", err)
		}
		limits = loaded
	}

	controller := fallback.NewController(logger,
		fallback.WithPrimaryDetector(fallback.NewZScoreDetector(0, 0)),
		fallback.WithHeuristicDetector(fallback.NewLimitDetector(limits)))

	// Cleanup runs in reverse registration order: monitor first so interrupted
	// transactions are flushed before the exporters go down.
	coord.RegisterCleanup("telemetry", otelShutdown)
	coord.RegisterCleanup("apm_monitor", func(context.Context) error {
		monitor.Shutdown()
		return nil
	})

	// --- HTTP surface ---
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(apmCfg.ServiceName))
	router.Use(middleware.RequestTracking(coord))
	router.Use(middleware.Transactions(monitor))

	routes.SetupRoutes(router, coord, monitor, controller, logger)

	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		logger.Info("starting resilience server", slog.String("port", port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-coord.ShutdownCh():
		case <-ctx.Done():
			coord.TriggerShutdown()
		}

		logger.Info("shutdown initiated")
		coord.DrainRequests(context.Background(), coord.Timeout())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", slog.Any("error", err))
		}

		coord.ExecuteCleanup(context.Background())
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
	logger.Info("resilience service stopped")
}
