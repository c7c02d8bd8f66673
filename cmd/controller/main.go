// Seedwatch Controller
//
// Standalone automation controller binary. Polls a registered set of
// users against the external download service on an adaptive schedule,
// evaluates their rules against the returned item snapshot, and dispatches
// matched actions back to the service.

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"seedwatch/internal/clock"
	"seedwatch/internal/health"
	"seedwatch/internal/lifecycle"
	"seedwatch/internal/opsserver"
	"seedwatch/internal/poller"
	"seedwatch/internal/scheduler"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	setupLogging()

	slog.Info("starting seedwatch controller",
		"version", version,
		"build_time", buildTime,
		"component", "controller")

	ctx := context.Background()

	// ========================================
	// 1. INFRASTRUCTURE INITIALIZATION
	// ========================================
	app, cleanup, err := lifecycle.Initialize(ctx, lifecycle.AppOptions{})
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	// ========================================
	// 2. COMPONENT WIRING
	// ========================================
	schedulerService := setupScheduler(app)

	healthChecker := health.NewChecker()
	healthChecker.AddReadinessCheck(health.RegistryCheck(func() error {
		_, err := app.Registry.DueUsers(ctx, time.Now().UTC())
		return err
	}))
	healthChecker.AddReadinessCheck(health.SchedulerCheck(schedulerService.Health, schedulerService.RunningCount))

	opsRouter := opsserver.New(healthChecker, app.Config.HTTP.CORSOrigins)
	opsHTTPServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", app.Config.HTTP.Port),
		Handler:      opsRouter,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// ========================================
	// 3. SERVICE STARTUP
	// ========================================
	opsService := lifecycle.NewHTTPService("ops-http-server", opsHTTPServer)

	slog.Info("controller ready",
		"port", app.Config.HTTP.Port,
		"tick", app.Config.Scheduler.Tick,
		"max_concurrent_polls", app.Config.Scheduler.MaxConcurrentPolls,
		"interval_multiplier", app.Config.Scheduler.IntervalMultiplier,
		"dev_mode", app.Config.DevMode)

	// ========================================
	// 4. RUN UNTIL SHUTDOWN
	// ========================================
	if err := lifecycle.Run(ctx, schedulerService, opsService); err != nil {
		slog.Error("service error", "error", err)
		os.Exit(1)
	}

	slog.Info("seedwatch controller stopped")
}

// setupLogging configures the slog default logger.
func setupLogging() {
	logLevel := slog.LevelInfo
	if os.Getenv("CONTROLLER_DEV") == "true" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// setupScheduler wires the poller and the tick scheduler on top of the
// already-initialized registry and API client.
func setupScheduler(app *lifecycle.App) *scheduler.Scheduler {
	cfg := app.Config
	clk := clock.Real{}

	policy := clock.IntervalPolicy{
		Multiplier:  cfg.Scheduler.IntervalMultiplier,
		MinInterval: cfg.Scheduler.MinInterval,
	}

	p := poller.New(app.Registry, app.API, clk, policy)
	p.Stagger = cfg.Scheduler.Stagger

	return scheduler.New(app.Registry, p, clk, cfg.Scheduler.Tick, cfg.Scheduler.MaxConcurrentPolls)
}
