// Command sentinel runs the DLMM liquidity placement decision core:
// ingestion, scoring, gating, sizing, and exit management on a tight
// cycle loop, plus a read-only status HTTP surface.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aristath/dlmm-sentinel/internal/config"
	"github.com/aristath/dlmm-sentinel/internal/di"
	"github.com/aristath/dlmm-sentinel/internal/telemetrylog"
)

func main() {
	log := telemetrylog.New(telemetrylog.Config{
		Level:  "info",
		Pretty: true,
	})

	log.Info().Msg("starting dlmm-sentinel")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	log = telemetrylog.New(telemetrylog.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := di.Wire(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to wire dependency graph")
	}
	defer container.Close()

	if err := di.WarmSharpeMemory(ctx, container); err != nil {
		log.Warn().Err(err).Msg("failed to warm sharpe memory from persisted history")
	}

	container.Orchestrator.Start(ctx)
	defer container.Orchestrator.Stop()

	go func() {
		if err := container.Server.Start(); err != nil {
			log.Fatal().Err(err).Msg("status server failed")
		}
	}()

	log.Info().
		Str("addr", cfg.ServerAddr).
		Str("environment", cfg.Environment).
		Bool("paper_trading", cfg.PaperTrading).
		Msg("dlmm-sentinel started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := container.Server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("status server forced to shutdown")
	}

	log.Info().Msg("dlmm-sentinel stopped")
}
