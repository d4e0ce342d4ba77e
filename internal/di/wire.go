// Package di constructs the decision core's dependency graph exactly
// once, with no package-level singletons: every component is built here
// and handed downward by explicit reference; on failure everything
// already opened is cleaned up.
package di

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/dlmm-sentinel/internal/backup"
	"github.com/aristath/dlmm-sentinel/internal/config"
	"github.com/aristath/dlmm-sentinel/internal/events"
	"github.com/aristath/dlmm-sentinel/internal/harmonic"
	"github.com/aristath/dlmm-sentinel/internal/killswitch"
	"github.com/aristath/dlmm-sentinel/internal/ledger"
	"github.com/aristath/dlmm-sentinel/internal/orchestrator"
	"github.com/aristath/dlmm-sentinel/internal/persistence"
	"github.com/aristath/dlmm-sentinel/internal/regime"
	"github.com/aristath/dlmm-sentinel/internal/scoring"
	"github.com/aristath/dlmm-sentinel/internal/server"
	"github.com/aristath/dlmm-sentinel/internal/sharpe"
	"github.com/aristath/dlmm-sentinel/internal/snapshotstore"
	"github.com/aristath/dlmm-sentinel/internal/universe"
	"github.com/aristath/dlmm-sentinel/internal/venue"
)

// riskFreeRate is fixed rather than config-driven: DLMM fee yield is
// already net of any meaningful benchmark return at this time horizon.
const riskFreeRate = 0.0

// Container holds every long-lived component the orchestrator and server
// depend on, so callers can reach a component directly (e.g. for a
// warm-up replay) without re-deriving it from the orchestrator.
type Container struct {
	Persistence    *persistence.Store
	EventLog       *events.Log
	SnapshotStore  *snapshotstore.Store
	Scorer         *scoring.Scorer
	RegimeDetector *regime.Detector
	Universe       *universe.Manager
	SharpeMemory   *sharpe.Memory
	Ledger         *ledger.Ledger
	HarmonicCtl    *harmonic.Controller
	KillSwitch     *killswitch.Detector
	Telemetry      venue.TelemetrySource
	LiveTelemetry  *venue.LiveTelemetrySource
	Venue          venue.ExecutionVenue
	BackupSvc      *backup.Service
	Orchestrator   *orchestrator.Orchestrator
	Server         *server.Server
}

// Close tears down every component that owns an external resource. Safe
// to call on a partially built Container.
func (c *Container) Close() {
	if c.LiveTelemetry != nil {
		c.LiveTelemetry.Stop()
	}
	if c.Persistence != nil {
		c.Persistence.Close()
	}
}

// Wire builds the full dependency graph. On any construction error it
// cleans up whatever was already opened and returns the error.
func Wire(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Container, error) {
	c := &Container{}

	store, err := persistence.Open(cfg.PersistencePath, log)
	if err != nil {
		return nil, fmt.Errorf("di: open persistence: %w", err)
	}
	c.Persistence = store

	c.EventLog = events.NewLog(1000, log)
	c.SnapshotStore = snapshotstore.New(cfg.HistoryLength, log)
	c.Scorer = scoring.NewScorer(log)
	chaosCooldown := time.Duration(cfg.RegimeCooldownAfterChaos) * time.Millisecond
	c.RegimeDetector = regime.NewDetector(
		cfg.RegimeMinDwellTime(),
		cfg.RegimeConfirmWindow,
		cfg.RegimeConfirmRequired,
		chaosCooldown,
		log,
	)
	c.Universe = universe.New(cfg.UniverseStaleTime(), cfg.UniverseMaxBlockCount, c.EventLog, log)
	c.SharpeMemory = sharpe.New(cfg.SharpeWindowDays, cfg.SharpeDecayFactor, riskFreeRate, cfg.MinTradesForSharpe, cfg.DefaultSharpe)
	c.Ledger = ledger.New(cfg.DevMode, c.EventLog, log)
	c.HarmonicCtl = harmonic.New(log)
	c.KillSwitch = killswitch.New(cfg.KillSwitchCooldown(), log)

	// Telemetry is always the live feed: even in paper trading, sizing
	// and gating decisions must be driven by real pool microstructure.
	// Only execution is ever faked.
	live := venue.NewLiveTelemetrySource(cfg.RPCEndpoint, log)
	if err := live.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("telemetry feed not yet connected, will keep retrying")
	}
	c.LiveTelemetry = live
	c.Telemetry = live
	c.Venue = venue.NewPaperExecutionVenue(0.003, log)

	if cfg.BackupBucket != "" {
		backupSvc, err := backup.New(ctx, backup.Config{
			Bucket:          cfg.BackupBucket,
			Endpoint:        cfg.BackupEndpoint,
			Region:          cfg.BackupRegion,
			AccessKeyID:     cfg.BackupAccessKeyID,
			SecretAccessKey: cfg.BackupSecretAccessKey,
			RetentionDays:   cfg.BackupRetentionDays,
		}, filepath.Dir(cfg.PersistencePath), log)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("di: build backup service: %w", err)
		}
		c.BackupSvc = backupSvc
	}

	c.Orchestrator = orchestrator.New(orchestrator.Deps{
		Cfg:            cfg,
		Log:            log,
		Telemetry:      c.Telemetry,
		Venue:          c.Venue,
		SnapshotStore:  c.SnapshotStore,
		Scorer:         c.Scorer,
		RegimeDetector: c.RegimeDetector,
		Universe:       c.Universe,
		SharpeMemory:   c.SharpeMemory,
		Ledger:         c.Ledger,
		HarmonicCtl:    c.HarmonicCtl,
		KillSwitch:     c.KillSwitch,
		EventLog:       c.EventLog,
		Persistence:    c.Persistence,
		BackupSvc:      c.BackupSvc,
	})

	c.Server = server.New(server.Config{
		Addr:         cfg.ServerAddr,
		Log:          log,
		Orchestrator: c.Orchestrator,
		DevMode:      cfg.DevMode,
	})

	log.Info().Msg("dependency graph wired")
	return c, nil
}

// WarmSharpeMemory replays persisted trade outcomes into the Sharpe
// Memory so a restart doesn't momentarily forget a pool's track record.
func WarmSharpeMemory(ctx context.Context, c *Container) error {
	trades, err := c.Persistence.LoadPoolPerformanceHistory(ctx)
	if err != nil {
		return fmt.Errorf("di: load pool performance history: %w", err)
	}
	for _, trade := range trades {
		c.SharpeMemory.Record(trade)
	}
	return nil
}
