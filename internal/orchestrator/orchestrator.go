package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/dlmm-sentinel/internal/backup"
	"github.com/aristath/dlmm-sentinel/internal/config"
	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/aristath/dlmm-sentinel/internal/events"
	"github.com/aristath/dlmm-sentinel/internal/harmonic"
	"github.com/aristath/dlmm-sentinel/internal/killswitch"
	"github.com/aristath/dlmm-sentinel/internal/ledger"
	"github.com/aristath/dlmm-sentinel/internal/persistence"
	"github.com/aristath/dlmm-sentinel/internal/regime"
	"github.com/aristath/dlmm-sentinel/internal/scoring"
	"github.com/aristath/dlmm-sentinel/internal/sharpe"
	"github.com/aristath/dlmm-sentinel/internal/snapshotstore"
	"github.com/aristath/dlmm-sentinel/internal/universe"
	"github.com/aristath/dlmm-sentinel/internal/venue"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Orchestrator ties every decision-core component together behind the
// single per-cycle pipeline RunCycle implements. Nothing downstream of
// this package reaches back into it; it is the one place that calls
// every other package's owning methods in sequence.
type Orchestrator struct {
	cfg *config.Config
	log zerolog.Logger

	telemetry venue.TelemetrySource
	venue     venue.ExecutionVenue

	snapshotStore   *snapshotstore.Store
	scorer          *scoring.Scorer
	regimeDetector  *regime.Detector
	universe        *universe.Manager
	sharpeMemory    *sharpe.Memory
	ledger          *ledger.Ledger
	harmonicCtl     *harmonic.Controller
	killSwitch      *killswitch.Detector
	eventLog        *events.Log
	persistence     *persistence.Store
	backupSvc       *backup.Service

	positions *positionRegistry

	cron *cron.Cron

	mu      sync.Mutex
	stop    chan struct{}
	stopped bool
	started bool
	wg      sync.WaitGroup
}

// Deps is everything the orchestrator needs, constructed once by the
// dependency-injection wiring. No component is reachable through a
// package-level global.
type Deps struct {
	Cfg            *config.Config
	Log            zerolog.Logger
	Telemetry      venue.TelemetrySource
	Venue          venue.ExecutionVenue
	SnapshotStore  *snapshotstore.Store
	Scorer         *scoring.Scorer
	RegimeDetector *regime.Detector
	Universe       *universe.Manager
	SharpeMemory   *sharpe.Memory
	Ledger         *ledger.Ledger
	HarmonicCtl    *harmonic.Controller
	KillSwitch     *killswitch.Detector
	EventLog       *events.Log
	Persistence    *persistence.Store
	BackupSvc      *backup.Service
}

// New builds an Orchestrator from fully-constructed dependencies.
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		cfg:            d.Cfg,
		log:            d.Log.With().Str("component", "orchestrator").Logger(),
		telemetry:      d.Telemetry,
		venue:          d.Venue,
		snapshotStore:  d.SnapshotStore,
		scorer:         d.Scorer,
		regimeDetector: d.RegimeDetector,
		universe:       d.Universe,
		sharpeMemory:   d.SharpeMemory,
		ledger:         d.Ledger,
		harmonicCtl:    d.HarmonicCtl,
		killSwitch:     d.KillSwitch,
		eventLog:       d.EventLog,
		persistence:    d.Persistence,
		backupSvc:      d.BackupSvc,
		positions:      newPositionRegistry(),
		stop:           make(chan struct{}),
	}
}

// OpenPositionCount reports how many positions are currently open, for the
// status server.
func (o *Orchestrator) OpenPositionCount() int {
	return o.positions.count()
}

// Positions returns a snapshot of every open position, for the status
// server.
func (o *Orchestrator) Positions() []*Position {
	return o.positions.all()
}

// CurrentRegime exposes the confirmed macro regime, for the status server.
func (o *Orchestrator) CurrentRegime() string {
	return string(o.regimeDetector.Current())
}

// LedgerSnapshot exposes the portfolio's current capital state, for the
// status server.
func (o *Orchestrator) LedgerSnapshot() ledger.Snapshot {
	return o.ledger.Snapshot()
}

// UniverseSnapshot reports every tracked pool's current universe status,
// for the status server.
func (o *Orchestrator) UniverseSnapshot() map[domain.PoolAddress]domain.UniverseStatus {
	out := make(map[domain.PoolAddress]domain.UniverseStatus)
	for _, pool := range o.universe.Pools() {
		if status, ok := o.universe.Status(pool); ok {
			out[pool] = status
		}
	}
	return out
}

// RecentEvents returns the last n entries from the event log, for the
// status server.
func (o *Orchestrator) RecentEvents(n int) []events.Event {
	return o.eventLog.Recent(n)
}

// Start runs the cycle loop, the faster telemetry-refresh loop, and
// housekeeping jobs in background goroutines: a stop channel, per-job
// tickers, and a WaitGroup so Stop can block until every goroutine has
// actually exited.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	if o.started && !o.stopped {
		o.mu.Unlock()
		o.log.Warn().Msg("orchestrator already started, ignoring")
		return
	}
	if o.stopped {
		o.stop = make(chan struct{})
		o.stopped = false
	}
	o.started = true
	o.mu.Unlock()

	o.log.Info().
		Dur("loop_interval", o.cfg.LoopInterval()).
		Msg("orchestrator starting")

	cycleTicker := time.NewTicker(o.cfg.LoopInterval())
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cycleTicker.Stop()
		for {
			select {
			case <-o.stop:
				return
			case <-ctx.Done():
				return
			case now := <-cycleTicker.C:
				o.runCycleSafely(ctx, now)
			}
		}
	}()

	if o.cfg.TelemetryRefreshMs > 0 {
		telemetryTicker := time.NewTicker(o.cfg.TelemetryRefreshInterval())
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			defer telemetryTicker.Stop()
			for {
				select {
				case <-o.stop:
					return
				case <-ctx.Done():
					return
				case <-telemetryTicker.C:
					o.refreshTelemetry(ctx)
				}
			}
		}()
	}

	o.startHousekeeping(ctx)
}

// runCycleSafely isolates one cycle's panics so a single bad cycle never
// brings down the scheduler loop; InvariantViolationError already forces
// a log.Fatal from inside the ledger call sites, so this recover only
// guards against anything else unexpected.
func (o *Orchestrator) runCycleSafely(ctx context.Context, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			o.log.Error().Interface("panic", r).Msg("cycle panicked, recovering")
		}
	}()

	if err := o.RunCycle(ctx, now); err != nil {
		o.log.Error().Err(err).Msg("cycle failed")
	}
}

// startHousekeeping wires a cron job for periodic persistence backups,
// independent of the tight decision-cycle loop.
func (o *Orchestrator) startHousekeeping(ctx context.Context) {
	if o.backupSvc == nil {
		o.log.Info().Msg("backup service not configured, skipping scheduled backups")
		return
	}

	o.cron = cron.New()
	spec := fmt.Sprintf("@every %dm", o.cfg.BackupIntervalMinutes)
	_, err := o.cron.AddFunc(spec, func() {
		if err := o.backupSvc.CreateAndUpload(ctx, o.cfg.PersistencePath); err != nil {
			o.log.Error().Err(err).Msg("scheduled backup failed")
		}
	})
	if err != nil {
		o.log.Warn().Err(err).Msg("failed to schedule backup job")
		return
	}
	o.cron.Start()
}

// Stop halts the cycle loop and housekeeping jobs and waits for every
// goroutine to exit.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	close(o.stop)
	o.stopped = true
	o.started = false
	o.mu.Unlock()

	if o.cron != nil {
		cronCtx := o.cron.Stop()
		<-cronCtx.Done()
	}

	o.wg.Wait()
	o.log.Info().Msg("orchestrator stopped")
}
