// Package config loads the decision core's operational surface:
// environment-driven configuration with an enumerated set of recognized
// tunables. Nothing in the decision core reads os.Getenv directly outside
// this package.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every recognized tunable.
type Config struct {
	// Operational surface
	RPCEndpoint         string
	PersistencePath     string
	Environment         string
	TotalCapitalUsd     float64
	PaperTrading        bool
	PaperCapitalUsd     float64
	VerboseScoring      bool
	DevMode             bool
	LogLevel            string

	// Cycle cadence
	LoopIntervalMs      int
	TelemetryRefreshMs  int

	// Snapshot Store
	HistoryLength int
	MinSnapshots  int

	// Scoring
	BootstrapMinScore float64

	// Portfolio caps
	MaxPositions        int
	MaxPositionsPerTier int
	MaxPoolOwnershipPct float64
	MaxDeploymentPct    float64
	MinOperatingCapital float64

	// Regime hysteresis
	RegimeMinDwellTimeMs     int
	RegimeConfirmWindow      int
	RegimeConfirmRequired    int
	RegimeCooldownAfterChaos int

	// Sharpe memory
	SharpeWindowDays     int
	SharpeDecayFactor    float64
	MinTradesForSharpe   int
	DefaultSharpe        float64

	// Universe
	UniverseMaxBlockCount int
	UniverseStaleTimeMs   int64

	// Kill switch
	KillSwitchCooldownMs int64

	// Backup
	BackupBucket          string
	BackupRetentionDays   int
	BackupIntervalMinutes int
	BackupEndpoint        string
	BackupRegion          string
	BackupAccessKeyID     string
	BackupSecretAccessKey string

	// Server
	ServerAddr string
}

func (c *Config) LoopInterval() time.Duration {
	return time.Duration(c.LoopIntervalMs) * time.Millisecond
}

func (c *Config) TelemetryRefreshInterval() time.Duration {
	return time.Duration(c.TelemetryRefreshMs) * time.Millisecond
}

func (c *Config) RegimeMinDwellTime() time.Duration {
	return time.Duration(c.RegimeMinDwellTimeMs) * time.Millisecond
}

func (c *Config) UniverseStaleTime() time.Duration {
	return time.Duration(c.UniverseStaleTimeMs) * time.Millisecond
}

func (c *Config) KillSwitchCooldown() time.Duration {
	return time.Duration(c.KillSwitchCooldownMs) * time.Millisecond
}

// EffectiveCapitalUsd is the capital base every sizing decision works
// from: the paper bankroll when paper trading, the real total otherwise.
func (c *Config) EffectiveCapitalUsd() float64 {
	if c.PaperTrading {
		return c.PaperCapitalUsd
	}
	return c.TotalCapitalUsd
}

// Load reads configuration from the environment, falling back to
// built-in defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		RPCEndpoint:     getEnv("RPC_ENDPOINT", ""),
		PersistencePath: getEnv("PERSISTENCE_PATH", "./data/dlmm-sentinel.db"),
		Environment:     getEnv("ENVIRONMENT", "production"),
		TotalCapitalUsd: getEnvAsFloat("TOTAL_CAPITAL_USD", 10000),
		PaperTrading:    getEnvAsBool("PAPER_TRADING", true),
		PaperCapitalUsd: getEnvAsFloat("PAPER_CAPITAL_USD", 10000),
		VerboseScoring:  getEnvAsBool("VERBOSE_SCORING", false),
		DevMode:         getEnvAsBool("DEV_MODE", false),
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		LoopIntervalMs:     getEnvAsInt("LOOP_INTERVAL_MS", 2*60*1000),
		TelemetryRefreshMs: getEnvAsInt("TELEMETRY_REFRESH_MS", 10*1000),

		HistoryLength: getEnvAsInt("HISTORY_LENGTH", 20),
		MinSnapshots:  getEnvAsInt("MIN_SNAPSHOTS", 3),

		BootstrapMinScore: getEnvAsFloat("BOOTSTRAP_MIN_SCORE", 20),

		MaxPositions:        getEnvAsInt("MAX_POSITIONS", 20),
		MaxPositionsPerTier: getEnvAsInt("MAX_POSITIONS_PER_TYPE", 8),
		MaxPoolOwnershipPct: getEnvAsFloat("MAX_POOL_OWNERSHIP_PERCENT", 0.08),
		MaxDeploymentPct:    getEnvAsFloat("MAX_DEPLOYMENT_PERCENT", 0.25),
		MinOperatingCapital: getEnvAsFloat("MIN_OPERATING_CAPITAL_USD", 500),

		RegimeMinDwellTimeMs:     getEnvAsInt("REGIME_MIN_DWELL_TIME_MS", 3*60*1000),
		RegimeConfirmWindow:      getEnvAsInt("REGIME_CONFIRM_WINDOW", 5),
		RegimeConfirmRequired:    getEnvAsInt("REGIME_CONFIRM_REQUIRED", 3),
		RegimeCooldownAfterChaos: getEnvAsInt("REGIME_CHAOS_COOLDOWN_MS", 2*60*1000),

		SharpeWindowDays:   getEnvAsInt("SHARPE_WINDOW_DAYS", 7),
		SharpeDecayFactor:  getEnvAsFloat("SHARPE_DECAY_FACTOR", 0.9),
		MinTradesForSharpe: getEnvAsInt("MIN_TRADES_FOR_SHARPE", 3),
		DefaultSharpe:      getEnvAsFloat("DEFAULT_SHARPE", 0.5),

		UniverseMaxBlockCount: getEnvAsInt("UNIVERSE_MAX_BLOCK_COUNT", 3),
		UniverseStaleTimeMs:   getEnvAsInt64("UNIVERSE_STALE_TIME_MS", 24*60*60*1000),

		KillSwitchCooldownMs: getEnvAsInt64("KILL_SWITCH_COOLDOWN_MS", 2*60*1000),

		BackupBucket:          getEnv("BACKUP_BUCKET", ""),
		BackupRetentionDays:   getEnvAsInt("BACKUP_RETENTION_DAYS", 14),
		BackupIntervalMinutes: getEnvAsInt("BACKUP_INTERVAL_MINUTES", 60),
		BackupEndpoint:        getEnv("BACKUP_ENDPOINT", ""),
		BackupRegion:          getEnv("BACKUP_REGION", "auto"),
		BackupAccessKeyID:     getEnv("BACKUP_ACCESS_KEY_ID", ""),
		BackupSecretAccessKey: getEnv("BACKUP_SECRET_ACCESS_KEY", ""),

		ServerAddr: getEnv("SERVER_ADDR", ":8090"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks required fields and internal consistency.
func (c *Config) Validate() error {
	if c.PersistencePath == "" {
		return fmt.Errorf("PERSISTENCE_PATH is required")
	}
	if c.TotalCapitalUsd <= 0 {
		return fmt.Errorf("TOTAL_CAPITAL_USD must be positive")
	}
	if c.HistoryLength < c.MinSnapshots {
		return fmt.Errorf("HISTORY_LENGTH (%d) must be >= MIN_SNAPSHOTS (%d)", c.HistoryLength, c.MinSnapshots)
	}
	if !c.PaperTrading && c.RPCEndpoint == "" {
		return fmt.Errorf("RPC_ENDPOINT is required when PAPER_TRADING is false")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
