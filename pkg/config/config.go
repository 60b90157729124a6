package config

import (
	"fmt"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for enpi-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values. Secrets (passwords) must
// only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8087"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL / TimescaleDB time-series store)
	Database DatabaseConfig `yaml:"database"`

	// Redis cache for completed-day analyses (optional)
	Redis RedisConfig `yaml:"redis"`

	// MigrationsPath is the directory containing SQL migration files.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`

	// FeatureRegistryPath is an optional YAML file of FeatureDefinition seed
	// rows applied at startup. New equipment/energy types are supported by
	// adding rows here (or via the registry API), never by code changes.
	FeatureRegistryPath string `yaml:"feature_registry_path" env:"FEATURE_REGISTRY_PATH" env-default:"./features.yaml"`

	// Analysis holds the Performance Engine policy knobs.
	Analysis AnalysisConfig `yaml:"analysis"`

	// Detection holds anomaly detection thresholds.
	Detection DetectionConfig `yaml:"detection"`

	// Training holds baseline training policy.
	Training TrainingConfig `yaml:"training"`

	// Jobs holds background job scheduling configuration.
	Jobs JobsConfig `yaml:"jobs"`
}

// DatabaseConfig holds PostgreSQL connection configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"enpi"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"enpi_engine"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
}

// URL builds a connection string for pgx and database/sql.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// RedisConfig holds Redis cache configuration. An empty host disables the cache.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// AnalysisConfig holds Performance Engine policy values. These are external
// configuration, not constants embedded in logic.
type AnalysisConfig struct {
	// EnergyUnitCost is the monetary cost per kWh used for cost deviation.
	EnergyUnitCost float64 `yaml:"energy_unit_cost" env:"ENERGY_UNIT_COST" env-default:"0.12"`
	// MinPartialHours is the minimum hours of data required before a
	// still-in-progress day may be analyzed (projected).
	MinPartialHours float64 `yaml:"min_partial_hours" env:"MIN_PARTIAL_HOURS" env-default:"2"`
	// ActionabilityThresholdPct is the |deviation %| above which
	// recommendations are generated.
	ActionabilityThresholdPct float64 `yaml:"actionability_threshold_pct" env:"ACTIONABILITY_THRESHOLD_PCT" env-default:"10"`
	// RollingBaselineDays is the lookback window for the historical-average
	// fallback when no regression model exists.
	RollingBaselineDays int `yaml:"rolling_baseline_days" env:"ROLLING_BASELINE_DAYS" env-default:"30"`
	// CacheTTLHours is how long completed-day analyses stay in Redis.
	CacheTTLHours int `yaml:"cache_ttl_hours" env:"ANALYSIS_CACHE_TTL_HOURS" env-default:"24"`
}

// DetectionConfig holds anomaly severity thresholds.
type DetectionConfig struct {
	WarningSigma         float64 `yaml:"warning_sigma" env:"DETECT_WARNING_SIGMA" env-default:"2"`
	CriticalSigma        float64 `yaml:"critical_sigma" env:"DETECT_CRITICAL_SIGMA" env-default:"3"`
	WarningDeviationPct  float64 `yaml:"warning_deviation_pct" env:"DETECT_WARNING_DEVIATION_PCT" env-default:"15"`
	CriticalDeviationPct float64 `yaml:"critical_deviation_pct" env:"DETECT_CRITICAL_DEVIATION_PCT" env-default:"30"`
	// RollingWindow is the number of buckets used for the rolling mean/stddev.
	RollingWindow int `yaml:"rolling_window" env:"DETECT_ROLLING_WINDOW" env-default:"24"`
}

// TrainingConfig holds baseline training policy.
type TrainingConfig struct {
	// MinSamples is the minimum number of aggregate rows required to fit.
	MinSamples int `yaml:"min_samples" env:"TRAIN_MIN_SAMPLES" env-default:"30"`
	// MaxAutoFeatures caps the feature count in auto-select mode.
	MaxAutoFeatures int `yaml:"max_auto_features" env:"TRAIN_MAX_AUTO_FEATURES" env-default:"5"`
}

// JobsConfig holds background job scheduling configuration.
type JobsConfig struct {
	// TimeoutMinutes is the watchdog cutoff: pending/running jobs older than
	// this are force-marked failed.
	TimeoutMinutes int `yaml:"timeout_minutes" env:"JOB_TIMEOUT_MINUTES" env-default:"30"`
	// WatchdogSchedule, DetectionSchedule, RetrainSchedule and RollupSchedule
	// are cron expressions (robfig/cron format).
	WatchdogSchedule  string `yaml:"watchdog_schedule" env:"JOB_WATCHDOG_SCHEDULE" env-default:"* * * * *"`
	DetectionSchedule string `yaml:"detection_schedule" env:"JOB_DETECTION_SCHEDULE" env-default:"*/15 * * * *"`
	RetrainSchedule   string `yaml:"retrain_schedule" env:"JOB_RETRAIN_SCHEDULE" env-default:"30 2 * * *"`
	RollupSchedule    string `yaml:"rollup_schedule" env:"JOB_ROLLUP_SCHEDULE" env-default:"*/5 * * * *"`
	// RetrainMaxModelAgeDays: targets whose latest model is older than this
	// are picked up by the nightly retraining sweep.
	RetrainMaxModelAgeDays int `yaml:"retrain_max_model_age_days" env:"JOB_RETRAIN_MAX_MODEL_AGE_DAYS" env-default:"30"`
}

// Load reads configuration from config.yaml with environment variable
// overrides. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := cleanenv.ReadConfig(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment config: %w", err)
		}
	}

	return cfg, nil
}
