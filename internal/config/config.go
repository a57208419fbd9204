// Package config loads application settings and Snowflake session parameters.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/aiqojo/sf-ml-test/internal/apperrors"
	"github.com/aiqojo/sf-ml-test/internal/paths"
)

// EnvPrefix is prepended to every setting read from the environment (MLJOB_COMPUTE_POOL, ...).
const EnvPrefix = "MLJOB"

// DefaultLogTailChars is how many trailing log characters are printed after a job.
const DefaultLogTailChars = 10000

// DefaultRuntimeImage is the container runtime image ML jobs run in.
const DefaultRuntimeImage = "/snowflake/images/snowflake_images/st_plat/runtime/x86/runtime_image/snowbooks:1.7.1"

// Config holds all configuration values for the application.
type Config struct {
	// Compute pool jobs are submitted to
	ComputePool string

	// Fully qualified stage code and results are uploaded to
	Stage string

	// Database and schema job services are created in
	Database string
	Schema   string

	// Warehouse used by queries issued from inside the job (optional)
	QueryWarehouse string

	// Container image the job runs in
	RuntimeImage string

	// Overall wait budget for a submitted job
	Timeout time.Duration

	// Interval between job status polls
	PollInterval time.Duration

	// Minimum time between log downloads while polling (0 downloads on every poll)
	LogRefreshInterval time.Duration

	// Compute pool readiness budget and poll interval
	PoolMaxWait      time.Duration
	PoolPollInterval time.Duration

	// Number of trailing log characters printed after a job finishes
	LogTailChars int

	// Local output directories
	LogsDir      string
	ArtifactsDir string

	// Logging
	LogLevel  string
	LogFormat string

	// Session config file and the connection table to read from it
	ConnectionFile string
	Connection     string

	// Address for the Prometheus /metrics endpoint (empty disables it)
	MetricsAddr string

	// OTLP gRPC collector for traces (empty disables tracing)
	OTELEndpoint string

	// Fraction of traces sampled when tracing is enabled
	OTELSampleRatio float64
}

// SetDefaults registers the default value of every setting on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("compute_pool", "ML_SANDBOX_TEST")
	v.SetDefault("stage", "AI_ML.ML.STAGE_ML_SANDBOX_TEST")
	v.SetDefault("database", "AI_ML")
	v.SetDefault("schema", "ML")
	v.SetDefault("query_warehouse", "")
	v.SetDefault("runtime_image", DefaultRuntimeImage)
	v.SetDefault("timeout", time.Hour)
	v.SetDefault("poll_interval", 15*time.Second)
	v.SetDefault("log_refresh_interval", 30*time.Second)
	v.SetDefault("pool_max_wait", 60*time.Second)
	v.SetDefault("pool_poll_interval", 3*time.Second)
	v.SetDefault("log_tail_chars", DefaultLogTailChars)
	v.SetDefault("logs_dir", "")
	v.SetDefault("artifacts_dir", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("connection_file", "")
	v.SetDefault("connection", DefaultConnection)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("otel_sample_ratio", 1.0)
}

// New returns a viper instance reading MLJOB_* environment variables and,
// when cfgFile is set, that YAML file.
func New(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

// Load reads the settings from v, falling back to defaults, and validates them.
// Empty output directories resolve to logs/ and artifacts/ under the repository root.
func Load(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	cfg := &Config{
		ComputePool:        v.GetString("compute_pool"),
		Stage:              v.GetString("stage"),
		Database:           v.GetString("database"),
		Schema:             v.GetString("schema"),
		QueryWarehouse:     v.GetString("query_warehouse"),
		RuntimeImage:       v.GetString("runtime_image"),
		Timeout:            v.GetDuration("timeout"),
		PollInterval:       v.GetDuration("poll_interval"),
		LogRefreshInterval: v.GetDuration("log_refresh_interval"),
		PoolMaxWait:        v.GetDuration("pool_max_wait"),
		PoolPollInterval:   v.GetDuration("pool_poll_interval"),
		LogTailChars:       v.GetInt("log_tail_chars"),
		LogsDir:            v.GetString("logs_dir"),
		ArtifactsDir:       v.GetString("artifacts_dir"),
		LogLevel:           v.GetString("log_level"),
		LogFormat:          v.GetString("log_format"),
		ConnectionFile:     v.GetString("connection_file"),
		Connection:         v.GetString("connection"),
		MetricsAddr:        v.GetString("metrics_addr"),
		OTELEndpoint:       v.GetString("otel_endpoint"),
		OTELSampleRatio:    v.GetFloat64("otel_sample_ratio"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.LogsDir == "" || cfg.ArtifactsDir == "" {
		root, err := paths.RepoRoot(afero.NewOsFs(), "", nil)
		if err != nil {
			return nil, fmt.Errorf("failed to locate repository root: %w", err)
		}
		if cfg.LogsDir == "" {
			cfg.LogsDir = paths.LogsDir(root)
		}
		if cfg.ArtifactsDir == "" {
			cfg.ArtifactsDir = paths.ArtifactsDir(root)
		}
	}

	return cfg, nil
}

func (c *Config) validate() error {
	for name, val := range map[string]string{
		"compute_pool": c.ComputePool,
		"stage":        c.Stage,
		"database":     c.Database,
		"schema":       c.Schema,
	} {
		if val == "" {
			return apperrors.Validation(name, fmt.Sprintf("%s is required (env: %s_%s)", name, EnvPrefix, strings.ToUpper(name)))
		}
	}

	for name, d := range map[string]time.Duration{
		"timeout":            c.Timeout,
		"poll_interval":      c.PollInterval,
		"pool_max_wait":      c.PoolMaxWait,
		"pool_poll_interval": c.PoolPollInterval,
	} {
		if d <= 0 {
			return apperrors.Validation(name, fmt.Sprintf("%s must be positive, got %s", name, d))
		}
	}

	if c.LogRefreshInterval < 0 {
		return apperrors.Validation("log_refresh_interval", "log_refresh_interval must not be negative")
	}

	if c.OTELSampleRatio < 0 || c.OTELSampleRatio > 1 {
		return apperrors.Validation("otel_sample_ratio", fmt.Sprintf("otel_sample_ratio must be between 0 and 1, got %g", c.OTELSampleRatio))
	}

	if c.LogTailChars < 0 {
		return apperrors.Validation("log_tail_chars", "log_tail_chars must not be negative")
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return apperrors.Validation("log_format", fmt.Sprintf("invalid log_format %q (must be 'text' or 'json')", c.LogFormat))
	}
	return nil
}
