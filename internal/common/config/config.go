// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig          `mapstructure:"app"`
	Pipeline      PipelineConfig     `mapstructure:"pipeline"`
	Provider      ProviderConfig     `mapstructure:"provider"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Metrics       MetricsConfig      `mapstructure:"metrics"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Runner        RunnerConfig       `mapstructure:"runner"`
}

// --- Core App/Infrastructure Config ---

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// PipelineConfig holds the tunable policy constants of the resolution
// pipeline. Defaults follow the documented policy; everything is overridable.
type PipelineConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold"` // default 0.6
	SlotMaxAttempts     int     `mapstructure:"slot_max_attempts"`    // re-prompts before defaulting
	MaxSubnetSplit      int     `mapstructure:"max_subnet_split"`     // upper bound on derived subnets
	Environment         string  `mapstructure:"environment"`          // target environment name (dev/staging/prod)
	OutputDir           string  `mapstructure:"output_dir"`
}

// ProviderConfig selects the active provider/region and bounds adapter calls.
type ProviderConfig struct {
	Active       string `mapstructure:"active"` // aws | azure | gcp
	Region       string `mapstructure:"region"`
	FetchTimeout int    `mapstructure:"fetch_timeout"` // milliseconds, per adapter call
	MaxRetries   int    `mapstructure:"max_retries"`
	BackoffBase  int    `mapstructure:"backoff_base"` // milliseconds, doubled per attempt
	CacheTTL     int    `mapstructure:"cache_ttl"`    // seconds, capability fact cache
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
	Enabled        bool   `mapstructure:"enabled"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"` // e.g. :9102
}

// NotificationConfig configures the summary notification sinks.
type NotificationConfig struct {
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		Region   string `mapstructure:"region"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
}

// RunnerConfig configures the optional terraform execution runner.
type RunnerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Binary  string `mapstructure:"binary"`  // defaults to "terraform" on PATH
	Timeout int    `mapstructure:"timeout"` // seconds per step
}
