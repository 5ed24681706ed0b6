// internal/common/config/loader.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	loadEnvFile()

	// Base config
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("../../configs")
	viper.AddConfigPath(".")

	// Enable ENV override like PROVIDER_REGION
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	// Environment-specific overlay, ignored when absent.
	envConfigFile := fmt.Sprintf("config.%s", env)
	viper.SetConfigName(envConfigFile)
	_ = viper.MergeInConfig()

	expandEnvVars(viper.GetViper())

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads .env from common locations so the binary behaves the same
// from the repo root, a cmd directory, or a package test.
func loadEnvFile() {
	possiblePaths := []string{
		".env",
		"../.env",
		"../../.env",
		"../../../.env",
	}

	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// findProjectRoot walks up directories looking for go.mod.
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// expandEnvVars resolves ${VAR} placeholders inside string config values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		val := v.Get(key)

		if strVal, ok := val.(string); ok {
			if strings.Contains(strVal, "${") || (strings.HasPrefix(strVal, "$") && len(strVal) > 1) {
				expanded := os.ExpandEnv(strVal)
				if expanded != strVal && expanded != "" {
					v.Set(key, expanded)
				}
			}
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "infra-wizard"
	}
	if cfg.App.Environment == "" {
		cfg.App.Environment = "development"
	}

	if cfg.Pipeline.ConfidenceThreshold == 0 {
		cfg.Pipeline.ConfidenceThreshold = 0.6
	}
	if cfg.Pipeline.SlotMaxAttempts == 0 {
		cfg.Pipeline.SlotMaxAttempts = 3
	}
	if cfg.Pipeline.MaxSubnetSplit == 0 {
		cfg.Pipeline.MaxSubnetSplit = 16
	}
	if cfg.Pipeline.Environment == "" {
		cfg.Pipeline.Environment = "dev"
	}
	if cfg.Pipeline.OutputDir == "" {
		cfg.Pipeline.OutputDir = "./generated"
	}

	if cfg.Provider.Active == "" {
		cfg.Provider.Active = "aws"
	}
	if cfg.Provider.FetchTimeout == 0 {
		cfg.Provider.FetchTimeout = 5000
	}
	if cfg.Provider.MaxRetries == 0 {
		cfg.Provider.MaxRetries = 2
	}
	if cfg.Provider.BackoffBase == 0 {
		cfg.Provider.BackoffBase = 100
	}
	if cfg.Provider.CacheTTL == 0 {
		cfg.Provider.CacheTTL = 900
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = ":9102"
	}

	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 10
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}

	if cfg.Runner.Binary == "" {
		cfg.Runner.Binary = "terraform"
	}
	if cfg.Runner.Timeout == 0 {
		cfg.Runner.Timeout = 600
	}
}

func validateConfig(cfg *Config) error {
	switch cfg.Provider.Active {
	case "aws", "azure", "gcp":
	default:
		return fmt.Errorf("provider.active must be one of aws, azure, gcp; got %q", cfg.Provider.Active)
	}

	if cfg.Pipeline.ConfidenceThreshold < 0 || cfg.Pipeline.ConfidenceThreshold > 1 {
		return fmt.Errorf("pipeline.confidence_threshold must be in [0,1]; got %v", cfg.Pipeline.ConfidenceThreshold)
	}

	if cfg.Pipeline.MaxSubnetSplit < 1 {
		return fmt.Errorf("pipeline.max_subnet_split must be positive")
	}

	if cfg.Notifications.SNS.Enabled && cfg.Notifications.SNS.TopicARN == "" {
		return fmt.Errorf("notifications.sns.topic_arn is required when SNS is enabled")
	}

	return nil
}
