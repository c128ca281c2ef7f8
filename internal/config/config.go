// internal/config/config.go
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	GithubToken string `mapstructure:"GITHUB_TOKEN"`

	// Action references to scan, plus optional expansion sources.
	Actions     []string `mapstructure:"ACTIONS"`
	ActionsFile string   `mapstructure:"ACTIONS_FILE"`
	Org         string   `mapstructure:"ORG"`

	// State and artifact locations.
	StatsFile   string `mapstructure:"STATS_FILE"`
	OutputDir   string `mapstructure:"OUTPUT_DIR"`
	ReportsDir  string `mapstructure:"REPORTS_DIR"`
	MetadataDir string `mapstructure:"METADATA_DIR"`
	FrontendDir string `mapstructure:"FRONTEND_DIR"`

	// AI analysis.
	PromptFile  string `mapstructure:"PROMPT_FILE"`
	ModelName   string `mapstructure:"MODEL_NAME"`
	GCPProject  string `mapstructure:"GCP_PROJECT"`
	GCPLocation string `mapstructure:"GCP_LOCATION"`
	SkipAIScan  bool   `mapstructure:"SKIP_AI_SCAN"`

	// Batch and API behaviour.
	Concurrency    int           `mapstructure:"CONCURRENCY"`
	MetadataMaxAge time.Duration `mapstructure:"METADATA_MAX_AGE"`
	APIAddr        string        `mapstructure:"API_ADDR"`
}

// LoadConfig reads configuration from file and/or environment variables.
func LoadConfig() (*Config, error) {
	// Set default values
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("STATS_FILE", "action-stats.json")
	viper.SetDefault("OUTPUT_DIR", "scan-results")
	viper.SetDefault("REPORTS_DIR", "scan-reports")
	viper.SetDefault("METADATA_DIR", "scan-metadata")
	viper.SetDefault("FRONTEND_DIR", "frontend")
	viper.SetDefault("PROMPT_FILE", "security-prompt.txt")
	viper.SetDefault("MODEL_NAME", "gemini-2.0-flash-lite-001")
	viper.SetDefault("GCP_LOCATION", "us-central1")
	viper.SetDefault("CONCURRENCY", 1)
	viper.SetDefault("METADATA_MAX_AGE", "6h")

	// Load from .env file if it exists
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	_ = viper.ReadInConfig() // Ignore error if file not found

	// Bind environment variables
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate required fields
	if cfg.GithubToken == "" {
		return nil, errors.New("GITHUB_TOKEN is a required configuration field")
	}
	if len(cfg.Actions) == 0 && cfg.ActionsFile == "" && cfg.Org == "" {
		return nil, errors.New("one of ACTIONS, ACTIONS_FILE or ORG must be provided")
	}
	if !cfg.SkipAIScan && cfg.GCPProject == "" {
		return nil, errors.New("GCP_PROJECT is required unless SKIP_AI_SCAN is set")
	}
	if cfg.Concurrency < 1 {
		return nil, errors.New("CONCURRENCY must be at least 1")
	}

	return &cfg, nil
}
