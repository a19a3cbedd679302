package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vuongtran/cardetl/internal/core/retry"
)

// Load reads configuration from a YAML file. Environment variables in
// the file are expanded before parsing, so secrets stay out of the
// file itself.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	expandedData := os.ExpandEnv(string(data))
	// Seed a sentinel first: zero is a legal max_retries value (no
	// retries), so an absent key must be told apart from an explicit 0.
	cfg.Retry.MaxRetries = -1
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	def := retry.DefaultConfig()
	if cfg.Retry.MaxRetries == -1 {
		cfg.Retry.MaxRetries = def.MaxRetries
	}
	if cfg.Retry.BaseDelay == 0 {
		cfg.Retry.BaseDelay = def.BaseDelay
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = def.MaxDelay
	}
	if cfg.Retry.BackoffFactor == 0 {
		cfg.Retry.BackoffFactor = def.BackoffFactor
	}
	if cfg.Retry.JitterMin == 0 && cfg.Retry.JitterMax == 0 {
		cfg.Retry.JitterMin = def.JitterMin
		cfg.Retry.JitterMax = def.JitterMax
	}

	if cfg.Performance.MaxWorkers == 0 {
		cfg.Performance.MaxWorkers = 4
	}
	if cfg.Performance.CheckpointInterval == 0 {
		cfg.Performance.CheckpointInterval = 10
	}
	if cfg.Performance.GracePeriod == 0 {
		cfg.Performance.GracePeriod = 30 * time.Second
	}

	cfg.Directories.ApplyDefaults()

	if cfg.Source.BaseURL == "" {
		cfg.Source.BaseURL = "https://tcgcsv.com/archive/tcgplayer"
	}
	if cfg.Source.Timeout == 0 {
		cfg.Source.Timeout = 5 * time.Minute
	}

	// Negative port disables the ops server entirely.
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// validate rejects configurations that would produce silent bad runs.
// The validation band has no usable default: accepting everything
// would let an empty source day publish zero rows as a success.
func validate(cfg *AppConfig) error {
	if err := cfg.Validation.Validate(); err != nil {
		return fmt.Errorf("validation band: %w", err)
	}
	if cfg.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if cfg.Retry.JitterMin < 0 || cfg.Retry.JitterMax < cfg.Retry.JitterMin {
		return fmt.Errorf("retry jitter range [%v, %v] is invalid",
			cfg.Retry.JitterMin, cfg.Retry.JitterMax)
	}
	if cfg.Performance.MaxWorkers < 1 {
		return fmt.Errorf("performance.max_workers must be at least 1")
	}
	return nil
}
