package config

import (
	"time"

	"github.com/vuongtran/cardetl/internal/core/retry"
	"github.com/vuongtran/cardetl/internal/infra/redisq"
	"github.com/vuongtran/cardetl/internal/infra/source"
	"github.com/vuongtran/cardetl/internal/infra/storage"
	"github.com/vuongtran/cardetl/internal/infra/storage/postgres"
	"github.com/vuongtran/cardetl/internal/pipeline/stages"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Run         RunConfig         `yaml:"run"`
	Retry       retry.Config      `yaml:"retry"`
	Performance PerformanceConfig `yaml:"performance"`
	Directories storage.Layout    `yaml:"directories"`
	Validation  stages.Band       `yaml:"validation"`
	Source      source.Config     `yaml:"source"`
	Sink        postgres.Config   `yaml:"sink"`
	Redis       redisq.Config     `yaml:"redis"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// RunConfig bounds the unit sequence of a backfill.
type RunConfig struct {
	StartDate    string `yaml:"start_date"`
	EndDate      string `yaml:"end_date"`
	SkipWeekends bool   `yaml:"skip_weekends"`
}

// PerformanceConfig tunes concurrency and housekeeping.
type PerformanceConfig struct {
	MaxWorkers         int           `yaml:"max_workers"`
	CheckpointInterval int           `yaml:"checkpoint_interval"`
	CleanupArtifacts   bool          `yaml:"cleanup_artifacts"`
	GracePeriod        time.Duration `yaml:"grace_period"`
}

// ServerConfig holds health/metrics HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}
