// Package storage maps work units to deterministic paths on local
// disk. Every artifact path is a pure function of the unit id, so
// "does valid output already exist" checks survive process restarts.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vuongtran/cardetl/internal/core/domain"
)

// Layout describes the working directory structure.
type Layout struct {
	BaseDir        string `yaml:"base_dir"`
	RawArchivesDir string `yaml:"raw_archives_dir"`
	ExtractedDir   string `yaml:"extracted_dir"`
	ProcessedDir   string `yaml:"processed_dir"`
	CheckpointsDir string `yaml:"checkpoints_dir"`
	FailuresDir    string `yaml:"failures_dir"`
	LogsDir        string `yaml:"logs_dir"`
}

// DefaultLayout returns the standard directory layout rooted at base.
func DefaultLayout(base string) Layout {
	return Layout{
		BaseDir:        base,
		RawArchivesDir: "raw_archives",
		ExtractedDir:   "extracted",
		ProcessedDir:   "processed",
		CheckpointsDir: "checkpoints",
		FailuresDir:    "failures",
		LogsDir:        "logs",
	}
}

// ApplyDefaults fills empty fields with the standard names.
func (l *Layout) ApplyDefaults() {
	def := DefaultLayout(l.BaseDir)
	if l.BaseDir == "" {
		l.BaseDir = "pricedata"
	}
	if l.RawArchivesDir == "" {
		l.RawArchivesDir = def.RawArchivesDir
	}
	if l.ExtractedDir == "" {
		l.ExtractedDir = def.ExtractedDir
	}
	if l.ProcessedDir == "" {
		l.ProcessedDir = def.ProcessedDir
	}
	if l.CheckpointsDir == "" {
		l.CheckpointsDir = def.CheckpointsDir
	}
	if l.FailuresDir == "" {
		l.FailuresDir = def.FailuresDir
	}
	if l.LogsDir == "" {
		l.LogsDir = def.LogsDir
	}
}

// EnsureDirs creates the full directory tree.
func (l Layout) EnsureDirs() error {
	for _, dir := range []string{
		l.BaseDir,
		l.RawArchivesPath(),
		l.ExtractedRoot(),
		l.ProcessedPath(),
		l.CheckpointsPath(),
		l.FailuresPath(),
		l.LogsPath(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

func (l Layout) RawArchivesPath() string { return filepath.Join(l.BaseDir, l.RawArchivesDir) }
func (l Layout) ExtractedRoot() string   { return filepath.Join(l.BaseDir, l.ExtractedDir) }
func (l Layout) ProcessedPath() string   { return filepath.Join(l.BaseDir, l.ProcessedDir) }
func (l Layout) CheckpointsPath() string { return filepath.Join(l.BaseDir, l.CheckpointsDir) }
func (l Layout) FailuresPath() string    { return filepath.Join(l.BaseDir, l.FailuresDir) }
func (l Layout) LogsPath() string        { return filepath.Join(l.BaseDir, l.LogsDir) }

// RawArchivePath is the on-disk location of a unit's raw archive.
func (l Layout) RawArchivePath(unit domain.Unit) string {
	return filepath.Join(l.RawArchivesPath(), fmt.Sprintf("prices-%s.ppmd.7z", unit))
}

// ExtractedPath is the directory a unit's archive extracts into.
func (l Layout) ExtractedPath(unit domain.Unit) string {
	return filepath.Join(l.ExtractedRoot(), string(unit))
}

// ProcessedCSVPath is the flattened CSV output for a unit.
func (l Layout) ProcessedCSVPath(unit domain.Unit) string {
	return filepath.Join(l.ProcessedPath(), fmt.Sprintf("card_prices_%s.csv", unit))
}

// CheckpointFile is the run checkpoint document.
func (l Layout) CheckpointFile(runID string) string {
	return filepath.Join(l.CheckpointsPath(), fmt.Sprintf("checkpoint_%s.json", runID))
}

// ReportFile is the final run report.
func (l Layout) ReportFile(runID string) string {
	return filepath.Join(l.LogsPath(), fmt.Sprintf("final_report_%s.json", runID))
}

// RecoveryFile is the analyzer's recovery plan output.
func (l Layout) RecoveryFile(runID string) string {
	return filepath.Join(l.LogsPath(), fmt.Sprintf("recovery_%s.json", runID))
}
