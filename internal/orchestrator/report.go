package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/vuongtran/cardetl/internal/core/checkpoint"
	"github.com/vuongtran/cardetl/internal/core/domain"
)

// RunReport is the final summary of one orchestrator pass.
type RunReport struct {
	RunID          string        `json:"run_id"`
	StartUnit      domain.Unit   `json:"start_date"`
	EndUnit        domain.Unit   `json:"end_date"`
	TotalUnits     int           `json:"total_units"`
	CompletedUnits int           `json:"completed_units"`
	FailedUnits    []domain.Unit `json:"failed_units"`
	TotalRecords   int64         `json:"total_records"`
	Elapsed        time.Duration `json:"-"`
	ElapsedSeconds float64       `json:"elapsed_seconds"`
	UnitsPerHour   float64       `json:"units_per_hour"`
	RecordsPerSec  float64       `json:"records_per_second"`
	Interrupted    bool          `json:"interrupted"`
	NextActions    []string      `json:"next_actions,omitempty"`
}

func buildReport(store *checkpoint.Store, units []domain.Unit, elapsed time.Duration, interrupted bool) *RunReport {
	stats := store.Stats()
	r := &RunReport{
		RunID:          store.RunID(),
		TotalUnits:     len(units),
		CompletedUnits: stats.CompletedUnits,
		FailedUnits:    store.FailedUnits(),
		TotalRecords:   store.TotalRecords(),
		Elapsed:        elapsed,
		ElapsedSeconds: elapsed.Seconds(),
		Interrupted:    interrupted,
	}
	if len(units) > 0 {
		r.StartUnit = units[0]
		r.EndUnit = units[len(units)-1]
	}
	if elapsed > 0 {
		r.UnitsPerHour = float64(stats.CompletedUnits) / elapsed.Hours()
		r.RecordsPerSec = float64(r.TotalRecords) / elapsed.Seconds()
	}

	switch {
	case interrupted:
		r.NextActions = append(r.NextActions,
			fmt.Sprintf("resume with: cardetl resume --run-id %s", r.RunID))
	case len(r.FailedUnits) > 0:
		r.NextActions = append(r.NextActions,
			fmt.Sprintf("inspect failures with: cardetl report --run-id %s", r.RunID),
			fmt.Sprintf("retry with: cardetl retry-failed --run-id %s", r.RunID))
	}
	return r
}

// WriteReport persists the report as indented JSON.
func WriteReport(path string, report *RunReport) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing run report: %w", err)
	}
	return nil
}
