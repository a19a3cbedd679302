package analyzer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/vuongtran/cardetl/internal/core/domain"
)

// Summary aggregates the raw failure records behind a plan.
type Summary struct {
	TotalFailures int            `json:"total_failures"`
	AffectedUnits int            `json:"affected_units"`
	ByStage       map[string]int `json:"by_stage"`
	BySeverity    map[string]int `json:"by_severity"`
}

// PlanPhase groups recommended actions by urgency.
type PlanPhase struct {
	Name    string   `json:"name"`
	Actions []string `json:"actions"`
}

// RecoveryPlan is the analyzer's output: what went wrong, what to do
// about it, and which units are worth retrying.
type RecoveryPlan struct {
	RunID           string                  `json:"run_id"`
	GeneratedAt     time.Time               `json:"generated_at"`
	Summary         Summary                 `json:"summary"`
	Patterns        []domain.FailurePattern `json:"patterns"`
	Phases          []PlanPhase             `json:"phases"`
	RetryCandidates []domain.Unit           `json:"retry_candidates"`
}

// BuildPlan analyzes the records and lays out a three-phase recovery:
// immediate fixes for critical patterns, systematic retries, and
// preventive follow-ups. failed is the checkpoint's current failed
// set; retry candidates come from it, minus units whose failures
// cannot clear on retry (missing source data). The ledger alone is
// not enough: it spans completed units and prior runs.
func (a *Analyzer) BuildPlan(runID string, records []domain.FailureRecord, failed []domain.Unit) RecoveryPlan {
	patterns := a.Analyze(records)

	plan := RecoveryPlan{
		RunID:       runID,
		GeneratedAt: time.Now().UTC(),
		Patterns:    patterns,
		Summary:     summarize(records),
	}
	for _, p := range patterns {
		plan.Summary.BySeverity[string(p.Severity)]++
	}

	var immediate, systematic, preventive []string
	for _, p := range patterns {
		switch p.Severity {
		case domain.SeverityCritical:
			immediate = append(immediate, fmt.Sprintf("[%s/%s] %s", p.Type, p.Key, p.Recommendation))
		case domain.SeverityHigh:
			systematic = append(systematic, fmt.Sprintf("[%s/%s] %s", p.Type, p.Key, p.Recommendation))
		default:
			preventive = append(preventive, fmt.Sprintf("[%s/%s] %s", p.Type, p.Key, p.Recommendation))
		}
	}
	if len(immediate) == 0 && len(records) > 0 {
		immediate = append(immediate, "no critical patterns, proceed to systematic retries")
	}
	systematic = append(systematic, "re-run failed units with `cardetl retry-failed`")
	preventive = append(preventive, "review validation band and retry settings against this run's failure mix")

	plan.Phases = []PlanPhase{
		{Name: "immediate", Actions: immediate},
		{Name: "systematic", Actions: systematic},
		{Name: "preventive", Actions: preventive},
	}

	plan.RetryCandidates = retryCandidates(records, failed)
	return plan
}

func summarize(records []domain.FailureRecord) Summary {
	s := Summary{
		TotalFailures: len(records),
		ByStage:       make(map[string]int),
		BySeverity:    make(map[string]int),
	}
	units := make(map[domain.Unit]struct{})
	for _, r := range records {
		s.ByStage[string(r.Stage)]++
		units[r.Unit] = struct{}{}
	}
	s.AffectedUnits = len(units)
	return s
}

// retryCandidates keeps the units still failed in the checkpoint,
// dropping those whose every recorded failure is terminal: a 404
// from the source will 404 again. Units that later completed carry
// ledger records too, so membership in failed is what qualifies.
func retryCandidates(records []domain.FailureRecord, failed []domain.Unit) []domain.Unit {
	hasRetryable := make(map[domain.Unit]bool)
	hasTerminal := make(map[domain.Unit]bool)
	for _, r := range records {
		if Signature(r.Error) == "not_found" {
			hasTerminal[r.Unit] = true
		} else {
			hasRetryable[r.Unit] = true
		}
	}

	var units []domain.Unit
	seen := make(map[domain.Unit]struct{})
	for _, unit := range failed {
		if _, dup := seen[unit]; dup {
			continue
		}
		seen[unit] = struct{}{}
		if hasTerminal[unit] && !hasRetryable[unit] {
			continue
		}
		units = append(units, unit)
	}
	sort.Slice(units, func(i, j int) bool { return units[i] < units[j] })
	return units
}

// WritePlan persists the plan as indented JSON for humans and tooling.
func WritePlan(path string, plan RecoveryPlan) error {
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling recovery plan: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing recovery plan: %w", err)
	}
	return nil
}
