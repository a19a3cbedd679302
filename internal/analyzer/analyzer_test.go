package analyzer

import (
	"fmt"
	"testing"
	"time"

	"github.com/vuongtran/cardetl/internal/core/domain"
)

func record(unit string, stage domain.Stage, errMsg string) domain.FailureRecord {
	return domain.FailureRecord{
		ID:        fmt.Sprintf("%s-%s-%s", unit, stage, errMsg),
		Unit:      domain.Unit(unit),
		Timestamp: time.Now().UTC(),
		Stage:     stage,
		Error:     errMsg,
	}
}

func TestSignatureFirstMatchWins(t *testing.T) {
	tests := []struct {
		msg  string
		want string
	}{
		{"connection reset by peer", "connection_error"},
		{"read timeout after 300s", "connection_error"},
		{"HTTP 404 for prices-2024-02-01.ppmd.7z", "not_found"},
		{"permission denied on /data", "permission_error"},
		{"cannot allocate memory", "out_of_memory"},
		{"7z exited with code 2", "corrupt_archive"},
		{"quota exceeded for inserts", "sink_quota"},
		{"empty output: 0 records for unit", "empty_output"},
		{"credential rotation required", "auth"},
		// "connection" outranks "corrupt" because rules are ordered.
		{"connection dropped, archive corrupt", "connection_error"},
		{"some novel failure mode entirely", "some_novel_failure"},
		{"", "unknown"},
	}
	for _, tt := range tests {
		if got := Signature(tt.msg); got != tt.want {
			t.Errorf("Signature(%q) = %q, want %q", tt.msg, got, tt.want)
		}
	}
}

func TestAnalyzeStageClusterThreshold(t *testing.T) {
	a := New()

	// One download failure is noise, not a pattern.
	patterns := a.Analyze([]domain.FailureRecord{
		record("2024-02-01", domain.StageDownload, "connection reset"),
	})
	for _, p := range patterns {
		if p.Type == domain.PatternByStage {
			t.Errorf("single record produced stage pattern %+v", p)
		}
	}

	patterns = a.Analyze([]domain.FailureRecord{
		record("2024-02-01", domain.StageDownload, "connection reset"),
		record("2024-02-02", domain.StageDownload, "connection reset"),
	})
	found := false
	for _, p := range patterns {
		if p.Type == domain.PatternByStage && p.Key == "download" {
			found = true
			if p.Frequency != 2 || len(p.Units) != 2 {
				t.Errorf("pattern = %+v", p)
			}
			if p.Severity != domain.SeverityLow {
				t.Errorf("severity = %s, want low", p.Severity)
			}
		}
	}
	if !found {
		t.Error("two download failures produced no stage pattern")
	}
}

func TestAnalyzeBulkDownloadFailuresAreCritical(t *testing.T) {
	var records []domain.FailureRecord
	for i := 0; i < 25; i++ {
		records = append(records,
			record(fmt.Sprintf("2024-02-%02d", i%28+1), domain.StageDownload, "connection reset"))
	}

	patterns := New().Analyze(records)
	if len(patterns) == 0 {
		t.Fatal("no patterns found")
	}
	// Most severe first.
	if patterns[0].Type != domain.PatternByStage || patterns[0].Severity != domain.SeverityCritical {
		t.Errorf("top pattern = %+v, want critical download stage pattern", patterns[0])
	}
}

func TestAnalyzeSignatureClusterThreshold(t *testing.T) {
	records := []domain.FailureRecord{
		record("2024-02-01", domain.StagePublish, "quota exceeded"),
		record("2024-02-02", domain.StagePublish, "quota exceeded"),
	}
	for _, p := range New().Analyze(records) {
		if p.Type == domain.PatternBySignature {
			t.Errorf("two records produced signature pattern %+v", p)
		}
	}

	records = append(records, record("2024-02-03", domain.StagePublish, "quota exceeded"))
	found := false
	for _, p := range New().Analyze(records) {
		if p.Type == domain.PatternBySignature && p.Key == "sink_quota" {
			found = true
			if p.Severity != domain.SeverityMedium {
				t.Errorf("severity = %s, want medium", p.Severity)
			}
		}
	}
	if !found {
		t.Error("three matching records produced no signature pattern")
	}
}

func TestAnalyzeFlagsRepeatOffenderUnits(t *testing.T) {
	records := []domain.FailureRecord{
		record("2024-02-01", domain.StageDownload, "timeout"),
		record("2024-02-01", domain.StageDownload, "timeout"),
		record("2024-02-01", domain.StageExtract, "7z exited 2"),
		record("2024-02-02", domain.StageDownload, "timeout"),
	}

	var temporal *domain.FailurePattern
	for _, p := range New().Analyze(records) {
		if p.Type == domain.PatternTemporal {
			cp := p
			temporal = &cp
		}
	}
	if temporal == nil {
		t.Fatal("no temporal pattern found")
	}
	if len(temporal.Units) != 1 || temporal.Units[0] != "2024-02-01" {
		t.Errorf("temporal units = %v, want [2024-02-01]", temporal.Units)
	}
}

func TestBuildPlanPhasesAndCandidates(t *testing.T) {
	records := []domain.FailureRecord{
		record("2024-02-01", domain.StageDownload, "connection reset"),
		record("2024-02-01", domain.StageDownload, "connection reset"),
		record("2024-02-02", domain.StageDownload, "HTTP 404 for archive"),
		record("2024-02-03", domain.StagePublish, "quota exceeded"),
	}

	failed := []domain.Unit{"2024-02-01", "2024-02-02", "2024-02-03"}
	plan := New().BuildPlan("test_run", records, failed)

	if plan.Summary.TotalFailures != 4 || plan.Summary.AffectedUnits != 3 {
		t.Errorf("summary = %+v", plan.Summary)
	}
	if len(plan.Phases) != 3 {
		t.Fatalf("plan has %d phases, want 3", len(plan.Phases))
	}
	for i, name := range []string{"immediate", "systematic", "preventive"} {
		if plan.Phases[i].Name != name {
			t.Errorf("phase %d = %s, want %s", i, plan.Phases[i].Name, name)
		}
		if len(plan.Phases[i].Actions) == 0 {
			t.Errorf("phase %s has no actions", name)
		}
	}

	// 2024-02-02 only ever 404ed; retrying cannot help it.
	want := []domain.Unit{"2024-02-01", "2024-02-03"}
	if len(plan.RetryCandidates) != len(want) {
		t.Fatalf("RetryCandidates = %v, want %v", plan.RetryCandidates, want)
	}
	for i := range want {
		if plan.RetryCandidates[i] != want[i] {
			t.Fatalf("RetryCandidates = %v, want %v", plan.RetryCandidates, want)
		}
	}
}

func TestBuildPlanRetryCandidateWithMixedFailures(t *testing.T) {
	// A unit that 404ed once but also failed transiently stays a
	// candidate: the transient failure may be the real story.
	records := []domain.FailureRecord{
		record("2024-02-01", domain.StageDownload, "HTTP 404 for archive"),
		record("2024-02-01", domain.StageDownload, "connection reset"),
	}
	plan := New().BuildPlan("test_run", records, []domain.Unit{"2024-02-01"})
	if len(plan.RetryCandidates) != 1 || plan.RetryCandidates[0] != "2024-02-01" {
		t.Errorf("RetryCandidates = %v, want [2024-02-01]", plan.RetryCandidates)
	}
}

func TestBuildPlanCandidatesLimitedToFailedSet(t *testing.T) {
	// The ledger keeps every attempt forever; a unit that failed
	// transiently and then completed must not be recommended again.
	records := []domain.FailureRecord{
		record("2024-02-02", domain.StageExtract, "connection reset"),
		record("2024-02-02", domain.StageExtract, "connection reset"),
		record("2024-02-03", domain.StageDownload, "timeout waiting for response"),
	}

	plan := New().BuildPlan("test_run", records, []domain.Unit{"2024-02-03"})

	if len(plan.RetryCandidates) != 1 || plan.RetryCandidates[0] != "2024-02-03" {
		t.Errorf("RetryCandidates = %v, want [2024-02-03]", plan.RetryCandidates)
	}
	for _, u := range plan.RetryCandidates {
		if u == "2024-02-02" {
			t.Errorf("completed unit 2024-02-02 listed as retry candidate")
		}
	}
}
