package checkpoint

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vuongtran/cardetl/internal/core/domain"
)

func tempStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "checkpoint_test.json")
	s, err := Open(path, "test_run")
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	return s
}

func TestOpenMissingFileStartsFresh(t *testing.T) {
	s := tempStore(t)
	if got := s.Stats(); got.CompletedUnits != 0 || got.FailedUnits != 0 {
		t.Errorf("fresh store has stats %+v", got)
	}
	if s.RunID() != "test_run" {
		t.Errorf("RunID() = %q", s.RunID())
	}
}

func TestOpenCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint_bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(path, "bad_run")
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Open() error = %v, want ErrCorrupt", err)
	}
}

func TestMarkCompletedPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint_reload.json")
	s, err := Open(path, "reload_run")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MarkCompleted("2024-02-01", 48000, 40*time.Second); err != nil {
		t.Fatalf("MarkCompleted() error: %v", err)
	}
	if err := s.MarkCompleted("2024-02-02", 50000, 44*time.Second); err != nil {
		t.Fatalf("MarkCompleted() error: %v", err)
	}

	reloaded, err := Open(path, "reload_run")
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	if !reloaded.IsCompleted("2024-02-01") || !reloaded.IsCompleted("2024-02-02") {
		t.Error("completed units lost across reload")
	}
	if got := reloaded.TotalRecords(); got != 98000 {
		t.Errorf("TotalRecords() = %d, want 98000", got)
	}
	stats := reloaded.Stats()
	if stats.CompletedUnits != 2 {
		t.Errorf("CompletedUnits = %d, want 2", stats.CompletedUnits)
	}
	if stats.AverageSecondsPerUnit != 42 {
		t.Errorf("AverageSecondsPerUnit = %v, want 42", stats.AverageSecondsPerUnit)
	}
}

func TestCompletedAndFailedStayDisjoint(t *testing.T) {
	s := tempStore(t)

	if err := s.MarkFailed("2024-02-01", "timeout"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkCompleted("2024-02-01", 100, time.Second); err != nil {
		t.Fatal(err)
	}

	if len(s.FailedUnits()) != 0 {
		t.Error("unit completed after failure still in failed set")
	}
	if !s.IsCompleted("2024-02-01") {
		t.Error("unit not in completed set")
	}

	// And the other direction.
	if err := s.MarkFailed("2024-02-01", "later regression"); err != nil {
		t.Fatal(err)
	}
	if s.IsCompleted("2024-02-01") {
		t.Error("unit failed after completion still in completed set")
	}
	if s.TotalRecords() != 0 {
		t.Errorf("TotalRecords() = %d after completion revoked, want 0", s.TotalRecords())
	}
}

func TestMarkCompletedIsIdempotent(t *testing.T) {
	s := tempStore(t)

	if err := s.MarkCompleted("2024-02-01", 100, time.Second); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkCompleted("2024-02-01", 120, 2*time.Second); err != nil {
		t.Fatal(err)
	}

	stats := s.Stats()
	if stats.CompletedUnits != 1 {
		t.Errorf("CompletedUnits = %d, want 1", stats.CompletedUnits)
	}
	if got := s.TotalRecords(); got != 120 {
		t.Errorf("TotalRecords() = %d, want 120 (last write wins)", got)
	}
	if stats.TotalProcessingSecs != 2 {
		t.Errorf("TotalProcessingSecs = %v, want 2", stats.TotalProcessingSecs)
	}
}

func TestRemainingPreservesOrderAndKeepsFailed(t *testing.T) {
	s := tempStore(t)

	all := []domain.Unit{"2024-02-01", "2024-02-02", "2024-02-03", "2024-02-04"}
	if err := s.MarkCompleted("2024-02-02", 10, time.Second); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkFailed("2024-02-03", "boom"); err != nil {
		t.Fatal(err)
	}

	got := s.Remaining(all)
	want := []domain.Unit{"2024-02-01", "2024-02-03", "2024-02-04"}
	if len(got) != len(want) {
		t.Fatalf("Remaining() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Remaining() = %v, want %v", got, want)
		}
	}
}

func TestUnknownFieldsSurviveRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoint_extra.json")
	doc := map[string]any{
		"run_id":       "extra_run",
		"completed":    map[string]any{},
		"future_field": map[string]any{"version": 2},
	}
	data, _ := json.Marshal(doc)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Open(path, "extra_run")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MarkCompleted("2024-02-01", 5, time.Second); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	if _, ok := out["future_field"]; !ok {
		t.Error("unknown field dropped on rewrite")
	}
}

func TestListSortsByStartTime(t *testing.T) {
	dir := t.TempDir()

	for i, id := range []string{"run_b", "run_a"} {
		s, err := Open(filepath.Join(dir, "checkpoint_"+id+".json"), id)
		if err != nil {
			t.Fatal(err)
		}
		s.startedAt = time.Date(2024, 2, 10-i, 0, 0, 0, 0, time.UTC)
		if err := s.Save(); err != nil {
			t.Fatal(err)
		}
	}
	// A stray unparseable file must not break listing.
	if err := os.WriteFile(filepath.Join(dir, "checkpoint_junk.json"), []byte("oops"), 0o644); err != nil {
		t.Fatal(err)
	}

	snaps, err := List(dir)
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("List() returned %d snapshots, want 2", len(snaps))
	}
	if snaps[0].RunID != "run_a" || snaps[1].RunID != "run_b" {
		t.Errorf("List() order = %s, %s", snaps[0].RunID, snaps[1].RunID)
	}
}
