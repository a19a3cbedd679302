// Package checkpoint persists per-run progress so an interrupted
// backfill can resume without reprocessing completed work.
//
// The checkpoint is a single human-readable JSON document per run.
// Mutations persist synchronously: a crash between a real external
// side effect and a non-persisted checkpoint must not cause silent
// reprocessing downstream. Unknown fields found on load are carried
// through untouched so the schema can evolve between runs.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/vuongtran/cardetl/internal/core/domain"
)

// ErrCorrupt is returned when a checkpoint file exists but cannot be
// parsed. The caller chooses between aborting and explicitly starting
// fresh; the store never makes that call silently.
var ErrCorrupt = errors.New("checkpoint file is corrupt")

// Stats are aggregate run statistics, maintained in O(1) per
// mutation, never recomputed from full history.
type Stats struct {
	TotalUnits            int     `json:"total_units"`
	CompletedUnits        int     `json:"completed_units"`
	FailedUnits           int     `json:"failed_units"`
	TotalProcessingSecs   float64 `json:"total_processing_time_seconds"`
	AverageSecondsPerUnit float64 `json:"average_time_per_unit_seconds"`
}

type completedEntry struct {
	RecordCount int64     `json:"record_count"`
	Seconds     float64   `json:"processing_time_seconds"`
	CompletedAt time.Time `json:"completed_at"`
}

type failedEntry struct {
	LastError string    `json:"last_error,omitempty"`
	FailedAt  time.Time `json:"failed_at"`
}

// Snapshot is a read-only copy of the checkpoint state.
type Snapshot struct {
	RunID        string    `json:"run_id"`
	StartedAt    time.Time `json:"started_at"`
	LastUpdated  time.Time `json:"last_updated"`
	Phase        string    `json:"phase"`
	TotalRecords int64     `json:"total_records_processed"`
	Stats        Stats     `json:"statistics"`
	FailedUnits  []string  `json:"failed_units"`
}

// Store is the durable checkpoint for one run. All mutations are
// serialized internally; concurrent unit workers share one Store.
type Store struct {
	mu   sync.Mutex
	path string

	runID        string
	startedAt    time.Time
	lastUpdated  time.Time
	phase        string
	completed    map[string]completedEntry
	failed       map[string]failedEntry
	totalRecords int64
	stats        Stats

	// Fields other writers added to the document; preserved verbatim.
	extra map[string]json.RawMessage
}

// Open loads the checkpoint at path, or returns a fresh zero-value
// store when no file exists. A file that exists but fails to parse
// yields ErrCorrupt.
func Open(path, runID string) (*Store, error) {
	s := &Store{
		path:      path,
		runID:     runID,
		startedAt: time.Now().UTC(),
		phase:     "initialization",
		completed: make(map[string]completedEntry),
		failed:    make(map[string]failedEntry),
		extra:     make(map[string]json.RawMessage),
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := s.decode(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return s, nil
}

// Exists reports whether a checkpoint file is present on disk.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

var knownKeys = map[string]bool{
	"run_id": true, "started_at": true, "last_updated": true,
	"phase": true, "completed": true, "failed": true,
	"total_records_processed": true, "statistics": true,
}

func (s *Store) decode(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	decodeField := func(key string, dst any) error {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		return json.Unmarshal(v, dst)
	}

	if err := decodeField("run_id", &s.runID); err != nil {
		return err
	}
	if err := decodeField("started_at", &s.startedAt); err != nil {
		return err
	}
	if err := decodeField("last_updated", &s.lastUpdated); err != nil {
		return err
	}
	if err := decodeField("phase", &s.phase); err != nil {
		return err
	}
	if err := decodeField("completed", &s.completed); err != nil {
		return err
	}
	if err := decodeField("failed", &s.failed); err != nil {
		return err
	}
	if err := decodeField("total_records_processed", &s.totalRecords); err != nil {
		return err
	}
	if err := decodeField("statistics", &s.stats); err != nil {
		return err
	}

	for k, v := range raw {
		if !knownKeys[k] {
			s.extra[k] = v
		}
	}
	return nil
}

func (s *Store) encode() ([]byte, error) {
	doc := make(map[string]any, len(knownKeys)+len(s.extra))
	doc["run_id"] = s.runID
	doc["started_at"] = s.startedAt
	doc["last_updated"] = s.lastUpdated
	doc["phase"] = s.phase
	doc["completed"] = s.completed
	doc["failed"] = s.failed
	doc["total_records_processed"] = s.totalRecords
	doc["statistics"] = s.stats
	for k, v := range s.extra {
		doc[k] = v
	}
	return json.MarshalIndent(doc, "", "  ")
}

// persist writes the document atomically: temp file, fsync, rename.
// A write failure is fatal to the run.
func (s *Store) persist() error {
	s.lastUpdated = time.Now().UTC()
	data, err := s.encode()
	if err != nil {
		return &domain.InfraError{Op: "encode checkpoint", Err: err}
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return &domain.InfraError{Op: "write checkpoint", Err: err}
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return &domain.InfraError{Op: "write checkpoint", Err: err}
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return &domain.InfraError{Op: "sync checkpoint", Err: err}
	}
	if err := f.Close(); err != nil {
		return &domain.InfraError{Op: "close checkpoint", Err: err}
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return &domain.InfraError{Op: "rename checkpoint", Err: err}
	}
	return nil
}

// MarkCompleted records a unit as done. Idempotent: re-marking a
// completed unit replaces its entry and adjusts aggregates. The unit
// leaves the failed set the moment it completes.
func (s *Store) MarkCompleted(unit domain.Unit, recordCount int64, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(unit)
	if prev, ok := s.completed[key]; ok {
		s.totalRecords -= prev.RecordCount
		s.stats.TotalProcessingSecs -= prev.Seconds
		s.stats.CompletedUnits--
	}
	if _, ok := s.failed[key]; ok {
		delete(s.failed, key)
		s.stats.FailedUnits = len(s.failed)
	}

	s.completed[key] = completedEntry{
		RecordCount: recordCount,
		Seconds:     d.Seconds(),
		CompletedAt: time.Now().UTC(),
	}
	s.totalRecords += recordCount
	s.stats.CompletedUnits = len(s.completed)
	s.stats.TotalProcessingSecs += d.Seconds()
	s.stats.AverageSecondsPerUnit = s.stats.TotalProcessingSecs / float64(s.stats.CompletedUnits)

	return s.persist()
}

// MarkFailed records a unit as failed. Idempotent; removes the unit
// from the completed set if present.
func (s *Store) MarkFailed(unit domain.Unit, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := string(unit)
	if prev, ok := s.completed[key]; ok {
		delete(s.completed, key)
		s.totalRecords -= prev.RecordCount
		s.stats.TotalProcessingSecs -= prev.Seconds
		s.stats.CompletedUnits = len(s.completed)
		if s.stats.CompletedUnits > 0 {
			s.stats.AverageSecondsPerUnit = s.stats.TotalProcessingSecs / float64(s.stats.CompletedUnits)
		} else {
			s.stats.AverageSecondsPerUnit = 0
		}
	}

	s.failed[key] = failedEntry{LastError: lastError, FailedAt: time.Now().UTC()}
	s.stats.FailedUnits = len(s.failed)

	return s.persist()
}

// Remaining returns all units minus the completed set, preserving the
// input order. Failed units remain in the result so a resumed run
// retries them; callers wanting only never-attempted units filter the
// failed set out themselves.
func (s *Store) Remaining(all []domain.Unit) []domain.Unit {
	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := make([]domain.Unit, 0, len(all))
	for _, u := range all {
		if _, done := s.completed[string(u)]; !done {
			remaining = append(remaining, u)
		}
	}
	return remaining
}

// IsCompleted reports whether the unit finished a previous pass.
func (s *Store) IsCompleted(unit domain.Unit) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.completed[string(unit)]
	return ok
}

// FailedUnits returns the failed set, sorted, deduplicated by
// construction.
func (s *Store) FailedUnits() []domain.Unit {
	s.mu.Lock()
	defer s.mu.Unlock()

	units := make([]domain.Unit, 0, len(s.failed))
	for k := range s.failed {
		units = append(units, domain.Unit(k))
	}
	sort.Slice(units, func(i, j int) bool { return units[i] < units[j] })
	return units
}

// TotalRecords returns the sum of record counts over completed units.
func (s *Store) TotalRecords() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalRecords
}

// Stats returns a copy of the aggregate statistics.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// SetTotalUnits records the size of the full unit sequence.
func (s *Store) SetTotalUnits(n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats.TotalUnits = n
	return s.persist()
}

// SetPhase updates the run phase and persists.
func (s *Store) SetPhase(phase string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
	return s.persist()
}

// Save flushes the current state to disk.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist()
}

// RunID returns the run this checkpoint belongs to.
func (s *Store) RunID() string { return s.runID }

// Path returns the on-disk location of the checkpoint document.
func (s *Store) Path() string { return s.path }

// Snapshot returns a read-only view for status display and health
// reporting.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	failedUnits := make([]string, 0, len(s.failed))
	for k := range s.failed {
		failedUnits = append(failedUnits, k)
	}
	sort.Strings(failedUnits)

	return Snapshot{
		RunID:        s.runID,
		StartedAt:    s.startedAt,
		LastUpdated:  s.lastUpdated,
		Phase:        s.phase,
		TotalRecords: s.totalRecords,
		Stats:        s.stats,
		FailedUnits:  failedUnits,
	}
}
