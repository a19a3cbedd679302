// Package ledger is the append-only forensic record of every failed
// attempt. It is independent of the checkpoint: the checkpoint keeps
// the latest outcome per unit, the ledger keeps full history.
//
// Records are partitioned on disk by unit id (failures_<unit>.json),
// so a high-volume run never grows one unbounded file and analysis
// can re-load the full set cheaply.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vuongtran/cardetl/internal/core/domain"
)

// Ledger appends failure records to per-unit partitions. No update or
// delete operation exists.
type Ledger struct {
	mu  sync.Mutex
	dir string
}

// New creates a ledger rooted at dir, creating it if needed.
func New(dir string) (*Ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create failures dir: %w", err)
	}
	return &Ledger{dir: dir}, nil
}

func (l *Ledger) partition(unit domain.Unit) string {
	return filepath.Join(l.dir, fmt.Sprintf("failures_%s.json", unit))
}

// Record appends a failure record to the unit's partition.
func (l *Ledger) Record(rec domain.FailureRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.partition(rec.Unit)

	var records []domain.FailureRecord
	data, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(data, &records); err != nil {
			// A damaged partition must not block new appends; the
			// damaged content is set aside, not overwritten.
			slog.Warn("failure partition unreadable, rotating aside", "path", path, "error", err)
			_ = os.Rename(path, path+".damaged")
			records = nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to read failure partition: %w", err)
	}

	records = append(records, rec)
	out, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal failure records: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("failed to write failure partition: %w", err)
	}
	return nil
}

// RecordFailure builds and appends a record for one failed stage
// attempt. It satisfies the retry policy's Recorder interface. Ledger
// write problems are logged, never propagated: losing a forensic
// record must not turn a stage failure into a run failure.
func (l *Ledger) RecordFailure(unit domain.Unit, stage domain.Stage, err error, attempt int) {
	rec := domain.FailureRecord{
		ID:         uuid.New().String(),
		Unit:       unit,
		Timestamp:  time.Now().UTC(),
		Stage:      stage,
		Error:      err.Error(),
		ErrorCode:  errorCode(err),
		RetryCount: attempt,
	}
	if werr := l.Record(rec); werr != nil {
		slog.Error("failed to record failure", "unit", unit, "stage", stage, "error", werr)
	}
}

// LoadAll reconstructs the full record set across all partitions.
func (l *Ledger) LoadAll() ([]domain.FailureRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read failures dir: %w", err)
	}

	var all []domain.FailureRecord
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "failures_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(l.dir, name))
		if err != nil {
			slog.Warn("skipping unreadable failure partition", "file", name, "error", err)
			continue
		}
		var records []domain.FailureRecord
		if err := json.Unmarshal(data, &records); err != nil {
			slog.Warn("skipping corrupt failure partition", "file", name, "error", err)
			continue
		}
		all = append(all, records...)
	}
	return all, nil
}

// LoadUnit returns the failure history of a single unit.
func (l *Ledger) LoadUnit(unit domain.Unit) ([]domain.FailureRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := os.ReadFile(l.partition(unit))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read failure partition: %w", err)
	}
	var records []domain.FailureRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("corrupt failure partition for %s: %w", unit, err)
	}
	return records, nil
}

// errorCode extracts a coarse machine code when the error carries one.
func errorCode(err error) string {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return pathErr.Op
	}
	return ""
}
