package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vuongtran/cardetl/internal/core/checkpoint"
	"github.com/vuongtran/cardetl/internal/core/domain"
)

func testStore(t *testing.T) *checkpoint.Store {
	t.Helper()
	s, err := checkpoint.Open(filepath.Join(t.TempDir(), "checkpoint_orch.json"), "orch_run")
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// fakeProcessor mimics the pipeline: it records terminal outcomes in
// the checkpoint and returns the matching result.
type fakeProcessor struct {
	mu        sync.Mutex
	store     *checkpoint.Store
	failWith  map[domain.Unit]error
	processed []domain.Unit
	delay     time.Duration
}

func (p *fakeProcessor) Process(ctx context.Context, unit domain.Unit) domain.UnitResult {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
		}
	}
	p.mu.Lock()
	p.processed = append(p.processed, unit)
	err := p.failWith[unit]
	p.mu.Unlock()

	if err != nil {
		_ = p.store.MarkFailed(unit, err.Error())
		return domain.UnitResult{Unit: unit, FailedStage: domain.StageDownload, Err: err}
	}
	_ = p.store.MarkCompleted(unit, 100, 10*time.Millisecond)
	return domain.UnitResult{Unit: unit, Success: true, RecordCount: 100}
}

func (p *fakeProcessor) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.processed)
}

func units(dates ...string) []domain.Unit {
	us := make([]domain.Unit, len(dates))
	for i, d := range dates {
		us[i] = domain.Unit(d)
	}
	return us
}

func TestRunProcessesEveryUnit(t *testing.T) {
	store := testStore(t)
	proc := &fakeProcessor{store: store}
	o := New(proc, store, nil, nil, Options{Workers: 3, GracePeriod: time.Second})

	all := units("2024-02-01", "2024-02-02", "2024-02-03", "2024-02-05")
	report, err := o.Run(context.Background(), all)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if proc.count() != len(all) {
		t.Errorf("processed %d units, want %d", proc.count(), len(all))
	}
	if report.CompletedUnits != len(all) || len(report.FailedUnits) != 0 {
		t.Errorf("report = %d completed, %d failed", report.CompletedUnits, len(report.FailedUnits))
	}
	if report.TotalRecords != int64(100*len(all)) {
		t.Errorf("TotalRecords = %d, want %d", report.TotalRecords, 100*len(all))
	}
	if report.Interrupted {
		t.Error("clean run marked interrupted")
	}
	if report.StartUnit != "2024-02-01" || report.EndUnit != "2024-02-05" {
		t.Errorf("report range %s..%s", report.StartUnit, report.EndUnit)
	}
}

func TestRunSkipsAlreadyCompletedUnits(t *testing.T) {
	store := testStore(t)
	if err := store.MarkCompleted("2024-02-01", 100, time.Second); err != nil {
		t.Fatal(err)
	}
	if err := store.MarkFailed("2024-02-02", "old failure"); err != nil {
		t.Fatal(err)
	}

	proc := &fakeProcessor{store: store}
	o := New(proc, store, nil, nil, Options{Workers: 2, GracePeriod: time.Second})

	_, err := o.Run(context.Background(), units("2024-02-01", "2024-02-02", "2024-02-03"))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	// Completed units are never reprocessed; previously failed ones are.
	if proc.count() != 2 {
		t.Fatalf("processed %d units, want 2: %v", proc.count(), proc.processed)
	}
	for _, u := range proc.processed {
		if u == "2024-02-01" {
			t.Error("completed unit was reprocessed")
		}
	}
}

func TestRunCollectsFailuresWithoutStopping(t *testing.T) {
	store := testStore(t)
	proc := &fakeProcessor{
		store: store,
		failWith: map[domain.Unit]error{
			"2024-02-02": domain.Validationf("record count 3 outside band"),
		},
	}
	o := New(proc, store, nil, nil, Options{Workers: 1, GracePeriod: time.Second})

	report, err := o.Run(context.Background(), units("2024-02-01", "2024-02-02", "2024-02-03"))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if proc.count() != 3 {
		t.Errorf("processed %d units, want all 3", proc.count())
	}
	if len(report.FailedUnits) != 1 || report.FailedUnits[0] != "2024-02-02" {
		t.Errorf("FailedUnits = %v", report.FailedUnits)
	}
	if report.Interrupted {
		t.Error("per-unit failure marked the run interrupted")
	}
}

func TestRunStopsAdmissionOnAbortClassFailure(t *testing.T) {
	store := testStore(t)
	abortErr := &domain.AuthError{Err: errors.New("token expired")}
	proc := &fakeProcessor{
		store:    store,
		failWith: map[domain.Unit]error{"2024-02-01": abortErr},
		delay:    10 * time.Millisecond,
	}
	o := New(proc, store, nil, nil, Options{Workers: 1, GracePeriod: time.Second})

	all := units("2024-02-01", "2024-02-02", "2024-02-03", "2024-02-05", "2024-02-06")
	report, err := o.Run(context.Background(), all)
	if !errors.Is(err, abortErr) {
		t.Fatalf("Run() error = %v, want the abort error", err)
	}
	// With one worker the first unit aborts admission; at most one
	// more unit was already queued.
	if proc.count() > 2 {
		t.Errorf("processed %d units after abort, want at most 2", proc.count())
	}
	if !report.Interrupted {
		t.Error("aborted run not marked interrupted")
	}
}

func TestRunStopsAdmissionOnCancel(t *testing.T) {
	store := testStore(t)
	proc := &fakeProcessor{store: store, delay: 20 * time.Millisecond}
	o := New(proc, store, nil, nil, Options{Workers: 1, GracePeriod: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	all := units("2024-02-01", "2024-02-02", "2024-02-03", "2024-02-05",
		"2024-02-06", "2024-02-07", "2024-02-08", "2024-02-09")
	report, err := o.Run(ctx, all)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !report.Interrupted {
		t.Error("cancelled run not marked interrupted")
	}
	if proc.count() >= len(all) {
		t.Errorf("processed all %d units despite cancellation", proc.count())
	}
	// In-flight units finished within the grace period instead of
	// being torn down.
	if got := proc.count(); got != report.CompletedUnits {
		t.Errorf("processed %d units but checkpoint has %d completed", got, report.CompletedUnits)
	}
}

type fakeQueue struct {
	mu     sync.Mutex
	pushed []domain.Unit
	scores map[domain.Unit]int
}

func (q *fakeQueue) Push(ctx context.Context, unit domain.Unit, failures int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pushed = append(q.pushed, unit)
	if q.scores == nil {
		q.scores = make(map[domain.Unit]int)
	}
	q.scores[unit] = failures
	return nil
}

type fakeHistory map[domain.Unit][]domain.FailureRecord

func (h fakeHistory) LoadUnit(unit domain.Unit) ([]domain.FailureRecord, error) {
	return h[unit], nil
}

func TestRunQueuesFailedUnitsForRetry(t *testing.T) {
	store := testStore(t)
	proc := &fakeProcessor{
		store: store,
		failWith: map[domain.Unit]error{
			"2024-02-02": domain.Transientf("flaky all day"),
		},
	}
	queue := &fakeQueue{}
	o := New(proc, store, queue, nil, Options{Workers: 2, GracePeriod: time.Second})

	if _, err := o.Run(context.Background(), units("2024-02-01", "2024-02-02")); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(queue.pushed) != 1 || queue.pushed[0] != "2024-02-02" {
		t.Errorf("queued units = %v, want [2024-02-02]", queue.pushed)
	}
}

func TestRunQueueScoresReflectFailureHistory(t *testing.T) {
	store := testStore(t)
	proc := &fakeProcessor{
		store: store,
		failWith: map[domain.Unit]error{
			"2024-02-01": domain.Transientf("flaky morning"),
			"2024-02-02": domain.Transientf("flaky afternoon"),
		},
	}
	rec := func(unit domain.Unit) domain.FailureRecord {
		return domain.FailureRecord{Unit: unit, Stage: domain.StageDownload, Error: "connection reset"}
	}
	history := fakeHistory{
		"2024-02-01": {rec("2024-02-01"), rec("2024-02-01"), rec("2024-02-01")},
		"2024-02-02": {rec("2024-02-02")},
	}
	queue := &fakeQueue{}
	o := New(proc, store, queue, history, Options{Workers: 1, GracePeriod: time.Second})

	if _, err := o.Run(context.Background(), units("2024-02-01", "2024-02-02")); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	// The queue pops lowest score first, so the unit with the shorter
	// failure history must carry the smaller score.
	if got := queue.scores["2024-02-01"]; got != 3 {
		t.Errorf("score for 2024-02-01 = %d, want 3", got)
	}
	if got := queue.scores["2024-02-02"]; got != 1 {
		t.Errorf("score for 2024-02-02 = %d, want 1", got)
	}
}
