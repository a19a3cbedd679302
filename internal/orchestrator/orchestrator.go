// Package orchestrator fans a unit sequence out over a bounded worker
// pool, checkpoints progress, and produces the final run report.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vuongtran/cardetl/internal/core/checkpoint"
	"github.com/vuongtran/cardetl/internal/core/domain"
	"github.com/vuongtran/cardetl/internal/metrics"
)

// UnitProcessor runs one unit to a terminal outcome.
type UnitProcessor interface {
	Process(ctx context.Context, unit domain.Unit) domain.UnitResult
}

// RetryQueuer receives the run's failed units for later retry passes.
type RetryQueuer interface {
	Push(ctx context.Context, unit domain.Unit, failures int) error
}

// FailureHistory reports the recorded failures of a unit. The count
// becomes the unit's retry-queue score.
type FailureHistory interface {
	LoadUnit(unit domain.Unit) ([]domain.FailureRecord, error)
}

// Options tunes the run.
type Options struct {
	// Workers bounds in-flight units. Values below 1 are treated as 1.
	Workers int
	// ProgressInterval is how many finished units between full
	// checkpoint flushes and progress log lines.
	ProgressInterval int
	// GracePeriod is how long in-flight units may keep running after a
	// shutdown signal before their context is cancelled.
	GracePeriod time.Duration
}

// Orchestrator owns one run: it admits remaining units to the pool,
// folds results into the checkpoint, and stops admission on shutdown
// or on an abort-class failure. queue and history may be nil.
type Orchestrator struct {
	proc    UnitProcessor
	store   *checkpoint.Store
	queue   RetryQueuer
	history FailureHistory
	opts    Options
}

// New creates an orchestrator.
func New(proc UnitProcessor, store *checkpoint.Store, queue RetryQueuer, history FailureHistory, opts Options) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.ProgressInterval < 1 {
		opts.ProgressInterval = 10
	}
	return &Orchestrator{proc: proc, store: store, queue: queue, history: history, opts: opts}
}

// Run processes every unit not already completed in the checkpoint.
//
// Cancelling ctx stops admission immediately; units already in flight
// get GracePeriod to finish before their own context is cancelled, so
// a Ctrl-C never tears a unit down mid-stage. An abort-class result
// (infrastructure or credentials) also stops admission but lets the
// other in-flight units drain normally.
func (o *Orchestrator) Run(ctx context.Context, units []domain.Unit) (*RunReport, error) {
	start := time.Now()

	if err := o.store.SetTotalUnits(len(units)); err != nil {
		return nil, err
	}
	if err := o.store.SetPhase("processing"); err != nil {
		return nil, err
	}

	remaining := o.store.Remaining(units)
	metrics.UnitsRemaining.Set(float64(len(remaining)))
	slog.Info("starting run",
		"run_id", o.store.RunID(),
		"total_units", len(units),
		"remaining_units", len(remaining),
		"workers", o.opts.Workers)

	admitCtx, stopAdmission := context.WithCancel(ctx)
	defer stopAdmission()

	// Workers outlive the outer context by the grace period.
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	graceDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			t := time.NewTimer(o.opts.GracePeriod)
			defer t.Stop()
			select {
			case <-t.C:
				slog.Warn("grace period elapsed, cancelling in-flight units")
				cancelWork()
			case <-graceDone:
			}
		case <-graceDone:
		}
	}()
	defer close(graceDone)

	jobs := make(chan domain.Unit)
	go func() {
		defer close(jobs)
		for _, u := range remaining {
			select {
			case jobs <- u:
			case <-admitCtx.Done():
				return
			}
		}
	}()

	results := make(chan domain.UnitResult)
	var wg sync.WaitGroup
	for range o.opts.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for unit := range jobs {
				results <- o.proc.Process(workCtx, unit)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var (
		processed int
		aborted   bool
		abortErr  error
	)
	for res := range results {
		processed++
		metrics.UnitsRemaining.Dec()

		if !res.Success && domain.ClassifyError(res.Err) == domain.ActionAbort && !aborted {
			aborted = true
			abortErr = res.Err
			slog.Error("abort-class failure, stopping admission",
				"unit", res.Unit, "error", res.Err)
			stopAdmission()
		}

		if processed%o.opts.ProgressInterval == 0 {
			if err := o.store.Save(); err != nil {
				slog.Error("checkpoint flush failed", "error", err)
			}
			o.logProgress(processed, len(remaining), start)
		}
	}

	interrupted := ctx.Err() != nil || aborted
	phase := "completed"
	if interrupted {
		phase = "interrupted"
	}
	if err := o.store.SetPhase(phase); err != nil {
		slog.Error("final checkpoint flush failed", "error", err)
	}

	o.queueFailed()

	report := buildReport(o.store, units, time.Since(start), interrupted)
	slog.Info("run finished",
		"run_id", report.RunID,
		"completed", report.CompletedUnits,
		"failed", len(report.FailedUnits),
		"records", report.TotalRecords,
		"elapsed", report.Elapsed.Round(time.Second))
	return report, abortErr
}

func (o *Orchestrator) logProgress(processed, total int, start time.Time) {
	stats := o.store.Stats()
	elapsed := time.Since(start)
	var eta time.Duration
	if processed > 0 {
		eta = time.Duration(float64(elapsed) / float64(processed) * float64(total-processed))
	}
	slog.Info("progress",
		"processed", processed,
		"remaining", total-processed,
		"completed", stats.CompletedUnits,
		"failed", stats.FailedUnits,
		"eta", eta.Round(time.Second))
}

// queueFailed pushes the run's failed units onto the retry queue so a
// later retry-failed pass can pop them cheapest-first. Queue errors
// are logged, not fatal: the checkpoint is the source of truth.
func (o *Orchestrator) queueFailed() {
	if o.queue == nil {
		return
	}
	failed := o.store.FailedUnits()
	if len(failed) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, unit := range failed {
		if err := o.queue.Push(ctx, unit, o.failureCount(unit)); err != nil {
			slog.Warn("could not queue failed unit for retry", "unit", unit, "error", err)
			return
		}
	}
	slog.Info("queued failed units for retry", "count", len(failed))
}

// failureCount scores a unit by its recorded failures across every run
// to date, so chronically failing units sort behind fresh ones.
func (o *Orchestrator) failureCount(unit domain.Unit) int {
	if o.history == nil {
		return 1
	}
	records, err := o.history.LoadUnit(unit)
	if err != nil || len(records) == 0 {
		return 1
	}
	return len(records)
}
