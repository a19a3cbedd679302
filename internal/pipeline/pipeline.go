// Package pipeline runs the four stages for one work unit in order,
// short-circuiting on the first unresolved failure.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vuongtran/cardetl/internal/core/domain"
	"github.com/vuongtran/cardetl/internal/core/retry"
	"github.com/vuongtran/cardetl/internal/metrics"
)

// StageResult carries what a stage learned while running.
type StageResult struct {
	// RecordCount is set by the transform stage.
	RecordCount int64
	// Skipped means valid output already existed and no work was done.
	Skipped bool
}

// StageRunner executes one stage for one unit. Implementations must
// check for pre-existing valid output before doing work, and must
// clean up partial output before propagating an error, so that the
// next attempt's existence check cannot be fooled by corrupt state.
type StageRunner interface {
	Stage() domain.Stage
	Run(ctx context.Context, unit domain.Unit) (StageResult, error)
	// Cleanup discards intermediate artifacts the stage no longer
	// needs once the unit is durably completed.
	Cleanup(unit domain.Unit) error
}

// Checkpointer records terminal unit outcomes.
type Checkpointer interface {
	MarkCompleted(unit domain.Unit, recordCount int64, d time.Duration) error
	MarkFailed(unit domain.Unit, lastError string) error
}

// Pipeline drives a unit through download, extract, transform and
// publish, recording the outcome into the checkpoint. Failed attempts
// are recorded into the ledger by the retry policy.
type Pipeline struct {
	stages     []StageRunner
	policy     *retry.Policy
	checkpoint Checkpointer
	// cleanupArtifacts removes intermediate files after a unit is
	// durably completed, bounding disk usage. Never runs before
	// MarkCompleted has persisted.
	cleanupArtifacts bool
}

// New creates a pipeline over the given stages, which must be in
// execution order.
func New(stages []StageRunner, policy *retry.Policy, cp Checkpointer, cleanupArtifacts bool) *Pipeline {
	return &Pipeline{
		stages:           stages,
		policy:           policy,
		checkpoint:       cp,
		cleanupArtifacts: cleanupArtifacts,
	}
}

// Process runs all stages for one unit. Per-unit failures are folded
// into the result, never panicked or propagated; only the checkpoint
// medium failing turns into an abort-class error on the result.
func (p *Pipeline) Process(ctx context.Context, unit domain.Unit) domain.UnitResult {
	start := time.Now()
	state := StateNotStarted
	log := slog.With("unit", unit)

	var recordCount int64
	for _, stage := range p.stages {
		next := StageState(stage.Stage())
		if !CanTransition(state, next) {
			// Stage list out of order is a wiring bug, not a data error.
			err := fmt.Errorf("invalid pipeline transition %s -> %s", state, next)
			return p.fail(unit, stage.Stage(), err, start)
		}
		state = next

		stageStart := time.Now()
		var res StageResult
		err := p.policy.Execute(ctx, unit, stage.Stage(), func() error {
			var runErr error
			res, runErr = stage.Run(ctx, unit)
			return runErr
		})
		metrics.StageDuration.WithLabelValues(string(stage.Stage())).Observe(time.Since(stageStart).Seconds())

		if err != nil {
			// Shutdown reaching an in-flight unit is not a unit
			// failure: leave the unit unmarked so resume picks it up,
			// and keep cancellation noise out of the failure counts.
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				log.Info("unit interrupted by shutdown", "stage", stage.Stage())
				return domain.UnitResult{
					Unit:        unit,
					Duration:    time.Since(start),
					FailedStage: stage.Stage(),
					Err:         err,
				}
			}
			metrics.StageFailures.WithLabelValues(string(stage.Stage())).Inc()
			log.Error("stage failed, stopping unit", "stage", stage.Stage(), "error", err)
			return p.fail(unit, stage.Stage(), err, start)
		}

		if stage.Stage() == domain.StageTransform {
			recordCount = res.RecordCount
		}
		if res.Skipped {
			log.Debug("stage skipped, valid output exists", "stage", stage.Stage())
		}
	}

	duration := time.Since(start)
	if err := p.checkpoint.MarkCompleted(unit, recordCount, duration); err != nil {
		// The unit's side effects landed but the checkpoint did not;
		// continuing would risk silent reprocessing, so abort.
		return domain.UnitResult{Unit: unit, Duration: duration, Err: err}
	}

	if p.cleanupArtifacts {
		for _, stage := range p.stages {
			if err := stage.Cleanup(unit); err != nil {
				log.Warn("artifact cleanup failed", "stage", stage.Stage(), "error", err)
			}
		}
	}

	metrics.UnitsCompleted.Inc()
	metrics.RecordsProcessed.Add(float64(recordCount))
	log.Info("unit completed", "records", recordCount, "duration", duration.Round(time.Millisecond))

	return domain.UnitResult{
		Unit:        unit,
		Success:     true,
		RecordCount: recordCount,
		Duration:    duration,
	}
}

func (p *Pipeline) fail(unit domain.Unit, stage domain.Stage, err error, start time.Time) domain.UnitResult {
	duration := time.Since(start)
	result := domain.UnitResult{
		Unit:        unit,
		Duration:    duration,
		FailedStage: stage,
		Err:         err,
	}
	if mfErr := p.checkpoint.MarkFailed(unit, err.Error()); mfErr != nil {
		result.Err = mfErr
		return result
	}
	metrics.UnitsFailed.Inc()
	return result
}
