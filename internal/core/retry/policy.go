// Package retry implements bounded exponential backoff with jitter
// for a single retryable stage operation.
//
// This is the only component allowed to sleep on behalf of a stage.
// Stages stay idempotent so a retried attempt after a partial failure
// cannot corrupt state.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/vuongtran/cardetl/internal/core/domain"
	"github.com/vuongtran/cardetl/internal/metrics"
)

// Config defines retry behavior.
type Config struct {
	MaxRetries    int           `yaml:"max_retries"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	BackoffFactor float64       `yaml:"backoff_factor"`
	// Jitter is added as a uniform random fraction of the computed
	// delay, drawn from [JitterMin, JitterMax].
	JitterMin float64 `yaml:"jitter_min"`
	JitterMax float64 `yaml:"jitter_max"`
}

// DefaultConfig provides sensible defaults for a rate-limited
// external source.
func DefaultConfig() Config {
	return Config{
		MaxRetries:    5,
		BaseDelay:     2 * time.Second,
		MaxDelay:      5 * time.Minute,
		BackoffFactor: 2.0,
		JitterMin:     0.1,
		JitterMax:     0.5,
	}
}

// Recorder receives one record per failed attempt, including the
// final fatal one. The ledger implements it.
type Recorder interface {
	RecordFailure(unit domain.Unit, stage domain.Stage, err error, attempt int)
}

// Policy executes operations with exponential backoff and jitter.
type Policy struct {
	config   Config
	recorder Recorder

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a policy. recorder may be nil.
func New(config Config, recorder Recorder) *Policy {
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}
	return &Policy{
		config:   config,
		recorder: recorder,
		sleep:    sleepCtx,
	}
}

// Delay returns the backoff delay for an attempt (0-indexed), before
// jitter. Monotonically non-decreasing up to MaxDelay.
func (p *Policy) Delay(attempt int) time.Duration {
	delay := float64(p.config.BaseDelay) * math.Pow(p.config.BackoffFactor, float64(attempt))
	if delay > float64(p.config.MaxDelay) {
		return p.config.MaxDelay
	}
	return time.Duration(delay)
}

func (p *Policy) withJitter(delay time.Duration) time.Duration {
	span := p.config.JitterMax - p.config.JitterMin
	frac := p.config.JitterMin
	if span > 0 {
		frac += rand.Float64() * span
	}
	return delay + time.Duration(float64(delay)*frac)
}

// Execute runs op, retrying transient failures. Attempt 0 runs
// immediately; every failed attempt is reported to the recorder with
// the attempt count at the time of failure. Validation, not-found,
// infrastructure and authentication errors are never retried.
func (p *Policy) Execute(ctx context.Context, unit domain.Unit, stage domain.Stage, op func() error) error {
	for attempt := 0; ; attempt++ {
		err := op()
		if err == nil {
			return nil
		}

		// Shutdown taking effect mid-attempt is not a unit failure.
		// Skip the ledger so forensics only hold real failures.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if p.recorder != nil {
			p.recorder.RecordFailure(unit, stage, err, attempt)
		}

		if action := domain.ClassifyError(err); action != domain.ActionRetry {
			return err
		}
		if attempt >= p.config.MaxRetries {
			return fmt.Errorf("stage %s failed after %d attempts: %w", stage, attempt+1, err)
		}

		delay := p.withJitter(p.Delay(attempt))
		slog.Warn("stage attempt failed, retrying",
			"unit", unit, "stage", stage,
			"attempt", attempt+1, "max_attempts", p.config.MaxRetries+1,
			"delay", delay.Round(time.Millisecond), "error", err)
		metrics.StageRetries.WithLabelValues(string(stage)).Inc()

		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
