package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vuongtran/cardetl/internal/core/domain"
)

type recordedFailure struct {
	unit    domain.Unit
	stage   domain.Stage
	err     error
	attempt int
}

type fakeRecorder struct {
	records []recordedFailure
}

func (r *fakeRecorder) RecordFailure(unit domain.Unit, stage domain.Stage, err error, attempt int) {
	r.records = append(r.records, recordedFailure{unit, stage, err, attempt})
}

func testPolicy(cfg Config, rec Recorder) *Policy {
	p := New(cfg, rec)
	p.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return p
}

func TestDelayGrowsMonotonically(t *testing.T) {
	p := New(DefaultConfig(), nil)

	prev := time.Duration(-1)
	for attempt := 0; attempt < 12; attempt++ {
		d := p.Delay(attempt)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %v < %v", attempt, d, prev)
		}
		prev = d
	}
}

func TestDelayCapsAtMaxDelay(t *testing.T) {
	cfg := DefaultConfig()
	p := New(cfg, nil)

	if d := p.Delay(0); d != cfg.BaseDelay {
		t.Errorf("attempt 0 delay = %v, want %v", d, cfg.BaseDelay)
	}
	if d := p.Delay(1); d != 2*cfg.BaseDelay {
		t.Errorf("attempt 1 delay = %v, want %v", d, 2*cfg.BaseDelay)
	}
	if d := p.Delay(50); d != cfg.MaxDelay {
		t.Errorf("attempt 50 delay = %v, want cap %v", d, cfg.MaxDelay)
	}
}

func TestJitterStaysWithinBounds(t *testing.T) {
	cfg := DefaultConfig()
	p := New(cfg, nil)

	base := p.Delay(3)
	for i := 0; i < 200; i++ {
		d := p.withJitter(base)
		lo := base + time.Duration(float64(base)*cfg.JitterMin)
		hi := base + time.Duration(float64(base)*cfg.JitterMax)
		if d < lo || d > hi {
			t.Fatalf("jittered delay %v outside [%v, %v]", d, lo, hi)
		}
	}
}

func TestExecuteSucceedsAfterTransientFailures(t *testing.T) {
	rec := &fakeRecorder{}
	p := testPolicy(DefaultConfig(), rec)

	calls := 0
	err := p.Execute(context.Background(), "2024-02-01", domain.StageDownload, func() error {
		calls++
		if calls <= 2 {
			return domain.Transientf("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() = %v, want nil", err)
	}
	if calls != 3 {
		t.Errorf("op called %d times, want 3", calls)
	}
	// Both failed attempts, and only those, reach the recorder.
	if len(rec.records) != 2 {
		t.Fatalf("recorded %d failures, want 2", len(rec.records))
	}
	for i, r := range rec.records {
		if r.attempt != i {
			t.Errorf("record %d has attempt %d, want %d", i, r.attempt, i)
		}
		if r.unit != "2024-02-01" || r.stage != domain.StageDownload {
			t.Errorf("record %d mislabeled: %v %v", i, r.unit, r.stage)
		}
	}
}

func TestExecuteExhaustsRetries(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxRetries = 3
	rec := &fakeRecorder{}
	p := testPolicy(cfg, rec)

	calls := 0
	err := p.Execute(context.Background(), "2024-02-01", domain.StagePublish, func() error {
		calls++
		return domain.Transientf("timeout")
	})
	if err == nil {
		t.Fatal("Execute() = nil, want error after exhaustion")
	}
	if calls != cfg.MaxRetries+1 {
		t.Errorf("op called %d times, want %d", calls, cfg.MaxRetries+1)
	}
	// The final fatal attempt is recorded too.
	if len(rec.records) != cfg.MaxRetries+1 {
		t.Errorf("recorded %d failures, want %d", len(rec.records), cfg.MaxRetries+1)
	}
}

func TestExecuteDoesNotRetryTerminalErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"validation", domain.Validationf("record count 3 outside band")},
		{"not found", domain.ErrNotFound},
		{"auth", &domain.AuthError{Err: errors.New("token expired")}},
		{"infra", &domain.InfraError{Op: "write checkpoint", Err: errors.New("disk full")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &fakeRecorder{}
			p := testPolicy(DefaultConfig(), rec)

			calls := 0
			err := p.Execute(context.Background(), "2024-02-01", domain.StageTransform, func() error {
				calls++
				return tt.err
			})
			if !errors.Is(err, tt.err) {
				t.Fatalf("Execute() = %v, want %v", err, tt.err)
			}
			if calls != 1 {
				t.Errorf("op called %d times, want 1", calls)
			}
			if len(rec.records) != 1 {
				t.Errorf("recorded %d failures, want 1", len(rec.records))
			}
		})
	}
}

func TestExecuteStopsOnContextCancel(t *testing.T) {
	p := New(DefaultConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Execute(ctx, "2024-02-01", domain.StageDownload, func() error {
		return domain.Transientf("flaky")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() = %v, want context.Canceled", err)
	}
}

func TestExecuteDoesNotRecordInterruptedAttempts(t *testing.T) {
	rec := &fakeRecorder{}
	p := New(DefaultConfig(), rec)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Execute(ctx, "2024-02-01", domain.StageDownload, func() error {
		return domain.Transientf("connection reset")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() = %v, want context.Canceled", err)
	}
	if len(rec.records) != 0 {
		t.Errorf("shutdown left %d records in the ledger, want 0", len(rec.records))
	}
}
