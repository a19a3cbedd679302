package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vuongtran/cardetl/internal/core/checkpoint"
	"github.com/vuongtran/cardetl/internal/core/config"
	"github.com/vuongtran/cardetl/internal/core/domain"
	"github.com/vuongtran/cardetl/internal/core/ledger"
	"github.com/vuongtran/cardetl/internal/core/retry"
	"github.com/vuongtran/cardetl/internal/health"
	"github.com/vuongtran/cardetl/internal/infra/redisq"
	"github.com/vuongtran/cardetl/internal/infra/source"
	"github.com/vuongtran/cardetl/internal/infra/storage/postgres"
	"github.com/vuongtran/cardetl/internal/orchestrator"
	"github.com/vuongtran/cardetl/internal/pipeline"
	"github.com/vuongtran/cardetl/internal/pipeline/stages"
)

// app holds everything a processing command needs, built once per
// invocation and torn down on exit.
type app struct {
	cfg    *config.AppConfig
	store  *checkpoint.Store
	ledger *ledger.Ledger
	orch   *orchestrator.Orchestrator
	db     *postgres.DB
	redis  *redisq.Client
	health *health.Server
}

// buildApp assembles the full pipeline around an already-opened
// checkpoint store. The caller owns corrupt-checkpoint decisions;
// buildApp never touches an existing checkpoint file itself.
func buildApp(ctx context.Context, cfg *config.AppConfig, store *checkpoint.Store) (*app, error) {
	if err := cfg.Directories.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("preparing working directories: %w", err)
	}

	led, err := ledger.New(cfg.Directories.FailuresPath())
	if err != nil {
		return nil, fmt.Errorf("opening failure ledger: %w", err)
	}
	policy := retry.New(cfg.Retry, led)

	db, err := postgres.NewDB(ctx, cfg.Sink)
	if err != nil {
		return nil, fmt.Errorf("connecting to warehouse: %w", err)
	}
	sink := postgres.NewPriceSink(db)

	fetcher := source.NewArchive(cfg.Source)

	pipe := pipeline.New([]pipeline.StageRunner{
		stages.NewDownload(fetcher, cfg.Directories),
		stages.NewExtract(stages.SevenZip{}, cfg.Directories),
		stages.NewTransform(cfg.Directories, cfg.Validation),
		stages.NewPublish(sink, cfg.Directories),
	}, policy, store, cfg.Performance.CleanupArtifacts)

	a := &app{cfg: cfg, store: store, ledger: led, db: db}

	pingers := map[string]health.Pinger{"sink": db}
	var queue orchestrator.RetryQueuer
	if cfg.Redis.URL != "" {
		rc, err := redisq.NewClient(cfg.Redis)
		if err != nil {
			// The queue is an optimization; the checkpoint alone is
			// enough to drive retries.
			slog.Warn("redis unavailable, retry queue disabled", "error", err)
		} else {
			a.redis = rc
			queue = redisq.NewRetryQueue(rc, store.RunID())
			pingers["redis"] = rc
		}
	}

	a.orch = orchestrator.New(pipe, store, queue, led, orchestrator.Options{
		Workers:          cfg.Performance.MaxWorkers,
		ProgressInterval: cfg.Performance.CheckpointInterval,
		GracePeriod:      cfg.Performance.GracePeriod,
	})

	if cfg.Server.Port > 0 {
		a.health = health.NewServer(health.NewMonitor(store, pingers), cfg.Server.Port)
		go func() {
			if err := a.health.Start(); err != nil && err != http.ErrServerClosed {
				slog.Warn("health server stopped", "error", err)
			}
		}()
	}

	return a, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if a.health != nil {
		_ = a.health.Stop(ctx)
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}

// unitRange resolves the run's unit sequence from flags falling back
// to config.
func unitRange(cfg *config.AppConfig, startFlag, endFlag string) ([]domain.Unit, error) {
	startStr, endStr := cfg.Run.StartDate, cfg.Run.EndDate
	if startFlag != "" {
		startStr = startFlag
	}
	if endFlag != "" {
		endStr = endFlag
	}
	if startStr == "" || endStr == "" {
		return nil, fmt.Errorf("start and end dates are required (flags or run section of config)")
	}

	start, err := domain.ParseUnit(startStr)
	if err != nil {
		return nil, err
	}
	end, err := domain.ParseUnit(endStr)
	if err != nil {
		return nil, err
	}
	if end.Time().Before(start.Time()) {
		return nil, fmt.Errorf("end date %s is before start date %s", end, start)
	}
	return domain.UnitRange(start, end, cfg.Run.SkipWeekends), nil
}

func newRunID() string {
	return "backfill_" + time.Now().UTC().Format("20060102_150405")
}
