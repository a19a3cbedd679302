package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/vuongtran/cardetl/internal/core/checkpoint"
	"github.com/vuongtran/cardetl/internal/core/config"
	"github.com/vuongtran/cardetl/internal/core/domain"
	"github.com/vuongtran/cardetl/internal/infra/redisq"
)

var retryRunID string

var retryFailedCmd = &cobra.Command{
	Use:   "retry-failed",
	Short: "Re-run only the units that failed in a previous run",
	Run:   runRetryFailed,
}

func init() {
	retryFailedCmd.Flags().StringVar(&retryRunID, "run-id", "", "run whose failed units to retry (required)")
	_ = retryFailedCmd.MarkFlagRequired("run-id")
	rootCmd.AddCommand(retryFailedCmd)
}

func runRetryFailed(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fatal("Failed to load config", err)
	}

	path := cfg.Directories.CheckpointFile(retryRunID)
	if !checkpoint.Exists(path) {
		fatal("Unknown run", fmt.Errorf("no checkpoint at %s", path))
	}
	store, err := checkpoint.Open(path, retryRunID)
	if errors.Is(err, checkpoint.ErrCorrupt) {
		fatal("Checkpoint is corrupt", fmt.Errorf("%w; use resume --fresh to restart the run", err))
	}
	if err != nil {
		fatal("Failed to open checkpoint", err)
	}

	// The checkpoint is the source of truth for what failed. The redis
	// queue only contributes ordering: least-failed units first.
	failed := store.FailedUnits()
	if len(failed) == 0 {
		slog.Info("no failed units to retry", "run_id", retryRunID)
		return
	}
	failed = queueOrder(cfg, retryRunID, failed)

	slog.Info("retrying failed units", "run_id", retryRunID, "units", len(failed))
	executeRun(cfg, store, failed)
}

// queueOrder reorders the failed set by the retry queue's scores when
// redis is configured. Units the queue does not know keep their place
// at the end; units only the queue knows are ignored.
func queueOrder(cfg *config.AppConfig, runID string, failed []domain.Unit) []domain.Unit {
	if cfg.Redis.URL == "" {
		return failed
	}
	rc, err := redisq.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, retrying in date order", "error", err)
		return failed
	}
	defer func() { _ = rc.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	queued, err := redisq.NewRetryQueue(rc, runID).All(ctx)
	if err != nil {
		slog.Warn("could not read retry queue, retrying in date order", "error", err)
		return failed
	}

	inFailed := make(map[domain.Unit]bool, len(failed))
	for _, u := range failed {
		inFailed[u] = true
	}
	ordered := make([]domain.Unit, 0, len(failed))
	seen := make(map[domain.Unit]bool, len(failed))
	for _, u := range queued {
		if inFailed[u] && !seen[u] {
			ordered = append(ordered, u)
			seen[u] = true
		}
	}
	for _, u := range failed {
		if !seen[u] {
			ordered = append(ordered, u)
		}
	}
	return ordered
}
