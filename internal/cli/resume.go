package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vuongtran/cardetl/internal/core/checkpoint"
)

var (
	resumeStart string
	resumeEnd   string
	resumeID    string
	resumeFresh bool
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume an interrupted backfill from its checkpoint",
	Run:   runResume,
}

func init() {
	resumeCmd.Flags().StringVar(&resumeStart, "start", "", "first date to process (YYYY-MM-DD)")
	resumeCmd.Flags().StringVar(&resumeEnd, "end", "", "last date to process (YYYY-MM-DD)")
	resumeCmd.Flags().StringVar(&resumeID, "run-id", "", "run to resume (required)")
	resumeCmd.Flags().BoolVar(&resumeFresh, "fresh", false, "discard a corrupt checkpoint and restart the run from scratch")
	_ = resumeCmd.MarkFlagRequired("run-id")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fatal("Failed to load config", err)
	}

	units, err := unitRange(cfg, resumeStart, resumeEnd)
	if err != nil {
		fatal("Invalid date range", err)
	}

	path := cfg.Directories.CheckpointFile(resumeID)
	if !checkpoint.Exists(path) {
		fatal("Nothing to resume", fmt.Errorf("no checkpoint at %s; use run to start a new backfill", path))
	}

	store, err := checkpoint.Open(path, resumeID)
	if errors.Is(err, checkpoint.ErrCorrupt) {
		if !resumeFresh {
			fatal("Checkpoint is corrupt",
				fmt.Errorf("%w; pass --fresh to discard it and reprocess the full range", err))
		}
		// Keep the damaged file around for forensics.
		corruptPath := path + ".corrupt"
		if err := os.Rename(path, corruptPath); err != nil {
			fatal("Failed to set corrupt checkpoint aside", err)
		}
		slog.Warn("discarded corrupt checkpoint, restarting run from scratch",
			"run_id", resumeID, "saved_as", corruptPath)
		store, err = checkpoint.Open(path, resumeID)
		if err != nil {
			fatal("Failed to create fresh checkpoint", err)
		}
	} else if err != nil {
		fatal("Failed to open checkpoint", err)
	}

	stats := store.Stats()
	slog.Info("resuming run",
		"run_id", resumeID,
		"completed", stats.CompletedUnits,
		"failed", stats.FailedUnits,
		"total", len(units))

	executeRun(cfg, store, units)
}
