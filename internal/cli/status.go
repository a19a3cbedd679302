package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vuongtran/cardetl/internal/core/checkpoint"
)

var statusRunID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show progress of a run",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusRunID, "run-id", "", "run to inspect (required)")
	_ = statusCmd.MarkFlagRequired("run-id")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fatal("Failed to load config", err)
	}

	path := cfg.Directories.CheckpointFile(statusRunID)
	if !checkpoint.Exists(path) {
		fatal("Unknown run", fmt.Errorf("no checkpoint at %s", path))
	}
	store, err := checkpoint.Open(path, statusRunID)
	if err != nil {
		fatal("Failed to open checkpoint", err)
	}

	snap := store.Snapshot()
	stats := snap.Stats

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "FIELD\tVALUE")
	_, _ = fmt.Fprintf(w, "run\t%s\n", snap.RunID)
	_, _ = fmt.Fprintf(w, "phase\t%s\n", snap.Phase)
	_, _ = fmt.Fprintf(w, "started\t%s\n", snap.StartedAt.Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "updated\t%s\n", snap.LastUpdated.Format(time.RFC3339))
	_, _ = fmt.Fprintf(w, "completed\t%d/%d\n", stats.CompletedUnits, stats.TotalUnits)
	_, _ = fmt.Fprintf(w, "failed\t%d\n", stats.FailedUnits)
	_, _ = fmt.Fprintf(w, "records\t%d\n", snap.TotalRecords)
	_, _ = fmt.Fprintf(w, "avg/unit\t%.1fs\n", stats.AverageSecondsPerUnit)
	_ = w.Flush()

	if len(snap.FailedUnits) > 0 {
		fmt.Println("\nfailed units:")
		for _, u := range snap.FailedUnits {
			fmt.Printf("  %s\n", u)
		}
	}
}
