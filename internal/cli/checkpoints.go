package cli

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vuongtran/cardetl/internal/core/checkpoint"
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List all known runs and their progress",
	Run:   runCheckpoints,
}

func init() {
	rootCmd.AddCommand(checkpointsCmd)
}

func runCheckpoints(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fatal("Failed to load config", err)
	}

	snaps, err := checkpoint.List(cfg.Directories.CheckpointsPath())
	if err != nil {
		fatal("Failed to list checkpoints", err)
	}
	if len(snaps) == 0 {
		fmt.Println("no runs found")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "RUN\tPHASE\tCOMPLETED\tFAILED\tRECORDS\tUPDATED")
	for _, snap := range snaps {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d\t%d\t%s\n",
			snap.RunID,
			snap.Phase,
			snap.Stats.CompletedUnits, snap.Stats.TotalUnits,
			snap.Stats.FailedUnits,
			snap.TotalRecords,
			snap.LastUpdated.Format(time.RFC3339))
	}
	_ = w.Flush()
}
