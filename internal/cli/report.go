package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vuongtran/cardetl/internal/analyzer"
	"github.com/vuongtran/cardetl/internal/core/checkpoint"
	"github.com/vuongtran/cardetl/internal/core/ledger"
)

var reportRunID string

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Analyze recorded failures and write a recovery plan",
	Run:   runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportRunID, "run-id", "", "run to analyze (required)")
	_ = reportCmd.MarkFlagRequired("run-id")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fatal("Failed to load config", err)
	}

	led, err := ledger.New(cfg.Directories.FailuresPath())
	if err != nil {
		fatal("Failed to open failure ledger", err)
	}
	records, err := led.LoadAll()
	if err != nil {
		fatal("Failed to load failure records", err)
	}
	if len(records) == 0 {
		fmt.Println("no failures recorded")
		return
	}

	path := cfg.Directories.CheckpointFile(reportRunID)
	if !checkpoint.Exists(path) {
		fatal("Unknown run", fmt.Errorf("no checkpoint at %s", path))
	}
	store, err := checkpoint.Open(path, reportRunID)
	if err != nil {
		fatal("Failed to open checkpoint", err)
	}

	plan := analyzer.New().BuildPlan(reportRunID, records, store.FailedUnits())
	planPath := cfg.Directories.RecoveryFile(reportRunID)
	if err := analyzer.WritePlan(planPath, plan); err != nil {
		fatal("Failed to write recovery plan", err)
	}

	fmt.Printf("%d failures across %d units, %d patterns\n\n",
		plan.Summary.TotalFailures, plan.Summary.AffectedUnits, len(plan.Patterns))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "SEVERITY\tTYPE\tKEY\tCOUNT\tUNITS\tRECOMMENDATION")
	for _, p := range plan.Patterns {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			p.Severity, p.Type, p.Key, p.Frequency, len(p.Units), p.Recommendation)
	}
	_ = w.Flush()

	fmt.Println()
	for _, phase := range plan.Phases {
		fmt.Printf("%s:\n", phase.Name)
		for _, action := range phase.Actions {
			fmt.Printf("  - %s\n", action)
		}
	}
	fmt.Printf("\n%d retry candidates, plan written to %s\n", len(plan.RetryCandidates), planPath)
}
