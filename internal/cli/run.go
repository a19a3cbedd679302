package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vuongtran/cardetl/internal/analyzer"
	"github.com/vuongtran/cardetl/internal/core/checkpoint"
	"github.com/vuongtran/cardetl/internal/core/config"
	"github.com/vuongtran/cardetl/internal/core/domain"
	"github.com/vuongtran/cardetl/internal/orchestrator"
)

// estimatedSecondsPerUnit seeds the pre-run estimate before any real
// throughput numbers exist. Observed average for a full day's archive.
const estimatedSecondsPerUnit = 41

var (
	runStart string
	runEnd   string
	runID    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a new backfill over a date range",
	Run:   runRun,
}

func init() {
	runCmd.Flags().StringVar(&runStart, "start", "", "first date to process (YYYY-MM-DD)")
	runCmd.Flags().StringVar(&runEnd, "end", "", "last date to process (YYYY-MM-DD)")
	runCmd.Flags().StringVar(&runID, "run-id", "", "run identifier (default derived from start time)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fatal("Failed to load config", err)
	}

	units, err := unitRange(cfg, runStart, runEnd)
	if err != nil {
		fatal("Invalid date range", err)
	}

	id := runID
	if id == "" {
		id = newRunID()
	}
	path := cfg.Directories.CheckpointFile(id)
	if checkpoint.Exists(path) {
		fatal("Run already exists", fmt.Errorf("checkpoint %s is present, use resume or pick another --run-id", path))
	}
	if err := cfg.Directories.EnsureDirs(); err != nil {
		fatal("Failed to prepare directories", err)
	}
	store, err := checkpoint.Open(path, id)
	if err != nil {
		fatal("Failed to create checkpoint", err)
	}

	est := time.Duration(len(units)*estimatedSecondsPerUnit) * time.Second / time.Duration(max(cfg.Performance.MaxWorkers, 1))
	slog.Info("planned run",
		"run_id", id,
		"units", len(units),
		"workers", cfg.Performance.MaxWorkers,
		"estimated_runtime", est.Round(time.Minute))

	executeRun(cfg, store, units)
}

// executeRun drives the orchestrator under signal handling and writes
// the final report. Shared by run, resume and retry-failed.
func executeRun(cfg *config.AppConfig, store *checkpoint.Store, units []domain.Unit) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, store)
	if err != nil {
		fatal("Failed to initialize", err)
	}
	defer a.close()

	report, runErr := a.orch.Run(ctx, units)
	if report == nil {
		fatal("Run failed before processing", runErr)
	}

	reportPath := cfg.Directories.ReportFile(store.RunID())
	if err := orchestrator.WriteReport(reportPath, report); err != nil {
		slog.Error("Failed to write run report", "error", err)
	} else {
		slog.Info("run report written", "path", reportPath)
	}

	if len(report.FailedUnits) > 0 {
		writeRecoveryPlan(cfg, a, store.RunID())
	}

	printSummary(report)

	if runErr != nil {
		fatal("Run aborted", runErr)
	}
	if report.Interrupted {
		os.Exit(130)
	}
}

func writeRecoveryPlan(cfg *config.AppConfig, a *app, id string) {
	records, err := a.ledger.LoadAll()
	if err != nil {
		slog.Error("Failed to load failure ledger", "error", err)
		return
	}
	plan := analyzer.New().BuildPlan(id, records, a.store.FailedUnits())
	path := cfg.Directories.RecoveryFile(id)
	if err := analyzer.WritePlan(path, plan); err != nil {
		slog.Error("Failed to write recovery plan", "error", err)
		return
	}
	slog.Info("recovery plan written", "path", path, "patterns", len(plan.Patterns))
}

func printSummary(report *orchestrator.RunReport) {
	fmt.Println()
	fmt.Printf("Run %s\n", report.RunID)
	fmt.Printf("  range:      %s .. %s\n", report.StartUnit, report.EndUnit)
	fmt.Printf("  completed:  %d/%d units\n", report.CompletedUnits, report.TotalUnits)
	fmt.Printf("  failed:     %d units\n", len(report.FailedUnits))
	fmt.Printf("  records:    %d\n", report.TotalRecords)
	fmt.Printf("  elapsed:    %s (%.1f units/hour, %.0f records/s)\n",
		report.Elapsed.Round(time.Second), report.UnitsPerHour, report.RecordsPerSec)
	if report.Interrupted {
		fmt.Println("  status:     interrupted")
	}
	for _, action := range report.NextActions {
		fmt.Printf("  next:       %s\n", action)
	}
}
