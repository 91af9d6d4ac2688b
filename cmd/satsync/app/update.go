package app

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mesonet-io/satsync/internal/clean"
	"github.com/mesonet-io/satsync/internal/planner"
	"github.com/mesonet-io/satsync/internal/scheduler"
	"github.com/mesonet-io/satsync/internal/status"
	"github.com/mesonet-io/satsync/internal/updater"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Run a single update cycle and exit",
	Long: `Run one update cycle: detect archive gaps, submit extraction tasks for
them, wait for the results and merge them into the archive. Exits non-zero
when the cycle fails.`,
	RunE: runUpdate,
}

func init() {
	updateCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	if err := updateCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
		os.Exit(1)
	}
}

func runUpdate(cmd *cobra.Command, _ []string) error {
	// Interruptible so a half-finished poll loop stops cleanly on ctrl-c.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return err
	}

	st, err := newStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(context.Background()); err != nil {
			slog.Error("Failed to close the graph store", "error", err)
		}
	}()

	client, err := newExtractClient(cfg)
	if err != nil {
		return err
	}

	plannerOpts := []planner.Option{planner.WithGeometry(cfg.Planner.Geometry)}
	if len(cfg.Planner.Denylist) > 0 {
		plannerOpts = append(plannerOpts, planner.WithDenylist(cfg.Planner.Denylist))
	}
	if cfg.Sync.SubmitZeroDay {
		plannerOpts = append(plannerOpts, planner.WithZeroDaySubmit())
	}

	runner := scheduler.New(client, cfg.Sync.PollIntervalDuration(),
		scheduler.WithMaxRounds(cfg.Sync.MaxRounds))

	u := updater.New(st, planner.New(client, plannerOpts...), runner, clean.NewCSVCleaner(),
		updater.WithStatusPersistence(status.NewFilePersistence(cfg.DataDir)))

	res, err := u.RunCycle(ctx)
	if err != nil {
		return err
	}
	slog.Info("Update finished",
		"tasks", res.TasksSubmitted,
		"rows_inserted", res.RowsInserted,
		"rows_skipped", res.RowsSkipped,
		"duration", res.Duration)
	return nil
}
