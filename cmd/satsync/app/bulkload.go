package app

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
)

var bulkLoadCmd = &cobra.Command{
	Use:   "bulk-load",
	Short: "Load an initial observation dataset into an empty archive",
	Long: `Load prepared observation CSV files into an empty archive. This is the
fast path for first-time population; routine gap filling belongs to the
update and serve commands.`,
	RunE: runBulkLoad,
}

func init() {
	bulkLoadCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	bulkLoadCmd.Flags().String("dir", "", "Directory containing the prepared data_init CSV files (required)")
	if err := bulkLoadCmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
	if err := bulkLoadCmd.MarkFlagRequired("dir"); err != nil {
		panic(err)
	}
}

func runBulkLoad(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	dir, err := cmd.Flags().GetString("dir")
	if err != nil {
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

	slog.Info("Starting bulk load", "directory", dir)
	if err := st.BulkLoad(ctx, dir); err != nil {
		return err
	}
	slog.Info("Bulk load complete")
	return nil
}
