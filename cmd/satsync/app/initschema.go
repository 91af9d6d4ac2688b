package app

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
)

var initSchemaCmd = &cobra.Command{
	Use:   "init-schema",
	Short: "Create graph store constraints and indexes",
	Long: `Create the uniqueness constraints and indexes the archive relies on:
unique station names, unique observation ids and the observation timestamp
index. Safe to run repeatedly.`,
	RunE: runInitSchema,
}

func init() {
	initSchemaCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	if err := initSchemaCmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
}

func runInitSchema(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(cmd)
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

	if err := st.InitSchema(ctx); err != nil {
		return err
	}
	slog.Info("Graph schema initialized")
	return nil
}
