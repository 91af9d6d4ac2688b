package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesonet-io/satsync/internal/config"
	"github.com/mesonet-io/satsync/internal/extract"
	"github.com/mesonet-io/satsync/internal/store"
)

// loadConfig reads and validates the configuration file named by --config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// newStore opens the graph store described by the configuration.
func newStore(ctx context.Context, cfg *config.Config) (*store.Neo4jStore, error) {
	storeCfg, err := cfg.Store.Resolve()
	if err != nil {
		return nil, err
	}
	st, err := store.NewNeo4jStore(ctx, &storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to the graph store: %w", err)
	}
	return st, nil
}

// newExtractClient builds the extraction service client.
func newExtractClient(cfg *config.Config) (*extract.HTTPClient, error) {
	extractCfg, err := cfg.Extract.Resolve()
	if err != nil {
		return nil, err
	}
	client, err := extract.NewHTTPClient(&extractCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction client: %w", err)
	}
	return client, nil
}
