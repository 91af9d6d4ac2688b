package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mesonet-io/satsync/internal/api"
	"github.com/mesonet-io/satsync/internal/clean"
	"github.com/mesonet-io/satsync/internal/planner"
	"github.com/mesonet-io/satsync/internal/scheduler"
	"github.com/mesonet-io/satsync/internal/status"
	"github.com/mesonet-io/satsync/internal/telemetry"
	"github.com/mesonet-io/satsync/internal/updater"
	"github.com/mesonet-io/satsync/internal/versions"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the updater as a long-lived service",
	Long: `Run the archive updater as a long-lived service.

Update cycles run on the configured interval, and an HTTP server exposes
health, cycle status and optional Prometheus metrics.`,
	RunE: runServe,
}

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 35 * time.Second // must exceed the request timeout middleware
	serverIdleTimeout      = 60 * time.Second
)

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (overrides the configuration file)")
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		slog.Error("Failed to bind address flag", "error", err)
		os.Exit(1)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	address := cfg.Address
	if flagAddress := viper.GetString("address"); flagAddress != "" {
		address = flagAddress
	}
	slog.Info("Starting satsync", "address", address, "data_dir", cfg.DataDir)

	if err := os.MkdirAll(cfg.DataDir, 0750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
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

	meterProvider, metricsHandler, err := telemetry.NewMeterProvider(ctx,
		telemetry.WithServiceVersion(versions.Version),
		telemetry.WithMetricsConfig(&telemetry.Config{Enabled: cfg.Telemetry.Enabled}),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	metrics, err := telemetry.NewMetrics(meterProvider)
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	plannerOpts := []planner.Option{planner.WithGeometry(cfg.Planner.Geometry)}
	if len(cfg.Planner.Denylist) > 0 {
		plannerOpts = append(plannerOpts, planner.WithDenylist(cfg.Planner.Denylist))
	}
	if cfg.Sync.SubmitZeroDay {
		plannerOpts = append(plannerOpts, planner.WithZeroDaySubmit())
	}

	runner := scheduler.New(client, cfg.Sync.PollIntervalDuration(),
		scheduler.WithMaxRounds(cfg.Sync.MaxRounds),
		scheduler.WithMetrics(metrics),
	)

	statusPersistence := status.NewFilePersistence(cfg.DataDir)
	u := updater.New(st, planner.New(client, plannerOpts...), runner, clean.NewCSVCleaner(),
		updater.WithStatusPersistence(statusPersistence),
		updater.WithMetrics(metrics),
	)
	coordinator := updater.NewCoordinator(u, updater.WithInterval(cfg.Sync.IntervalDuration()))

	go func() {
		if err := coordinator.Start(context.Background()); err != nil {
			slog.Error("Update coordinator failed", "error", err)
		}
	}()

	serverOpts := []api.ServerOption{api.WithMiddlewares(api.LoggingMiddleware)}
	if metricsHandler != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(metricsHandler))
	}
	router := api.NewServer(statusPersistence, serverOpts...)

	server := &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  serverReadTimeout,
		WriteTimeout: serverWriteTimeout,
		IdleTimeout:  serverIdleTimeout,
	}

	go func() {
		slog.Info("Server listening", "address", address)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down")

	if err := coordinator.Stop(); err != nil {
		slog.Error("Failed to stop update coordinator", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return err
	}

	slog.Info("Shutdown complete")
	return nil
}
