package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kubently/kubently/internal/config"
	"github.com/kubently/kubently/internal/executor"
	"github.com/kubently/kubently/internal/telemetry"
)

func main() {
	root := &cobra.Command{
		Use:   "executor",
		Short: "Kubently executor — per-cluster command runner",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadExecutor()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
			slog.SetDefault(logger)
			logger.Info("starting kubently executor", "cluster_id", cfg.ClusterID, "coordinator_url", cfg.CoordinatorURL)

			shutdownTracer, err := telemetry.InitTracer(context.Background(), cfg.OTLPEndpoint, "kubently-executor", executor.Version)
			if err != nil {
				return fmt.Errorf("initializing tracer: %w", err)
			}
			defer func() { _ = shutdownTracer(context.Background()) }()

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			rt := executor.NewRuntime(cfg, logger)
			return rt.Run(ctx)
		},
	}
	root.SilenceUsage = true

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
