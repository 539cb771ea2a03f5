package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kubently/kubently/internal/app"
	"github.com/kubently/kubently/internal/config"
)

func main() {
	root := &cobra.Command{
		Use:   "coordinator",
		Short: "Kubently coordinator — multi-cluster command dispatch fabric",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			return app.Run(ctx, cfg)
		},
	}
	root.SilenceUsage = true

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
