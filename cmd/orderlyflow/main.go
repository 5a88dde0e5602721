package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dukerupert/orderlyflow/internal/config"
	"github.com/dukerupert/orderlyflow/internal/logging"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	rootCmd := &cobra.Command{
		Use:           "orderlyflow",
		Short:         "OrderlyFlow home records backend and live client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logger = logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
			logger.Debug("config loaded", "config", cfg.String())
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./orderlyflow.yaml)")

	rootCmd.AddCommand(
		serveCmd(),
		watchCmd(),
		migrateCmd(),
		backupCmd(),
	)

	rootCmd.SetContext(ctx)

	err := rootCmd.Execute()
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
