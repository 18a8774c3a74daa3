package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/relabs-tech/sensorsend/internal/app"
	"github.com/relabs-tech/sensorsend/internal/config"
	"github.com/relabs-tech/sensorsend/internal/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		listen     string
		quiet      bool
	)

	root := &cobra.Command{
		Use:           "sensorrecv",
		Short:         "Receive, print and republish sensor sample datagrams",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.InitGlobal(configPath); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg := config.Get()
			if cmd.Flags().Changed("listen") {
				if err := cfg.Override(map[string]string{"RECEIVER_LISTEN": listen}); err != nil {
					return fmt.Errorf("invalid flags: %w", err)
				}
			}

			logger, err := log.New(log.Options{Level: cfg.LogLevel, File: cfg.LogFile})
			if err != nil {
				return err
			}
			defer logger.Sync()

			var console io.Writer = os.Stdout
			if quiet {
				console = nil
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("starting sensorrecv",
				zap.String("config", configPath),
				zap.String("listen", cfg.ReceiverListen))

			return app.RunReceiver(ctx, cfg, console, logger)
		},
	}
	root.Flags().StringVar(&configPath, "config", "sensorsend_config.txt", "KEY=VALUE configuration file")
	root.Flags().StringVarP(&listen, "listen", "l", "", "UDP listen address (overrides RECEIVER_LISTEN)")
	root.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print samples")
	return root
}
