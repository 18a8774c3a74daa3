package main

import (
	"context"
	"fmt"
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
	var configPath, target, source string

	root := &cobra.Command{
		Use:           "sensorsend",
		Short:         "Stream gravity and gyroscope samples as UDP datagrams",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.InitGlobal(configPath); err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			cfg := config.Get()
			overrides := map[string]string{}
			if cmd.Flags().Changed("target") {
				overrides["TARGET_HOST"] = target
			}
			if cmd.Flags().Changed("source") {
				overrides["SENSOR_SOURCE"] = source
			}
			if err := cfg.Override(overrides); err != nil {
				return fmt.Errorf("invalid flags: %w", err)
			}

			logger, err := log.New(log.Options{Level: cfg.LogLevel, File: cfg.LogFile})
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info("starting sensorsend",
				zap.String("config", configPath),
				zap.String("source", cfg.SensorSource),
				zap.String("wire_format", cfg.WireFormat))

			return app.RunProducer(ctx, cfg, logger)
		},
	}
	root.Flags().StringVar(&configPath, "config", "sensorsend_config.txt", "KEY=VALUE configuration file")
	root.Flags().StringVar(&target, "target", "", "connect to this host on startup (overrides TARGET_HOST)")
	root.Flags().StringVar(&source, "source", "", "sensor source: mock, mpu9250 or serial (overrides SENSOR_SOURCE)")
	return root
}
