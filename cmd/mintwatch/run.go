package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solwatch/mintwatch/pkg/scheduler"
	"github.com/solwatch/mintwatch/pkg/status"
)

const shutdownTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the long-lived holder monitor",
	Long: `Start monitoring the configured mint.

The monitor takes a baseline snapshot, then checks progress toward the
market-cap target on the configured interval, snapshotting on threshold
crossings and on the regular cadence of the current band. It runs until
the target is reached or the process is interrupted.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	application, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	logger := application.logger
	logger.Info("starting mintwatch",
		zap.String("version", version),
		zap.String("mint", cfg.Mint),
		zap.Int("endpoints", len(cfg.Endpoints)),
		zap.Float64("target_market_cap_sol", cfg.TargetMarketCapSol))

	sched, err := scheduler.New(application.source, application.pipeline, cfg.SchedulerConfig(), logger.Named("scheduler"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Status.Enabled {
		statusServer := status.NewServer(cfg.StatusConfig(), cfg.Mint, application.gov, sched, logger.Named("status"))
		if err := statusServer.Start(); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := statusServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("status server shutdown", zap.Error(err))
			}
		}()
	}

	err = sched.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("interrupted, shutting down")
		return nil
	}
	return err
}
