package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solwatch/mintwatch/internal/types"
	"github.com/solwatch/mintwatch/pkg/progress"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Take a single snapshot and exit",
	Long: `Collect the current holder set of the configured mint, write the
snapshot artifacts, and print the summary as JSON. The progress sample
is best effort; the snapshot is taken even without market data.`,
	RunE: runSnapshot,
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	application, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sample, err := application.source.Sample(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, progress.ErrUnavailable) {
			application.logger.Warn("progress sample failed, snapshotting without it", zap.Error(err))
		}
		sample = types.ProgressSample{}
	}

	summary, err := application.pipeline.Take(ctx, sample, types.TriggerManual)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
