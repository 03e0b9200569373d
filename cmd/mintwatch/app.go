package main

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/solwatch/mintwatch/internal/config"
	"github.com/solwatch/mintwatch/internal/logging"
	"github.com/solwatch/mintwatch/pkg/governor"
	"github.com/solwatch/mintwatch/pkg/history"
	"github.com/solwatch/mintwatch/pkg/holders"
	"github.com/solwatch/mintwatch/pkg/progress"
	"github.com/solwatch/mintwatch/pkg/snapshot"
	"github.com/solwatch/mintwatch/pkg/spltoken"
)

// app bundles the wired components shared by the run and snapshot
// commands.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	gov      *governor.Governor
	client   *spltoken.Client
	source   *progress.MarketSource
	holders  *holders.Store
	history  *history.Store
	pipeline *snapshot.Pipeline
}

// loadConfig reads the config file named by the persistent flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	return config.Load(path)
}

// buildApp wires the full snapshot stack from configuration.
func buildApp(cfg *config.Config) (*app, error) {
	logger, err := logging.New(cfg.LoggingConfig())
	if err != nil {
		return nil, err
	}

	gov, err := governor.New(cfg.Endpoints, cfg.GovernorConfig(), logger.Named("governor"))
	if err != nil {
		return nil, err
	}

	client, err := spltoken.NewClient(gov, cfg.Mint, logger.Named("spltoken"))
	if err != nil {
		return nil, err
	}

	source, err := progress.NewMarketSource(gov, cfg.MarketDataURL, cfg.Mint, cfg.TargetMarketCapSol, logger.Named("progress"))
	if err != nil {
		return nil, err
	}

	holderStore, err := holders.Open(holders.DefaultConfig(filepath.Join(cfg.DataDir, "holders")))
	if err != nil {
		return nil, err
	}

	historyStore, err := history.Open(filepath.Join(cfg.DataDir, "history.db"))
	if err != nil {
		holderStore.Close()
		return nil, err
	}

	pipeline, err := snapshot.NewPipeline(client, cfg.SnapshotConfig(), holderStore, historyStore, logger.Named("snapshot"))
	if err != nil {
		holderStore.Close()
		historyStore.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		gov:      gov,
		client:   client,
		source:   source,
		holders:  holderStore,
		history:  historyStore,
		pipeline: pipeline,
	}, nil
}

// Close releases the app's stores.
func (a *app) Close() {
	if err := a.history.Close(); err != nil {
		a.logger.Warn("close history store", zap.Error(err))
	}
	if err := a.holders.Close(); err != nil {
		a.logger.Warn("close holders store", zap.Error(err))
	}
	a.logger.Sync()
}

func historyPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "history.db")
}
