// Package snapshot turns raw holder records into persisted snapshot
// artifacts: an aggregated holder table written as CSV, a JSON summary
// beside it, churn against the previous holder set, and an appended
// history record.
package snapshot

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	"github.com/solwatch/mintwatch/internal/types"
	"github.com/solwatch/mintwatch/pkg/history"
	"github.com/solwatch/mintwatch/pkg/holders"
)

// ErrNoHolders is returned when a snapshot would contain no holders.
var ErrNoHolders = errors.New("snapshot has no holders")

// Collector supplies the raw holder records for one snapshot.
type Collector interface {
	CollectHolders(ctx context.Context) ([]types.Holder, error)
}

// Config holds pipeline configuration.
type Config struct {
	// OutputDir is where CSV and summary files are written.
	OutputDir string

	// Compress writes zstd-compressed CSV artifacts.
	Compress bool
}

// Pipeline produces snapshots. The holder and history stores are
// optional; a nil store skips churn tracking or history persistence.
type Pipeline struct {
	collector Collector
	cfg       Config
	holders   *holders.Store
	history   *history.Store
	logger    *zap.Logger

	// Overridable for tests.
	now func() time.Time
}

// NewPipeline creates a snapshot pipeline.
func NewPipeline(collector Collector, cfg Config, holderStore *holders.Store, historyStore *history.Store, logger *zap.Logger) (*Pipeline, error) {
	if collector == nil {
		return nil, errors.New("collector is required")
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = "."
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		collector: collector,
		cfg:       cfg,
		holders:   holderStore,
		history:   historyStore,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Aggregate groups raw holder records by address, sums balances, and
// sorts the result by balance descending, address ascending on ties.
// An owner with several token accounts appears once.
func Aggregate(raw []types.Holder) []types.Holder {
	totals := make(map[string]uint64, len(raw))
	for _, h := range raw {
		totals[h.Address] += h.Balance
	}

	aggregated := make([]types.Holder, 0, len(totals))
	for address, balance := range totals {
		if balance == 0 {
			continue
		}
		aggregated = append(aggregated, types.Holder{Address: address, Balance: balance})
	}
	sort.Slice(aggregated, func(i, j int) bool {
		if aggregated[i].Balance != aggregated[j].Balance {
			return aggregated[i].Balance > aggregated[j].Balance
		}
		return aggregated[i].Address < aggregated[j].Address
	})
	return aggregated
}

// HashHolders computes the blake3 hash of the aggregated holder table.
// Two snapshots with identical holder sets and balances hash equal.
func HashHolders(aggregated []types.Holder) string {
	hasher := blake3.New()
	for _, h := range aggregated {
		hasher.Write([]byte(h.Address))
		hasher.Write([]byte(","))
		hasher.Write([]byte(strconv.FormatUint(h.Balance, 10)))
		hasher.Write([]byte("\n"))
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// Take collects, aggregates, and persists one snapshot. Sample carries
// the progress reading that triggered it; a zero sample is fine for
// manual snapshots.
func (p *Pipeline) Take(ctx context.Context, sample types.ProgressSample, trigger types.Trigger) (*types.SnapshotSummary, error) {
	raw, err := p.collector.CollectHolders(ctx)
	if err != nil {
		return nil, fmt.Errorf("collect holders: %w", err)
	}

	aggregated := Aggregate(raw)
	if len(aggregated) == 0 {
		return nil, ErrNoHolders
	}

	var supply uint64
	for _, h := range aggregated {
		supply += h.Balance
	}

	summary := &types.SnapshotSummary{
		Timestamp:     p.now(),
		TotalHolders:  len(aggregated),
		TotalSupply:   supply,
		SolVolume:     sample.SolVolume,
		Progress:      sample.ProgressPercent,
		TargetReached: sample.ProgressPercent >= 100,
		Trigger:       trigger,
		Hash:          HashHolders(aggregated),
	}

	if p.holders != nil {
		newCount, exitedCount, err := p.holders.Replace(aggregated)
		if err != nil {
			return nil, fmt.Errorf("update holder set: %w", err)
		}
		summary.NewHolders = newCount
		summary.ExitedHolders = exitedCount
	}

	file, err := p.writeArtifacts(aggregated, summary)
	if err != nil {
		return nil, err
	}
	summary.File = file

	if p.history != nil {
		if err := p.history.Append(summary); err != nil {
			return nil, fmt.Errorf("append history: %w", err)
		}
	}

	p.logger.Info("snapshot taken",
		zap.String("trigger", string(trigger)),
		zap.Int("holders", summary.TotalHolders),
		zap.Uint64("supply", supply),
		zap.Float64("progress", summary.Progress),
		zap.Int("new_holders", summary.NewHolders),
		zap.Int("exited_holders", summary.ExitedHolders),
		zap.String("file", file))
	return summary, nil
}
