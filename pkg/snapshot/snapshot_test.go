package snapshot

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/solwatch/mintwatch/internal/types"
	"github.com/solwatch/mintwatch/pkg/history"
	"github.com/solwatch/mintwatch/pkg/holders"
)

type staticCollector struct {
	holders []types.Holder
	err     error
	calls   int
}

func (c *staticCollector) CollectHolders(ctx context.Context) ([]types.Holder, error) {
	c.calls++
	return c.holders, c.err
}

func TestAggregateGroupsAndSorts(t *testing.T) {
	aggregated := Aggregate([]types.Holder{
		{Address: "bob", Balance: 50},
		{Address: "alice", Balance: 30},
		{Address: "bob", Balance: 25},
		{Address: "carol", Balance: 75},
		{Address: "dora", Balance: 0},
	})

	require.Len(t, aggregated, 3)
	assert.Equal(t, types.Holder{Address: "bob", Balance: 75}, aggregated[0])
	assert.Equal(t, types.Holder{Address: "carol", Balance: 75}, aggregated[1])
	assert.Equal(t, types.Holder{Address: "alice", Balance: 30}, aggregated[2])
}

func TestHashHoldersDetectsChange(t *testing.T) {
	a := []types.Holder{{Address: "alice", Balance: 10}, {Address: "bob", Balance: 5}}
	b := []types.Holder{{Address: "alice", Balance: 10}, {Address: "bob", Balance: 6}}

	assert.Equal(t, HashHolders(a), HashHolders(a))
	assert.NotEqual(t, HashHolders(a), HashHolders(b))
	assert.NotEmpty(t, HashHolders(nil))
}

func newTestPipeline(t *testing.T, collector Collector, compress bool) (*Pipeline, string, *history.Store) {
	t.Helper()
	dir := t.TempDir()

	holderCfg := holders.DefaultConfig("")
	holderCfg.InMemory = true
	holderStore, err := holders.Open(holderCfg)
	require.NoError(t, err)
	t.Cleanup(func() { holderStore.Close() })

	historyStore, err := history.Open(filepath.Join(dir, "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { historyStore.Close() })

	pipeline, err := NewPipeline(collector, Config{OutputDir: dir, Compress: compress}, holderStore, historyStore, zaptest.NewLogger(t))
	require.NoError(t, err)
	pipeline.now = func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) }
	return pipeline, dir, historyStore
}

func TestTakeWritesArtifacts(t *testing.T) {
	collector := &staticCollector{holders: []types.Holder{
		{Address: "alice", Balance: 600},
		{Address: "bob", Balance: 400},
	}}
	pipeline, dir, historyStore := newTestPipeline(t, collector, false)

	sample := types.ProgressSample{SolVolume: 321.5, ProgressPercent: 87.5}
	summary, err := pipeline.Take(context.Background(), sample, types.TriggerThreshold)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.TotalHolders)
	assert.Equal(t, uint64(1000), summary.TotalSupply)
	assert.Equal(t, types.TriggerThreshold, summary.Trigger)
	assert.False(t, summary.TargetReached)
	assert.Equal(t, 2, summary.NewHolders)
	assert.Equal(t, "snapshot_20260831_120000.csv", summary.File)
	assert.NotEmpty(t, summary.Hash)

	f, err := os.Open(filepath.Join(dir, summary.File))
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"address", "balance"}, rows[0])
	assert.Equal(t, []string{"alice", "600"}, rows[1])
	assert.Equal(t, []string{"bob", "400"}, rows[2])

	infoData, err := os.ReadFile(filepath.Join(dir, "snapshot_20260831_120000_info.json"))
	require.NoError(t, err)
	var stored types.SnapshotSummary
	require.NoError(t, json.Unmarshal(infoData, &stored))
	assert.Equal(t, summary.Hash, stored.Hash)
	assert.InDelta(t, 87.5, stored.Progress, 0.001)

	latest, err := historyStore.Latest()
	require.NoError(t, err)
	assert.Equal(t, summary.Hash, latest.Hash)
}

func TestTakeCompressedArtifact(t *testing.T) {
	collector := &staticCollector{holders: []types.Holder{{Address: "alice", Balance: 1}}}
	pipeline, dir, _ := newTestPipeline(t, collector, true)

	summary, err := pipeline.Take(context.Background(), types.ProgressSample{}, types.TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, "snapshot_20260831_120000.csv.zst", summary.File)

	f, err := os.Open(filepath.Join(dir, summary.File))
	require.NoError(t, err)
	defer f.Close()
	dec, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer dec.Close()
	rows, err := csv.NewReader(dec).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"alice", "1"}, rows[1])
}

func TestTakeReportsChurnAcrossSnapshots(t *testing.T) {
	collector := &staticCollector{holders: []types.Holder{
		{Address: "alice", Balance: 10},
		{Address: "bob", Balance: 20},
	}}
	pipeline, _, _ := newTestPipeline(t, collector, false)

	first, err := pipeline.Take(context.Background(), types.ProgressSample{}, types.TriggerBaseline)
	require.NoError(t, err)
	assert.Equal(t, 2, first.NewHolders)
	assert.Zero(t, first.ExitedHolders)

	collector.holders = []types.Holder{
		{Address: "bob", Balance: 20},
		{Address: "carol", Balance: 5},
	}
	pipeline.now = func() time.Time { return time.Date(2026, 8, 31, 12, 5, 0, 0, time.UTC) }

	second, err := pipeline.Take(context.Background(), types.ProgressSample{}, types.TriggerRegular)
	require.NoError(t, err)
	assert.Equal(t, 1, second.NewHolders)
	assert.Equal(t, 1, second.ExitedHolders)
}

func TestTakeTargetReached(t *testing.T) {
	collector := &staticCollector{holders: []types.Holder{{Address: "alice", Balance: 1}}}
	pipeline, _, _ := newTestPipeline(t, collector, false)

	summary, err := pipeline.Take(context.Background(), types.ProgressSample{ProgressPercent: 104.2}, types.TriggerFinal)
	require.NoError(t, err)
	assert.True(t, summary.TargetReached)
}

func TestTakeEmptyHolderSet(t *testing.T) {
	collector := &staticCollector{}
	pipeline, _, _ := newTestPipeline(t, collector, false)

	_, err := pipeline.Take(context.Background(), types.ProgressSample{}, types.TriggerRegular)
	assert.ErrorIs(t, err, ErrNoHolders)
}
