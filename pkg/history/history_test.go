package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solwatch/mintwatch/internal/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testSummary(ts time.Time, trigger types.Trigger, holders int) *types.SnapshotSummary {
	return &types.SnapshotSummary{
		Timestamp:    ts,
		TotalHolders: holders,
		TotalSupply:  1_000_000,
		SolVolume:    123.4,
		Progress:     42.0,
		Trigger:      trigger,
		File:         "snapshot_20260831_120000.csv",
	}
}

func TestAppendAndLatest(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Latest()
	assert.ErrorIs(t, err, ErrEmpty)

	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(testSummary(base, types.TriggerBaseline, 10)))
	require.NoError(t, store.Append(testSummary(base.Add(time.Minute), types.TriggerRegular, 12)))
	require.NoError(t, store.Append(testSummary(base.Add(2*time.Minute), types.TriggerThreshold, 15)))

	latest, err := store.Latest()
	require.NoError(t, err)
	assert.Equal(t, 15, latest.TotalHolders)
	assert.Equal(t, types.TriggerThreshold, latest.Trigger)
	assert.True(t, latest.Timestamp.Equal(base.Add(2*time.Minute)))
}

func TestListNewestFirst(t *testing.T) {
	store := openTestStore(t)

	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(testSummary(base.Add(time.Duration(i)*time.Minute), types.TriggerRegular, i)))
	}

	all, err := store.List(0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, 4, all[0].TotalHolders)
	assert.Equal(t, 0, all[4].TotalHolders)

	limited, err := store.List(2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, 4, limited[0].TotalHolders)
	assert.Equal(t, 3, limited[1].TotalHolders)
}

func TestCount(t *testing.T) {
	store := openTestStore(t)

	count, err := store.Count()
	require.NoError(t, err)
	assert.Zero(t, count)

	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(testSummary(base, types.TriggerBaseline, 1)))
	require.NoError(t, store.Append(testSummary(base.Add(time.Second), types.TriggerFinal, 2)))

	count, err = store.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	store, err := Open(path)
	require.NoError(t, err)
	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(testSummary(base, types.TriggerBaseline, 7)))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	latest, err := reopened.Latest()
	require.NoError(t, err)
	assert.Equal(t, 7, latest.TotalHolders)
}

func TestClosedStoreErrors(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Close())

	assert.ErrorIs(t, store.Append(testSummary(time.Now(), types.TriggerManual, 1)), ErrClosed)
	_, err := store.Latest()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = store.List(0)
	assert.ErrorIs(t, err, ErrClosed)
}
