package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/solwatch/mintwatch/internal/types"
	"github.com/solwatch/mintwatch/pkg/progress"
)

// scriptedSource replays a fixed sequence of samples, repeating the
// last one when exhausted.
type scriptedSource struct {
	samples []types.ProgressSample
	errs    []error
	calls   int
}

func (s *scriptedSource) Sample(ctx context.Context) (types.ProgressSample, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return types.ProgressSample{}, s.errs[i]
	}
	if i >= len(s.samples) {
		i = len(s.samples) - 1
	}
	return s.samples[i], nil
}

func progressOf(values ...float64) *scriptedSource {
	samples := make([]types.ProgressSample, len(values))
	for i, v := range values {
		samples[i] = types.ProgressSample{ProgressPercent: v, SolVolume: 100}
	}
	return &scriptedSource{samples: samples}
}

type recordingTaker struct {
	triggers []types.Trigger
	samples  []types.ProgressSample
	errs     []error
}

func (r *recordingTaker) Take(ctx context.Context, sample types.ProgressSample, trigger types.Trigger) (*types.SnapshotSummary, error) {
	i := len(r.triggers)
	r.triggers = append(r.triggers, trigger)
	r.samples = append(r.samples, sample)
	if i < len(r.errs) && r.errs[i] != nil {
		return nil, r.errs[i]
	}
	return &types.SnapshotSummary{
		Timestamp: time.Now(),
		Progress:  sample.ProgressPercent,
		Trigger:   trigger,
	}, nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Tick = time.Millisecond
	cfg.CheckInterval = time.Millisecond
	cfg.ErrorPause = time.Millisecond
	return cfg
}

// newTestScheduler returns a scheduler with a controllable clock and a
// sleep that only advances the clock.
func newTestScheduler(t *testing.T, source progress.Source, taker Taker, cfg Config) (*Scheduler, *time.Time) {
	t.Helper()
	sched, err := New(source, taker, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)

	clock := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	sched.now = func() time.Time { return clock }
	sched.sleep = func(ctx context.Context, d time.Duration) error {
		clock = clock.Add(d)
		return ctx.Err()
	}
	return sched, &clock
}

func TestThresholdCrossingsBothDirections(t *testing.T) {
	source := progressOf(80, 86, 86, 92, 86)
	taker := &recordingTaker{}
	sched, clock := newTestScheduler(t, source, taker, testConfig())

	for i := 0; i < 5; i++ {
		require.NoError(t, sched.check(context.Background()))
		*clock = clock.Add(time.Second)
	}

	// 80 is below every band; 86 enters 85, 92 enters 90, and the drop
	// back to 86 re-crosses downward. The repeated 86 is not a change.
	var thresholds []float64
	for i, trigger := range taker.triggers {
		require.Equal(t, types.TriggerThreshold, trigger)
		thresholds = append(thresholds, taker.samples[i].ProgressPercent)
	}
	assert.Equal(t, []float64{86, 92, 86}, thresholds)
}

func TestRegularCadenceWithinBand(t *testing.T) {
	source := progressOf(86)
	taker := &recordingTaker{}
	sched, clock := newTestScheduler(t, source, taker, testConfig())

	// Crossing into the 85 band arms a 15 minute cadence.
	require.NoError(t, sched.check(context.Background()))
	require.Equal(t, []types.Trigger{types.TriggerThreshold}, taker.triggers)

	// Under 15 minutes later: nothing due.
	*clock = clock.Add(10 * time.Minute)
	require.NoError(t, sched.check(context.Background()))
	assert.Len(t, taker.triggers, 1)

	// Past the interval: one regular snapshot, cadence re-armed.
	*clock = clock.Add(6 * time.Minute)
	require.NoError(t, sched.check(context.Background()))
	require.Len(t, taker.triggers, 2)
	assert.Equal(t, types.TriggerRegular, taker.triggers[1])

	*clock = clock.Add(time.Minute)
	require.NoError(t, sched.check(context.Background()))
	assert.Len(t, taker.triggers, 2)
}

func TestCadenceTightensInHigherBand(t *testing.T) {
	source := progressOf(99.5, 99.5)
	taker := &recordingTaker{}
	sched, clock := newTestScheduler(t, source, taker, testConfig())

	require.NoError(t, sched.check(context.Background()))
	require.Equal(t, []types.Trigger{types.TriggerThreshold}, taker.triggers)

	// The 99 band runs on a one minute cadence.
	*clock = clock.Add(time.Minute)
	require.NoError(t, sched.check(context.Background()))
	require.Len(t, taker.triggers, 2)
	assert.Equal(t, types.TriggerRegular, taker.triggers[1])
}

func TestBelowLowestBandNoRegularSnapshots(t *testing.T) {
	source := progressOf(86, 50, 50)
	taker := &recordingTaker{}
	sched, clock := newTestScheduler(t, source, taker, testConfig())

	require.NoError(t, sched.check(context.Background()))
	*clock = clock.Add(time.Second)

	// The drop out of the lowest band is itself a crossing; after it
	// no regular cadence runs no matter how long passes.
	require.NoError(t, sched.check(context.Background()))
	require.Len(t, taker.triggers, 2)
	assert.Equal(t, types.TriggerThreshold, taker.triggers[1])

	*clock = clock.Add(24 * time.Hour)
	require.NoError(t, sched.check(context.Background()))
	assert.Len(t, taker.triggers, 2)
}

func TestTargetReachedOnFirstCheck(t *testing.T) {
	source := progressOf(100)
	taker := &recordingTaker{}
	sched, err := New(source, taker, testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- sched.Run(context.Background()) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not finish")
	}

	// Exactly baseline then final, nothing in between.
	assert.Equal(t, []types.Trigger{types.TriggerBaseline, types.TriggerFinal}, taker.triggers)
	assert.True(t, sched.State().Done)
}

func TestTargetReachedMidRun(t *testing.T) {
	source := progressOf(80, 101)
	taker := &recordingTaker{}
	sched, clock := newTestScheduler(t, source, taker, testConfig())

	require.NoError(t, sched.check(context.Background()))
	assert.False(t, sched.isDone())
	*clock = clock.Add(time.Second)

	require.NoError(t, sched.check(context.Background()))
	assert.True(t, sched.isDone())
	require.Equal(t, []types.Trigger{types.TriggerFinal}, taker.triggers)
	assert.True(t, taker.samples[0].ProgressPercent > 100)
}

func TestUnavailableProgressIsSkipped(t *testing.T) {
	source := &scriptedSource{
		samples: []types.ProgressSample{{ProgressPercent: 86}},
		errs:    []error{progress.ErrUnavailable},
	}
	taker := &recordingTaker{}
	sched, clock := newTestScheduler(t, source, taker, testConfig())

	require.NoError(t, sched.check(context.Background()))
	assert.Empty(t, taker.triggers)
	*clock = clock.Add(time.Second)

	require.NoError(t, sched.check(context.Background()))
	assert.Equal(t, []types.Trigger{types.TriggerThreshold}, taker.triggers)
}

func TestFailedThresholdSnapshotRetriesNextCheck(t *testing.T) {
	source := progressOf(86, 86)
	taker := &recordingTaker{errs: []error{errors.New("rpc down")}}
	sched, clock := newTestScheduler(t, source, taker, testConfig())

	// The failed crossing must not latch the band.
	require.NoError(t, sched.check(context.Background()))
	require.Len(t, taker.triggers, 1)
	*clock = clock.Add(time.Second)

	require.NoError(t, sched.check(context.Background()))
	require.Len(t, taker.triggers, 2)
	assert.Equal(t, types.TriggerThreshold, taker.triggers[1])
}

func TestCheckErrorsAreNotFatal(t *testing.T) {
	source := &scriptedSource{
		samples: []types.ProgressSample{{ProgressPercent: 86}},
		errs:    []error{errors.New("market api 500")},
	}
	taker := &recordingTaker{}
	sched, clock := newTestScheduler(t, source, taker, testConfig())

	require.NoError(t, sched.check(context.Background()))
	assert.Empty(t, taker.triggers)
	*clock = clock.Add(time.Second)

	require.NoError(t, sched.check(context.Background()))
	assert.Len(t, taker.triggers, 1)
}

func TestRunObservesCancellation(t *testing.T) {
	source := progressOf(50)
	taker := &recordingTaker{}
	sched, err := New(source, taker, testConfig(), zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop on cancellation")
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Thresholds = []float64{90, 85}
	cfg.Intervals = []time.Duration{time.Minute, time.Minute}
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Thresholds = []float64{85}
	assert.Error(t, cfg.Validate())

	assert.NoError(t, DefaultConfig().Validate())
}
