// Package scheduler drives the snapshot cadence from the token's
// progress toward its market-cap target. It ticks on a fixed interval,
// samples progress on a coarser check interval, fires snapshots on
// threshold band crossings in either direction, and keeps a regular
// cadence whose pace tightens as progress climbs. Progress at or above
// 100 percent produces a final snapshot and stops the run.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/solwatch/mintwatch/internal/types"
	"github.com/solwatch/mintwatch/pkg/progress"
)

// Default configuration values.
const (
	// DefaultTick is the scheduler's wakeup interval. It is much finer
	// than the check interval so shutdown and state reads stay prompt.
	DefaultTick = 30 * time.Second

	// DefaultCheckInterval is how often progress is sampled.
	DefaultCheckInterval = 60 * time.Second

	// DefaultErrorPause is the hold after a failed check or snapshot.
	DefaultErrorPause = 10 * time.Second
)

// Default threshold bands and their regular snapshot intervals. Past
// each threshold the cadence tightens.
var (
	DefaultThresholds = []float64{85, 90, 95, 97, 99}
	DefaultIntervals  = []time.Duration{
		15 * time.Minute,
		10 * time.Minute,
		5 * time.Minute,
		2 * time.Minute,
		1 * time.Minute,
	}
)

// Taker produces one snapshot.
type Taker interface {
	Take(ctx context.Context, sample types.ProgressSample, trigger types.Trigger) (*types.SnapshotSummary, error)
}

// Config holds scheduler configuration.
type Config struct {
	// Tick is the wakeup interval of the run loop.
	Tick time.Duration

	// CheckInterval is the minimum time between progress checks.
	CheckInterval time.Duration

	// Thresholds are the ascending progress percentages that bound the
	// cadence bands.
	Thresholds []float64

	// Intervals are the regular snapshot intervals per band; must be
	// the same length as Thresholds. Below the lowest threshold no
	// regular snapshots are taken.
	Intervals []time.Duration

	// ErrorPause is how long the loop holds after a failure.
	ErrorPause time.Duration
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Tick:          DefaultTick,
		CheckInterval: DefaultCheckInterval,
		Thresholds:    DefaultThresholds,
		Intervals:     DefaultIntervals,
		ErrorPause:    DefaultErrorPause,
	}
}

// WithDefaults applies default values for any unset fields.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()
	if c.Tick == 0 {
		c.Tick = defaults.Tick
	}
	if c.CheckInterval == 0 {
		c.CheckInterval = defaults.CheckInterval
	}
	if len(c.Thresholds) == 0 {
		c.Thresholds = defaults.Thresholds
		c.Intervals = defaults.Intervals
	}
	if c.ErrorPause == 0 {
		c.ErrorPause = defaults.ErrorPause
	}
	return c
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if len(c.Thresholds) != len(c.Intervals) {
		return fmt.Errorf("thresholds (%d) and intervals (%d) must have equal length",
			len(c.Thresholds), len(c.Intervals))
	}
	if !sort.Float64sAreSorted(c.Thresholds) {
		return errors.New("thresholds must be ascending")
	}
	for i := 1; i < len(c.Thresholds); i++ {
		if c.Thresholds[i] == c.Thresholds[i-1] {
			return errors.New("thresholds must be strictly ascending")
		}
	}
	for i, interval := range c.Intervals {
		if interval <= 0 {
			return fmt.Errorf("interval for threshold %.0f must be positive", c.Thresholds[i])
		}
	}
	return nil
}

// State is a copy of the scheduler state for status reporting.
type State struct {
	StartedAt      time.Time              `json:"startedAt"`
	LastCheckAt    time.Time              `json:"lastCheckAt,omitempty"`
	NextSnapshotAt time.Time              `json:"nextSnapshotAt,omitempty"`
	LastThreshold  float64                `json:"lastThreshold"`
	Done           bool                   `json:"done"`
	Checks         int                    `json:"checks"`
	Snapshots      int                    `json:"snapshots"`
	LastSample     *types.ProgressSample  `json:"lastSample,omitempty"`
	LastSummary    *types.SnapshotSummary `json:"lastSummary,omitempty"`
}

// Scheduler runs the adaptive snapshot loop. All mutable state is
// owned by the run goroutine and guarded for concurrent State reads.
type Scheduler struct {
	cfg    Config
	source progress.Source
	taker  Taker
	logger *zap.Logger

	mu             sync.Mutex
	startedAt      time.Time
	lastCheckAt    time.Time
	nextSnapshotAt time.Time
	lastThreshold  int // index into cfg.Thresholds, -1 = below lowest
	done           bool
	checks         int
	snapshots      int
	lastSample     *types.ProgressSample
	lastSummary    *types.SnapshotSummary

	// Overridable for tests.
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// New creates a Scheduler.
func New(source progress.Source, taker Taker, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil || taker == nil {
		return nil, errors.New("source and taker are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cfg:           cfg,
		source:        source,
		taker:         taker,
		logger:        logger,
		lastThreshold: -1,
		now:           time.Now,
		sleep:         sleepCtx,
	}, nil
}

// Run executes the scheduler until the target is reached or the
// context is cancelled. It takes a baseline snapshot first, then
// checks progress every CheckInterval. Only a progress reading at or
// above 100 percent ends the run with a nil error.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.startedAt = s.now()
	s.mu.Unlock()

	s.baseline(ctx)
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.isDone() {
		return nil
	}

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if !s.checkDue() {
			continue
		}
		if err := s.check(ctx); err != nil {
			return err
		}
		if s.isDone() {
			s.logger.Info("target reached, monitor finished")
			return nil
		}
	}
}

// baseline records the starting state of the holder set. A failed
// baseline is logged and skipped; the regular loop still runs.
func (s *Scheduler) baseline(ctx context.Context) {
	sample, err := s.source.Sample(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("baseline progress check failed, snapshotting without sample", zap.Error(err))
		sample = types.ProgressSample{}
	} else {
		s.recordCheck(sample)
	}

	if _, err := s.takeSnapshot(ctx, sample, types.TriggerBaseline); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("baseline snapshot failed", zap.Error(err))
		s.sleep(ctx, s.cfg.ErrorPause)
		return
	}

	// A baseline at or past the target still gets its final snapshot
	// through the regular check path.
	if sample.ProgressPercent >= 100 {
		s.finalize(ctx, sample)
	}
}

// checkDue reports whether enough time has passed since the last
// progress check.
func (s *Scheduler) checkDue() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCheckAt.IsZero() || s.now().Sub(s.lastCheckAt) >= s.cfg.CheckInterval
}

// check performs one progress check and whatever snapshot it calls
// for. It returns an error only on context cancellation; operational
// failures pause and recover.
func (s *Scheduler) check(ctx context.Context) error {
	sample, err := s.source.Sample(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, progress.ErrUnavailable) {
			// No usable data this cycle. Not an outage, just skip.
			s.logger.Info("progress data unavailable, skipping check")
			s.recordCheck(types.ProgressSample{})
			return nil
		}
		s.logger.Warn("progress check failed", zap.Error(err))
		return s.sleep(ctx, s.cfg.ErrorPause)
	}
	s.recordCheck(sample)

	pct := sample.ProgressPercent
	if pct >= 100 {
		s.finalize(ctx, sample)
		return ctx.Err()
	}

	band := s.bandIndex(pct)
	now := s.now()

	s.mu.Lock()
	crossed := band != s.lastThreshold
	regularDue := band >= 0 && !s.nextSnapshotAt.IsZero() && !now.Before(s.nextSnapshotAt)
	s.mu.Unlock()

	switch {
	case crossed:
		s.logger.Info("progress crossed threshold band",
			zap.Float64("progress", pct),
			zap.Float64("threshold", s.bandValue(band)))
		if _, err := s.takeSnapshot(ctx, sample, types.TriggerThreshold); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("threshold snapshot failed", zap.Error(err))
			return s.sleep(ctx, s.cfg.ErrorPause)
		}
		// The crossing snapshot restarts the regular cadence; no
		// second snapshot on this tick.
		s.mu.Lock()
		s.lastThreshold = band
		if band >= 0 {
			s.nextSnapshotAt = now.Add(s.cfg.Intervals[band])
		} else {
			s.nextSnapshotAt = time.Time{}
		}
		s.mu.Unlock()

	case regularDue:
		if _, err := s.takeSnapshot(ctx, sample, types.TriggerRegular); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Error("regular snapshot failed", zap.Error(err))
			return s.sleep(ctx, s.cfg.ErrorPause)
		}
		s.mu.Lock()
		s.nextSnapshotAt = now.Add(s.cfg.Intervals[band])
		s.mu.Unlock()

	case band >= 0:
		// Same band, cadence armed on a fresh start.
		s.mu.Lock()
		if s.nextSnapshotAt.IsZero() {
			s.nextSnapshotAt = now.Add(s.cfg.Intervals[band])
		}
		s.mu.Unlock()
	}
	return nil
}

// finalize takes the final snapshot and marks the scheduler done. A
// failed final snapshot leaves the scheduler running so the next check
// retries it.
func (s *Scheduler) finalize(ctx context.Context, sample types.ProgressSample) {
	if _, err := s.takeSnapshot(ctx, sample, types.TriggerFinal); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("final snapshot failed, will retry", zap.Error(err))
		s.sleep(ctx, s.cfg.ErrorPause)
		return
	}
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
}

func (s *Scheduler) takeSnapshot(ctx context.Context, sample types.ProgressSample, trigger types.Trigger) (*types.SnapshotSummary, error) {
	summary, err := s.taker.Take(ctx, sample, trigger)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.snapshots++
	s.lastSummary = summary
	s.mu.Unlock()
	return summary, nil
}

func (s *Scheduler) recordCheck(sample types.ProgressSample) {
	s.mu.Lock()
	s.lastCheckAt = s.now()
	s.checks++
	sampleCopy := sample
	s.lastSample = &sampleCopy
	s.mu.Unlock()
}

// bandIndex returns the index of the highest threshold at or below
// pct, or -1 when pct is below the lowest threshold.
func (s *Scheduler) bandIndex(pct float64) int {
	band := -1
	for i, threshold := range s.cfg.Thresholds {
		if pct >= threshold {
			band = i
		}
	}
	return band
}

// bandValue returns the threshold value for a band, or 0 for none.
func (s *Scheduler) bandValue(band int) float64 {
	if band < 0 {
		return 0
	}
	return s.cfg.Thresholds[band]
}

func (s *Scheduler) isDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// State returns a copy of the scheduler state for status reporting.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		StartedAt:      s.startedAt,
		LastCheckAt:    s.lastCheckAt,
		NextSnapshotAt: s.nextSnapshotAt,
		LastThreshold:  s.bandValue(s.lastThreshold),
		Done:           s.done,
		Checks:         s.checks,
		Snapshots:      s.snapshots,
		LastSample:     s.lastSample,
		LastSummary:    s.lastSummary,
	}
}

// sleepCtx blocks for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
