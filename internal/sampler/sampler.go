package sampler

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"

	"codeberg.org/mutker/powermon/internal/config"
	"codeberg.org/mutker/powermon/internal/logger"
	"codeberg.org/mutker/powermon/internal/store"
)

const (
	// DefaultCacheMaxAge is how stale a cached sample may be before a
	// synchronous read forces a fresh collection.
	DefaultCacheMaxAge = 5 * time.Second

	stopJoinTimeout = 2 * time.Second
	sizeCheckEvery  = 100
)

// Storer is the slice of the Store the sampler writes to.
type Storer interface {
	InsertSample(sample *store.MetricSample) error
	PruneToSize(maxSizeMB int) (int64, error)
}

// Sampler owns the periodic tick that produces MetricSamples. It runs
// Stopped -> Running -> Stopped; Start and Stop are idempotent. All
// baseline state used for rate derivation belongs to the instance and is
// reset on Start, so independent samplers never share state.
type Sampler struct {
	cfg   *config.Config
	store Storer

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	// Baseline state for delta derivation; guarded by collectMu
	collectMu  sync.Mutex
	prevSample *store.MetricSample
	prevTime   time.Time
	lastIO     *ioCounters
	lastIOTime time.Time

	// Latest sample cache; its own lock so reads never block on
	// collection or database I/O
	cacheMu  sync.Mutex
	cached   *store.MetricSample
	cachedAt time.Time

	sizeCheckTicks int
}

func New(cfg *config.Config, st Storer) *Sampler {
	return &Sampler{cfg: cfg, store: st}
}

// Start transitions to Running, clears the baselines and spawns the
// collection loop. A no-op when already running.
func (s *Sampler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		logger.Warn().Msg("Sampler already running")
		return
	}

	logger.Info().Int("interval", s.cfg.Interval).Msg("Starting sampler")

	s.collectMu.Lock()
	s.prevSample = nil
	s.prevTime = time.Time{}
	s.lastIO = nil
	s.lastIOTime = time.Time{}
	s.collectMu.Unlock()

	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true
	s.sizeCheckTicks = 0

	go s.run(s.stopCh, s.doneCh)
}

// Stop signals the loop to exit at its next wait point and joins it with a
// bounded timeout. A no-op when already stopped.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		logger.Warn().Msg("Sampler not running")
		return
	}

	stopCh, doneCh := s.stopCh, s.doneCh
	s.running = false
	s.mu.Unlock()

	logger.Info().Msg("Stopping sampler")
	close(stopCh)

	select {
	case <-doneCh:
	case <-time.After(stopJoinTimeout):
		logger.Warn().Msg("Sampler loop did not exit in time")
	}

	logger.Info().Msg("Sampler stopped")
}

// Running reports whether the collection loop is active.
func (s *Sampler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// CurrentStats forces a fresh synchronous collection.
func (s *Sampler) CurrentStats() *store.MetricSample {
	s.collectMu.Lock()
	defer s.collectMu.Unlock()

	return s.collect(time.Now(), nil)
}

// CachedStats serves the loop's most recent sample when it is younger than
// maxAge, falling back to a fresh collection. Samples are immutable, so the
// cached pointer is shared.
func (s *Sampler) CachedStats(maxAge time.Duration) *store.MetricSample {
	s.cacheMu.Lock()
	if s.cached != nil && time.Since(s.cachedAt) <= maxAge {
		cached := s.cached
		s.cacheMu.Unlock()
		return cached
	}
	s.cacheMu.Unlock()

	return s.CurrentStats()
}

func (s *Sampler) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	logger.Info().Msg("Sampler loop started")
	s.initBaselines()

	for {
		s.tick(time.Now(), stopCh)

		timer := time.NewTimer(time.Duration(s.cfg.Interval) * time.Second)
		select {
		case <-stopCh:
			timer.Stop()
			logger.Info().Msg("Sampler loop exited")
			return
		case <-timer.C:
		}
	}
}

// tick runs one collection cycle. Nothing in here may kill the loop: a
// failed insert drops one sample and the loop carries on.
func (s *Sampler) tick(now time.Time, stop <-chan struct{}) {
	s.collectMu.Lock()
	sample := s.collect(now, stop)
	s.collectMu.Unlock()

	// Publish before the database write; staleness counts from capture
	s.cacheMu.Lock()
	s.cached = sample
	s.cachedAt = now
	s.cacheMu.Unlock()

	if err := s.store.InsertSample(sample); err != nil {
		logger.Error().Err(err).Msg("Failed to store sample")
	} else {
		logger.Debug().
			Float64("cpu_percent", sample.CPUPercent).
			Float64("power_draw", sample.PowerDrawEstimate).
			Msg("Sample collected")
	}

	s.sizeCheckTicks++
	if s.sizeCheckTicks >= sizeCheckEvery {
		s.sizeCheckTicks = 0
		if deleted, err := s.store.PruneToSize(s.cfg.MaxDatabaseSizeMB); err != nil {
			logger.Error().Err(err).Msg("Size-based prune failed")
		} else if deleted > 0 {
			logger.Info().Int64("deleted", deleted).Msg("Size-based prune removed records")
		}
	}
}

// initBaselines seeds the counter baselines and starts the CPU trailing
// window so the first real tick has deltas to work with.
func (s *Sampler) initBaselines() {
	s.collectMu.Lock()
	defer s.collectMu.Unlock()

	if counters, ok := readIOCounters(); ok {
		s.lastIO = counters
		s.lastIOTime = time.Now()
	}

	cpu.Percent(0, false) //nolint:errcheck
}
