package tracker

import (
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/powermon/internal/analyzer"
	"codeberg.org/mutker/powermon/internal/config"
	"codeberg.org/mutker/powermon/internal/logger"
	"codeberg.org/mutker/powermon/internal/notify"
	"codeberg.org/mutker/powermon/internal/store"
)

const maxProcessesPerEvent = 5

// Analyzer is the slice of the analyzer the tracker drives.
type Analyzer interface {
	IsHighDraw(drawRate float64) bool
	Analyze(m *store.MetricSample) analyzer.Analysis
}

// EventStore persists finished episodes.
type EventStore interface {
	InsertEvent(event *store.HighPowerEvent) error
}

// Tracker is the two-state machine (Normal / HighPower) that turns the
// analyzer's per-tick verdicts into discrete HighPowerEvents. Transitions
// are edge-triggered on the boolean verdict, so missing ticks (a stopped
// sampler) pause the episode rather than corrupting it.
type Tracker struct {
	cfg      *config.Config
	analyzer Analyzer
	store    EventStore
	notifier notify.Notifier

	mu          sync.Mutex
	inHighPower bool
	startTime   int64
	drawSamples []float64
}

func New(cfg *config.Config, az Analyzer, st EventStore, n notify.Notifier) *Tracker {
	return &Tracker{
		cfg:      cfg,
		analyzer: az,
		store:    st,
		notifier: n,
	}
}

// Observe feeds one tick into the state machine. The caller supplies the
// tick's wall-clock time; the tracker never reads the clock itself.
func (t *Tracker) Observe(now time.Time, m *store.MetricSample) {
	if m == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	isHigh := t.analyzer.IsHighDraw(m.PowerDrawEstimate)

	if isHigh != t.inHighPower {
		if isHigh {
			t.beginEpisode(now, m)
		} else {
			t.endEpisode(now, m)
		}
		t.inHighPower = isHigh
	}

	if isHigh {
		t.drawSamples = append(t.drawSamples, m.PowerDrawEstimate)
	}

	t.checkBattery(m)
}

// InHighPower reports whether an episode is currently open.
func (t *Tracker) InHighPower() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.inHighPower
}

func (t *Tracker) beginEpisode(now time.Time, m *store.MetricSample) {
	t.startTime = now.Unix()
	t.drawSamples = nil

	logger.Info().
		Float64("power_draw", m.PowerDrawEstimate).
		Msg("High power episode started")

	if t.notifier != nil && t.cfg.Notifications {
		battery := 0.0
		if m.BatteryPercent != nil {
			battery = *m.BatteryPercent
		}
		t.notifier.HighPowerDraw(t.analyzer.Analyze(m), battery)
	}
}

// endEpisode finalizes and persists the episode. The cause is re-derived
// from the exit sample; an episode that accumulated no draw samples is
// dropped rather than recorded.
func (t *Tracker) endEpisode(now time.Time, m *store.MetricSample) {
	defer func() {
		t.startTime = 0
		t.drawSamples = nil
	}()

	if t.startTime == 0 || len(t.drawSamples) == 0 {
		return
	}

	var sum float64
	for _, d := range t.drawSamples {
		sum += d
	}
	avgDraw := sum / float64(len(t.drawSamples))

	analysis := t.analyzer.Analyze(m)

	event := &store.HighPowerEvent{
		Timestamp:         t.startTime,
		DurationSeconds:   now.Unix() - t.startTime,
		PrimaryCause:      analysis.PrimaryCause.String(),
		ProcessesInvolved: involvedProcesses(analysis),
		AvgPowerDraw:      avgDraw,
	}

	if err := t.store.InsertEvent(event); err != nil {
		logger.Error().Err(err).Msg("Failed to record high power event")
		return
	}

	logger.Info().
		Int64("duration_seconds", event.DurationSeconds).
		Str("primary_cause", event.PrimaryCause).
		Float64("avg_power_draw", event.AvgPowerDraw).
		Msg("High power episode recorded")
}

func (t *Tracker) checkBattery(m *store.MetricSample) {
	if t.notifier == nil || !t.cfg.Notifications {
		return
	}
	if m.BatteryPercent == nil || m.PowerPlugged == nil || *m.PowerPlugged {
		return
	}

	percent := *m.BatteryPercent
	switch {
	case percent <= float64(t.cfg.CriticalBatteryPercent):
		t.notifier.CriticalBattery(percent)
	case percent <= float64(t.cfg.LowBatteryPercent):
		t.notifier.LowBattery(percent)
	}
}

// involvedProcesses joins up to five unique process names from the exit
// analysis.
func involvedProcesses(analysis analyzer.Analysis) string {
	seen := make(map[string]struct{})
	var names []string

	for _, p := range analysis.TopProcesses {
		if _, ok := seen[p.Name]; ok {
			continue
		}
		seen[p.Name] = struct{}{}
		names = append(names, p.Name)

		if len(names) == maxProcessesPerEvent {
			break
		}
	}

	return strings.Join(names, ", ")
}
