package notify

import (
	"sync"
	"time"

	"codeberg.org/mutker/powermon/internal/analyzer"
	"codeberg.org/mutker/powermon/internal/logger"
)

// Kind identifies a notification category for cooldown bookkeeping.
type Kind string

const (
	KindHighPowerDraw   Kind = "high_power_draw"
	KindLowBattery      Kind = "low_battery"
	KindCriticalBattery Kind = "critical_battery"
)

// Notifier receives power alerts. OS-native delivery lives in the
// presentation shell; the core only needs the transitions to be observable.
type Notifier interface {
	HighPowerDraw(analysis analyzer.Analysis, batteryPercent float64)
	LowBattery(percent float64)
	CriticalBattery(percent float64)
}

// LogNotifier is the default Notifier: it writes structured log lines and
// rate-limits each notification kind with a shared cooldown.
type LogNotifier struct {
	cooldown time.Duration

	mu       sync.Mutex
	lastSent map[Kind]time.Time
}

func NewLogNotifier(cooldownMinutes int) *LogNotifier {
	return &LogNotifier{
		cooldown: time.Duration(cooldownMinutes) * time.Minute,
		lastSent: make(map[Kind]time.Time),
	}
}

func (n *LogNotifier) HighPowerDraw(analysis analyzer.Analysis, batteryPercent float64) {
	if !n.shouldSend(KindHighPowerDraw) {
		return
	}

	logger.Warn().
		Str("primary_cause", analysis.PrimaryCause.String()).
		Float64("power_draw", analysis.PowerDraw).
		Int("confidence", analysis.Confidence).
		Float64("battery_percent", batteryPercent).
		Str("recommendations", analysis.Recommendations).
		Msg("High power draw detected")
}

func (n *LogNotifier) LowBattery(percent float64) {
	if !n.shouldSend(KindLowBattery) {
		return
	}

	logger.Warn().Float64("battery_percent", percent).Msg("Battery is low")
}

func (n *LogNotifier) CriticalBattery(percent float64) {
	if !n.shouldSend(KindCriticalBattery) {
		return
	}

	logger.Error().Float64("battery_percent", percent).Msg("Battery critically low")
}

// shouldSend reports whether the cooldown for this kind has elapsed, and
// records the send when it has.
func (n *LogNotifier) shouldSend(kind Kind) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if last, ok := n.lastSent[kind]; ok && time.Since(last) < n.cooldown {
		return false
	}

	n.lastSent[kind] = time.Now()

	return true
}
