package analyzer

import (
	"fmt"
	"sort"
	"strings"

	"codeberg.org/mutker/powermon/internal/config"
	"codeberg.org/mutker/powermon/internal/logger"
	"codeberg.org/mutker/powermon/internal/store"
)

// Confidence scoring. Base confidence plus bonuses for corroborating signals.
const (
	confidenceBase         = 50
	confidenceKnownCause   = 20
	confidenceVeryHighDraw = 15
	confidenceCompleteData = 10
	confidenceTopProcess   = 5
	confidenceMax          = 100

	veryHighDrawFactor = 1.5
	lowBatteryPercent  = 30.0
)

// causeOrder is the evaluation order; ranking ties resolve in this order.
var causeOrder = []Cause{
	CauseHighCPU,
	CauseHighDiskIO,
	CauseHighNetwork,
	CauseMultipleProcesses,
}

// RollingAverager is the slice of the Store the analyzer needs.
type RollingAverager interface {
	RollingAverage(minutes int) (*float64, error)
}

// ProcessUsage is a process name with its CPU share at sample time.
type ProcessUsage struct {
	Name       string
	CPUPercent float64
}

// Analysis is the analyzer's verdict on a single sample.
type Analysis struct {
	IsHighPower         bool
	PrimaryCause        Cause
	ContributingFactors []Cause
	TopProcesses        []ProcessUsage
	Confidence          int
	PowerDraw           float64
	Recommendations     string
}

// Analyzer classifies samples. It is stateless apart from its configuration
// and the Store handle used for rolling averages.
type Analyzer struct {
	cfg   *config.Config
	store RollingAverager
}

func New(cfg *config.Config, st RollingAverager) *Analyzer {
	return &Analyzer{cfg: cfg, store: st}
}

// IsHighDraw reports whether a draw rate (percent per hour) exceeds the
// configured threshold. The threshold is configured in percent per 10
// minutes and converted here.
func (a *Analyzer) IsHighDraw(drawRate float64) bool {
	return drawRate > a.cfg.ThresholdPerHour()
}

// IdentifyCauses evaluates each cause predicate against the sample and
// returns the triggered causes ranked by severity, descending. Ties keep
// evaluation order. A sample triggering nothing yields [UNKNOWN].
func (a *Analyzer) IdentifyCauses(m *store.MetricSample) []Cause {
	if m == nil {
		return []Cause{CauseUnknown}
	}

	var causes []Cause
	for _, c := range causeOrder {
		if c.triggered(m) {
			causes = append(causes, c)
		}
	}

	if len(causes) == 0 {
		return []Cause{CauseUnknown}
	}

	sort.SliceStable(causes, func(i, j int) bool {
		return causes[i].score(m) > causes[j].score(m)
	})

	return causes
}

// Analyze produces the full verdict for one sample. A nil sample yields the
// documented empty analysis rather than an error.
func (a *Analyzer) Analyze(m *store.MetricSample) Analysis {
	if m == nil {
		logger.Warn().Msg("No sample provided for analysis")
		return emptyAnalysis()
	}

	causes := a.IdentifyCauses(m)
	primary := causes[0]
	contributing := causes[1:]

	analysis := Analysis{
		IsHighPower:         a.IsHighDraw(m.PowerDrawEstimate),
		PrimaryCause:        primary,
		ContributingFactors: contributing,
		TopProcesses:        extractTopProcesses(m),
		Confidence:          a.confidence(m, primary),
		PowerDraw:           m.PowerDrawEstimate,
		Recommendations:     a.recommendations(primary, contributing, m),
	}

	logger.Debug().
		Bool("high_power", analysis.IsHighPower).
		Str("primary_cause", primary.String()).
		Int("confidence", analysis.Confidence).
		Msg("Analysis complete")

	return analysis
}

// RollingAverage returns the mean draw rate over the trailing window, nil
// when the Store has no qualifying samples.
func (a *Analyzer) RollingAverage(minutes int) (*float64, error) {
	if minutes <= 0 {
		logger.Warn().Int("minutes", minutes).Msg("Invalid rolling average window, using 10")
		minutes = 10
	}

	return a.store.RollingAverage(minutes)
}

func (a *Analyzer) confidence(m *store.MetricSample, primary Cause) int {
	confidence := confidenceBase

	if primary != CauseUnknown {
		confidence += confidenceKnownCause
	}

	if m.PowerDrawEstimate > a.cfg.ThresholdPerHour()*veryHighDrawFactor {
		confidence += confidenceVeryHighDraw
	}

	// The draw estimate is only defined when battery data exists
	if m.BatteryPercent != nil {
		confidence += confidenceCompleteData
	}

	if m.TopProcessName != nil {
		confidence += confidenceTopProcess
	}

	return min(confidence, confidenceMax)
}

func (a *Analyzer) recommendations(primary Cause, contributing []Cause, m *store.MetricSample) string {
	var parts []string

	switch primary {
	case CauseHighCPU:
		parts = append(parts, fmt.Sprintf(
			"High CPU usage detected (%.1f%%). Consider closing unnecessary applications or background processes.",
			m.CPUPercent))
		if m.TopProcessName != nil {
			parts = append(parts, fmt.Sprintf(
				"Process '%s' is using %.1f%% CPU. Check if this process needs to be running.",
				*m.TopProcessName, topProcessCPU(m)))
		}
	case CauseHighDiskIO:
		parts = append(parts, fmt.Sprintf(
			"High disk I/O detected (%.1f MB/s). Check for file transfers, backups, or indexing operations.",
			m.DiskReadMB+m.DiskWriteMB))
	case CauseHighNetwork:
		parts = append(parts, fmt.Sprintf(
			"High network activity detected (%.1f MB/s). Check for downloads, uploads, or streaming services.",
			m.NetworkSentMB+m.NetworkRecvMB))
	case CauseMultipleProcesses:
		parts = append(parts,
			"Multiple processes are active simultaneously. Consider closing background applications to reduce power consumption.")
	default:
		parts = append(parts,
			"Power consumption is elevated but no specific cause identified. Check Task Manager for unusual activity.")
	}

	for _, c := range contributing {
		switch c {
		case CauseHighDiskIO:
			parts = append(parts, "Also check disk I/O activity.")
		case CauseHighNetwork:
			parts = append(parts, "Also check network activity.")
		}
	}

	if m.BatteryPercent != nil && *m.BatteryPercent < lowBatteryPercent {
		parts = append(parts, "Battery is low. Consider enabling battery saver mode or connecting to power.")
	}

	return strings.Join(parts, " ")
}

func extractTopProcesses(m *store.MetricSample) []ProcessUsage {
	if m.TopProcessName == nil {
		return nil
	}

	return []ProcessUsage{{Name: *m.TopProcessName, CPUPercent: topProcessCPU(m)}}
}

func emptyAnalysis() Analysis {
	return Analysis{
		IsHighPower:     false,
		PrimaryCause:    CauseUnknown,
		Confidence:      0,
		PowerDraw:       0,
		Recommendations: "Unable to analyze current state due to insufficient data.",
	}
}
