package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/mutker/powermon/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.New(store.Config{DBPath: filepath.Join(t.TempDir(), "power_history.db")})
	require.NoError(t, err, "Failed to open store")
	t.Cleanup(func() {
		_ = s.Close()
	})

	return s
}

func floatPtr(v float64) *float64 { return &v }
func boolPtr(v bool) *bool        { return &v }
func strPtr(v string) *string     { return &v }

func TestDefaultConfig(t *testing.T) {
	cfg := store.DefaultConfig()

	assert.NotEmpty(t, cfg.DBPath)
	assert.NoError(t, cfg.Validate())
	assert.Error(t, store.Config{}.Validate(), "Expected empty path rejected")
}

func TestInsertSampleRoundTrip(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().Unix()
	sample := &store.MetricSample{
		Timestamp:         now,
		BatteryPercent:    floatPtr(85.5),
		PowerPlugged:      boolPtr(false),
		PowerDrawEstimate: 13.2,
		CPUPercent:        42.0,
		MemoryPercent:     61.3,
		DiskReadMB:        1.5,
		DiskWriteMB:       0.4,
		NetworkSentMB:     0.2,
		NetworkRecvMB:     2.8,
		TopProcessName:    strPtr("firefox"),
		TopProcessCPU:     floatPtr(31.0),
	}
	require.NoError(t, s.InsertSample(sample))

	got, err := s.Latest(1)
	require.NoError(t, err)
	require.Len(t, got, 1)

	m := got[0]
	assert.Equal(t, now, m.Timestamp)
	require.NotNil(t, m.BatteryPercent)
	assert.InDelta(t, 85.5, *m.BatteryPercent, 0.001)
	require.NotNil(t, m.PowerPlugged)
	assert.False(t, *m.PowerPlugged)
	assert.InDelta(t, 13.2, m.PowerDrawEstimate, 0.001)
	assert.InDelta(t, 42.0, m.CPUPercent, 0.001)
	assert.InDelta(t, 61.3, m.MemoryPercent, 0.001)
	assert.InDelta(t, 1.5, m.DiskReadMB, 0.001)
	assert.InDelta(t, 0.4, m.DiskWriteMB, 0.001)
	assert.InDelta(t, 0.2, m.NetworkSentMB, 0.001)
	assert.InDelta(t, 2.8, m.NetworkRecvMB, 0.001)
	require.NotNil(t, m.TopProcessName)
	assert.Equal(t, "firefox", *m.TopProcessName)
	require.NotNil(t, m.TopProcessCPU)
	assert.InDelta(t, 31.0, *m.TopProcessCPU, 0.001)
}

func TestInsertSampleAbsentFields(t *testing.T) {
	s := newTestStore(t)

	// A desktop machine: no battery, no measurable top process
	require.NoError(t, s.InsertSample(&store.MetricSample{
		Timestamp:  time.Now().Unix(),
		CPUPercent: 10.0,
	}))

	got, err := s.Latest(1)
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Nil(t, got[0].BatteryPercent, "Expected absent battery to stay nil")
	assert.Nil(t, got[0].PowerPlugged)
	assert.Nil(t, got[0].TopProcessName)
	assert.Nil(t, got[0].TopProcessCPU)
	assert.Zero(t, got[0].PowerDrawEstimate)
}

func TestInsertSampleNil(t *testing.T) {
	s := newTestStore(t)

	assert.Error(t, s.InsertSample(nil), "Expected error for nil sample")
}

func TestLatestNewestFirst(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().Unix()
	for _, offset := range []int64{-20, -10, 0} {
		require.NoError(t, s.InsertSample(&store.MetricSample{Timestamp: now + offset}))
	}

	got, err := s.Latest(2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, now, got[0].Timestamp)
	assert.Equal(t, now-10, got[1].Timestamp)
}

func TestQueryRangeWindowAscending(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().Unix()
	old := now - 2*24*3600
	require.NoError(t, s.InsertSample(&store.MetricSample{Timestamp: old}))
	require.NoError(t, s.InsertSample(&store.MetricSample{Timestamp: now - 60}))
	require.NoError(t, s.InsertSample(&store.MetricSample{Timestamp: now}))

	got, err := s.QueryRange(24)
	require.NoError(t, err)
	require.Len(t, got, 2, "Expected only samples inside the window")
	assert.Equal(t, now-60, got[0].Timestamp, "Expected ascending order")
	assert.Equal(t, now, got[1].Timestamp)
}

func TestRollingAverageNoData(t *testing.T) {
	s := newTestStore(t)

	avg, err := s.RollingAverage(10)
	require.NoError(t, err)
	assert.Nil(t, avg, "Expected nil average for an empty window, not zero")
}

func TestRollingAverage(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().Unix()
	for i, draw := range []float64{10.0, 20.0, 30.0} {
		require.NoError(t, s.InsertSample(&store.MetricSample{
			Timestamp:         now - int64(i)*30,
			PowerDrawEstimate: draw,
		}))
	}
	// Outside the window; must not skew the mean
	require.NoError(t, s.InsertSample(&store.MetricSample{
		Timestamp:         now - 3600,
		PowerDrawEstimate: 900.0,
	}))

	avg, err := s.RollingAverage(10)
	require.NoError(t, err)
	require.NotNil(t, avg)
	assert.InDelta(t, 20.0, *avg, 0.001)
}

func TestEventRoundTrip(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().Unix()
	event := &store.HighPowerEvent{
		Timestamp:         now - 300,
		DurationSeconds:   180,
		PrimaryCause:      "HIGH_CPU",
		ProcessesInvolved: "firefox, make",
		AvgPowerDraw:      20.0,
	}
	require.NoError(t, s.InsertEvent(event))

	got, err := s.EventsInRange(1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, now-300, got[0].Timestamp)
	assert.Equal(t, int64(180), got[0].DurationSeconds)
	assert.Equal(t, "HIGH_CPU", got[0].PrimaryCause)
	assert.Equal(t, "firefox, make", got[0].ProcessesInvolved)
	assert.InDelta(t, 20.0, got[0].AvgPowerDraw, 0.001)
}

func TestInsertEventNil(t *testing.T) {
	s := newTestStore(t)

	assert.Error(t, s.InsertEvent(nil))
}

func TestPruneOlderThanIdempotent(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().Unix()
	old := now - 40*24*3600
	require.NoError(t, s.InsertSample(&store.MetricSample{Timestamp: old}))
	require.NoError(t, s.InsertEvent(&store.HighPowerEvent{Timestamp: old, PrimaryCause: "UNKNOWN"}))
	require.NoError(t, s.InsertSample(&store.MetricSample{Timestamp: now}))

	deleted, err := s.PruneOlderThan(30)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted, "Expected the old sample and event removed")

	deleted, err = s.PruneOlderThan(30)
	require.NoError(t, err)
	assert.Zero(t, deleted, "Expected second prune to remove nothing")

	got, err := s.Latest(10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, now, got[0].Timestamp, "Expected the recent sample to survive")
}

func TestPruneToSizeUnderBudget(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.InsertSample(&store.MetricSample{Timestamp: time.Now().Unix()}))

	deleted, err := s.PruneToSize(100)
	require.NoError(t, err)
	assert.Zero(t, deleted, "Expected no prune while under the size budget")
}

func TestStats(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.SampleCount)
	assert.Zero(t, stats.EventCount)
	assert.Nil(t, stats.OldestTimestamp)
	assert.Nil(t, stats.NewestTimestamp)

	now := time.Now().Unix()
	require.NoError(t, s.InsertSample(&store.MetricSample{Timestamp: now - 60}))
	require.NoError(t, s.InsertSample(&store.MetricSample{Timestamp: now}))
	require.NoError(t, s.InsertEvent(&store.HighPowerEvent{Timestamp: now, PrimaryCause: "UNKNOWN"}))

	stats, err = s.Stats()
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.SampleCount)
	assert.Equal(t, int64(1), stats.EventCount)
	require.NotNil(t, stats.OldestTimestamp)
	assert.Equal(t, now-60, *stats.OldestTimestamp)
	require.NotNil(t, stats.NewestTimestamp)
	assert.Equal(t, now, *stats.NewestTimestamp)
	assert.Greater(t, stats.StorageSizeMB, 0.0)
}
