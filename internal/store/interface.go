package store

// MetricSample is one timestamped snapshot of system and power metrics.
// Samples are immutable once written and are only ever removed in bulk by
// the retention policies. Battery and top-process fields are nil when the
// machine has no battery sensor or no process exceeded the CPU floor.
type MetricSample struct {
	Timestamp         int64
	BatteryPercent    *float64
	PowerPlugged      *bool
	PowerDrawEstimate float64
	CPUPercent        float64
	MemoryPercent     float64
	DiskReadMB        float64
	DiskWriteMB       float64
	NetworkSentMB     float64
	NetworkRecvMB     float64
	TopProcessName    *string
	TopProcessCPU     *float64
}

// HighPowerEvent is a closed interval during which the draw rate was
// classified as high. Created once at episode end, append-only.
type HighPowerEvent struct {
	Timestamp         int64
	DurationSeconds   int64
	PrimaryCause      string
	ProcessesInvolved string
	AvgPowerDraw      float64
}

// Stats describes the current state of the database.
type Stats struct {
	SampleCount     int64
	EventCount      int64
	OldestTimestamp *int64
	NewestTimestamp *int64
	StorageSizeMB   float64
}
