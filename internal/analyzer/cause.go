package analyzer

import "codeberg.org/mutker/powermon/internal/store"

// Cause tags the category of activity behind elevated power draw.
type Cause string

const (
	CauseHighCPU           Cause = "HIGH_CPU"
	CauseHighDiskIO        Cause = "HIGH_DISK_IO"
	CauseHighNetwork       Cause = "HIGH_NETWORK"
	CauseMultipleProcesses Cause = "MULTIPLE_PROCESSES"
	CauseUnknown           Cause = "UNKNOWN"
)

// Detection thresholds. Draw rates are percent per hour, I/O rates MB/s.
const (
	cpuHighThreshold          = 50.0
	cpuSingleProcessThreshold = 25.0
	diskIOThreshold           = 50.0
	networkIOThreshold        = 10.0
	multipleProcessCPUMin     = 10.0
)

func (c Cause) String() string {
	return string(c)
}

// triggered reports whether the cause's predicate holds for the sample.
func (c Cause) triggered(m *store.MetricSample) bool {
	switch c {
	case CauseHighCPU:
		return m.CPUPercent > cpuHighThreshold || topProcessCPU(m) > cpuSingleProcessThreshold
	case CauseHighDiskIO:
		return m.DiskReadMB+m.DiskWriteMB > diskIOThreshold
	case CauseHighNetwork:
		return m.NetworkSentMB+m.NetworkRecvMB > networkIOThreshold
	case CauseMultipleProcesses:
		// Moderate aggregate load with no single dominant process
		return m.CPUPercent > multipleProcessCPUMin &&
			m.CPUPercent < cpuHighThreshold &&
			topProcessCPU(m) < cpuSingleProcessThreshold
	default:
		return false
	}
}

// score ranks a triggered cause by how far past its threshold the sample is.
func (c Cause) score(m *store.MetricSample) float64 {
	switch c {
	case CauseHighCPU:
		total := max(0, m.CPUPercent-cpuHighThreshold)
		process := max(0, topProcessCPU(m)-cpuSingleProcessThreshold) * 2
		return total + process
	case CauseHighDiskIO:
		return max(0, m.DiskReadMB+m.DiskWriteMB-diskIOThreshold)
	case CauseHighNetwork:
		return max(0, m.NetworkSentMB+m.NetworkRecvMB-networkIOThreshold) * 2
	case CauseMultipleProcesses:
		return m.CPUPercent * 0.5
	default:
		return 0
	}
}

func topProcessCPU(m *store.MetricSample) float64 {
	if m.TopProcessCPU == nil {
		return 0
	}

	return *m.TopProcessCPU
}
