package sampler

import (
	"time"

	"github.com/distatus/battery"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"

	"codeberg.org/mutker/powermon/internal/logger"
	"codeberg.org/mutker/powermon/internal/store"
)

const bytesPerMB = 1024 * 1024

// ioCounters is the cumulative byte baseline used for rate derivation.
type ioCounters struct {
	diskRead  uint64
	diskWrite uint64
	netSent   uint64
	netRecv   uint64
}

// collect produces one MetricSample. Each collector failure degrades to an
// absent field; collect itself never fails. A non-nil stop channel lets the
// loop abandon the process scan mid-wait.
func (s *Sampler) collect(now time.Time, stop <-chan struct{}) *store.MetricSample {
	sample := &store.MetricSample{Timestamp: now.Unix()}

	s.collectBattery(sample)
	s.collectCPU(sample)
	s.collectMemory(sample)
	s.collectIORates(sample, now)
	s.collectTopProcess(sample, stop)
	s.estimateDraw(sample, now)

	s.prevSample = sample
	s.prevTime = now

	return sample
}

// collectBattery reads the battery sensor. A machine without a battery is
// not an error; the fields simply stay nil.
func (s *Sampler) collectBattery(sample *store.MetricSample) {
	batteries, err := battery.GetAll()
	if err != nil {
		if _, partial := err.(battery.Errors); !partial {
			logger.Debug().Err(err).Msg("Battery read failed")
			return
		}
	}

	for _, b := range batteries {
		if b == nil || b.Full == 0 {
			continue
		}

		percent := b.Current / b.Full * 100
		plugged := b.State.Raw != battery.Discharging

		sample.BatteryPercent = &percent
		sample.PowerPlugged = &plugged

		return
	}
}

// collectCPU reads total CPU percent non-blocking, using the interval since
// the previous call rather than a busy wait.
func (s *Sampler) collectCPU(sample *store.MetricSample) {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		logger.Warn().Err(err).Msg("CPU read failed")
		return
	}

	sample.CPUPercent = percents[0]
}

func (s *Sampler) collectMemory(sample *store.MetricSample) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		logger.Warn().Err(err).Msg("Memory read failed")
		return
	}

	sample.MemoryPercent = vm.UsedPercent
}

// collectIORates derives MB/s rates from the cumulative disk and network
// byte counters. Without a baseline, or with non-positive elapsed time, the
// rates clamp to zero and only the baseline advances.
func (s *Sampler) collectIORates(sample *store.MetricSample, now time.Time) {
	current, ok := readIOCounters()
	if !ok {
		return
	}

	defer func() {
		s.lastIO = current
		s.lastIOTime = now
	}()

	if s.lastIO == nil {
		return
	}

	elapsed := now.Sub(s.lastIOTime).Seconds()
	if elapsed <= 0 {
		return
	}

	sample.DiskReadMB = counterRate(current.diskRead, s.lastIO.diskRead, elapsed)
	sample.DiskWriteMB = counterRate(current.diskWrite, s.lastIO.diskWrite, elapsed)
	sample.NetworkSentMB = counterRate(current.netSent, s.lastIO.netSent, elapsed)
	sample.NetworkRecvMB = counterRate(current.netRecv, s.lastIO.netRecv, elapsed)
}

// collectTopProcess records the single highest-CPU process, if any exceeds
// the negligible-usage floor.
func (s *Sampler) collectTopProcess(sample *store.MetricSample, stop <-chan struct{}) {
	procs, err := s.topProcesses(1, stop)
	if err != nil || len(procs) == 0 {
		return
	}

	sample.TopProcessName = &procs[0].Name
	sample.TopProcessCPU = &procs[0].CPUPercent
}

// estimateDraw computes battery percent lost per hour. Defined only when
// both this and the previous sample carry battery data and the machine is
// unplugged; otherwise exactly zero.
func (s *Sampler) estimateDraw(sample *store.MetricSample, now time.Time) {
	if sample.BatteryPercent == nil || sample.PowerPlugged == nil {
		return
	}
	if s.prevSample == nil || s.prevSample.BatteryPercent == nil {
		return
	}
	if *sample.PowerPlugged {
		return
	}

	// Wall clock, not tick count, so interval jitter cancels out
	hours := now.Sub(s.prevTime).Hours()
	if hours <= 0 {
		return
	}

	sample.PowerDrawEstimate = (*s.prevSample.BatteryPercent - *sample.BatteryPercent) / hours
}

func readIOCounters() (*ioCounters, bool) {
	counters := &ioCounters{}

	diskStats, err := disk.IOCounters()
	if err != nil {
		logger.Debug().Err(err).Msg("Disk counter read failed")
		return nil, false
	}
	for _, d := range diskStats {
		counters.diskRead += d.ReadBytes
		counters.diskWrite += d.WriteBytes
	}

	netStats, err := net.IOCounters(false)
	if err != nil || len(netStats) == 0 {
		logger.Debug().Err(err).Msg("Network counter read failed")
		return nil, false
	}
	counters.netSent = netStats[0].BytesSent
	counters.netRecv = netStats[0].BytesRecv

	return counters, true
}

func counterRate(current, previous uint64, elapsed float64) float64 {
	if current < previous {
		// Counter reset (e.g. interface went away)
		return 0
	}

	return float64(current-previous) / elapsed / bytesPerMB
}
