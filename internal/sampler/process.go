package sampler

import (
	"sort"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"codeberg.org/mutker/powermon/internal/errors"
)

// procSampleDelay is how long the OS gets to accumulate a CPU time delta
// between the priming and measuring passes.
const procSampleDelay = 100 * time.Millisecond

// ProcessInfo is one process ranked by its CPU share.
type ProcessInfo struct {
	PID        int32
	Name       string
	CPUPercent float64
}

// TopProcesses returns the n highest-CPU processes. Processes are measured
// in two passes over the same handles: a priming pass that starts CPU
// accounting, a bounded delay, then the measuring pass. Processes that
// vanish or deny access between passes are skipped.
func (s *Sampler) TopProcesses(n int) ([]ProcessInfo, error) {
	return s.topProcesses(n, nil)
}

// topProcesses never touches the sampler's own state, so it needs no lock;
// a nil stop channel simply never fires in the select.
func (s *Sampler) topProcesses(n int, stop <-chan struct{}) ([]ProcessInfo, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, errors.New().Wrap(ErrProcessScan, err)
	}

	for _, p := range procs {
		// Priming call; the next Percent call on the same handle measures
		// against this baseline.
		p.Percent(0) //nolint:errcheck
	}

	timer := time.NewTimer(procSampleDelay)
	select {
	case <-timer.C:
	case <-stop:
		timer.Stop()
		return nil, nil
	}

	results := make([]ProcessInfo, 0, n)
	for _, p := range procs {
		pct, err := p.Percent(0)
		if err != nil || pct <= 0 {
			continue
		}

		name, err := p.Name()
		if err != nil {
			continue
		}

		results = append(results, ProcessInfo{PID: p.Pid, Name: name, CPUPercent: pct})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CPUPercent > results[j].CPUPercent
	})

	if len(results) > n {
		results = results[:n]
	}

	return results, nil
}
