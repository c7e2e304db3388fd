// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package usage

import (
	"fmt"
	"math"

	"github.com/go-logr/logr"

	"github.com/antimetal/pidusage/pkg/proc"
)

// minElapsedSeconds replaces an elapsed time of exactly zero.
const minElapsedSeconds = 0.1

// Engine turns raw samples into normalized usage. It holds no state; the
// previous sample is passed in and the next history entry is returned.
type Engine struct {
	logger logr.Logger
}

func NewEngine(logger logr.Logger) *Engine {
	return &Engine{logger: logger.WithName("engine")}
}

// Compute calculates the usage for sample given the previous entry for the
// same PID (nil when there is none). The returned entry replaces the previous
// one in the history store.
func (e *Engine) Compute(
	sample RawSample,
	prev *HistoryEntry,
	mc proc.MachineConstants,
	opts Options,
) (Result, HistoryEntry, error) {
	switch s := sample.(type) {
	case KernelSample:
		return e.computeKernel(s, prev, mc, opts)
	case ProcessTableSample:
		return Result{
			CPU:    s.CPUPercent,
			Memory: s.ResidentKB * 1024,
		}, HistoryEntry{Sample: s}, nil
	case PerfCounterSample:
		return e.computePerfCounter(s, prev)
	default:
		return Result{}, HistoryEntry{}, fmt.Errorf("unsupported sample type %T", sample)
	}
}

// computeKernel derives CPU% from the clock ticks spent since the previous
// sample. Without a previous sample the baseline is zero and the elapsed time
// is the time since the process started.
func (e *Engine) computeKernel(
	cur KernelSample,
	prev *HistoryEntry,
	mc proc.MachineConstants,
	opts Options,
) (Result, HistoryEntry, error) {
	if mc.ClockTicks <= 0 {
		return Result{}, HistoryEntry{}, fmt.Errorf("%w: clock ticks %v", ErrConstantsUnavailable, mc.ClockTicks)
	}

	var last KernelSample
	hasHistory := false
	if prev != nil {
		last, hasHistory = prev.Sample.(KernelSample)
	}

	user, userReset := counterDelta(cur.UserTicks, last.UserTicks)
	system, systemReset := counterDelta(cur.SystemTicks, last.SystemTicks)
	if userReset || systemReset {
		e.logger.V(1).Info("CPU tick counter went backwards, assuming PID reuse",
			"utime", cur.UserTicks, "prevUtime", last.UserTicks,
			"stime", cur.SystemTicks, "prevStime", last.SystemTicks)
	}

	ticks := float64(user + system)
	if opts.IncludeChildren {
		ticks += float64(cur.ChildUserTicks + cur.ChildSystemTicks)
	}
	cpuSeconds := ticks / mc.ClockTicks

	var seconds float64
	if hasHistory {
		seconds = math.Abs(cur.Uptime - prev.Uptime)
	} else {
		seconds = math.Abs(float64(cur.StartTicks)/mc.ClockTicks - cur.Uptime)
	}
	if seconds == 0 {
		seconds = minElapsedSeconds
	}

	result := Result{
		CPU:    finite(cpuSeconds / seconds * 100),
		Memory: float64(cur.ResidentPages) * mc.PageSize,
	}
	return result, HistoryEntry{Sample: cur, Seconds: seconds, Uptime: cur.Uptime}, nil
}

// computePerfCounter derives CPU% from the ratio of processor time to wall
// time, both cumulative 100ns counters. Both formulas use the complement form.
func (e *Engine) computePerfCounter(cur PerfCounterSample, prev *HistoryEntry) (Result, HistoryEntry, error) {
	var last PerfCounterSample
	hasHistory := false
	if prev != nil {
		last, hasHistory = prev.Sample.(PerfCounterSample)
	}

	// No wall time elapsed since the previous sample.
	if hasHistory && cur.Timestamp == last.Timestamp {
		return Result{CPU: 0, Memory: cur.WorkingSet}, HistoryEntry{Sample: cur}, nil
	}

	if hasHistory && (cur.CPUTime < last.CPUTime || cur.Timestamp < last.Timestamp) {
		e.logger.V(1).Info("performance counter went backwards, using cumulative values",
			"cpuTime", cur.CPUTime, "prevCpuTime", last.CPUTime,
			"timestamp", cur.Timestamp, "prevTimestamp", last.Timestamp)
		hasHistory = false
	}

	var cpu float64
	if hasHistory {
		cpu = 100 - (100 * (1 - (cur.CPUTime-last.CPUTime)/(cur.Timestamp-last.Timestamp)))
	} else if cur.Timestamp != 0 {
		cpu = 100 - (100 * (1 - cur.CPUTime/cur.Timestamp))
	}

	return Result{
		CPU:    finite(cpu),
		Memory: cur.WorkingSet,
	}, HistoryEntry{Sample: cur}, nil
}

// counterDelta returns current-previous for a monotonic counter. A counter
// that went backwards (process restart under the same PID, wraparound) yields
// a zero delta and reports the reset.
func counterDelta(current, previous uint64) (delta uint64, resetDetected bool) {
	if current < previous {
		return 0, true
	}
	return current - previous, false
}

// finite clamps NaN, infinities and negative values to zero.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}
