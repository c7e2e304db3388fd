// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package usage

import "context"

// SourceKind identifies which platform primitive produced a sample.
type SourceKind string

const (
	// SourceKindProcFS reads /proc/[pid]/stat (Linux)
	SourceKindProcFS SourceKind = "procfs"
	// SourceKindProcessTable runs ps (macOS, BSDs, Solaris, AIX)
	SourceKindProcessTable SourceKind = "ps"
	// SourceKindPerfCounter queries Win32_PerfRawData_PerfProc_Process through wmic (Windows)
	SourceKindPerfCounter SourceKind = "wmic"
)

// Source acquires raw process accounting for a single process.
// Kind normally matches the Kind of the samples returned by Read.
type Source interface {
	Kind() SourceKind
	Read(ctx context.Context, pid int) (RawSample, error)
}

// RawSample is the raw accounting data read by a Source.
// It is one of KernelSample, ProcessTableSample or PerfCounterSample.
type RawSample interface {
	Kind() SourceKind
	isRawSample()
}

// KernelSample holds the fields of /proc/[pid]/stat needed for usage
// calculation, plus the system uptime at the time of the read.
type KernelSample struct {
	UserTicks        uint64 // utime (field 14 in stat)
	SystemTicks      uint64 // stime (field 15 in stat)
	ChildUserTicks   uint64 // cutime (field 16 in stat)
	ChildSystemTicks uint64 // cstime (field 17 in stat)
	StartTicks       uint64 // starttime, clock ticks after boot (field 22 in stat)
	ResidentPages    uint64 // rss in pages (field 24 in stat)
	Uptime           float64
}

// ProcessTableSample is a point-in-time reading from ps.
type ProcessTableSample struct {
	CPUPercent float64
	ResidentKB float64
}

// PerfCounterSample is a reading of raw Windows performance counters.
// CPUTime and Timestamp are cumulative, in 100ns units.
type PerfCounterSample struct {
	CPUTime    float64 // PercentProcessorTime
	Timestamp  float64 // TimeStamp_Sys100NS
	WorkingSet float64 // bytes
}

func (KernelSample) Kind() SourceKind       { return SourceKindProcFS }
func (ProcessTableSample) Kind() SourceKind { return SourceKindProcessTable }
func (PerfCounterSample) Kind() SourceKind  { return SourceKindPerfCounter }

func (KernelSample) isRawSample()       {}
func (ProcessTableSample) isRawSample() {}
func (PerfCounterSample) isRawSample()  {}

// Result is the normalized usage of a process.
type Result struct {
	// CPU is the CPU utilization in percent. Multi-threaded processes may exceed 100.
	CPU float64 `json:"cpu"`
	// Memory is the resident memory in bytes.
	Memory float64 `json:"memory"`
}

// Options tune a single Sample call.
type Options struct {
	// IncludeChildren adds the accumulated CPU time of waited-for children.
	// Only the procfs source reports it.
	IncludeChildren bool
}

// HistoryEntry is the last successful sample of a process together with the
// bookkeeping the next delta needs.
type HistoryEntry struct {
	Sample RawSample
	// Seconds is the elapsed time used for the last calculation.
	Seconds float64
	// Uptime is the system uptime at the last procfs sample.
	Uptime float64
}
