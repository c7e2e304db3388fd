// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package usage_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antimetal/pidusage/pkg/proc"
	"github.com/antimetal/pidusage/pkg/usage"
)

// fakeSource returns queued samples (or errors) per PID.
type fakeSource struct {
	kind usage.SourceKind

	mu      sync.Mutex
	queue   map[int][]any
	reads   atomic.Int32
	fixed   usage.RawSample
	fixedOK bool
}

func newFakeSource(kind usage.SourceKind) *fakeSource {
	return &fakeSource{kind: kind, queue: make(map[int][]any)}
}

func (f *fakeSource) push(pid int, v any) *fakeSource {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue[pid] = append(f.queue[pid], v)
	return f
}

func (f *fakeSource) Kind() usage.SourceKind { return f.kind }

func (f *fakeSource) Read(_ context.Context, pid int) (usage.RawSample, error) {
	f.reads.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fixedOK {
		return f.fixed, nil
	}
	q := f.queue[pid]
	if len(q) == 0 {
		return nil, fmt.Errorf("%w: pid %d", usage.ErrNotFound, pid)
	}
	f.queue[pid] = q[1:]
	switch v := q[0].(type) {
	case error:
		return nil, v
	case usage.RawSample:
		return v, nil
	default:
		panic(fmt.Sprintf("unexpected queued value %T", v))
	}
}

func staticConstants(mc proc.MachineConstants) *proc.Constants {
	return proc.NewConstants(func(context.Context) (proc.MachineConstants, error) {
		return mc, nil
	})
}

func TestSampler_KernelRoundTrip(t *testing.T) {
	const pid = 4242
	src := newFakeSource(usage.SourceKindProcFS).
		push(pid, usage.KernelSample{UserTicks: 100, SystemTicks: 50, StartTicks: 500, Uptime: 100, ResidentPages: 10}).
		push(pid, usage.KernelSample{UserTicks: 300, SystemTicks: 150, StartTicks: 500, Uptime: 102, ResidentPages: 12})

	sampler := usage.NewSampler(src,
		usage.WithLogger(testr.New(t)),
		usage.WithConstants(staticConstants(linuxConstants)),
	)

	first, err := sampler.Sample(context.Background(), pid, usage.Options{})
	require.NoError(t, err)
	assert.False(t, math.IsNaN(first.CPU) || math.IsInf(first.CPU, 0))
	assert.GreaterOrEqual(t, first.CPU, 0.0)
	assert.Equal(t, 10*4096.0, first.Memory)
	assert.Equal(t, 1, sampler.History().Len())

	second, err := sampler.Sample(context.Background(), pid, usage.Options{})
	require.NoError(t, err)
	assert.Equal(t, 150.0, second.CPU)
	assert.Equal(t, 12*4096.0, second.Memory)
}

func TestSampler_MissingProcess(t *testing.T) {
	src := newFakeSource(usage.SourceKindProcFS)
	sampler := usage.NewSampler(src, usage.WithConstants(staticConstants(linuxConstants)))

	_, err := sampler.Sample(context.Background(), 999999, usage.Options{})
	assert.ErrorIs(t, err, usage.ErrNotFound)

	_, ok := sampler.History().Get(999999)
	assert.False(t, ok, "a failed sample must not create history")
	assert.Equal(t, 0, sampler.History().Len())
}

func TestSampler_FailedSampleKeepsHistory(t *testing.T) {
	const pid = 7
	good := usage.KernelSample{UserTicks: 100, SystemTicks: 100, Uptime: 50}
	src := newFakeSource(usage.SourceKindProcFS).
		push(pid, good).
		push(pid, fmt.Errorf("%w: stat truncated", usage.ErrParse)).
		push(pid, usage.KernelSample{UserTicks: 200, SystemTicks: 100, Uptime: 51})

	sampler := usage.NewSampler(src, usage.WithConstants(staticConstants(linuxConstants)))

	_, err := sampler.Sample(context.Background(), pid, usage.Options{})
	require.NoError(t, err)

	_, err = sampler.Sample(context.Background(), pid, usage.Options{})
	require.ErrorIs(t, err, usage.ErrParse)

	entry, ok := sampler.History().Get(pid)
	require.True(t, ok)
	assert.Equal(t, good, entry.Sample)

	// The next good sample is measured against the last good one.
	result, err := sampler.Sample(context.Background(), pid, usage.Options{})
	require.NoError(t, err)
	assert.Equal(t, 100.0, result.CPU)
}

func TestSampler_ConstantsUnavailable(t *testing.T) {
	var attempts atomic.Int32
	constants := proc.NewConstants(func(context.Context) (proc.MachineConstants, error) {
		if attempts.Add(1) == 1 {
			return proc.MachineConstants{}, errors.New("sysconf failed")
		}
		return linuxConstants, nil
	})

	src := newFakeSource(usage.SourceKindProcFS).
		push(1, usage.KernelSample{UserTicks: 1, Uptime: 10})
	sampler := usage.NewSampler(src, usage.WithConstants(constants))

	_, err := sampler.Sample(context.Background(), 1, usage.Options{})
	require.ErrorIs(t, err, usage.ErrConstantsUnavailable)
	assert.Contains(t, err.Error(), "sysconf failed")
	assert.Equal(t, int32(0), src.reads.Load(), "source must not be read without constants")

	// The next call retries the acquisition.
	_, err = sampler.Sample(context.Background(), 1, usage.Options{})
	require.NoError(t, err)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestSampler_CommandSourcesSkipConstants(t *testing.T) {
	var attempts atomic.Int32
	constants := proc.NewConstants(func(context.Context) (proc.MachineConstants, error) {
		attempts.Add(1)
		return proc.MachineConstants{}, errors.New("not available here")
	})

	src := newFakeSource(usage.SourceKindProcessTable).
		push(3, usage.ProcessTableSample{CPUPercent: 12.3, ResidentKB: 4096})
	sampler := usage.NewSampler(src, usage.WithConstants(constants))

	result, err := sampler.Sample(context.Background(), 3, usage.Options{})
	require.NoError(t, err)
	assert.Equal(t, usage.Result{CPU: 12.3, Memory: 4194304}, result)
	assert.Equal(t, int32(0), attempts.Load())
}

func TestSampler_ConstantsFollowSampleKind(t *testing.T) {
	var attempts atomic.Int32
	constants := proc.NewConstants(func(context.Context) (proc.MachineConstants, error) {
		attempts.Add(1)
		return linuxConstants, nil
	})

	// A wrapper source that reports a command kind but yields kernel samples.
	const pid = 11
	src := newFakeSource(usage.SourceKindProcessTable).
		push(pid, usage.KernelSample{UserTicks: 100, SystemTicks: 50, Uptime: 100, ResidentPages: 10}).
		push(pid, usage.KernelSample{UserTicks: 300, SystemTicks: 150, Uptime: 102, ResidentPages: 12})
	sampler := usage.NewSampler(src, usage.WithConstants(constants))

	_, err := sampler.Sample(context.Background(), pid, usage.Options{})
	require.NoError(t, err)

	result, err := sampler.Sample(context.Background(), pid, usage.Options{})
	require.NoError(t, err)
	assert.Equal(t, 150.0, result.CPU)
	assert.Equal(t, 12*4096.0, result.Memory)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestSampler_ConstantsUnavailableAfterRead(t *testing.T) {
	constants := proc.NewConstants(func(context.Context) (proc.MachineConstants, error) {
		return proc.MachineConstants{}, errors.New("sysconf failed")
	})

	src := newFakeSource(usage.SourceKindProcessTable).
		push(2, usage.KernelSample{UserTicks: 1, Uptime: 10})
	sampler := usage.NewSampler(src, usage.WithConstants(constants))

	_, err := sampler.Sample(context.Background(), 2, usage.Options{})
	require.ErrorIs(t, err, usage.ErrConstantsUnavailable)
	assert.Equal(t, 0, sampler.History().Len())
}

func TestSampler_PerfCounterHistory(t *testing.T) {
	const pid = 1234
	src := newFakeSource(usage.SourceKindPerfCounter).
		push(pid, usage.PerfCounterSample{CPUTime: 100, Timestamp: 400, WorkingSet: 8192}).
		push(pid, usage.PerfCounterSample{CPUTime: 100, Timestamp: 800, WorkingSet: 8192}).
		push(pid, usage.PerfCounterSample{CPUTime: 300, Timestamp: 800, WorkingSet: 4096})

	sampler := usage.NewSampler(src)

	first, err := sampler.Sample(context.Background(), pid, usage.Options{})
	require.NoError(t, err)
	assert.Equal(t, usage.Result{CPU: 25, Memory: 8192}, first)

	idle, err := sampler.Sample(context.Background(), pid, usage.Options{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, idle.CPU)

	stalled, err := sampler.Sample(context.Background(), pid, usage.Options{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, stalled.CPU)
	assert.Equal(t, 4096.0, stalled.Memory)
}

func TestSampler_IndependentPIDs(t *testing.T) {
	const numPIDs = 50
	src := newFakeSource(usage.SourceKindProcFS)
	for pid := 1; pid <= numPIDs; pid++ {
		src.push(pid, usage.KernelSample{UserTicks: 0, SystemTicks: 0, Uptime: 10})
		src.push(pid, usage.KernelSample{UserTicks: uint64(pid), SystemTicks: 0, Uptime: 11})
	}
	sampler := usage.NewSampler(src, usage.WithConstants(staticConstants(linuxConstants)))

	var wg sync.WaitGroup
	results := make([]usage.Result, numPIDs+1)
	for pid := 1; pid <= numPIDs; pid++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			_, err := sampler.Sample(context.Background(), pid, usage.Options{})
			assert.NoError(t, err)
			results[pid], err = sampler.Sample(context.Background(), pid, usage.Options{})
			assert.NoError(t, err)
		}(pid)
	}
	wg.Wait()

	assert.Equal(t, numPIDs, sampler.History().Len())
	for pid := 1; pid <= numPIDs; pid++ {
		assert.InDelta(t, float64(pid), results[pid].CPU, 1e-9, "pid %d", pid)
	}
}

func TestSampler_Forget(t *testing.T) {
	src := newFakeSource(usage.SourceKindProcFS)
	src.fixed, src.fixedOK = usage.KernelSample{UserTicks: 10, Uptime: 10}, true
	sampler := usage.NewSampler(src, usage.WithConstants(staticConstants(linuxConstants)))

	_, err := sampler.Sample(context.Background(), 5, usage.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, sampler.History().Len())

	sampler.Forget(5)
	assert.Equal(t, 0, sampler.History().Len())
	assert.Same(t, src, sampler.Source())
}

func TestSampler_SharedHistory(t *testing.T) {
	history := usage.NewHistory()
	src := newFakeSource(usage.SourceKindProcessTable).
		push(1, usage.ProcessTableSample{CPUPercent: 1, ResidentKB: 1})

	a := usage.NewSampler(src, usage.WithHistory(history))
	b := usage.NewSampler(src)

	_, err := a.Sample(context.Background(), 1, usage.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, history.Len())
	assert.Equal(t, 0, b.History().Len(), "samplers without a shared store are isolated")
}
