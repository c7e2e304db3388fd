// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package proc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

// MachineConstants holds the per-machine conversion factors for process accounting.
type MachineConstants struct {
	// ClockTicks is USER_HZ, the number of clock ticks per second used in /proc/[pid]/stat.
	ClockTicks float64
	// PageSize is the size of a memory page in bytes.
	PageSize float64
}

// AcquireFunc reads the machine constants from the running system.
type AcquireFunc func(ctx context.Context) (MachineConstants, error)

// Constants caches MachineConstants after the first successful acquisition.
//
// Concurrent callers that arrive before the value is cached share a single
// acquisition. A failed acquisition is not cached, so the next call retries.
type Constants struct {
	acquire AcquireFunc
	value   atomic.Pointer[MachineConstants]
	group   singleflight.Group
}

// NewConstants returns a cache backed by acquire. A nil acquire reads the
// constants of the running system.
func NewConstants(acquire AcquireFunc) *Constants {
	if acquire == nil {
		acquire = SystemConstants
	}
	return &Constants{acquire: acquire}
}

var (
	defaultConstants     *Constants
	defaultConstantsOnce sync.Once
)

// DefaultConstants returns the process-wide cache for the running system.
func DefaultConstants() *Constants {
	defaultConstantsOnce.Do(func() {
		defaultConstants = NewConstants(nil)
	})
	return defaultConstants
}

// Get returns the cached constants, acquiring them on first use.
func (c *Constants) Get(ctx context.Context) (MachineConstants, error) {
	if mc := c.value.Load(); mc != nil {
		return *mc, nil
	}

	v, err, _ := c.group.Do("constants", func() (any, error) {
		// A racer may have stored the value while we waited for the group.
		if mc := c.value.Load(); mc != nil {
			return *mc, nil
		}

		mc, err := c.acquire(ctx)
		if err != nil {
			return MachineConstants{}, err
		}
		if mc.ClockTicks <= 0 || mc.PageSize <= 0 {
			return MachineConstants{}, fmt.Errorf("invalid machine constants: clock ticks %v, page size %v",
				mc.ClockTicks, mc.PageSize)
		}

		c.value.Store(&mc)
		return mc, nil
	})
	if err != nil {
		return MachineConstants{}, err
	}
	return v.(MachineConstants), nil
}

// Cached reports whether a value has been acquired.
func (c *Constants) Cached() bool {
	return c.value.Load() != nil
}
