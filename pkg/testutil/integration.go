// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package testutil provides utilities for testing, with a focus on integration test helpers.
package testutil

import (
	"os"
	"os/exec"
	"runtime"
	"slices"
	"testing"
	"time"
)

// RequireLinux skips the test if not running on Linux.
func RequireLinux(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("Test requires Linux")
	}
}

// RequireProcFS verifies that a procfs with per-process entries is mounted at /proc.
func RequireProcFS(t *testing.T) {
	t.Helper()
	RequireLinux(t)

	if _, err := os.Stat("/proc/self/stat"); err != nil {
		t.Skipf("Test requires /proc filesystem: %v", err)
	}
	if _, err := os.Stat("/proc/uptime"); err != nil {
		t.Skipf("Test requires /proc/uptime: %v", err)
	}
}

// RequireCommand skips the test if name cannot be found in PATH.
func RequireCommand(t *testing.T, name string) string {
	t.Helper()
	path, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("Test requires %s in PATH: %v", name, err)
	}
	return path
}

// RequireOS skips the test unless running on one of goos.
func RequireOS(t *testing.T, goos ...string) {
	t.Helper()
	if !slices.Contains(goos, runtime.GOOS) {
		t.Skipf("Test requires one of %v, running on %s", goos, runtime.GOOS)
	}
}

// BurnCPU keeps the calling goroutine busy for d. It is used to make a
// process accrue measurable CPU time between two samples.
func BurnCPU(d time.Duration) uint64 {
	var x uint64
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		for i := 0; i < 10000; i++ {
			x += uint64(i) * 2654435761
		}
	}
	return x
}
