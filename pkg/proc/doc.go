// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package proc provides machine-wide values needed to turn kernel process
// accounting into wall-clock units.
//
// The clock tick rate and page size are read once and reused for the rest of
// the program lifecycle. System uptime is read on every call. Functions that
// touch the /proc filesystem accept an optional /proc path for testing or
// containerized environments.
//
// Example usage:
//
//	// Get USER_HZ and the page size, cached after the first success
//	mc, err := proc.DefaultConstants().Get(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	// Get system uptime in seconds
//	uptime, err := proc.Uptime()
//	if err != nil {
//		uptime, err = proc.HostUptime(ctx)
//	}
//
//	// Use custom /proc path (useful in containers)
//	uptime, err = proc.Uptime("/host/proc")
package proc
