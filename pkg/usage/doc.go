// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package usage samples the CPU and resident memory of a single process.
//
// CPU utilization is a rate, so most platforms need two readings of the
// process's cumulative CPU counters. The Sampler keeps the last reading of
// every PID it has seen and hands it to the Engine together with the new one.
// The very first procfs sample of a PID has no baseline. It is computed
// against zero over the lifetime of the process and is typically lower than
// the subsequent samples.
//
// Counters are read by a Source; see package sources for the procfs, ps and
// wmic implementations.
package usage
