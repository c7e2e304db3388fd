// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package proc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/host"
)

const defaultProcPath = "/proc"

// Uptime returns the system uptime in seconds from /proc/uptime.
// An optional /proc path may be given; more than one is an error.
func Uptime(procPath ...string) (float64, error) {
	root, err := resolveProcPath(procPath)
	if err != nil {
		return 0, err
	}

	uptimePath := filepath.Join(root, "uptime")
	data, err := os.ReadFile(uptimePath)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", uptimePath, err)
	}

	// Format: uptime_seconds idle_seconds
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0, fmt.Errorf("unexpected format in %s: %q", uptimePath, string(data))
	}

	uptime, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse uptime from %s: %w", uptimePath, err)
	}
	return uptime, nil
}

// HostUptime returns the system uptime in seconds as reported by the OS,
// independent of /proc. It is coarser than Uptime (whole seconds).
func HostUptime(ctx context.Context) (float64, error) {
	uptime, err := host.UptimeWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read host uptime: %w", err)
	}
	return float64(uptime), nil
}

func resolveProcPath(procPath []string) (string, error) {
	switch len(procPath) {
	case 0:
		return defaultProcPath, nil
	case 1:
		if procPath[0] == "" {
			return defaultProcPath, nil
		}
		return procPath[0], nil
	default:
		return "", errors.New("at most one proc path may be given")
	}
}
