// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd || solaris

package proc

import (
	"context"
	"fmt"

	"github.com/tklauser/go-sysconf"
	"golang.org/x/sys/unix"
)

// SystemConstants reads USER_HZ via sysconf(_SC_CLK_TCK) and the page size of
// the running system.
func SystemConstants(_ context.Context) (MachineConstants, error) {
	clkTck, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil {
		return MachineConstants{}, fmt.Errorf("failed to read SC_CLK_TCK: %w", err)
	}

	return MachineConstants{
		ClockTicks: float64(clkTck),
		PageSize:   float64(unix.Getpagesize()),
	}, nil
}
