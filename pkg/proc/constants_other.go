// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

//go:build !(linux || darwin || dragonfly || freebsd || netbsd || openbsd || solaris)

package proc

import (
	"context"
	"fmt"
	"runtime"
)

// SystemConstants is unsupported where process accounting is not reported in
// clock ticks (Windows, AIX) or sysconf is unavailable.
func SystemConstants(_ context.Context) (MachineConstants, error) {
	return MachineConstants{}, fmt.Errorf("clock ticks are not available on %s", runtime.GOOS)
}
