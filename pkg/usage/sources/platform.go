// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package sources implements usage.Source for Linux procfs, the ps utility
// and Windows performance counters.
package sources

import (
	"fmt"
	"runtime"

	"github.com/go-logr/logr"

	"github.com/antimetal/pidusage/pkg/usage"
)

// Config selects and configures a Source.
type Config struct {
	// GOOS is the target operating system. Defaults to runtime.GOOS.
	GOOS string
	// ProcPath is the /proc mount (e.g. /host/proc in containers).
	ProcPath string
	// PSPath and WMICPath override the tool locations.
	PSPath   string
	WMICPath string
	// Runner executes ps and wmic. Defaults to ExecRunner.
	Runner Runner
}

// KindForPlatform returns the source kind for goos, or false when the
// platform has no supported primitive.
func KindForPlatform(goos string) (usage.SourceKind, bool) {
	switch goos {
	case "linux", "android":
		return usage.SourceKindProcFS, true
	case "darwin", "freebsd", "openbsd", "netbsd", "dragonfly", "solaris", "illumos", "aix":
		return usage.SourceKindProcessTable, true
	case "windows":
		return usage.SourceKindPerfCounter, true
	default:
		return "", false
	}
}

// ForPlatform returns the Source matching cfg.GOOS.
func ForPlatform(logger logr.Logger, cfg Config) (usage.Source, error) {
	if cfg.GOOS == "" {
		cfg.GOOS = runtime.GOOS
	}
	kind, ok := KindForPlatform(cfg.GOOS)
	if !ok {
		return nil, fmt.Errorf("unsupported platform %q", cfg.GOOS)
	}
	return New(kind, logger, cfg)
}

// New returns the Source of the given kind.
func New(kind usage.SourceKind, logger logr.Logger, cfg Config) (usage.Source, error) {
	if cfg.GOOS == "" {
		cfg.GOOS = runtime.GOOS
	}
	if cfg.ProcPath == "" {
		cfg.ProcPath = "/proc"
	}

	switch kind {
	case usage.SourceKindProcFS:
		return NewProcFS(logger, cfg.ProcPath)
	case usage.SourceKindProcessTable:
		return NewProcessTable(logger, cfg.Runner, cfg.PSPath, cfg.GOOS), nil
	case usage.SourceKindPerfCounter:
		return NewPerfCounter(logger, cfg.Runner, cfg.WMICPath), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", kind)
	}
}
