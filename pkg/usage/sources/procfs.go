// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sources

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-logr/logr"

	"github.com/antimetal/pidusage/pkg/proc"
	"github.com/antimetal/pidusage/pkg/usage"
)

// Compile-time interface check
var _ usage.Source = (*ProcFS)(nil)

// Field positions in /proc/[pid]/stat, counted from the first field after the
// command name (state is 0).
// Reference: https://man7.org/linux/man-pages/man5/proc_pid_stat.5.html
const (
	statFieldUtime     = 11
	statFieldStime     = 12
	statFieldCutime    = 13
	statFieldCstime    = 14
	statFieldStartTime = 19
	statFieldRSS       = 21
)

// ProcFS reads process accounting from /proc/[pid]/stat and the system uptime
// from /proc/uptime.
type ProcFS struct {
	procPath   string
	logger     logr.Logger
	hostUptime func(ctx context.Context) (float64, error)
}

func NewProcFS(logger logr.Logger, procPath string) (*ProcFS, error) {
	if !filepath.IsAbs(procPath) {
		return nil, fmt.Errorf("procPath must be an absolute path, got: %q", procPath)
	}

	return &ProcFS{
		procPath:   procPath,
		logger:     logger.WithName("procfs"),
		hostUptime: proc.HostUptime,
	}, nil
}

func (p *ProcFS) Kind() usage.SourceKind {
	return usage.SourceKindProcFS
}

// Read returns a usage.KernelSample for pid.
//
// Error handling strategy:
// - missing /proc/[pid]/stat is usage.ErrNotFound (the process exited)
// - malformed stat lines are usage.ErrParse
// - any other read failure is usage.ErrIO
// - /proc/uptime is optional, the OS uptime is used when it is unreadable
func (p *ProcFS) Read(ctx context.Context, pid int) (usage.RawSample, error) {
	statPath := filepath.Join(p.procPath, strconv.Itoa(pid), "stat")
	statData, err := os.ReadFile(statPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ESRCH) {
			return nil, fmt.Errorf("%w: pid %d: %w", usage.ErrNotFound, pid, err)
		}
		return nil, fmt.Errorf("%w: %s: %w", usage.ErrIO, statPath, err)
	}

	sample, err := parseStat(string(statData))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", usage.ErrParse, statPath, err)
	}

	sample.Uptime, err = p.uptime(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", usage.ErrIO, err)
	}
	return sample, nil
}

func (p *ProcFS) uptime(ctx context.Context) (float64, error) {
	uptime, err := proc.Uptime(p.procPath)
	if err == nil {
		return uptime, nil
	}

	p.logger.V(1).Info("falling back to host uptime", "error", err.Error())
	uptime, hostErr := p.hostUptime(ctx)
	if hostErr != nil {
		return 0, errors.Join(err, hostErr)
	}
	return uptime, nil
}

// parseStat extracts the CPU and memory fields of a /proc/[pid]/stat line.
// The command name may contain spaces and parentheses, so fields are counted
// from the last ')'.
func parseStat(statData string) (usage.KernelSample, error) {
	lastParen := strings.LastIndex(statData, ")")
	if lastParen == -1 {
		return usage.KernelSample{}, errors.New("no closing parenthesis")
	}

	fields := strings.Fields(statData[lastParen+1:])
	if len(fields) <= statFieldRSS {
		return usage.KernelSample{}, fmt.Errorf("insufficient fields: got %d, need %d", len(fields), statFieldRSS+1)
	}

	var (
		sample usage.KernelSample
		err    error
	)
	targets := []struct {
		index int
		name  string
		dst   *uint64
	}{
		{statFieldUtime, "utime", &sample.UserTicks},
		{statFieldStime, "stime", &sample.SystemTicks},
		{statFieldCutime, "cutime", &sample.ChildUserTicks},
		{statFieldCstime, "cstime", &sample.ChildSystemTicks},
		{statFieldStartTime, "starttime", &sample.StartTicks},
		{statFieldRSS, "rss", &sample.ResidentPages},
	}
	for _, target := range targets {
		if *target.dst, err = parseCounter(fields[target.index]); err != nil {
			return usage.KernelSample{}, fmt.Errorf("failed to parse %s: %w", target.name, err)
		}
	}
	return sample, nil
}

// parseCounter parses a non-negative counter. cutime, cstime and rss are
// signed in the kernel; a negative value is clamped to zero.
func parseCounter(field string) (uint64, error) {
	v, err := strconv.ParseInt(field, 10, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, nil
	}
	return uint64(v), nil
}
