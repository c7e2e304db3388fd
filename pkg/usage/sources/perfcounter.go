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
	"regexp"
	"strconv"
	"strings"

	"github.com/go-logr/logr"

	"github.com/antimetal/pidusage/pkg/usage"
)

var _ usage.Source = (*PerfCounter)(nil)

const defaultWMICPath = "wmic"

// wmic terminates lines with "\r\r\n".
var wmicLineSplit = regexp.MustCompile(`\r*\n`)

// PerfCounter reads raw process performance counters through wmic.
// Reference: https://learn.microsoft.com/en-us/previous-versions/aa394323(v=vs.85)
type PerfCounter struct {
	path   string
	runner Runner
	logger logr.Logger
}

func NewPerfCounter(logger logr.Logger, runner Runner, path string) *PerfCounter {
	if path == "" {
		path = defaultWMICPath
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &PerfCounter{
		path:   path,
		runner: runner,
		logger: logger.WithName("wmic"),
	}
}

func (c *PerfCounter) Kind() usage.SourceKind {
	return usage.SourceKindPerfCounter
}

func (c *PerfCounter) args(pid int) []string {
	return []string{
		"path", "Win32_PerfRawData_PerfProc_Process",
		"WHERE", "IDProcess=" + strconv.Itoa(pid),
		"get", "PercentProcessorTime,", "TimeStamp_Sys100NS,", "WorkingSet",
	}
}

func (c *PerfCounter) Read(ctx context.Context, pid int) (usage.RawSample, error) {
	args := c.args(pid)
	out, err := c.runner.Run(ctx, c.path, args...)
	stdout := strings.TrimSpace(out.Stdout)
	stderr := strings.TrimSpace(out.Stderr)

	if err != nil || out.ExitCode != 0 || stdout == "" {
		if err == nil {
			if out.ExitCode != 0 {
				err = fmt.Errorf("exit status %d", out.ExitCode)
			} else {
				err = errors.New("empty output")
			}
		}
		c.logger.V(1).Info("wmic failed", "pid", pid, "exitCode", out.ExitCode, "stderr", stderr)
		return nil, &usage.CommandError{
			Args:     append([]string{c.path}, args...),
			ExitCode: out.ExitCode,
			Stdout:   stdout,
			Stderr:   stderr,
			Err:      err,
		}
	}

	sample, err := parsePerfCounter(stdout)
	if err != nil {
		return nil, fmt.Errorf("%w: pid %d: %w", usage.ErrParse, pid, err)
	}
	return sample, nil
}

// parsePerfCounter parses the trimmed wmic output: a header line followed by
// "<PercentProcessorTime> <TimeStamp_Sys100NS> <WorkingSet>".
func parsePerfCounter(stdout string) (usage.PerfCounterSample, error) {
	lines := wmicLineSplit.Split(stdout, -1)
	if len(lines) < 2 {
		return usage.PerfCounterSample{}, errors.New("missing process row")
	}

	values := strings.Fields(lines[1])
	if len(values) < 3 {
		return usage.PerfCounterSample{}, fmt.Errorf("expected 3 columns, got %q", lines[1])
	}

	var (
		sample usage.PerfCounterSample
		err    error
	)
	if sample.CPUTime, err = strconv.ParseFloat(values[0], 64); err != nil {
		return usage.PerfCounterSample{}, fmt.Errorf("failed to parse PercentProcessorTime: %w", err)
	}
	if sample.Timestamp, err = strconv.ParseFloat(values[1], 64); err != nil {
		return usage.PerfCounterSample{}, fmt.Errorf("failed to parse TimeStamp_Sys100NS: %w", err)
	}
	if sample.WorkingSet, err = strconv.ParseFloat(values[2], 64); err != nil {
		return usage.PerfCounterSample{}, fmt.Errorf("failed to parse WorkingSet: %w", err)
	}
	return sample, nil
}
