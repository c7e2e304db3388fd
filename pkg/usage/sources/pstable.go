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
	"strconv"
	"strings"

	"github.com/go-logr/logr"

	"github.com/antimetal/pidusage/pkg/usage"
)

var _ usage.Source = (*ProcessTable)(nil)

const defaultPSPath = "ps"

// ProcessTable reads the CPU percentage and resident size reported by ps.
// ps already computes a rate, so its samples need no history.
type ProcessTable struct {
	path   string
	goos   string
	runner Runner
	logger logr.Logger
}

// NewProcessTable returns a source running the ps binary at path (looked up in
// PATH when empty) with the column names of the target goos.
func NewProcessTable(logger logr.Logger, runner Runner, path, goos string) *ProcessTable {
	if path == "" {
		path = defaultPSPath
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	return &ProcessTable{
		path:   path,
		goos:   goos,
		runner: runner,
		logger: logger.WithName("ps"),
	}
}

func (t *ProcessTable) Kind() usage.SourceKind {
	return usage.SourceKindProcessTable
}

func (t *ProcessTable) args(pid int) []string {
	columns := "pcpu,rss"
	if t.goos == "aix" {
		columns = "pcpu,rssize"
	}
	return []string{"-o", columns, "-p", strconv.Itoa(pid)}
}

func (t *ProcessTable) Read(ctx context.Context, pid int) (usage.RawSample, error) {
	args := t.args(pid)
	out, err := t.runner.Run(ctx, t.path, args...)
	if err != nil || out.ExitCode != 0 {
		if err == nil {
			err = fmt.Errorf("exit status %d", out.ExitCode)
		}
		t.logger.V(1).Info("ps failed", "pid", pid, "exitCode", out.ExitCode, "stderr", strings.TrimSpace(out.Stderr))
		return nil, &usage.CommandError{
			Args:     append([]string{t.path}, args...),
			ExitCode: out.ExitCode,
			Stdout:   strings.TrimSpace(out.Stdout),
			Stderr:   strings.TrimSpace(out.Stderr),
			Err:      err,
		}
	}

	sample, err := parseProcessTable(out.Stdout)
	if err != nil {
		t.logger.V(1).Info("unexpected ps output", "pid", pid, "stdout", out.Stdout)
		return nil, fmt.Errorf("%w: pid %d: %w", usage.ErrParse, pid, err)
	}
	return sample, nil
}

// parseProcessTable parses ps output: a header line followed by
// "<pcpu> <rss>". Some locales print the percentage with a decimal comma.
func parseProcessTable(stdout string) (usage.ProcessTableSample, error) {
	lines := strings.Split(strings.ReplaceAll(stdout, "\r\n", "\n"), "\n")
	if len(lines) < 2 {
		return usage.ProcessTableSample{}, errors.New("missing process row")
	}

	values := strings.Fields(lines[1])
	if len(values) < 2 {
		return usage.ProcessTableSample{}, fmt.Errorf("expected 2 columns, got %q", lines[1])
	}

	cpu, err := parseLocaleFloat(values[0])
	if err != nil {
		return usage.ProcessTableSample{}, fmt.Errorf("failed to parse pcpu: %w", err)
	}
	rss, err := parseLocaleFloat(values[1])
	if err != nil {
		return usage.ProcessTableSample{}, fmt.Errorf("failed to parse rss: %w", err)
	}

	return usage.ProcessTableSample{CPUPercent: cpu, ResidentKB: rss}, nil
}

func parseLocaleFloat(s string) (float64, error) {
	return strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
}
