// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sources

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
)

// CommandOutput is the fully buffered result of an external command.
type CommandOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner runs an external command to completion.
//
// Implementations must buffer both output streams completely before
// returning. A non-nil error is returned when the command could not be started,
// was cancelled or exited with a non-zero code.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (CommandOutput, error)
}

// ExecRunner runs commands with os/exec. Cancellation and timeouts come from ctx.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (CommandOutput, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Run copies both pipes to EOF before waiting on the process.
	err := cmd.Run()

	out := CommandOutput{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
		} else {
			out.ExitCode = -1
		}
		return out, err
	}
	return out, nil
}
