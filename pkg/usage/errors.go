// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package usage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound means the process, or its accounting record, does not exist.
	ErrNotFound = errors.New("process not found")
	// ErrParse means the accounting record or tool output had an unexpected shape.
	ErrParse = errors.New("unexpected process accounting format")
	// ErrIO means the accounting record could not be read.
	ErrIO = errors.New("failed to read process accounting")
	// ErrCommand means an external tool failed. The concrete error is a *CommandError.
	ErrCommand = errors.New("command failed")
	// ErrConstantsUnavailable means the clock tick rate or page size could not be determined.
	ErrConstantsUnavailable = errors.New("machine constants unavailable")
)

// CommandError describes a failed external tool invocation.
type CommandError struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "command %q exited with code %d", strings.Join(e.Args, " "), e.ExitCode)
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	if e.Stderr != "" {
		fmt.Fprintf(&b, "; stderr: %s", e.Stderr)
	} else {
		b.WriteString("; no stderr")
	}
	if e.Stdout != "" {
		fmt.Fprintf(&b, "; stdout: %s", e.Stdout)
	}
	return b.String()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrCommand) match any *CommandError.
func (e *CommandError) Is(target error) bool {
	return target == ErrCommand
}
