// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package usage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"

	"github.com/antimetal/pidusage/pkg/proc"
)

// defaultLogger is used when no logger is passed to NewSampler. Only errors
// and V(0) messages reach stderr unless stdr.SetVerbosity is raised.
var defaultLogger = stdr.New(log.New(os.Stderr, "[usage] ", log.LstdFlags))

type Option func(*options)

type options struct {
	logger    logr.Logger
	constants *proc.Constants
	history   *History
}

// WithLogger sets the logger. Defaults to a standard library logger writing
// to stderr.
func WithLogger(logger logr.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithConstants overrides the machine constants cache. Defaults to proc.DefaultConstants().
func WithConstants(c *proc.Constants) Option {
	return func(o *options) {
		o.constants = c
	}
}

// WithHistory sets the history store. Defaults to a new, empty store.
func WithHistory(h *History) Option {
	return func(o *options) {
		o.history = h
	}
}

// Sampler samples the CPU and memory usage of processes through a Source and
// keeps the per-PID history needed for CPU deltas.
//
// Sampler is safe for concurrent use. Concurrent calls for the same PID race on
// the history and the last write wins; callers that need ordering per PID
// must serialize their own calls.
type Sampler struct {
	source    Source
	constants *proc.Constants
	history   *History
	engine    *Engine
	logger    logr.Logger
}

func NewSampler(source Source, opts ...Option) *Sampler {
	o := &options{
		logger: defaultLogger,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.constants == nil {
		o.constants = proc.DefaultConstants()
	}
	if o.history == nil {
		o.history = NewHistory()
	}

	logger := o.logger.WithName("sampler")
	return &Sampler{
		source:    source,
		constants: o.constants,
		history:   o.history,
		engine:    NewEngine(logger),
		logger:    logger,
	}
}

// Sample returns the current usage of pid. On error the history for pid is
// left untouched.
//
// Machine constants are acquired before reading a procfs source, and after
// the read for any source that returns a KernelSample.
func (s *Sampler) Sample(ctx context.Context, pid int, opts Options) (Result, error) {
	var (
		mc            proc.MachineConstants
		haveConstants bool
	)
	if s.source.Kind() == SourceKindProcFS {
		var err error
		if mc, err = s.machineConstants(ctx); err != nil {
			return Result{}, err
		}
		haveConstants = true
	}

	sample, err := s.source.Read(ctx, pid)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.logger.V(2).Info("process not found", "pid", pid)
		}
		return Result{}, err
	}

	if !haveConstants && sample.Kind() == SourceKindProcFS {
		if mc, err = s.machineConstants(ctx); err != nil {
			return Result{}, err
		}
	}

	var prev *HistoryEntry
	if entry, ok := s.history.Get(pid); ok {
		prev = &entry
	}

	result, next, err := s.engine.Compute(sample, prev, mc, opts)
	if err != nil {
		return Result{}, fmt.Errorf("failed to compute usage for pid %d: %w", pid, err)
	}
	s.history.Put(pid, next)

	s.logger.V(2).Info("sampled process", "pid", pid, "source", sample.Kind(),
		"cpu", result.CPU, "memory", result.Memory, "firstSample", prev == nil)
	return result, nil
}

func (s *Sampler) machineConstants(ctx context.Context) (proc.MachineConstants, error) {
	mc, err := s.constants.Get(ctx)
	if err != nil {
		return proc.MachineConstants{}, fmt.Errorf("%w: %w", ErrConstantsUnavailable, err)
	}
	return mc, nil
}

// Forget drops the history for pid. Callers that know a process has exited
// can use it so that a later process reusing the PID starts fresh.
func (s *Sampler) Forget(pid int) {
	s.history.Delete(pid)
}

func (s *Sampler) Source() Source {
	return s.source
}

func (s *Sampler) History() *History {
	return s.history
}
