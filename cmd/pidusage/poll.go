// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/antimetal/pidusage/internal/config"
	"github.com/antimetal/pidusage/pkg/usage"
)

// record is one line of output.
type record struct {
	PID       int       `json:"pid"`
	CPU       float64   `json:"cpu"`
	Memory    float64   `json:"memory"`
	Timestamp time.Time `json:"timestamp"`
}

// poller samples a set of processes concurrently and writes one JSON record
// per successful sample.
type poller struct {
	sampler *usage.Sampler
	logger  logr.Logger
	cfg     atomic.Pointer[config.Config]
	now     func() time.Time

	mu  sync.Mutex
	enc *json.Encoder
}

func newPoller(sampler *usage.Sampler, out io.Writer, cfg config.Config, logger logr.Logger) *poller {
	p := &poller{
		sampler: sampler,
		logger:  logger,
		now:     time.Now,
		enc:     json.NewEncoder(out),
	}
	p.cfg.Store(&cfg)
	return p
}

// Reconfigure replaces the interval, timeout and sample options used from
// the next round on. The round count is fixed at start.
func (p *poller) Reconfigure(cfg config.Config) {
	p.cfg.Store(&cfg)
}

// Run polls every PID until ctx is done or each PID completed its rounds.
// Sampling errors are logged and do not affect other PIDs.
func (p *poller) Run(ctx context.Context, pids []int) error {
	rounds := p.cfg.Load().Count

	g, gCtx := errgroup.WithContext(ctx)
	for _, pid := range pids {
		g.Go(func() error {
			return p.poll(gCtx, pid, rounds)
		})
	}
	return g.Wait()
}

func (p *poller) poll(ctx context.Context, pid, rounds int) error {
	logger := p.logger.WithValues("pid", pid)
	defer p.sampler.Forget(pid)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for round := 0; rounds == 0 || round < rounds; round++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		cfg := p.cfg.Load()
		timer.Reset(cfg.Interval)

		result, err := p.sample(ctx, pid, cfg)
		switch {
		case errors.Is(err, usage.ErrNotFound):
			logger.Info("process not found, stopping")
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			logger.Error(err, "failed to sample process")
			continue
		}

		if err := p.emit(record{PID: pid, CPU: result.CPU, Memory: result.Memory, Timestamp: p.now()}); err != nil {
			return fmt.Errorf("failed to write sample: %w", err)
		}
	}
	return nil
}

func (p *poller) sample(ctx context.Context, pid int, cfg *config.Config) (usage.Result, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	return p.sampler.Sample(ctx, pid, cfg.Options())
}

func (p *poller) emit(r record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enc.Encode(r)
}
