// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Command pidusage samples the CPU and memory usage of processes and prints
// one JSON object per sample.
//
// Usage:
//
//	pidusage [flags] PID...
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/antimetal/pidusage/internal/config"
	"github.com/antimetal/pidusage/pkg/usage"
	"github.com/antimetal/pidusage/pkg/usage/sources"
)

var (
	configPath      string
	source          string
	includeChildren bool
	interval        time.Duration
	count           int
	timeout         time.Duration
	verbose         bool
)

func init() {
	flag.StringVar(&configPath, "config", "", "Path to a YAML config file, reloaded on change")
	flag.StringVar(&source, "source", config.SourceAuto, "Counter source: auto, procfs, ps or wmic")
	flag.BoolVar(&includeChildren, "include-children", false, "Add the CPU time of reaped children (procfs only)")
	flag.DurationVar(&interval, "interval", config.DefaultInterval, "Time between samples of the same process")
	flag.IntVar(&count, "count", 0, "Number of samples per process (0 samples until interrupted)")
	flag.DurationVar(&timeout, "timeout", config.DefaultTimeout, "Deadline for a single sample (0 disables it)")
	flag.BoolVar(&verbose, "verbose", false, "Enable verbose logging")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] PID...\n\nFlags:\n", os.Args[0])
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()

	logger, flush, err := newLogger(verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer flush()
	setupLog := logger.WithName("setup")

	runID, err := newRunID()
	if err != nil {
		setupLog.Error(err, "failed to generate run ID")
		flush()
		os.Exit(1)
	}
	logger = logger.WithValues("run", runID)

	if err := run(logger); err != nil {
		setupLog.Error(err, "pidusage failed")
		flush()
		os.Exit(1)
	}
}

func run(logger logr.Logger) error {
	setupLog := logger.WithName("setup")

	pids, err := parsePIDs(flag.Args())
	if err != nil {
		flag.Usage()
		return err
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	src, err := newSource(cfg, logger.WithName("source"))
	if err != nil {
		return fmt.Errorf("unable to create counter source: %w", err)
	}
	setupLog.Info("sampling processes", "source", src.Kind(), "pids", pids, "interval", cfg.Interval)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sampler := usage.NewSampler(src, usage.WithLogger(logger))
	p := newPoller(sampler, os.Stdout, cfg, logger.WithName("poller"))

	if configPath != "" {
		watcher, err := config.NewFSWatcher(configPath, logger)
		if err != nil {
			return fmt.Errorf("unable to watch config file: %w", err)
		}
		defer func() {
			if err := watcher.Close(); err != nil {
				setupLog.Error(err, "failed to close config watcher")
			}
		}()
		go func() {
			for next := range watcher.Updates() {
				applyFlags(&next)
				if next.Source != cfg.Source || next.HostProcPath != cfg.HostProcPath {
					setupLog.Info("source changes take effect after a restart", "source", next.Source)
				}
				p.Reconfigure(next)
				setupLog.Info("config reloaded", "interval", next.Interval, "includeChildren", next.IncludeChildren)
			}
		}()
	}

	err = p.Run(ctx, pids)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// loadConfig resolves the config file and environment, then applies the flags
// set on the command line.
func loadConfig(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("unable to load config: %w", err)
	}
	applyFlags(&cfg)
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// applyFlags overrides cfg with the flags explicitly set on the command line.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "source":
			cfg.Source = source
		case "include-children":
			cfg.IncludeChildren = includeChildren
		case "interval":
			cfg.Interval = interval
		case "count":
			cfg.Count = count
		case "timeout":
			cfg.Timeout = timeout
		}
	})
}

func newSource(cfg config.Config, logger logr.Logger) (usage.Source, error) {
	srcCfg := sources.Config{
		ProcPath: cfg.HostProcPath,
		PSPath:   cfg.PSPath,
		WMICPath: cfg.WMICPath,
	}
	if kind, ok := cfg.SourceKind(); ok {
		return sources.New(kind, logger, srcCfg)
	}
	return sources.ForPlatform(logger, srcCfg)
}

func parsePIDs(args []string) ([]int, error) {
	if len(args) == 0 {
		return nil, errors.New("at least one PID is required")
	}
	pids := make([]int, 0, len(args))
	seen := make(map[int]struct{}, len(args))
	for _, arg := range args {
		pid, err := strconv.Atoi(arg)
		if err != nil || pid <= 0 {
			return nil, fmt.Errorf("invalid PID %q", arg)
		}
		if _, dup := seen[pid]; dup {
			continue
		}
		seen[pid] = struct{}{}
		pids = append(pids, pid)
	}
	return pids, nil
}

// newRunID returns a time-ordered ID that tags every log line of one
// invocation.
func newRunID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func newLogger(verbose bool) (logr.Logger, func(), error) {
	var zapCfg zap.Config
	if verbose {
		zapCfg = zap.NewDevelopmentConfig()
		// logr V(2) maps to zap level -2.
		zapCfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-2))
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	zapLog, err := zapCfg.Build()
	if err != nil {
		return logr.Discard(), func() {}, err
	}
	return zapr.NewLogger(zapLog), func() { _ = zapLog.Sync() }, nil
}
