// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// Package config loads the pidusage runtime configuration.
//
// Values are resolved in this order, later sources winning:
//
//  1. built-in defaults (see Default)
//  2. the YAML file passed to Load, if any
//  3. a .env file in the working directory
//  4. the process environment
//
// The result is validated before it is returned.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/antimetal/pidusage/pkg/usage"
)

const (
	// SourceAuto selects the source from the running platform.
	SourceAuto = "auto"

	DefaultInterval = time.Second
	DefaultTimeout  = 5 * time.Second
	DefaultProcPath = "/proc"
)

// Environment variables read by Load.
const (
	EnvHostProc        = "HOST_PROC"
	EnvSource          = "PIDUSAGE_SOURCE"
	EnvPSPath          = "PIDUSAGE_PS_PATH"
	EnvWMICPath        = "PIDUSAGE_WMIC_PATH"
	EnvIncludeChildren = "PIDUSAGE_INCLUDE_CHILDREN"
	EnvInterval        = "PIDUSAGE_INTERVAL"
)

// DotEnvFile is loaded from the working directory when present.
var DotEnvFile = ".env"

// Config controls how processes are sampled.
type Config struct {
	// Source is one of auto, procfs, ps or wmic.
	Source string `yaml:"source" validate:"required,oneof=auto procfs ps wmic"`
	// HostProcPath is the procfs mount, e.g. /host/proc inside a container.
	HostProcPath string `yaml:"hostProcPath" validate:"required,abspath"`
	PSPath       string `yaml:"psPath"`
	WMICPath     string `yaml:"wmicPath"`

	IncludeChildren bool `yaml:"includeChildren"`

	// Interval between two samples of the same process.
	Interval time.Duration `yaml:"interval" validate:"min=10ms"`
	// Count is the number of sampling rounds. Zero samples until interrupted.
	Count int `yaml:"count" validate:"min=0"`
	// Timeout bounds a single sample, including external commands. Zero disables it.
	Timeout time.Duration `yaml:"timeout" validate:"min=0s"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Source:       SourceAuto,
		HostProcPath: DefaultProcPath,
		Interval:     DefaultInterval,
		Timeout:      DefaultTimeout,
	}
}

// SourceKind returns the explicitly configured source kind, or false when
// the source is chosen from the platform.
func (c Config) SourceKind() (usage.SourceKind, bool) {
	if c.Source == "" || c.Source == SourceAuto {
		return "", false
	}
	return usage.SourceKind(c.Source), true
}

// Options returns the per-sample options of c.
func (c Config) Options() usage.Options {
	return usage.Options{IncludeChildren: c.IncludeChildren}
}

// Load resolves the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	dotenv, err := godotenv.Read(DotEnvFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load %s: %w", DotEnvFile, err)
	}
	if err := applyEnv(&cfg, envLookup(dotenv)); err != nil {
		return Config{}, err
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if len(data) == 0 {
		return fmt.Errorf("config file %s is empty", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to unmarshal config file %s: %w", path, err)
	}
	return nil
}

// envLookup prefers the process environment over values from the .env file.
func envLookup(dotenv map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvHostProc); ok && v != "" {
		cfg.HostProcPath = v
	}
	if v, ok := lookup(EnvSource); ok && v != "" {
		cfg.Source = v
	}
	if v, ok := lookup(EnvPSPath); ok && v != "" {
		cfg.PSPath = v
	}
	if v, ok := lookup(EnvWMICPath); ok && v != "" {
		cfg.WMICPath = v
	}
	if v, ok := lookup(EnvIncludeChildren); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvIncludeChildren, err)
		}
		cfg.IncludeChildren = b
	}
	if v, ok := lookup(EnvInterval); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvInterval, err)
		}
		cfg.Interval = d
	}
	return nil
}
