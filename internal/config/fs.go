// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
)

// DefaultWatchRetryTimeout bounds how long FSWatcher keeps trying to watch a
// config directory that does not exist yet.
const DefaultWatchRetryTimeout = 10 * time.Second

// FSWatcher reloads a config file whenever it changes on disk and publishes
// every successfully loaded Config on Updates. Invalid revisions are logged
// and skipped so the last good configuration stays in effect.
//
// If the directory holding the file is removed, the watch is re-established
// once the directory comes back and the file is reloaded.
type FSWatcher struct {
	path         string
	dir          string
	retryTimeout time.Duration
	watcher      *fsnotify.Watcher
	logger       logr.Logger
	updates      chan Config

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

type FSWatcherOption func(*FSWatcher)

// WithRetryTimeout sets how long to keep retrying a watch on a missing
// directory. Non-positive values disable retries.
func WithRetryTimeout(d time.Duration) FSWatcherOption {
	return func(fw *FSWatcher) {
		fw.retryTimeout = d
	}
}

// NewFSWatcher starts watching path. The parent directory is watched rather
// than the file itself so editors that replace the file by renaming are seen.
func NewFSWatcher(path string, logger logr.Logger, opts ...FSWatcherOption) (*FSWatcher, error) {
	fsLogger := logger.WithName("config.watcher.fs")

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	fw := &FSWatcher{
		path:         abs,
		dir:          filepath.Dir(abs),
		retryTimeout: DefaultWatchRetryTimeout,
		watcher:      watcher,
		logger:       fsLogger,
		updates:      make(chan Config, 1),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(fw)
	}

	if err := fw.addWatch(); err != nil {
		cancel()
		if cerr := watcher.Close(); cerr != nil {
			fsLogger.Error(cerr, "failed to close fs watcher")
		}
		return nil, fmt.Errorf("failed to add watch: %w", err)
	}
	fsLogger.V(1).Info("watching config file", "path", abs)

	fw.wg.Add(1)
	go fw.processEvents()

	return fw, nil
}

// Updates delivers reloaded configurations. Only the latest pending
// configuration is kept when the consumer falls behind. The channel is
// closed by Close.
func (fw *FSWatcher) Updates() <-chan Config {
	return fw.updates
}

func (fw *FSWatcher) Close() error {
	var err error
	fw.once.Do(func() {
		fw.cancel()
		close(fw.done)
		fw.wg.Wait()
		close(fw.updates)
		err = fw.watcher.Close()
	})
	return err
}

// addWatch adds the watch on the config directory, retrying with exponential
// backoff while the directory does not exist.
func (fw *FSWatcher) addWatch() error {
	if fw.retryTimeout <= 0 {
		return fw.watcher.Add(fw.dir)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second

	_, err := backoff.Retry(fw.ctx, func() (struct{}, error) {
		err := fw.watcher.Add(fw.dir)
		if err == nil {
			return struct{}{}, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return struct{}{}, backoff.Permanent(err)
		}
		fw.logger.V(1).Info("config directory not present yet", "dir", fw.dir)
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(fw.retryTimeout))
	return err
}

func (fw *FSWatcher) processEvents() {
	defer fw.wg.Done()
	for {
		select {
		case <-fw.done:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.Error(err, "filesystem watcher error")
		}
	}
}

func (fw *FSWatcher) handleEvent(event fsnotify.Event) {
	name := filepath.Clean(event.Name)
	if name == fw.dir && event.Has(fsnotify.Remove) {
		fw.rewatch()
		return
	}
	if name != fw.path {
		return
	}

	fw.logger.V(1).Info("received file event", "file", event.Name, "op", event.Op)

	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	fw.reload()
}

// rewatch restores the watch after the config directory was removed. Writes
// that landed before the watch was back are picked up by an explicit reload.
func (fw *FSWatcher) rewatch() {
	fw.logger.Info("config directory removed, waiting for it to reappear", "dir", fw.dir)

	if err := fw.addWatch(); err != nil {
		if fw.ctx.Err() != nil {
			return
		}
		fw.logger.Error(err, "giving up on config directory, reloads disabled", "dir", fw.dir)
		return
	}
	fw.logger.V(1).Info("config directory watched again", "dir", fw.dir)
	fw.reload()
}

func (fw *FSWatcher) reload() {
	cfg, err := Load(fw.path)
	if errors.Is(err, fs.ErrNotExist) {
		fw.logger.V(1).Info("config file not present", "path", fw.path)
		return
	}
	if err != nil {
		fw.logger.Error(err, "ignoring invalid config revision", "path", fw.path)
		return
	}
	fw.publish(cfg)
}

func (fw *FSWatcher) publish(cfg Config) {
	for {
		select {
		case fw.updates <- cfg:
			return
		default:
		}
		// Drop the stale pending value and retry.
		select {
		case <-fw.updates:
		default:
		}
	}
}
