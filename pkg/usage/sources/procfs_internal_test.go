// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package sources

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr/testr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antimetal/pidusage/pkg/usage"
)

const testStat = "42 (sleep) S 1 42 42 0 -1 4194560 100 0 0 0 11 22 33 44 20 0 1 0 5000 1000000 77 18446744073709551615\n"

func newTestProcFS(t *testing.T, uptime string) *ProcFS {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "42"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "42", "stat"), []byte(testStat), 0644))
	if uptime != "" {
		require.NoError(t, os.WriteFile(filepath.Join(root, "uptime"), []byte(uptime), 0644))
	}

	src, err := NewProcFS(testr.New(t), root)
	require.NoError(t, err)
	return src
}

func TestProcFS_UptimeFallback(t *testing.T) {
	t.Run("proc uptime preferred", func(t *testing.T) {
		src := newTestProcFS(t, "300.25 10.00")
		src.hostUptime = func(context.Context) (float64, error) {
			t.Fatal("host uptime must not be used when /proc/uptime is readable")
			return 0, nil
		}

		sample, err := src.Read(context.Background(), 42)
		require.NoError(t, err)
		assert.Equal(t, 300.25, sample.(usage.KernelSample).Uptime)
	})

	t.Run("missing proc uptime", func(t *testing.T) {
		src := newTestProcFS(t, "")
		src.hostUptime = func(context.Context) (float64, error) { return 900, nil }

		sample, err := src.Read(context.Background(), 42)
		require.NoError(t, err)
		assert.Equal(t, 900.0, sample.(usage.KernelSample).Uptime)
	})

	t.Run("unparsable proc uptime", func(t *testing.T) {
		src := newTestProcFS(t, "garbage")
		src.hostUptime = func(context.Context) (float64, error) { return 901, nil }

		sample, err := src.Read(context.Background(), 42)
		require.NoError(t, err)
		assert.Equal(t, 901.0, sample.(usage.KernelSample).Uptime)
	})

	t.Run("both unavailable", func(t *testing.T) {
		src := newTestProcFS(t, "")
		src.hostUptime = func(context.Context) (float64, error) { return 0, errors.New("no host info") }

		_, err := src.Read(context.Background(), 42)
		assert.ErrorIs(t, err, usage.ErrIO)
		assert.Contains(t, err.Error(), "no host info")
	})
}

func TestParseStat(t *testing.T) {
	sample, err := parseStat(testStat)
	require.NoError(t, err)
	assert.Equal(t, usage.KernelSample{
		UserTicks:        11,
		SystemTicks:      22,
		ChildUserTicks:   33,
		ChildSystemTicks: 44,
		StartTicks:       5000,
		ResidentPages:    77,
	}, sample)
}
