// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package proc_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antimetal/pidusage/pkg/proc"
)

func writeUptime(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "uptime"), []byte(content), 0644))
	return dir
}

func TestUptime(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		expected float64
		wantErr  bool
	}{
		{name: "valid", content: "1234.56 5678.90\n", expected: 1234.56},
		{name: "extra whitespace", content: "   42.00    7.00  ", expected: 42},
		{name: "single field", content: "10.5", expected: 10.5},
		{name: "empty", content: "", wantErr: true},
		{name: "not a number", content: "abc 1.0", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeUptime(t, tt.content)

			uptime, err := proc.Uptime(dir)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, uptime)
		})
	}
}

func TestUptime_MissingFile(t *testing.T) {
	_, err := proc.Uptime(t.TempDir())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestUptime_MultiplePaths(t *testing.T) {
	_, err := proc.Uptime("/proc", "/another/proc")
	assert.Error(t, err, "Uptime should fail with multiple paths")
}
