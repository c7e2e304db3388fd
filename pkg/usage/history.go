// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package usage

import "sync"

// History maps a PID to its last successful sample.
// Entries are never expired; a reused PID inherits the stale entry.
type History struct {
	mu      sync.RWMutex
	entries map[int]HistoryEntry
}

func NewHistory() *History {
	return &History{entries: make(map[int]HistoryEntry)}
}

// Get returns a copy of the entry for pid.
func (h *History) Get(pid int) (HistoryEntry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	entry, ok := h.entries[pid]
	return entry, ok
}

// Put overwrites the entry for pid.
func (h *History) Put(pid int, entry HistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries[pid] = entry
}

// Delete drops the entry for pid, if any.
func (h *History) Delete(pid int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, pid)
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}
