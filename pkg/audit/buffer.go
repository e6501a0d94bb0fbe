// SPDX-FileCopyrightText: 2024 Deutsche Telekom AG
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"sync"
)

// buffer is the bounded local entry buffer shared by all Trail handles.
// Appends evict the oldest entry once capacity is reached (FIFO).
type buffer struct {
	mu      sync.Mutex
	entries []*Entry
	max     int
}

func newBuffer(max int) *buffer {
	if max <= 0 {
		max = 1000
	}
	return &buffer{
		entries: make([]*Entry, 0, max),
		max:     max,
	}
}

func (b *buffer) Append(e *Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.entries) >= b.max {
		// Shift instead of reslicing so the backing array is reused and
		// evicted entries become collectable.
		copy(b.entries, b.entries[1:])
		b.entries[len(b.entries)-1] = e
		return
	}
	b.entries = append(b.entries, e)
}

// Snapshot returns the buffered entries in append order.
func (b *buffer) Snapshot() []*Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]*Entry, len(b.entries))
	copy(out, b.entries)
	return out
}

func (b *buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
