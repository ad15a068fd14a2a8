// Package strtab appends new strings to a .debug_str section.
package strtab

import (
	"sync"
)

// Writer is an append-only string pool seeded with the original section
// contents. Offsets returned by AddString are final. It is safe for
// concurrent use.
type Writer struct {
	mu      sync.Mutex
	buf     []byte
	offsets map[string]uint32
	added   bool
}

// NewWriter returns a pool whose first bytes are original.
func NewWriter(original []byte) *Writer {
	return &Writer{
		buf:     append([]byte(nil), original...),
		offsets: make(map[string]uint32),
	}
}

// AddString returns the offset of s, appending it when it was not added before.
func (w *Writer) AddString(s string) uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	if off, ok := w.offsets[s]; ok {
		return off
	}
	off := uint32(len(w.buf))
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
	w.offsets[s] = off
	w.added = true
	return off
}

// Initialized reports whether any string was added.
func (w *Writer) Initialized() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.added
}

// Finalize returns a copy of the pool.
func (w *Writer) Finalize() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.buf...)
}
