// Package ranges writes the rewritten .debug_ranges table and collects the
// per-unit output ranges used by .debug_aranges and .gdb_index.
package ranges

import (
	"encoding/binary"
	"sync"

	"github.com/blacktop/go-dwarfrewrite/types"
)

// EmptyRangesOffset is the offset of the empty list every table starts with.
const EmptyRangesOffset = 0

const entrySize = 16 // two 8-byte addresses

// Cache maps the byte identity of a range list to the offset it was written
// at. It is owned by a single caller and is not safe for concurrent use.
type Cache map[string]uint64

// Writer is an append-only DWARF 4 range list table. It is safe for
// concurrent use.
type Writer struct {
	mu  sync.Mutex
	buf []byte
}

// NewWriter returns a table that already holds the empty list at offset 0.
func NewWriter() *Writer {
	w := &Writer{}
	w.buf = appendList(w.buf, nil)
	return w
}

func appendList(buf []byte, rl types.RangeList) []byte {
	var tmp [entrySize]byte
	for _, r := range rl {
		binary.LittleEndian.PutUint64(tmp[0:], r.Low)
		binary.LittleEndian.PutUint64(tmp[8:], r.High)
		buf = append(buf, tmp[:]...)
	}
	// end of list
	return append(buf, make([]byte, entrySize)...)
}

// AddRanges appends rl and returns its offset.
func (w *Writer) AddRanges(rl types.RangeList) uint64 {
	if len(rl) == 0 {
		return EmptyRangesOffset
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	off := uint64(len(w.buf))
	w.buf = appendList(w.buf, rl)
	return off
}

// AddRangesCached appends rl unless a byte-identical list was already
// written through the same cache, in which case that offset is reused.
func (w *Writer) AddRangesCached(rl types.RangeList, cache Cache) uint64 {
	if len(rl) == 0 {
		return EmptyRangesOffset
	}
	key := rl.Key()
	if off, ok := cache[key]; ok {
		return off
	}
	off := w.AddRanges(rl)
	cache[key] = off
	return off
}

// AddEmptyList appends a new empty list and returns its offset. Units whose
// range offsets are relative to a base past offset 0 need their own copy.
func (w *Writer) AddEmptyList() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	off := uint64(len(w.buf))
	w.buf = appendList(w.buf, nil)
	return off
}

// EmptyRangesOffset returns the offset of the empty list.
func (w *Writer) EmptyRangesOffset() uint64 {
	return EmptyRangesOffset
}

// SectionOffset returns the current size of the table, i.e. the offset the
// next list will be written at.
func (w *Writer) SectionOffset() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return uint64(len(w.buf))
}

// Finalize returns a copy of the table bytes.
func (w *Writer) Finalize() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.buf...)
}
