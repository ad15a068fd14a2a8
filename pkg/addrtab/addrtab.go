// Package addrtab rebuilds the .debug_addr tables referenced by split units.
package addrtab

import (
	"encoding/binary"
	"sort"
	"sync"
)

const addrSize = 8

type table struct {
	original    []uint64
	indexToAddr map[uint32]uint64
	addrToIndex map[uint64]uint32
	next        uint32
}

func newTable() *table {
	return &table{
		indexToAddr: make(map[uint32]uint64),
		addrToIndex: make(map[uint64]uint32),
	}
}

func (t *table) set(addr uint64, index uint32) {
	if old, ok := t.indexToAddr[index]; ok && old != addr && t.addrToIndex[old] == index {
		delete(t.addrToIndex, old)
	}
	t.indexToAddr[index] = addr
	if _, ok := t.addrToIndex[addr]; !ok {
		t.addrToIndex[addr] = index
	}
	if index >= t.next {
		t.next = index + 1
	}
}

func (t *table) size() uint32 {
	if n := uint32(len(t.original)); n > t.next {
		return n
	}
	return t.next
}

// Writer maps (address, index) pairs per split unit id. An index, once
// assigned, is never dropped or renumbered. It is safe for concurrent use.
type Writer struct {
	mu      sync.Mutex
	tables  map[uint64]*table
	offsets map[uint64]uint64
}

// NewWriter returns an empty writer.
func NewWriter() *Writer {
	return &Writer{
		tables:  make(map[uint64]*table),
		offsets: make(map[uint64]uint64),
	}
}

func (w *Writer) table(dwoID uint64) *table {
	t, ok := w.tables[dwoID]
	if !ok {
		t = newTable()
		w.tables[dwoID] = t
	}
	return t
}

// Seed records the original address table of a split unit. Indices that
// are never updated keep these addresses.
func (w *Writer) Seed(dwoID uint64, original []uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.table(dwoID).original = append([]uint64(nil), original...)
}

// AddIndexAddress stores addr at index for the split unit dwoID.
func (w *Writer) AddIndexAddress(addr uint64, index uint32, dwoID uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.table(dwoID).set(addr, index)
}

// IndexFromAddress returns the index already assigned to addr, allocating
// a new one past the end of the table when addr was never assigned.
// Original indices are not reused: an entry still referencing one may move
// it later.
func (w *Writer) IndexFromAddress(addr uint64, dwoID uint64) uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	t := w.table(dwoID)
	if idx, ok := t.addrToIndex[addr]; ok {
		return idx
	}
	idx := t.size()
	t.set(addr, idx)
	return idx
}

// Address returns the address currently stored at index.
func (w *Writer) Address(index uint32, dwoID uint64) (uint64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.tables[dwoID]
	if !ok {
		return 0, false
	}
	if addr, ok := t.indexToAddr[index]; ok {
		return addr, true
	}
	if int(index) < len(t.original) {
		return t.original[index], true
	}
	return 0, false
}

// Initialized reports whether any split unit registered a table.
func (w *Writer) Initialized() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.tables) > 0
}

// Finalize lays out every table in split unit id order and returns the
// section bytes. Offsets are available from Offset afterwards.
func (w *Writer) Finalize() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()

	ids := make([]uint64, 0, len(w.tables))
	for id := range w.tables {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []byte
	var tmp [addrSize]byte
	for _, id := range ids {
		t := w.tables[id]
		w.offsets[id] = uint64(len(out))
		for i := uint32(0); i < t.size(); i++ {
			addr, ok := t.indexToAddr[i]
			if !ok && int(i) < len(t.original) {
				addr = t.original[i]
			}
			binary.LittleEndian.PutUint64(tmp[:], addr)
			out = append(out, tmp[:]...)
		}
	}
	return out
}

// Offset returns the section offset of the table of dwoID after Finalize.
func (w *Writer) Offset(dwoID uint64) (uint64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	off, ok := w.offsets[dwoID]
	return off, ok
}
