// Package loclist serializes rewritten location lists, either with literal
// addresses (.debug_loc) or with address table indices (.debug_loc.dwo).
package loclist

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/blacktop/go-dwarfrewrite/types"
)

// EmptyListOffset is the offset of the empty list in a finished section.
const EmptyListOffset = 0

// Writer appends location lists and returns writer-relative offsets.
type Writer interface {
	// AddList appends ll. ok is false when ll is empty and nothing was written.
	AddList(ll types.LocationList) (off uint64, ok bool, err error)
	Finalize() []byte
}

// LocWriter writes DWARF 4 .debug_loc lists for one primary unit. The final
// section offset of a list is the writer's base plus the returned offset.
type LocWriter struct {
	mu  sync.Mutex
	buf []byte
}

// NewLocWriter returns an empty writer.
func NewLocWriter() *LocWriter {
	return &LocWriter{}
}

func appendExpr(buf []byte, expr []byte) ([]byte, error) {
	if len(expr) > math.MaxUint16 {
		return nil, fmt.Errorf("location expression too long (%d bytes)", len(expr))
	}
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(expr)))
	return append(buf, expr...), nil
}

func (w *LocWriter) AddList(ll types.LocationList) (uint64, bool, error) {
	if len(ll) == 0 {
		return EmptyListOffset, false, nil
	}
	var enc []byte
	var err error
	for _, e := range ll {
		enc = binary.LittleEndian.AppendUint64(enc, e.Low)
		enc = binary.LittleEndian.AppendUint64(enc, e.High)
		if enc, err = appendExpr(enc, e.Expr); err != nil {
			return 0, false, err
		}
	}
	enc = append(enc, make([]byte, 16)...)

	w.mu.Lock()
	defer w.mu.Unlock()
	off := uint64(len(w.buf))
	w.buf = append(w.buf, enc...)
	return off, true, nil
}

func (w *LocWriter) Finalize() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.buf...)
}

// AddressIndexer hands out .debug_addr indices for a split unit.
type AddressIndexer interface {
	IndexFromAddress(addr uint64, dwoID uint64) uint32
}

// SplitWriter writes GNU .debug_loc.dwo lists for one split unit. The
// section starts with an end-of-list entry so offset 0 is the empty list.
type SplitWriter struct {
	mu    sync.Mutex
	buf   []byte
	dwoID uint64
	addrs AddressIndexer
}

// NewSplitWriter returns a writer for the split unit dwoID.
func NewSplitWriter(dwoID uint64, addrs AddressIndexer) *SplitWriter {
	return &SplitWriter{
		buf:   []byte{types.DwoLLEEndOfList},
		dwoID: dwoID,
		addrs: addrs,
	}
}

// DWOID returns the split unit id the writer belongs to.
func (w *SplitWriter) DWOID() uint64 { return w.dwoID }

func (w *SplitWriter) AddList(ll types.LocationList) (uint64, bool, error) {
	if len(ll) == 0 {
		return EmptyListOffset, false, nil
	}
	var enc []byte
	var err error
	for _, e := range ll {
		length := e.High - e.Low
		if e.High < e.Low || length > math.MaxUint32 {
			return 0, false, fmt.Errorf("invalid location range [%#x, %#x)", e.Low, e.High)
		}
		enc = append(enc, types.DwoLLEStartLength)
		enc = types.AppendUleb128(enc, uint64(w.addrs.IndexFromAddress(e.Low, w.dwoID)))
		enc = binary.LittleEndian.AppendUint32(enc, uint32(length))
		if enc, err = appendExpr(enc, e.Expr); err != nil {
			return 0, false, err
		}
	}
	enc = append(enc, types.DwoLLEEndOfList)

	w.mu.Lock()
	defer w.mu.Unlock()
	off := uint64(len(w.buf))
	w.buf = append(w.buf, enc...)
	return off, true, nil
}

func (w *SplitWriter) Finalize() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.buf...)
}
