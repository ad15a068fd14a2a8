package ranges

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/blacktop/go-dwarfrewrite/types"
)

// UnitRanges is the final output range list of one primary unit.
type UnitRanges struct {
	Offset uint64
	Ranges types.RangeList
}

// ARanges collects the output ranges of every primary unit. It is safe for
// concurrent use.
type ARanges struct {
	mu    sync.Mutex
	units map[uint64]types.RangeList
}

// NewARanges returns an empty collector.
func NewARanges() *ARanges {
	return &ARanges{units: make(map[uint64]types.RangeList)}
}

// AddUnitRanges records the ranges of the unit at unitOffset in .debug_info.
func (a *ARanges) AddUnitRanges(unitOffset uint64, rl types.RangeList) {
	a.mu.Lock()
	a.units[unitOffset] = rl.Clone()
	a.mu.Unlock()
}

// UnitRanges returns every recorded unit sorted by unit offset.
func (a *ARanges) UnitRanges() []UnitRanges {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]UnitRanges, 0, len(a.units))
	for off, rl := range a.units {
		out = append(out, UnitRanges{Offset: off, Ranges: rl})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// NumRanges returns the total number of ranges over all units.
func (a *ARanges) NumRanges() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, rl := range a.units {
		n += len(rl)
	}
	return n
}

const (
	arangesVersion    = 2
	arangesHeaderSize = 12 // length, version, debug_info offset, address size, segment size
	arangesAddrSize   = 8
)

// Write serializes a version 2 .debug_aranges section with one set per unit.
func (a *ARanges) Write() []byte {
	var out []byte
	for _, u := range a.UnitRanges() {
		// tuples start at a multiple of twice the address size
		padding := (2*arangesAddrSize - arangesHeaderSize%(2*arangesAddrSize)) % (2 * arangesAddrSize)
		size := arangesHeaderSize + padding + (len(u.Ranges)+1)*2*arangesAddrSize

		hdr := make([]byte, arangesHeaderSize+padding)
		binary.LittleEndian.PutUint32(hdr[0:], uint32(size-types.UnitLengthSize))
		binary.LittleEndian.PutUint16(hdr[4:], arangesVersion)
		binary.LittleEndian.PutUint32(hdr[6:], uint32(u.Offset))
		hdr[10] = arangesAddrSize
		hdr[11] = 0
		out = append(out, hdr...)

		var tuple [2 * arangesAddrSize]byte
		for _, r := range u.Ranges {
			binary.LittleEndian.PutUint64(tuple[0:], r.Low)
			binary.LittleEndian.PutUint64(tuple[8:], r.Size())
			out = append(out, tuple[:]...)
		}
		out = append(out, make([]byte, 2*arangesAddrSize)...)
	}
	return out
}
