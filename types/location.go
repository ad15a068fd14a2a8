package types

import (
	"bytes"
	"fmt"
)

// LocationEntry describes where a variable lives over [Low, High).
type LocationEntry struct {
	Low  uint64
	High uint64
	Expr []byte
}

func (e LocationEntry) String() string {
	return fmt.Sprintf("[%#x, %#x): % x", e.Low, e.High, e.Expr)
}

// Equal reports whether two entries are byte-identical.
func (e LocationEntry) Equal(o LocationEntry) bool {
	return e.Low == o.Low && e.High == o.High && bytes.Equal(e.Expr, o.Expr)
}

// LocationList is an ordered sequence of location entries. The on-disk
// end-of-list sentinel is implied.
type LocationList []LocationEntry

// LLEKind identifies a location-list entry kind after decoding either the
// DWARF 4 .debug_loc encoding or the GNU .debug_loc.dwo encoding.
type LLEKind uint8

const (
	LLEEndOfList LLEKind = iota
	LLEBaseAddress
	LLEOffsetPair
	LLEStartxLength
	LLEStartxEndx
)

var lleStrings = []intName{
	{uint32(LLEEndOfList), "end_of_list"},
	{uint32(LLEBaseAddress), "base_address"},
	{uint32(LLEOffsetPair), "offset_pair"},
	{uint32(LLEStartxLength), "startx_length"},
	{uint32(LLEStartxEndx), "startx_endx"},
}

func (k LLEKind) String() string { return stringName(uint32(k), lleStrings, false) }

// GNU .debug_loc.dwo entry kinds (pre-standard split DWARF).
const (
	DwoLLEEndOfList            byte = 0x00
	DwoLLEBaseAddressSelection byte = 0x01
	DwoLLEStartEnd             byte = 0x02
	DwoLLEStartLength          byte = 0x03
)
