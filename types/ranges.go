package types

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// AddressRange is a half-open [Low, High) interval in output address space.
type AddressRange struct {
	Low  uint64
	High uint64
}

func (r AddressRange) String() string {
	return fmt.Sprintf("[%#x, %#x)", r.Low, r.High)
}

// Size returns the length of the range.
func (r AddressRange) Size() uint64 {
	if r.High < r.Low {
		return 0
	}
	return r.High - r.Low
}

// Contains reports whether addr lies inside the range.
func (r AddressRange) Contains(addr uint64) bool {
	return addr >= r.Low && addr < r.High
}

// RangeList is an ordered sequence of address ranges.
type RangeList []AddressRange

func (rl RangeList) String() string {
	parts := make([]string, 0, len(rl))
	for _, r := range rl {
		parts = append(parts, r.String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Key returns a byte-exact identity of the list usable as a map key.
func (rl RangeList) Key() string {
	buf := make([]byte, 16*len(rl))
	for i, r := range rl {
		binary.LittleEndian.PutUint64(buf[16*i:], r.Low)
		binary.LittleEndian.PutUint64(buf[16*i+8:], r.High)
	}
	return string(buf)
}

// Equal reports whether both lists hold the same ranges in the same order.
func (rl RangeList) Equal(o RangeList) bool {
	if len(rl) != len(o) {
		return false
	}
	for i := range rl {
		if rl[i] != o[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the list.
func (rl RangeList) Clone() RangeList {
	if rl == nil {
		return nil
	}
	return append(RangeList(nil), rl...)
}
