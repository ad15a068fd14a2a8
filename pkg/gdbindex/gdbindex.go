// Package gdbindex regenerates the address area of a .gdb_index section
// after the code it describes has moved.
package gdbindex

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/blacktop/go-dwarfrewrite/pkg/ranges"
)

var (
	// ErrUnsupportedVersion is returned for index versions other than 7 and 8.
	ErrUnsupportedVersion = errors.New("unsupported .gdb_index version")
	// ErrUnitCountMismatch is returned when the CU list does not cover
	// every compile unit.
	ErrUnitCountMismatch = errors.New(".gdb_index compile unit count mismatch")
	// ErrUnitOffsetMismatch is returned when a CU list entry does not name
	// the compile unit at the same position.
	ErrUnitOffsetMismatch = errors.New(".gdb_index compile unit offset mismatch")
)

const (
	HeaderSize       = 24
	cuEntrySize      = 16
	AddressEntrySize = 20
)

// Header is the fixed header of a .gdb_index section.
type Header struct {
	Version            uint32
	CUListOffset       uint32
	TypesCUListOffset  uint32
	AddressAreaOffset  uint32
	SymbolTableOffset  uint32
	ConstantPoolOffset uint32
}

// ParseHeader decodes the header of data.
func ParseHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, fmt.Errorf("failed to read .gdb_index header: section too short (%d bytes)", len(data))
	}
	h.Version = binary.LittleEndian.Uint32(data[0:])
	if h.Version != 7 && h.Version != 8 {
		return h, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	h.CUListOffset = binary.LittleEndian.Uint32(data[4:])
	h.TypesCUListOffset = binary.LittleEndian.Uint32(data[8:])
	h.AddressAreaOffset = binary.LittleEndian.Uint32(data[12:])
	h.SymbolTableOffset = binary.LittleEndian.Uint32(data[16:])
	h.ConstantPoolOffset = binary.LittleEndian.Uint32(data[20:])
	if h.CUListOffset != HeaderSize ||
		h.TypesCUListOffset < h.CUListOffset ||
		h.AddressAreaOffset < h.TypesCUListOffset ||
		h.SymbolTableOffset < h.AddressAreaOffset ||
		h.ConstantPoolOffset < h.SymbolTableOffset ||
		uint64(h.ConstantPoolOffset) > uint64(len(data)) {
		return h, fmt.Errorf("failed to read .gdb_index header: inconsistent section offsets %+v", h)
	}
	return h, nil
}

func (h Header) appendTo(dst []byte) []byte {
	for _, v := range []uint32{
		h.Version,
		h.CUListOffset,
		h.TypesCUListOffset,
		h.AddressAreaOffset,
		h.SymbolTableOffset,
		h.ConstantPoolOffset,
	} {
		dst = binary.LittleEndian.AppendUint32(dst, v)
	}
	return dst
}

// Regenerate rewrites the address area of the index orig. unitOffsets are
// the original .debug_info offsets of every compile unit in section order;
// units holds the final ranges of each unit keyed by that offset. The CU
// list, types CU list, symbol table and constant pool are copied verbatim.
func Regenerate(orig []byte, unitOffsets []uint64, units []ranges.UnitRanges) ([]byte, error) {
	h, err := ParseHeader(orig)
	if err != nil {
		return nil, err
	}

	numCUs := (h.TypesCUListOffset - h.CUListOffset) / cuEntrySize
	if int(numCUs) != len(unitOffsets) || (h.TypesCUListOffset-h.CUListOffset)%cuEntrySize != 0 {
		return nil, fmt.Errorf("%w: index lists %d units, binary has %d", ErrUnitCountMismatch, numCUs, len(unitOffsets))
	}

	indexOf := make(map[uint64]uint32, numCUs)
	for i := uint32(0); i < numCUs; i++ {
		off := binary.LittleEndian.Uint64(orig[h.CUListOffset+i*cuEntrySize:])
		if off != unitOffsets[i] {
			return nil, fmt.Errorf("%w: entry %d is %#x, unit is at %#x", ErrUnitOffsetMismatch, i, off, unitOffsets[i])
		}
		indexOf[off] = i
	}

	var area []byte
	for _, u := range units {
		idx, ok := indexOf[u.Offset]
		if !ok {
			return nil, fmt.Errorf("%w: no index entry for unit at %#x", ErrUnitOffsetMismatch, u.Offset)
		}
		for _, r := range u.Ranges {
			area = binary.LittleEndian.AppendUint64(area, r.Low)
			area = binary.LittleEndian.AppendUint64(area, r.High)
			area = binary.LittleEndian.AppendUint32(area, idx)
		}
	}

	delta := int64(len(area)) - int64(h.SymbolTableOffset-h.AddressAreaOffset)
	nh := h
	nh.SymbolTableOffset = uint32(int64(h.SymbolTableOffset) + delta)
	nh.ConstantPoolOffset = uint32(int64(h.ConstantPoolOffset) + delta)

	out := make([]byte, 0, int64(len(orig))+delta)
	out = nh.appendTo(out)
	out = append(out, orig[h.CUListOffset:h.AddressAreaOffset]...)
	out = append(out, area...)
	out = append(out, orig[h.SymbolTableOffset:]...)
	return out, nil
}

// AddressEntry is one record of the address area.
type AddressEntry struct {
	Low, High uint64
	CUIndex   uint32
}

// AddressArea decodes the address area of an index.
func AddressArea(data []byte) ([]AddressEntry, error) {
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	var out []AddressEntry
	for off := h.AddressAreaOffset; off+AddressEntrySize <= h.SymbolTableOffset; off += AddressEntrySize {
		out = append(out, AddressEntry{
			Low:     binary.LittleEndian.Uint64(data[off:]),
			High:    binary.LittleEndian.Uint64(data[off+8:]),
			CUIndex: binary.LittleEndian.Uint32(data[off+16:]),
		})
	}
	return out, nil
}
