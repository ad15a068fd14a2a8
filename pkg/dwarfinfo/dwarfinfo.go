// Package dwarfinfo is a read-only view of DWARF 2-4 debug sections that keeps
// the byte offset of every attribute it decodes, so callers can patch the
// original section in place.
package dwarfinfo

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/blacktop/go-dwarfrewrite/pkg/abbrev"
	"github.com/blacktop/go-dwarfrewrite/types"
)

// FormatError is returned when the debug data is not well formed.
type FormatError struct {
	off int64
	msg string
	val any
}

func (e *FormatError) Error() string {
	msg := e.msg
	if e.val != nil {
		msg += fmt.Sprintf(" '%v'", e.val)
	}
	msg += fmt.Sprintf(" in record at byte %#x", e.off)
	return msg
}

// Sections holds the raw bytes of the debug sections of one object. For a
// split object the fields carry the matching .dwo sections.
type Sections struct {
	Info       []byte
	Types      []byte
	Abbrev     []byte
	Str        []byte
	StrOffsets []byte
	Ranges     []byte
	Loc        []byte
	Addr       []byte
	Line       []byte
}

// Data is the decoded unit index of one object.
type Data struct {
	Sections

	split bool
	units []*Unit
	types []*Unit

	mu      sync.Mutex
	abbrevs map[uint64]*abbrev.Table

	addrBases []uint64
}

// New indexes the units of a primary object.
func New(s Sections) (*Data, error) {
	return load(s, false)
}

// NewSplit indexes the units of a split object (.dwo or one package
// contribution). Address and range lookups need the skeleton unit; see
// Unit.SetSkeleton.
func NewSplit(s Sections) (*Data, error) {
	return load(s, true)
}

func load(s Sections, split bool) (*Data, error) {
	d := &Data{
		Sections: s,
		split:    split,
		abbrevs:  make(map[uint64]*abbrev.Table),
	}
	var err error
	if d.units, err = d.parseUnits(s.Info, false); err != nil {
		return nil, err
	}
	if d.types, err = d.parseUnits(s.Types, true); err != nil {
		return nil, err
	}
	bases := make(map[uint64]bool)
	for _, u := range d.units {
		if u.HasAddrBase {
			bases[u.AddrBase] = true
		}
	}
	for b := range bases {
		d.addrBases = append(d.addrBases, b)
	}
	sort.Slice(d.addrBases, func(i, j int) bool { return d.addrBases[i] < d.addrBases[j] })
	return d, nil
}

// IsSplit reports whether d was loaded from a split object.
func (d *Data) IsSplit() bool { return d.split }

// Units returns the compile units in section order.
func (d *Data) Units() []*Unit { return d.units }

// TypeUnits returns the .debug_types units in section order.
func (d *Data) TypeUnits() []*Unit { return d.types }

// UnitByDWOID returns the compile unit carrying id.
func (d *Data) UnitByDWOID(id uint64) (*Unit, bool) {
	for _, u := range d.units {
		if u.HasDWOID && u.DWOID == id {
			return u, true
		}
	}
	return nil, false
}

// AbbrevTable returns the (cached) abbreviation table at off. Units that
// share a table share its declarations, and so their identities.
func (d *Data) AbbrevTable(off uint64) (*abbrev.Table, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t, ok := d.abbrevs[off]; ok {
		return t, nil
	}
	t, err := abbrev.Parse(d.Abbrev, off)
	if err != nil {
		return nil, err
	}
	d.abbrevs[off] = t
	return t, nil
}

func (d *Data) parseUnits(sect []byte, typeUnits bool) ([]*Unit, error) {
	var units []*Unit
	for off := uint64(0); off < uint64(len(sect)); {
		u, err := d.parseHeader(sect, off, typeUnits)
		if err != nil {
			return nil, err
		}
		u.Index = len(units)
		units = append(units, u)
		off = u.NextOffset()
	}
	return units, nil
}

func (d *Data) parseHeader(sect []byte, off uint64, typeUnit bool) (*Unit, error) {
	if uint64(len(sect))-off < types.UnitLengthSize+2 {
		return nil, &FormatError{int64(off), "unit header too short", nil}
	}
	length := uint64(binary.LittleEndian.Uint32(sect[off:]))
	if length >= 0xfffffff0 {
		return nil, &FormatError{int64(off), "unsupported 64-bit DWARF unit length", length}
	}
	u := &Unit{
		data:     d,
		section:  sect,
		Offset:   off,
		Length:   length,
		Version:  binary.LittleEndian.Uint16(sect[off+types.UnitVersionOffset:]),
		TypeUnit: typeUnit,
	}
	if u.NextOffset() > uint64(len(sect)) {
		return nil, &FormatError{int64(off), "unit extends past section end", u.NextOffset()}
	}
	if u.Version < 2 || u.Version > types.MaxVersion {
		// Kept so offsets stay aligned; the rewriter skips it.
		return u, nil
	}
	u.HeaderSize = types.CompileUnitHeaderSize
	if typeUnit {
		u.HeaderSize = types.TypeUnitHeaderSize
	}
	if length+types.UnitLengthSize < uint64(u.HeaderSize) {
		return nil, &FormatError{int64(off), "unit shorter than its header", length}
	}
	u.AbbrevOffset = uint64(binary.LittleEndian.Uint32(sect[off+types.UnitAbbrevFieldOffset:]))
	u.AddrSize = int(sect[off+types.UnitAddrSizeOffset])
	if u.AddrSize != 4 && u.AddrSize != 8 {
		return nil, &FormatError{int64(off), "unsupported address size", u.AddrSize}
	}
	if typeUnit {
		u.Signature = binary.LittleEndian.Uint64(sect[off+types.CompileUnitHeaderSize:])
		u.TypeOffset = uint64(binary.LittleEndian.Uint32(sect[off+types.CompileUnitHeaderSize+8:]))
	}
	tab, err := d.AbbrevTable(u.AbbrevOffset)
	if err != nil {
		return nil, fmt.Errorf("failed to read abbreviations of unit at %#x: %w", off, err)
	}
	u.abbrevs = tab
	if err := u.readRoot(); err != nil {
		return nil, err
	}
	return u, nil
}

// AddressTable returns the original .debug_addr entries starting at base.
// The table ends at the next base used by another unit or at the end of
// the section.
func (d *Data) AddressTable(base uint64, addrSize int) []uint64 {
	end := uint64(len(d.Addr))
	for _, b := range d.addrBases {
		if b > base {
			end = b
			break
		}
	}
	if base > end {
		return nil
	}
	var out []uint64
	for off := base; off+uint64(addrSize) <= end; off += uint64(addrSize) {
		out = append(out, readAddr(d.Addr[off:], addrSize))
	}
	return out
}

func readAddr(b []byte, size int) uint64 {
	if size == 4 {
		return uint64(binary.LittleEndian.Uint32(b))
	}
	return binary.LittleEndian.Uint64(b)
}
