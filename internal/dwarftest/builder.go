// Package dwarftest builds small DWARF 4 sections with arbitrary contents
// for tests.
package dwarftest

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/blacktop/go-dwarf"

	"github.com/blacktop/go-dwarfrewrite/pkg/abbrev"
	"github.com/blacktop/go-dwarfrewrite/pkg/dwarfinfo"
	"github.com/blacktop/go-dwarfrewrite/types"
)

// Decl describes one abbreviation declaration.
type Decl struct {
	Code     uint64
	Tag      dwarf.Tag
	Children bool
	Attrs    []abbrev.AttrSpec
}

// Spec is a shorthand for an attribute specification.
func Spec(a dwarf.Attr, f types.Form) abbrev.AttrSpec {
	return abbrev.AttrSpec{Attr: a, Form: f}
}

// Indirect is the value of an attribute declared DW_FORM_indirect.
type Indirect struct {
	Form  types.Form
	Value any
}

// Builder accumulates the sections of one object.
type Builder struct {
	abbrev     bytes.Buffer
	info       bytes.Buffer
	types      bytes.Buffer
	str        bytes.Buffer
	strOffsets bytes.Buffer
	ranges     bytes.Buffer
	loc        bytes.Buffer
	addr       bytes.Buffer
	line       bytes.Buffer

	tables map[uint64]map[uint64]Decl
	strs   map[string]uint64
}

// New returns an empty builder.
func New() *Builder {
	return &Builder{
		tables: make(map[uint64]map[uint64]Decl),
		strs:   make(map[string]uint64),
	}
}

// Abbrevs appends an abbreviation table and returns its offset.
func (b *Builder) Abbrevs(decls ...Decl) uint64 {
	off := uint64(b.abbrev.Len())
	tab := make(map[uint64]Decl)
	var buf []byte
	for _, d := range decls {
		tab[d.Code] = d
		buf = types.AppendUleb128(buf, d.Code)
		buf = types.AppendUleb128(buf, uint64(d.Tag))
		if d.Children {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
		for _, a := range d.Attrs {
			buf = types.AppendUleb128(buf, uint64(a.Attr))
			buf = types.AppendUleb128(buf, uint64(a.Form))
		}
		buf = append(buf, 0, 0)
	}
	buf = append(buf, 0)
	b.abbrev.Write(buf)
	b.tables[off] = tab
	return off
}

// String adds s to .debug_str and returns its offset.
func (b *Builder) String(s string) uint64 {
	if off, ok := b.strs[s]; ok {
		return off
	}
	off := uint64(b.str.Len())
	b.str.WriteString(s)
	b.str.WriteByte(0)
	b.strs[s] = off
	return off
}

// StrIndex adds s to .debug_str and .debug_str_offsets and returns its index.
func (b *Builder) StrIndex(s string) uint64 {
	idx := uint64(b.strOffsets.Len() / 4)
	b.strOffsets.Write(binary.LittleEndian.AppendUint32(nil, uint32(b.String(s))))
	return idx
}

// Ranges appends a .debug_ranges list with absolute addresses and returns
// its offset.
func (b *Builder) Ranges(rl types.RangeList) uint64 {
	off := uint64(b.ranges.Len())
	for _, r := range rl {
		b.ranges.Write(binary.LittleEndian.AppendUint64(nil, r.Low))
		b.ranges.Write(binary.LittleEndian.AppendUint64(nil, r.High))
	}
	b.ranges.Write(make([]byte, 16))
	return off
}

// Loc appends a DWARF 4 .debug_loc list and returns its offset.
func (b *Builder) Loc(ll types.LocationList) uint64 {
	off := uint64(b.loc.Len())
	for _, e := range ll {
		b.loc.Write(binary.LittleEndian.AppendUint64(nil, e.Low))
		b.loc.Write(binary.LittleEndian.AppendUint64(nil, e.High))
		b.loc.Write(binary.LittleEndian.AppendUint16(nil, uint16(len(e.Expr))))
		b.loc.Write(e.Expr)
	}
	b.loc.Write(make([]byte, 16))
	return off
}

// SplitLocEntry is one GNU .debug_loc.dwo start_length entry.
type SplitLocEntry struct {
	Index  uint64
	Length uint32
	Expr   []byte
}

// SplitLoc appends a GNU .debug_loc.dwo list and returns its offset.
func (b *Builder) SplitLoc(entries ...SplitLocEntry) uint64 {
	off := uint64(b.loc.Len())
	for _, e := range entries {
		b.loc.WriteByte(types.DwoLLEStartLength)
		b.loc.Write(types.AppendUleb128(nil, e.Index))
		b.loc.Write(binary.LittleEndian.AppendUint32(nil, e.Length))
		b.loc.Write(binary.LittleEndian.AppendUint16(nil, uint16(len(e.Expr))))
		b.loc.Write(e.Expr)
	}
	b.loc.WriteByte(types.DwoLLEEndOfList)
	return off
}

// Addr appends an address table and returns its base offset.
func (b *Builder) Addr(addrs ...uint64) uint64 {
	off := uint64(b.addr.Len())
	for _, a := range addrs {
		b.addr.Write(binary.LittleEndian.AppendUint64(nil, a))
	}
	return off
}

// Line appends raw line-table bytes and returns their offset.
func (b *Builder) Line(data []byte) uint64 {
	off := uint64(b.line.Len())
	b.line.Write(data)
	return off
}

// Unit is a unit under construction.
type Unit struct {
	b      *Builder
	buf    *bytes.Buffer
	start  int
	table  map[uint64]Decl
	Offset uint64
}

// BeginUnit starts a version 4 compile unit using the table at abbrevOffset.
func (b *Builder) BeginUnit(abbrevOffset uint64) *Unit {
	u := &Unit{b: b, buf: &b.info, start: b.info.Len(), table: b.tables[abbrevOffset]}
	u.Offset = uint64(u.start)
	u.header(abbrevOffset)
	return u
}

// BeginTypeUnit starts a version 4 .debug_types unit.
func (b *Builder) BeginTypeUnit(abbrevOffset, signature, typeOffset uint64) *Unit {
	u := &Unit{b: b, buf: &b.types, start: b.types.Len(), table: b.tables[abbrevOffset]}
	u.Offset = uint64(u.start)
	u.header(abbrevOffset)
	u.buf.Write(binary.LittleEndian.AppendUint64(nil, signature))
	u.buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(typeOffset)))
	return u
}

func (u *Unit) header(abbrevOffset uint64) {
	u.buf.Write([]byte{
		0x0, 0x0, 0x0, 0x0, // length
		0x4, 0x0, // version
	})
	u.buf.Write(binary.LittleEndian.AppendUint32(nil, uint32(abbrevOffset)))
	u.buf.WriteByte(8) // address_size
}

// Entry writes an entry with abbreviation code and one value per declared
// attribute, and returns the entry's section offset.
func (u *Unit) Entry(code uint64, values ...any) uint64 {
	off := uint64(u.buf.Len())
	d, ok := u.table[code]
	if !ok {
		panic(fmt.Sprintf("dwarftest: unknown abbreviation code %d", code))
	}
	if len(values) != len(d.Attrs) {
		panic(fmt.Sprintf("dwarftest: code %d wants %d values, got %d", code, len(d.Attrs), len(values)))
	}
	u.buf.Write(types.AppendUleb128(nil, code))
	for i, a := range d.Attrs {
		u.buf.Write(u.b.encode(a.Form, values[i]))
	}
	return off
}

// Null closes the current sibling chain.
func (u *Unit) Null() {
	u.buf.WriteByte(0)
}

// End patches the unit length.
func (u *Unit) End() {
	data := u.buf.Bytes()
	binary.LittleEndian.PutUint32(data[u.start:], uint32(len(data)-u.start-4))
}

func toU64(v any) uint64 {
	switch v := v.(type) {
	case int:
		return uint64(v)
	case int64:
		return uint64(v)
	case uint32:
		return uint64(v)
	case uint64:
		return v
	case bool:
		if v {
			return 1
		}
		return 0
	}
	panic(fmt.Sprintf("dwarftest: unsupported value %T", v))
}

func (b *Builder) encode(f types.Form, v any) []byte {
	switch f {
	case types.FormAddr, types.FormData8, types.FormRef8, types.FormRefSig8:
		return binary.LittleEndian.AppendUint64(nil, toU64(v))
	case types.FormData4, types.FormRef4, types.FormSecOffset:
		return binary.LittleEndian.AppendUint32(nil, uint32(toU64(v)))
	case types.FormData2, types.FormRef2:
		return binary.LittleEndian.AppendUint16(nil, uint16(toU64(v)))
	case types.FormData1, types.FormRef1, types.FormFlag:
		return []byte{byte(toU64(v))}
	case types.FormFlagPresent:
		return nil
	case types.FormUdata, types.FormRefUdata, types.FormGNUAddrIndex:
		return types.AppendUleb128(nil, toU64(v))
	case types.FormSdata:
		return types.AppendSleb128(nil, int64(toU64(v)))
	case types.FormString:
		return append([]byte(v.(string)), 0)
	case types.FormStrp:
		if s, ok := v.(string); ok {
			return binary.LittleEndian.AppendUint32(nil, uint32(b.String(s)))
		}
		return binary.LittleEndian.AppendUint32(nil, uint32(toU64(v)))
	case types.FormGNUStrIndex:
		if s, ok := v.(string); ok {
			return types.AppendUleb128(nil, b.StrIndex(s))
		}
		return types.AppendUleb128(nil, toU64(v))
	case types.FormExprloc, types.FormBlock:
		data := v.([]byte)
		return append(types.AppendUleb128(nil, uint64(len(data))), data...)
	case types.FormBlock1:
		data := v.([]byte)
		return append([]byte{byte(len(data))}, data...)
	case types.FormIndirect:
		in := v.(Indirect)
		return append(types.AppendUleb128(nil, uint64(in.Form)), b.encode(in.Form, in.Value)...)
	}
	panic(fmt.Sprintf("dwarftest: unsupported form %s", f))
}

// Sections returns the accumulated sections.
func (b *Builder) Sections() dwarfinfo.Sections {
	return dwarfinfo.Sections{
		Info:       b.info.Bytes(),
		Types:      b.types.Bytes(),
		Abbrev:     b.abbrev.Bytes(),
		Str:        b.str.Bytes(),
		StrOffsets: b.strOffsets.Bytes(),
		Ranges:     b.ranges.Bytes(),
		Loc:        b.loc.Bytes(),
		Addr:       b.addr.Bytes(),
		Line:       b.line.Bytes(),
	}
}
