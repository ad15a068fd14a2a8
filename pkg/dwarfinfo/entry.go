package dwarfinfo

import (
	"bytes"
	"encoding/binary"

	"github.com/blacktop/go-dwarf"

	"github.com/blacktop/go-dwarfrewrite/pkg/abbrev"
	"github.com/blacktop/go-dwarfrewrite/types"
)

// Field is one decoded attribute of an entry.
type Field struct {
	Attr dwarf.Attr
	// Form is the form of the value; for DW_FORM_indirect it is the form
	// read from the entry and Indirect is set.
	Form     types.Form
	Indirect bool

	// Offset is the section offset of the attribute's first byte (the
	// inline form code for indirect attributes); ValueOffset is where the
	// value itself starts. Size counts every byte from Offset.
	Offset      uint64
	ValueOffset uint64
	Size        int

	Val   uint64
	Block []byte
	Str   string
}

// ValueSize returns the number of bytes of the value.
func (f *Field) ValueSize() int {
	return f.Size - int(f.ValueOffset-f.Offset)
}

// Entry is one debugging information entry. An entry with a nil Decl is a
// null entry closing a sibling chain.
type Entry struct {
	Offset uint64
	Code   uint64
	Decl   *abbrev.Decl
	Fields []Field
	// Next is the offset of the following entry.
	Next uint64
}

// Tag returns the entry's tag, or 0 for a null entry.
func (e *Entry) Tag() dwarf.Tag {
	if e.Decl == nil {
		return 0
	}
	return e.Decl.Tag
}

// Children reports whether children follow the entry.
func (e *Entry) Children() bool {
	return e.Decl != nil && e.Decl.Children
}

// Field returns the attribute a.
func (e *Entry) Field(a dwarf.Attr) (*Field, bool) {
	for i := range e.Fields {
		if e.Fields[i].Attr == a {
			return &e.Fields[i], true
		}
	}
	return nil, false
}

// EntryAt decodes the entry at section offset off.
func (u *Unit) EntryAt(off uint64) (*Entry, error) {
	end := u.NextOffset()
	if off >= end {
		return nil, &FormatError{int64(off), "entry offset outside unit", u.Offset}
	}
	r := reader{u: u, buf: u.section[:end], off: off}
	code := r.uleb()
	if r.err != nil {
		return nil, r.err
	}
	e := &Entry{Offset: off, Code: code}
	if code == 0 {
		e.Next = r.off
		return e, nil
	}
	e.Decl = u.abbrevs.Decl(code)
	if e.Decl == nil {
		return nil, &FormatError{int64(off), "unknown abbreviation code", code}
	}
	e.Fields = make([]Field, 0, len(e.Decl.Attrs))
	for _, spec := range e.Decl.Attrs {
		f := Field{Attr: spec.Attr, Form: spec.Form, Offset: r.off}
		if spec.Form == types.FormIndirect {
			f.Form = types.Form(r.uleb())
			f.Indirect = true
		}
		f.ValueOffset = r.off
		r.value(&f)
		if r.err != nil {
			return nil, r.err
		}
		f.Size = int(r.off - f.Offset)
		e.Fields = append(e.Fields, f)
	}
	e.Next = r.off
	return e, nil
}

type reader struct {
	u   *Unit
	buf []byte
	off uint64
	err error
}

func (r *reader) fail(msg string, val any) {
	if r.err == nil {
		r.err = &FormatError{int64(r.off), msg, val}
	}
}

func (r *reader) bytes(n uint64) []byte {
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.buf))-r.off {
		r.fail("entry runs past unit end", n)
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) fixed(n int) uint64 {
	b := r.bytes(uint64(n))
	if b == nil {
		return 0
	}
	switch n {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

func (r *reader) uleb() uint64 {
	if r.err != nil {
		return 0
	}
	if r.off >= uint64(len(r.buf)) {
		r.fail("entry runs past unit end", nil)
		return 0
	}
	v, n, err := types.Uleb128(r.buf[r.off:])
	if err != nil {
		r.fail(err.Error(), nil)
		return 0
	}
	r.off += uint64(n)
	return v
}

func (r *reader) sleb() int64 {
	if r.err != nil {
		return 0
	}
	if r.off >= uint64(len(r.buf)) {
		r.fail("entry runs past unit end", nil)
		return 0
	}
	v, n, err := types.Sleb128(r.buf[r.off:])
	if err != nil {
		r.fail(err.Error(), nil)
		return 0
	}
	r.off += uint64(n)
	return v
}

func (r *reader) value(f *Field) {
	d := r.u.data
	if size, ok := f.Form.FixedSize(r.u.AddrSize, r.u.Version); ok {
		f.Val = r.fixed(size)
		switch f.Form {
		case types.FormFlagPresent:
			f.Val = 1
		case types.FormStrp:
			f.Str = cstring(d.Str, f.Val)
		}
		return
	}
	switch f.Form {
	case types.FormBlock1:
		f.Val = r.fixed(1)
		f.Block = r.bytes(f.Val)
	case types.FormBlock2:
		f.Val = r.fixed(2)
		f.Block = r.bytes(f.Val)
	case types.FormBlock4:
		f.Val = r.fixed(4)
		f.Block = r.bytes(f.Val)
	case types.FormBlock, types.FormExprloc:
		f.Val = r.uleb()
		f.Block = r.bytes(f.Val)
	case types.FormSdata:
		f.Val = uint64(r.sleb())
	case types.FormUdata, types.FormRefUdata, types.FormGNUAddrIndex:
		f.Val = r.uleb()
	case types.FormGNUStrIndex:
		f.Val = r.uleb()
		if off := f.Val * 4; off+4 <= uint64(len(d.StrOffsets)) {
			f.Str = cstring(d.Str, uint64(binary.LittleEndian.Uint32(d.StrOffsets[off:])))
		}
	case types.FormString:
		rest := r.buf[r.off:]
		i := bytes.IndexByte(rest, 0)
		if i < 0 {
			r.fail("unterminated string", nil)
			return
		}
		f.Str = string(rest[:i])
		r.off += uint64(i) + 1
	default:
		r.fail("unsupported attribute form", f.Form)
	}
}

func cstring(sect []byte, off uint64) string {
	if off >= uint64(len(sect)) {
		return ""
	}
	rest := sect[off:]
	if i := bytes.IndexByte(rest, 0); i >= 0 {
		return string(rest[:i])
	}
	return string(rest)
}
