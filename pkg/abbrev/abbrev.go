// Package abbrev parses DWARF abbreviation tables and rewrites them when the
// encoding of an attribute has to change.
package abbrev

import (
	"fmt"
	"sync/atomic"

	"github.com/blacktop/go-dwarf"

	"github.com/blacktop/go-dwarfrewrite/types"
)

// AttrSpec is one (attribute, form) pair of a declaration.
type AttrSpec struct {
	Attr dwarf.Attr
	Form types.Form
}

// Decl is one abbreviation declaration (the schema of an entry kind).
type Decl struct {
	// ID is a stable identity assigned when the table is parsed. It is
	// unique for the life of the process and is used as a map key in
	// place of the declaration pointer.
	ID       int
	Code     uint64
	Tag      dwarf.Tag
	Children bool
	Attrs    []AttrSpec
}

// Find returns the index of attribute a in the declaration.
func (d *Decl) Find(a dwarf.Attr) (int, bool) {
	for i, spec := range d.Attrs {
		if spec.Attr == a {
			return i, true
		}
	}
	return -1, false
}

// Has reports whether the declaration carries attribute a.
func (d *Decl) Has(a dwarf.Attr) bool {
	_, ok := d.Find(a)
	return ok
}

// Form returns the form of attribute a.
func (d *Decl) Form(a dwarf.Attr) (types.Form, bool) {
	if i, ok := d.Find(a); ok {
		return d.Attrs[i].Form, true
	}
	return 0, false
}

func (d *Decl) clone() *Decl {
	c := *d
	c.Attrs = append([]AttrSpec(nil), d.Attrs...)
	return &c
}

func (d *Decl) appendTo(dst []byte) []byte {
	dst = types.AppendUleb128(dst, d.Code)
	dst = types.AppendUleb128(dst, uint64(d.Tag))
	if d.Children {
		dst = append(dst, 1)
	} else {
		dst = append(dst, 0)
	}
	for _, spec := range d.Attrs {
		dst = types.AppendUleb128(dst, uint64(spec.Attr))
		dst = types.AppendUleb128(dst, uint64(spec.Form))
	}
	return append(dst, 0, 0)
}

var nextDeclID atomic.Int64

// Table is the set of declarations starting at one offset of .debug_abbrev.
type Table struct {
	Offset uint64
	Size   uint64
	Decls  []*Decl
	byCode map[uint64]*Decl
}

// Decl returns the declaration for code, or nil.
func (t *Table) Decl(code uint64) *Decl {
	return t.byCode[code]
}

// Bytes serializes the table, including its terminating zero code.
func (t *Table) Bytes() []byte {
	var out []byte
	for _, d := range t.Decls {
		out = d.appendTo(out)
	}
	return append(out, 0)
}

func (t *Table) clone() *Table {
	c := &Table{Offset: t.Offset, Size: t.Size, byCode: make(map[uint64]*Decl, len(t.Decls))}
	for _, d := range t.Decls {
		dc := d.clone()
		c.Decls = append(c.Decls, dc)
		c.byCode[dc.Code] = dc
	}
	return c
}

// Parse decodes the abbreviation table starting at off.
func Parse(section []byte, off uint64) (*Table, error) {
	if off >= uint64(len(section)) {
		return nil, fmt.Errorf("abbreviation table offset %#x out of range (section size %#x)", off, len(section))
	}
	t := &Table{Offset: off, byCode: make(map[uint64]*Decl)}
	pos := off
	next := func() (uint64, error) {
		v, n, err := types.Uleb128(section[pos:])
		if err != nil {
			return 0, fmt.Errorf("failed to read abbreviation at %#x: %v", pos, err)
		}
		pos += uint64(n)
		return v, nil
	}
	for {
		code, err := next()
		if err != nil {
			return nil, err
		}
		if code == 0 {
			break
		}
		tag, err := next()
		if err != nil {
			return nil, err
		}
		if pos >= uint64(len(section)) {
			return nil, fmt.Errorf("truncated abbreviation %d at %#x", code, pos)
		}
		d := &Decl{
			ID:       int(nextDeclID.Add(1)),
			Code:     code,
			Tag:      dwarf.Tag(tag),
			Children: section[pos] != 0,
		}
		pos++
		for {
			attr, err := next()
			if err != nil {
				return nil, err
			}
			form, err := next()
			if err != nil {
				return nil, err
			}
			if attr == 0 && form == 0 {
				break
			}
			d.Attrs = append(d.Attrs, AttrSpec{Attr: dwarf.Attr(attr), Form: types.Form(form)})
		}
		if _, dup := t.byCode[code]; dup {
			return nil, fmt.Errorf("duplicate abbreviation code %d in table at %#x", code, off)
		}
		t.Decls = append(t.Decls, d)
		t.byCode[code] = d
	}
	t.Size = pos - off
	return t, nil
}
