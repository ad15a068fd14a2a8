package abbrev

import (
	"fmt"
	"sort"
	"sync"

	"github.com/blacktop/go-dwarf"

	"github.com/blacktop/go-dwarfrewrite/types"
)

// Rewriter derives a new abbreviation section from an original one. Tables
// are cloned lazily on their first attribute patch; tables that were never
// patched keep their original offset, so units that share an untouched
// table keep sharing it. It is safe for concurrent use.
type Rewriter struct {
	mu         sync.Mutex
	section    []byte
	patched    map[uint64]*Table
	newOffsets map[uint64]uint64
	finalized  bool
}

// NewRewriter returns a rewriter over the original section bytes.
func NewRewriter(section []byte) *Rewriter {
	return &Rewriter{
		section:    section,
		patched:    make(map[uint64]*Table),
		newOffsets: make(map[uint64]uint64),
	}
}

// AddAttributePatch replaces oldAttr of declaration code in the table at
// tableOffset with (newAttr, newForm). Re-applying a patch that already
// took effect is a no-op.
func (r *Rewriter) AddAttributePatch(tableOffset, code uint64, oldAttr, newAttr dwarf.Attr, newForm types.Form) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.finalized {
		return fmt.Errorf("abbreviation rewriter already finalized")
	}

	t, ok := r.patched[tableOffset]
	if !ok {
		orig, err := Parse(r.section, tableOffset)
		if err != nil {
			return fmt.Errorf("failed to clone abbreviation table: %w", err)
		}
		t = orig.clone()
	}

	d := t.Decl(code)
	if d == nil {
		return fmt.Errorf("abbreviation code %d not found in table at %#x", code, tableOffset)
	}
	if i, ok := d.Find(oldAttr); ok {
		if d.Attrs[i].Attr == newAttr && d.Attrs[i].Form == newForm {
			return nil
		}
		d.Attrs[i] = AttrSpec{Attr: newAttr, Form: newForm}
		r.patched[tableOffset] = t
		return nil
	}
	if f, ok := d.Form(newAttr); ok && f == newForm {
		return nil
	}
	return fmt.Errorf("attribute %s not found in abbreviation %d of table at %#x", oldAttr, code, tableOffset)
}

// Modified reports whether the table at tableOffset was patched.
func (r *Rewriter) Modified(tableOffset uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.patched[tableOffset]
	return ok
}

// PatchedDecl returns the current declaration for code in the table at
// tableOffset if that table was patched.
func (r *Rewriter) PatchedDecl(tableOffset, code uint64) (*Decl, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.patched[tableOffset]
	if !ok {
		return nil, false
	}
	d := t.Decl(code)
	return d, d != nil
}

// Finalize returns the new section: the original bytes verbatim followed by
// every patched table, in original-offset order.
func (r *Rewriter) Finalize() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := append([]byte(nil), r.section...)
	offs := make([]uint64, 0, len(r.patched))
	for off := range r.patched {
		offs = append(offs, off)
	}
	sort.Slice(offs, func(i, j int) bool { return offs[i] < offs[j] })
	for _, off := range offs {
		r.newOffsets[off] = uint64(len(out))
		out = append(out, r.patched[off].Bytes()...)
	}
	r.finalized = true
	return out
}

// TableOffset returns the offset of the table originally at tableOffset in
// the finalized section.
func (r *Rewriter) TableOffset(tableOffset uint64) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if off, ok := r.newOffsets[tableOffset]; ok {
		return off
	}
	return tableOffset
}
