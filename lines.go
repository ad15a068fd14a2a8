package dwarfrewrite

import (
	"fmt"
	"math"

	"github.com/blacktop/go-dwarf"

	"github.com/blacktop/go-dwarfrewrite/pkg/dwarfinfo"
	"github.com/blacktop/go-dwarfrewrite/types"
)

// LineTableLocator reports the offset of a compile unit's line table in
// the output .debug_line.
type LineTableLocator interface {
	LineTableOffset(u *dwarfinfo.Unit) (uint64, bool)
}

// LineTableLocatorFunc adapts a function to LineTableLocator.
type LineTableLocatorFunc func(u *dwarfinfo.Unit) (uint64, bool)

func (f LineTableLocatorFunc) LineTableOffset(u *dwarfinfo.Unit) (uint64, bool) { return f(u) }

// UnchangedLineTables locates every line table at its original offset, for
// a .debug_line that is written out unchanged.
var UnchangedLineTables LineTableLocator = LineTableLocatorFunc(func(u *dwarfinfo.Unit) (uint64, bool) {
	f, ok := stmtList(u)
	if !ok {
		return 0, false
	}
	return f.Val, true
})

func stmtList(u *dwarfinfo.Unit) (*dwarfinfo.Field, bool) {
	if u.Root == nil {
		return nil, false
	}
	return u.Root.Field(dwarf.AttrStmtList)
}

// UpdateLineTableOffsets relocates DW_AT_stmt_list of every unit to the
// line table loc reports for it. Type units share the table of a compile
// unit and follow the same move. .debug_info and .debug_types are final
// afterwards.
func (r *Rewriter) UpdateLineTableOffsets(loc LineTableLocator) error {
	moved := make(map[uint64]uint64)
	for _, u := range r.data.Units() {
		f, ok := stmtList(u)
		if !ok {
			continue
		}
		off, ok := loc.LineTableOffset(u)
		if !ok {
			r.log.Debug().Str("unit", hex(u.Offset)).Msg("no output line table for unit")
			continue
		}
		if off > math.MaxUint32 {
			return fmt.Errorf("line table of %s at %#x does not fit in DW_AT_stmt_list", u, off)
		}
		r.opts.Sink.AddPendingRelocation(types.SectionInfo, f.ValueOffset, uint32(off))
		moved[f.Val] = off
	}

	for _, u := range r.data.TypeUnits() {
		f, ok := stmtList(u)
		if !ok {
			continue
		}
		off, ok := moved[f.Val]
		if !ok {
			return fmt.Errorf("no output line table for %s (original offset %#x)", u, f.Val)
		}
		r.opts.Sink.AddPendingRelocation(types.SectionTypes, f.ValueOffset, uint32(off))
	}

	r.opts.Sink.SetFinalized(types.SectionInfo)
	if len(r.data.TypeUnits()) > 0 {
		r.opts.Sink.SetFinalized(types.SectionTypes)
	}
	return nil
}
