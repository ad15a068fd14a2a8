package dwarfrewrite

import (
	"github.com/blacktop/go-dwarf"

	"github.com/blacktop/go-dwarfrewrite/internal/logging"
	"github.com/blacktop/go-dwarfrewrite/pkg/abbrev"
	"github.com/blacktop/go-dwarfrewrite/pkg/dwarfinfo"
	"github.com/blacktop/go-dwarfrewrite/pkg/patch"
	"github.com/blacktop/go-dwarfrewrite/types"
)

// updateRangesAttribute points e at the range list written at off. An
// entry that already has DW_AT_ranges is patched in place; an entry with a
// low/high pair is converted to DW_AT_ranges together with its
// abbreviation.
func (r *Rewriter) updateRangesAttribute(uc *unitContext, e *dwarfinfo.Entry, off uint64, rangesBase *uint64) {
	if rangesBase != nil {
		if f, ok := e.Field(types.AttrGNURangesBase); ok {
			uc.patches.AddLE32(f.ValueOffset, uint32(*rangesBase))
			rangesBase = nil
		}
	}

	if f, ok := e.Field(dwarf.AttrRanges); ok {
		uc.patches.AddLE32(f.ValueOffset, uint32(r.relativeRangesOffset(uc.patches, off)))
		if rangesBase == nil {
			r.normalizeUnitBase(uc, e)
			return
		}
		// Turn DW_AT_low_pc into DW_AT_GNU_ranges_base, keeping its size.
		low, ok := e.Field(dwarf.AttrLowpc)
		if !ok || low.Form != types.FormAddr || low.Size < 2 {
			uc.diag.Warn(logging.KindUnexpectedEncoding).
				Str("die", hex(e.Offset)).
				Msg("skeleton unit has neither DW_AT_GNU_ranges_base nor DW_AT_low_pc to hold its ranges base")
			return
		}
		if err := uc.abbrevs.AddAttributePatch(uc.unit.AbbrevOffset, e.Decl.Code,
			dwarf.AttrLowpc, types.AttrGNURangesBase, types.FormIndirect); err != nil {
			uc.diag.Warn(logging.KindUnexpectedEncoding).Err(err).Str("die", hex(e.Offset)).Msg("failed to patch abbreviation")
			return
		}
		r.addUData(uc, low.Offset, uint64(types.FormUdata), 1)
		r.addUData(uc, low.Offset+1, *rangesBase, low.Size-1)
		return
	}

	if e.Decl.Has(dwarf.AttrLowpc) && e.Decl.Has(dwarf.AttrHighpc) {
		r.convertSchemaToRanges(uc.abbrevs, uc.unit.AbbrevOffset, e.Decl, rangesBase != nil, uc.diag)
		r.convertEntryToRanges(e, uc.patches, off, rangesBase, uc.diag)
		return
	}

	uc.diag.Verbose(logging.KindUnexpectedEncoding).
		Str("die", hex(e.Offset)).
		Stringer("tag", e.Tag()).
		Msg("cannot update ranges")
}

// normalizeUnitBase sets a literal unit base address to 0, since the
// rewritten range and location lists hold absolute addresses.
func (r *Rewriter) normalizeUnitBase(uc *unitContext, e *dwarfinfo.Entry) {
	if e.Tag() != dwarf.TagCompileUnit {
		return
	}
	low, ok := e.Field(dwarf.AttrLowpc)
	if !ok || low.Form != types.FormAddr || low.Val == 0 || low.ValueSize() != 8 {
		return
	}
	uc.patches.AddLE64(low.ValueOffset, 0)
}

// relativeRangesOffset returns off relative to the range base of the
// section patched by p. The shared empty list sits below any base, so a
// unit with a base gets an empty list of its own.
func (r *Rewriter) relativeRangesOffset(p *patch.Buffer, off uint64) uint64 {
	base := p.RangeBase()
	if off < base {
		off = r.ranges.AddEmptyList()
	}
	return off - base
}

func (r *Rewriter) addUData(uc *unitContext, off, v uint64, size int) {
	if err := uc.patches.AddUData(off, v, size); err != nil {
		uc.diag.Warn(logging.KindUnexpectedEncoding).Err(err).Msg("failed to patch attribute")
	}
}

// convertSchemaToRanges changes the low/high pair of decl into a low_pc
// (or ranges base) followed by DW_AT_ranges.
func (r *Rewriter) convertSchemaToRanges(abbrevs *abbrev.Rewriter, table uint64, decl *abbrev.Decl, withRangesBase bool, diag *logging.Diagnostics) {
	lowForm, _ := decl.Form(dwarf.AttrLowpc)
	highForm, _ := decl.Form(dwarf.AttrHighpc)

	var err error
	switch {
	case withRangesBase:
		err = abbrevs.AddAttributePatch(table, decl.Code, dwarf.AttrLowpc, types.AttrGNURangesBase, types.FormIndirect)
	case lowForm != types.FormGNUAddrIndex && types.IsHighPCEightBytes(highForm):
		// DW_AT_ranges is four bytes; low_pc grows by the four bytes
		// high_pc gives up.
		err = abbrevs.AddAttributePatch(table, decl.Code, dwarf.AttrLowpc, dwarf.AttrLowpc, types.FormIndirect)
	}
	if err == nil {
		err = abbrevs.AddAttributePatch(table, decl.Code, dwarf.AttrHighpc, dwarf.AttrRanges, types.FormSecOffset)
	}
	if err != nil {
		diag.Warn(logging.KindUnexpectedEncoding).
			Err(err).
			Uint64("abbrev", decl.Code).
			Msg("failed to convert abbreviation to ranges")
	}
}

// rangeAttrs returns the low/high pair of e when it can be rewritten in
// place: a literal or indexed low_pc immediately followed by high_pc.
func rangeAttrs(e *dwarfinfo.Entry, diag *logging.Diagnostics) (low, high *dwarfinfo.Field, ok bool) {
	low, okLow := e.Field(dwarf.AttrLowpc)
	high, okHigh := e.Field(dwarf.AttrHighpc)
	if !okLow || !okHigh || low.Indirect || high.Indirect {
		diag.Warn(logging.KindUnexpectedEncoding).
			Str("die", hex(e.Offset)).
			Msg("unexpected form value, cannot update DIE")
		return nil, nil, false
	}
	if (low.Form != types.FormAddr && low.Form != types.FormGNUAddrIndex) ||
		(high.Form != types.FormAddr && high.Form != types.FormData8 && high.Form != types.FormData4) {
		diag.Warn(logging.KindUnexpectedEncoding).
			Str("die", hex(e.Offset)).
			Stringer("low_form", low.Form).
			Stringer("high_form", high.Form).
			Msg("unexpected form value, cannot update DIE")
		return nil, nil, false
	}
	if low.Offset+uint64(low.Size) != high.Offset ||
		(low.Form == types.FormAddr && low.Size != 8) {
		diag.Warn(logging.KindUnexpectedEncoding).
			Str("die", hex(e.Offset)).
			Msg("high_pc expected immediately after low_pc, cannot update DIE")
		return nil, nil, false
	}
	return low, high, true
}

// convertEntryRanges writes rl to the range table and converts e to it.
func (r *Rewriter) convertEntryRanges(uc *unitContext, e *dwarfinfo.Entry, rl types.RangeList) {
	off := r.ranges.EmptyRangesOffset()
	if len(rl) > 0 {
		off = r.ranges.AddRanges(rl)
	}
	r.convertEntryToRanges(e, uc.patches, off, nil, uc.diag)
}

// convertEntryToRanges overwrites the low/high pair of e with the layout
// convertSchemaToRanges gives its abbreviation, using exactly the bytes
// the pair occupied.
func (r *Rewriter) convertEntryToRanges(e *dwarfinfo.Entry, p *patch.Buffer, off uint64, rangesBase *uint64, diag *logging.Diagnostics) {
	low, high, ok := rangeAttrs(e, diag)
	if !ok {
		return
	}

	var fill int
	switch {
	case types.IsHighPCEightBytes(high.Form):
		fill = 12
	case high.Form == types.FormData4:
		fill = 8
	}

	addUData := func(at, v uint64, size int) bool {
		if err := p.AddUData(at, v, size); err != nil {
			diag.Warn(logging.KindUnexpectedEncoding).Err(err).Str("die", hex(e.Offset)).Msg("failed to convert DIE to ranges")
			return false
		}
		return true
	}

	var rel uint64
	switch {
	case low.Form == types.FormGNUAddrIndex:
		// index 0, padded over the bytes high_pc no longer needs
		if !addUData(low.Offset, 0, int(high.Offset-low.Offset)+fill-8) {
			return
		}
		rel = r.relativeRangesOffset(p, off)
	case rangesBase != nil:
		if !addUData(low.Offset, uint64(types.FormUdata), 1) || !addUData(low.Offset+1, *rangesBase, fill-1) {
			return
		}
		rel = off
	case fill == 12:
		if !addUData(low.Offset, uint64(types.FormAddr), 4) {
			return
		}
		p.AddLE64(low.Offset+4, 0)
		rel = off
	default:
		p.AddLE64(low.Offset, 0)
		rel = off
	}
	p.AddLE32(high.Offset+uint64(fill)-8, uint32(rel))
}

// patchLowHigh rewrites a low/high pair in place with rng.
func (r *Rewriter) patchLowHigh(pr *pendingRange, diag *logging.Diagnostics) {
	low, high, ok := rangeAttrs(pr.entry, diag)
	if !ok {
		return
	}
	rng := pr.rng
	if low.Form == types.FormGNUAddrIndex {
		idx := r.addrs.IndexFromAddress(rng.Low, pr.dwoID)
		if err := pr.patches.AddUData(low.Offset, uint64(idx), int(high.Offset-low.Offset)); err != nil {
			diag.Warn(logging.KindUnexpectedEncoding).
				Err(err).
				Str("die", hex(pr.entry.Offset)).
				Msg("address index does not fit in DW_AT_low_pc")
			return
		}
	} else {
		pr.patches.AddLE64(low.Offset, rng.Low)
	}

	switch high.Form {
	case types.FormAddr:
		pr.patches.AddLE64(high.Offset, rng.High)
	case types.FormData8:
		pr.patches.AddLE64(high.Offset, rng.High-rng.Low)
	default:
		pr.patches.AddLE32(high.Offset, uint32(rng.High-rng.Low))
	}
}
