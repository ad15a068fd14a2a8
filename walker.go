package dwarfrewrite

import (
	"github.com/blacktop/go-dwarf"

	"github.com/blacktop/go-dwarfrewrite/internal/logging"
	"github.com/blacktop/go-dwarfrewrite/pkg/abbrev"
	"github.com/blacktop/go-dwarfrewrite/pkg/dwarfinfo"
	"github.com/blacktop/go-dwarfrewrite/pkg/loclist"
	"github.com/blacktop/go-dwarfrewrite/pkg/patch"
	"github.com/blacktop/go-dwarfrewrite/pkg/ranges"
	"github.com/blacktop/go-dwarfrewrite/types"
)

// unitContext is what one walk over a unit writes to: the patch buffer
// and abbreviation rewriter of the section the unit lives in, and its
// location list writer.
type unitContext struct {
	unit    *dwarfinfo.Unit
	patches *patch.Buffer
	abbrevs *abbrev.Rewriter
	locs    loclist.Writer
	split   bool
	dwoID   uint64
	diag    *logging.Diagnostics

	// cache dedups the ranges of the scopes of one function.
	cache ranges.Cache
}

// processUnit scans the entries of uc.unit in section order and rewrites
// every address they carry. rangesBase is only set for a skeleton whose
// split unit wrote range lists relative to it.
func (r *Rewriter) processUnit(uc *unitContext, rangesBase *uint64) {
	u := uc.unit
	uc.cache = make(ranges.Cache)

	end := u.NextOffset()
	depth := 0
	for off := u.FirstEntryOffset(); off < end; {
		e, err := u.EntryAt(off)
		if err != nil {
			uc.diag.Warn(logging.KindStructuralCorruption).
				Err(err).
				Str("die", hex(off)).
				Msg("corrupt DWARF detected, stopping unit walk")
			return
		}
		off = e.Next

		if e.Decl == nil {
			depth--
			if depth <= 0 {
				break
			}
			continue
		}
		if e.Children() {
			depth++
		}

		r.processEntry(uc, e, rangesBase)

		if depth == 0 {
			break
		}
	}
}

func (r *Rewriter) processEntry(uc *unitContext, e *dwarfinfo.Entry, rangesBase *uint64) {
	switch e.Tag() {
	case dwarf.TagCompileUnit:
		r.updateUnitRoot(uc, e, rangesBase)
	case dwarf.TagSubprogram:
		r.updateSubprogram(uc, e)
	case dwarf.TagLexDwarfBlock, dwarf.TagInlinedSubroutine, types.TagTryBlock, types.TagCatchBlock:
		r.updateScope(uc, e)
	default:
		if f, ok := e.Field(dwarf.AttrLocation); ok {
			r.updateLocation(uc, e, f)
		} else if f, ok := e.Field(dwarf.AttrLowpc); ok {
			r.updateLowPC(uc, e, f)
		}
	}
}

func (r *Rewriter) updateUnitRoot(uc *unitContext, e *dwarfinfo.Entry, rangesBase *uint64) {
	in, err := uc.unit.AddressRanges(e)
	if err != nil {
		uc.diag.Verbose(logging.KindUnexpectedEncoding).
			Err(err).
			Str("die", hex(e.Offset)).
			Msg("failed to read unit ranges")
		in = nil
	}
	out := r.opts.Oracle.TranslateModuleRanges(in)
	off := r.ranges.AddRanges(out)
	if !uc.split {
		r.aranges.AddUnitRanges(uc.unit.Offset, out)
	}
	r.updateRangesAttribute(uc, e, off, rangesBase)
}

func (r *Rewriter) updateSubprogram(uc *unitContext, e *dwarfinfo.Entry) {
	u := uc.unit
	usesRanges := false
	var addr uint64

	low, _, ok, err := u.LowHighPC(e)
	switch {
	case ok:
		addr = low
	case e.Decl.Has(dwarf.AttrLowpc) && e.Decl.Has(dwarf.AttrHighpc):
		// Unresolvable pair; it still follows its abbreviation if that
		// gets converted.
		uc.diag.Verbose(logging.KindUnexpectedEncoding).
			Err(err).
			Str("die", hex(e.Offset)).
			Msg("failed to read function address")
	default:
		rl, err := u.AddressRanges(e)
		if err != nil || len(rl) == 0 {
			// not a function definition
			return
		}
		addr = rl[0].Low
		usesRanges = true
	}

	uc.cache = make(ranges.Cache)

	var fnRanges types.RangeList
	if fn := r.opts.Oracle.FunctionAt(addr); fn != nil {
		fnRanges = fn.OutputRanges()
	}

	if usesRanges {
		r.updateRangesAttribute(uc, e, r.ranges.AddRanges(fnRanges), nil)
		return
	}

	r.pendingMu.Lock()
	switch {
	case len(fnRanges) > 1:
		r.convertPending(uc, e.Decl)
		r.pendingMu.Unlock()
		r.convertEntryRanges(uc, e, fnRanges)
	case r.converted[e.Decl.ID]:
		r.pendingMu.Unlock()
		r.convertEntryRanges(uc, e, fnRanges)
	default:
		if len(fnRanges) == 0 {
			fnRanges = types.RangeList{{}}
		}
		r.addToPendingRanges(uc, e, fnRanges)
		r.pendingMu.Unlock()
	}
}

// updateScope rewrites a lexical block, inlined call or exception scope
// through the function that contains it.
func (r *Rewriter) updateScope(uc *unitContext, e *dwarfinfo.Entry) {
	off := r.ranges.EmptyRangesOffset()
	rl, err := uc.unit.AddressRanges(e)
	if err != nil {
		uc.diag.Verbose(logging.KindUnexpectedEncoding).
			Err(err).
			Str("die", hex(e.Offset)).
			Msg("failed to read scope ranges")
	}
	if len(rl) > 0 {
		if fn := r.opts.Oracle.FunctionContaining(rl[0].Low); fn != nil {
			if out := fn.TranslateRanges(rl); len(out) > 0 {
				off = r.ranges.AddRangesCached(out, uc.cache)
			} else {
				uc.diag.Verbose(logging.KindTranslationMiss).
					Str("die", hex(e.Offset)).
					Str("ranges", rl.String()).
					Msg("scope ranges have no output addresses")
			}
		} else {
			uc.diag.Verbose(logging.KindTranslationMiss).
				Str("die", hex(e.Offset)).
				Str("ranges", rl.String()).
				Msg("no function contains scope")
		}
	}
	r.updateRangesAttribute(uc, e, off, nil)
}

// updateLocation rewrites DW_AT_location: location lists are translated
// and re-emitted, and address indices in split unit expressions are
// registered with the address table.
func (r *Rewriter) updateLocation(uc *unitContext, e *dwarfinfo.Entry, f *dwarfinfo.Field) {
	switch {
	case f.Form == types.FormSecOffset || f.Form == types.FormData4 || f.Form == types.FormData8:
		r.updateLocationList(uc, e, f)
	case f.Form.Class() == types.ClassExprloc || f.Form.Class() == types.ClassBlock:
		if !uc.split {
			return
		}
		err := types.WalkExpression(f.Block, uc.unit.AddrSize, func(op types.ExprOp) bool {
			if op.Op != types.OpGNUAddrIndex {
				return true
			}
			addr, err := uc.unit.Address(op.Operand)
			if err != nil {
				uc.diag.Warn(logging.KindStructuralCorruption).
					Err(err).
					Str("die", hex(e.Offset)).
					Msg("location expression references a missing address")
				return true
			}
			if fn := r.opts.Oracle.FunctionContaining(addr); fn != nil {
				if out := fn.TranslateAddress(addr); out != 0 {
					addr = out
				}
			}
			r.addrs.AddIndexAddress(addr, uint32(op.Operand), uc.dwoID)
			return true
		})
		if err != nil {
			uc.diag.Verbose(logging.KindUnexpectedEncoding).
				Err(err).
				Str("die", hex(e.Offset)).
				Msg("failed to decode location expression")
		}
	default:
		uc.diag.Verbose(logging.KindUnexpectedEncoding).
			Str("die", hex(e.Offset)).
			Stringer("form", f.Form).
			Msg("unexpected form for DW_AT_location")
	}
}

func (r *Rewriter) updateLocationList(uc *unitContext, e *dwarfinfo.Entry, f *dwarfinfo.Field) {
	if size := f.ValueSize(); size != 4 && size != 8 {
		uc.diag.Verbose(logging.KindUnexpectedEncoding).
			Str("die", hex(e.Offset)).
			Stringer("form", f.Form).
			Msg("unexpected location list reference size")
		return
	}

	in, err := uc.unit.LocationList(f.Val)
	if err != nil || len(in) == 0 {
		ev := uc.diag.Warn(logging.KindTranslationMiss).
			Str("die", hex(e.Offset)).
			Str("offset", hex(f.Val))
		if err != nil {
			ev = ev.Err(err)
		}
		ev.Msg("empty location list")
		r.patchLocationOffset(uc, f, loclist.EmptyListOffset)
		return
	}

	var out types.LocationList
	if fn := r.opts.Oracle.FunctionContaining(in[0].Low); fn != nil {
		out = fn.TranslateLocationList(in)
	}
	off, ok, err := uc.locs.AddList(out)
	if err != nil || !ok {
		ev := uc.diag.Warn(logging.KindTranslationMiss).
			Str("die", hex(e.Offset)).
			Str("offset", hex(f.Val))
		if err != nil {
			ev = ev.Err(err)
		}
		ev.Msg("location list has no output addresses")
		r.patchLocationOffset(uc, f, loclist.EmptyListOffset)
		return
	}

	if uc.split {
		// A split unit owns its whole .debug_loc.dwo.
		r.patchLocationOffset(uc, f, off)
		return
	}
	r.addLocPatch(locPatch{
		attrOffset: f.ValueOffset,
		size:       f.ValueSize(),
		unit:       uc.unit.Index,
		listOffset: off,
	})
}

func (r *Rewriter) patchLocationOffset(uc *unitContext, f *dwarfinfo.Field, off uint64) {
	if f.ValueSize() == 8 {
		uc.patches.AddLE64(f.ValueOffset, off)
		return
	}
	uc.patches.AddLE32(f.ValueOffset, uint32(off))
}

// updateLowPC rewrites a lone address attribute such as the one of a label.
func (r *Rewriter) updateLowPC(uc *unitContext, e *dwarfinfo.Entry, f *dwarfinfo.Field) {
	if f.Form != types.FormAddr && f.Form != types.FormGNUAddrIndex {
		uc.diag.Verbose(logging.KindUnexpectedEncoding).
			Str("die", hex(e.Offset)).
			Stringer("form", f.Form).
			Msg("unexpected form value for DW_AT_low_pc")
		return
	}
	addr, err := uc.unit.AddressValue(f)
	if err != nil {
		uc.diag.Verbose(logging.KindUnexpectedEncoding).
			Err(err).
			Str("die", hex(e.Offset)).
			Msg("failed to read DW_AT_low_pc")
		return
	}

	var newAddr uint64
	if fn := r.opts.Oracle.FunctionContaining(addr); fn != nil {
		newAddr = fn.TranslateAddress(addr)
	}

	if f.Form == types.FormGNUAddrIndex {
		// Keep the index; indices are variable length and other entries
		// may share it.
		if newAddr == 0 {
			newAddr = addr
		}
		r.addrs.AddIndexAddress(newAddr, uint32(f.Val), uc.dwoID)
		return
	}
	if f.ValueSize() != 8 {
		uc.diag.Verbose(logging.KindUnexpectedEncoding).
			Str("die", hex(e.Offset)).
			Int("size", f.ValueSize()).
			Msg("unsupported address size")
		return
	}
	uc.patches.AddLE64(f.ValueOffset, newAddr)
}
