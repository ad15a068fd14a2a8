package dwarfrewrite

import (
	"fmt"
	"slices"

	"github.com/blacktop/go-dwarfrewrite/pkg/abbrev"
	"github.com/blacktop/go-dwarfrewrite/pkg/dwarfinfo"
	"github.com/blacktop/go-dwarfrewrite/pkg/patch"
	"github.com/blacktop/go-dwarfrewrite/types"
)

// finalizeDebugSections lays out every table the walk produced, resolves
// the references that depend on that layout and registers the new sections
// with the sink.
func (r *Rewriter) finalizeDebugSections() error {
	sink := r.opts.Sink

	// gdb only trusts .debug_aranges over its own index when asked to.
	if _, hasIndex := sink.Section(types.SectionGdbIndex); !hasIndex || r.cfg.KeepARanges {
		sink.RegisterOrUpdate(types.SectionARanges, r.aranges.Write())
	}

	if r.strs.Initialized() {
		sink.RegisterOrUpdate(types.SectionStr, r.strs.Finalize())
	}

	if r.addrs.Initialized() {
		sink.RegisterOrUpdate(types.SectionAddr, r.addrs.Finalize())
		for _, u := range r.data.Units() {
			if !u.HasDWOID || u.Root == nil {
				continue
			}
			f, ok := u.Root.Field(types.AttrGNUAddrBase)
			if !ok {
				continue
			}
			if off, ok := r.addrs.Offset(u.DWOID); ok {
				r.infoPatches.AddLE32(f.ValueOffset, uint32(off))
			}
		}
	}

	sink.RegisterOrUpdate(types.SectionRanges, r.ranges.Finalize())
	sink.RegisterOrUpdate(types.SectionLoc, r.finalizeLocations())

	sink.RegisterOrUpdate(types.SectionAbbrev, r.abbrevs.Finalize())
	for _, u := range r.data.Units() {
		patchAbbrevOffset(r.abbrevs, r.infoPatches, u)
	}
	for _, u := range r.data.TypeUnits() {
		patchAbbrevOffset(r.abbrevs, r.typesPatches, u)
	}

	r.splitMu.Lock()
	for _, su := range r.splitUnits {
		su.abbrevData = su.abbrevs.Finalize()
		patchAbbrevOffset(su.abbrevs, su.patches, su.obj.Unit)
	}
	r.splitMu.Unlock()

	info, err := r.infoPatches.Apply(r.data.Info, 0)
	if err != nil {
		return fmt.Errorf("failed to patch %s: %w", types.SectionInfo, err)
	}
	sink.RegisterOrUpdate(types.SectionInfo, info)

	if r.typesPatches.Len() > 0 {
		data, err := r.typesPatches.Apply(r.data.Types, 0)
		if err != nil {
			return fmt.Errorf("failed to patch %s: %w", types.SectionTypes, err)
		}
		sink.RegisterOrUpdate(types.SectionTypes, data)
	}
	return nil
}

// patchAbbrevOffset points the header of u at its abbreviation table if
// the table moved.
func patchAbbrevOffset(abbrevs *abbrev.Rewriter, p *patch.Buffer, u *dwarfinfo.Unit) {
	if off := abbrevs.TableOffset(u.AbbrevOffset); off != u.AbbrevOffset {
		p.AddLE32(u.Offset+types.UnitAbbrevFieldOffset, uint32(off))
	}
}

// finalizeLocations concatenates the location lists of every primary unit
// after a shared empty list and resolves the references to them.
func (r *Rewriter) finalizeLocations() []byte {
	r.locMu.Lock()
	defer r.locMu.Unlock()

	out := make([]byte, 16)
	units := make([]int, 0, len(r.locWriters))
	for unit := range r.locWriters {
		units = append(units, unit)
	}
	slices.Sort(units)

	bases := make(map[int]uint64, len(units))
	for _, unit := range units {
		bases[unit] = uint64(len(out))
		out = append(out, r.locWriters[unit].Finalize()...)
	}

	for _, p := range r.locPatches {
		off := bases[p.unit] + p.listOffset
		if p.size == 8 {
			r.infoPatches.AddLE64(p.attrOffset, off)
		} else {
			r.infoPatches.AddLE32(p.attrOffset, uint32(off))
		}
	}
	return out
}
