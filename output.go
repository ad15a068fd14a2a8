package dwarfrewrite

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/hashicorp/go-multierror"

	"github.com/blacktop/go-dwarfrewrite/pkg/dwp"
	"github.com/blacktop/go-dwarfrewrite/pkg/elfobj"
	"github.com/blacktop/go-dwarfrewrite/pkg/gdbindex"
	"github.com/blacktop/go-dwarfrewrite/types"
)

// orderedSplitUnits returns the loaded split units in skeleton order.
func (r *Rewriter) orderedSplitUnits() []*splitUnit {
	r.splitMu.Lock()
	defer r.splitMu.Unlock()
	out := make([]*splitUnit, 0, len(r.splitUnits))
	for _, su := range r.splitUnits {
		out = append(out, su)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].skeleton.Index < out[j].skeleton.Index })
	return out
}

// splitSections returns the rewritten sections of su in the order they are
// written to a .dwo.
func (r *Rewriter) splitSections(su *splitUnit) ([]elfobj.Section, error) {
	in := su.obj.Sections
	info, err := su.patches.Apply(in[types.SectionInfoDWO], 0)
	if err != nil {
		return nil, fmt.Errorf("failed to patch split unit %#x: %w", su.skeleton.DWOID, err)
	}

	out := []elfobj.Section{{Name: types.SectionInfoDWO, Data: info}}
	for _, name := range []string{
		types.SectionTypesDWO,
		types.SectionStrOffsetsDWO,
		types.SectionLineDWO,
		types.SectionStrDWO,
	} {
		if data, ok := in[name]; ok {
			out = append(out, elfobj.Section{Name: name, Data: data})
		}
	}
	return append(out,
		elfobj.Section{Name: types.SectionAbbrevDWO, Data: su.abbrevData},
		elfobj.Section{Name: types.SectionLocDWO, Data: su.locs.Finalize()},
	), nil
}

// writeDWOFiles writes one .dwo per split unit next to the name its
// skeleton now carries. Every failure is reported.
func (r *Rewriter) writeDWOFiles() error {
	var errs *multierror.Error
	for _, su := range r.orderedSplitUnits() {
		dir := r.cfg.DwarfOutputPath
		if dir == "" {
			dir, _ = su.skeleton.CompDir()
		}
		path := filepath.Join(dir, r.getDWOName(su.skeleton))

		sections, err := r.splitSections(su)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if err := r.opts.Objects.WriteObject(path, sections); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to write %s: %w", path, err))
			continue
		}
		r.log.Debug().Str("path", path).Str("dwo_id", hex(su.skeleton.DWOID)).Msg("wrote split object")
	}
	return errs.ErrorOrNil()
}

// writeDWP packages every split unit into <output>.dwp. Nothing is written
// if any unit fails.
func (r *Rewriter) writeDWP() error {
	name := r.cfg.Output + ".dwp"
	if r.cfg.DwarfOutputPath != "" {
		name = filepath.Join(r.cfg.DwarfOutputPath, filepath.Base(r.cfg.Output)+".dwp")
		r.log.Warn().Str("path", name).Msg("writing DWARF package to the DWARF output directory")
	}

	pkg := dwp.NewPackager()
	for _, su := range r.orderedSplitUnits() {
		sections, err := r.splitSections(su)
		if err != nil {
			return err
		}
		byName := make(map[string][]byte, len(sections))
		for _, s := range sections {
			byName[s.Name] = s.Data
		}
		if err := pkg.Add(dwp.Unit{DWOID: su.skeleton.DWOID, Sections: byName}); err != nil {
			return err
		}
	}
	if pkg.Len() == 0 {
		r.log.Debug().Msg("no split units to package")
		return nil
	}

	out, err := pkg.Finalize()
	if err != nil {
		return fmt.Errorf("failed to build DWARF package: %w", err)
	}
	names := make([]string, 0, len(out))
	for n := range out {
		names = append(names, n)
	}
	sort.Strings(names)
	sections := make([]elfobj.Section, 0, len(names))
	for _, n := range names {
		sections = append(sections, elfobj.Section{Name: n, Data: out[n]})
	}
	if err := r.opts.Objects.WriteObject(name, sections); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	r.log.Info().Str("path", name).Int("units", pkg.Len()).Msg("wrote DWARF package")
	return nil
}

// updateGdbIndexSection rewrites the address area of .gdb_index, if the
// binary has one, from the final unit ranges.
func (r *Rewriter) updateGdbIndexSection() error {
	orig, ok := r.opts.Sink.Section(types.SectionGdbIndex)
	if !ok {
		return nil
	}
	units := r.data.Units()
	offsets := make([]uint64, len(units))
	for i, u := range units {
		offsets[i] = u.Offset
	}
	data, err := gdbindex.Regenerate(orig, offsets, r.aranges.UnitRanges())
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", types.SectionGdbIndex, err)
	}
	r.opts.Sink.RegisterOrUpdate(types.SectionGdbIndex, data)
	return nil
}
