package dwarfrewrite

import (
	"fmt"
	"path/filepath"

	"github.com/blacktop/go-dwarfrewrite/pkg/dwarfinfo"
	"github.com/blacktop/go-dwarfrewrite/pkg/dwp"
	"github.com/blacktop/go-dwarfrewrite/pkg/elfobj"
	"github.com/blacktop/go-dwarfrewrite/types"
)

// SplitObject is the split unit that belongs to one skeleton, together with
// the .dwo sections it was read from. For a unit taken out of a package,
// Sections holds only that unit's contributions.
type SplitObject struct {
	Sections map[string][]byte
	Data     *dwarfinfo.Data
	Unit     *dwarfinfo.Unit
}

// SplitSource locates the split unit of a skeleton.
type SplitSource interface {
	SplitObject(dwoID uint64, skeleton *dwarfinfo.Unit) (*SplitObject, error)
}

// ObjectWriter receives the rewritten split objects.
type ObjectWriter interface {
	WriteObject(name string, sections []elfobj.Section) error
}

// NewSplitObject indexes the .dwo sections of one split unit and attaches
// the unit to its skeleton.
func NewSplitObject(sections map[string][]byte, dwoID uint64, skeleton *dwarfinfo.Unit) (*SplitObject, error) {
	d, err := dwarfinfo.NewSplit(dwarfinfo.Sections{
		Info:       sections[types.SectionInfoDWO],
		Types:      sections[types.SectionTypesDWO],
		Abbrev:     sections[types.SectionAbbrevDWO],
		Str:        sections[types.SectionStrDWO],
		StrOffsets: sections[types.SectionStrOffsetsDWO],
		Loc:        sections[types.SectionLocDWO],
		Line:       sections[types.SectionLineDWO],
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse split unit %#x: %w", dwoID, err)
	}
	u, ok := d.UnitByDWOID(dwoID)
	if !ok {
		// older producers only put the id on the skeleton
		if len(d.Units()) != 1 {
			return nil, fmt.Errorf("split unit %#x not found", dwoID)
		}
		u = d.Units()[0]
	}
	if !u.Supported() {
		return nil, fmt.Errorf("split unit %#x has unsupported version %d", dwoID, u.Version)
	}
	u.SetSkeleton(skeleton)
	return &SplitObject{Sections: sections, Data: d, Unit: u}, nil
}

// SplitObjects is an in-memory SplitSource keyed by split unit id.
type SplitObjects map[uint64]map[string][]byte

func (s SplitObjects) SplitObject(dwoID uint64, skeleton *dwarfinfo.Unit) (*SplitObject, error) {
	sections, ok := s[dwoID]
	if !ok {
		return nil, fmt.Errorf("split unit %#x not found", dwoID)
	}
	return NewSplitObject(sections, dwoID, skeleton)
}

// DWOFiles reads split units from the .dwo files named by their skeletons.
type DWOFiles struct {
	// Dir replaces the skeleton's DW_AT_comp_dir when set.
	Dir string
}

func (s DWOFiles) SplitObject(dwoID uint64, skeleton *dwarfinfo.Unit) (*SplitObject, error) {
	name, ok := skeleton.DWOName()
	if !ok {
		return nil, fmt.Errorf("skeleton %s has no split object name", skeleton)
	}
	path := name
	if !filepath.IsAbs(path) {
		dir := s.Dir
		if dir == "" {
			dir, _ = skeleton.CompDir()
		}
		path = filepath.Join(dir, name)
	}
	f, err := elfobj.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open split object: %w", err)
	}
	defer f.Close()
	sections, err := f.DebugSections()
	if err != nil {
		return nil, fmt.Errorf("failed to read split object %s: %w", path, err)
	}
	return NewSplitObject(sections, dwoID, skeleton)
}

// Package reads split units out of an existing DWARF package.
type Package struct {
	sections map[string][]byte
	index    *dwp.Index
}

// NewPackage indexes the sections of a .dwp.
func NewPackage(sections map[string][]byte) (*Package, error) {
	data, ok := sections[types.SectionCUIndex]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSectionNotFound, types.SectionCUIndex)
	}
	index, err := dwp.ParseIndex(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse package index: %w", err)
	}
	return &Package{sections: sections, index: index}, nil
}

// OpenPackage opens the .dwp at path.
func OpenPackage(path string) (*Package, error) {
	f, err := elfobj.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sections, err := f.DebugSections()
	if err != nil {
		return nil, fmt.Errorf("failed to read package %s: %w", path, err)
	}
	return NewPackage(sections)
}

func (p *Package) SplitObject(dwoID uint64, skeleton *dwarfinfo.Unit) (*SplitObject, error) {
	sections, err := p.index.Extract(dwoID, p.sections)
	if err != nil {
		return nil, err
	}
	return NewSplitObject(sections, dwoID, skeleton)
}
