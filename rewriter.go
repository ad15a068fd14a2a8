// Package dwarfrewrite updates the DWARF debug information of a binary whose
// code was moved, split or reordered, so that debuggers keep working on the
// optimized binary.
//
// A Rewriter walks every compile unit of the original .debug_info, asks an
// Oracle where each function, scope and variable location ended up, and
// records same-width patches, abbreviation changes and new range, location,
// string and address tables. Finalize lays the new tables out and hands the
// rewritten sections to a SectionSink; split units are written to an
// ObjectWriter either as .dwo files or as one .dwp package.
package dwarfrewrite

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/blacktop/go-dwarfrewrite/internal/logging"
	"github.com/blacktop/go-dwarfrewrite/pkg/abbrev"
	"github.com/blacktop/go-dwarfrewrite/pkg/addrtab"
	"github.com/blacktop/go-dwarfrewrite/pkg/dwarfinfo"
	"github.com/blacktop/go-dwarfrewrite/pkg/dwp"
	"github.com/blacktop/go-dwarfrewrite/pkg/loclist"
	"github.com/blacktop/go-dwarfrewrite/pkg/oracle"
	"github.com/blacktop/go-dwarfrewrite/pkg/patch"
	"github.com/blacktop/go-dwarfrewrite/pkg/ranges"
	"github.com/blacktop/go-dwarfrewrite/pkg/strtab"
	"github.com/blacktop/go-dwarfrewrite/types"
)

// ErrSectionNotFound is returned when a section the rewrite needs is missing.
var ErrSectionNotFound = errors.New("section not found")

type (
	// Oracle maps input addresses to the functions that own them.
	Oracle = oracle.Oracle
	// Function translates addresses inside one function body.
	Function = oracle.Function
)

// SectionSink holds the sections of the binary being written.
type SectionSink interface {
	Section(name string) ([]byte, bool)
	RegisterOrUpdate(name string, data []byte)
	AddPendingRelocation(name string, offset uint64, value uint32)
	SetFinalized(name string)
}

// Options are the collaborators of a rewrite.
type Options struct {
	Oracle Oracle
	Sink   SectionSink
	// Splits locates split units; without it skeletons are rewritten on
	// their own.
	Splits SplitSource
	// Objects receives the rewritten split units. It is required when
	// Splits is set.
	Objects ObjectWriter
}

// locPatch is a reference to a location list whose final offset is only
// known once every unit's lists are laid out.
type locPatch struct {
	attrOffset uint64
	size       int
	unit       int
	listOffset uint64
}

// splitUnit is the state kept for one split unit id.
type splitUnit struct {
	skeleton *dwarfinfo.Unit
	obj      *SplitObject
	patches  *patch.Buffer
	abbrevs  *abbrev.Rewriter
	locs     *loclist.SplitWriter

	// abbrevData is the finalized .debug_abbrev.dwo.
	abbrevData []byte
}

// A Rewriter is one rewrite session. Its state is shared by every unit
// task and protected by the session's locks.
type Rewriter struct {
	cfg  Config
	log  zerolog.Logger
	opts Options
	data *dwarfinfo.Data

	infoPatches  *patch.Buffer
	typesPatches *patch.Buffer
	abbrevs      *abbrev.Rewriter
	ranges       *ranges.Writer
	aranges      *ranges.ARanges
	strs         *strtab.Writer
	addrs        *addrtab.Writer

	locMu      sync.Mutex
	locWriters map[int]*loclist.LocWriter
	locPatches []locPatch

	splitMu    sync.Mutex
	splitUnits map[uint64]*splitUnit

	pendingMu sync.Mutex
	pending   map[int]*pendingBucket
	converted map[int]bool

	nameMu     sync.Mutex
	dwoNames   map[uint64]string
	nameCounts map[string]int

	done bool
}

// New prepares a rewrite of the debug sections held by opts.Sink.
func New(cfg Config, opts Options) (*Rewriter, error) {
	if opts.Oracle == nil || opts.Sink == nil {
		return nil, fmt.Errorf("rewrite needs an oracle and a section sink")
	}
	if opts.Splits != nil && opts.Objects == nil {
		return nil, fmt.Errorf("rewrite with split units needs an object writer")
	}

	var s dwarfinfo.Sections
	for _, sec := range []struct {
		name     string
		dst      *[]byte
		required bool
	}{
		{types.SectionInfo, &s.Info, true},
		{types.SectionAbbrev, &s.Abbrev, true},
		{types.SectionTypes, &s.Types, false},
		{types.SectionStr, &s.Str, false},
		{types.SectionRanges, &s.Ranges, false},
		{types.SectionLoc, &s.Loc, false},
		{types.SectionAddr, &s.Addr, false},
		{types.SectionLine, &s.Line, false},
	} {
		data, ok := opts.Sink.Section(sec.name)
		if !ok && sec.required {
			return nil, fmt.Errorf("%w: %s", ErrSectionNotFound, sec.name)
		}
		*sec.dst = data
	}

	data, err := dwarfinfo.New(s)
	if err != nil {
		return nil, fmt.Errorf("failed to parse debug info: %w", err)
	}

	return &Rewriter{
		cfg:          cfg,
		log:          logging.NewWithComponent(cfg.Log, "dwarf"),
		opts:         opts,
		data:         data,
		infoPatches:  patch.NewBuffer(),
		typesPatches: patch.NewBuffer(),
		abbrevs:      abbrev.NewRewriter(s.Abbrev),
		ranges:       ranges.NewWriter(),
		aranges:      ranges.NewARanges(),
		strs:         strtab.NewWriter(s.Str),
		addrs:        addrtab.NewWriter(),
		locWriters:   make(map[int]*loclist.LocWriter),
		splitUnits:   make(map[uint64]*splitUnit),
		pending:      make(map[int]*pendingBucket),
		converted:    make(map[int]bool),
		dwoNames:     make(map[uint64]string),
		nameCounts:   make(map[string]int),
	}, nil
}

// Data returns the original debug info being rewritten.
func (r *Rewriter) Data() *dwarfinfo.Data { return r.data }

// UpdateDebugInfo rewrites every compile unit, lays out the new tables,
// writes the split units and regenerates .gdb_index. It may be called once.
func (r *Rewriter) UpdateDebugInfo() error {
	if r.done {
		return fmt.Errorf("debug info already updated")
	}
	r.done = true

	units := r.data.Units()
	if r.cfg.Deterministic {
		for _, u := range units {
			if err := r.processUnitTask(u); err != nil {
				return err
			}
		}
	} else {
		var g errgroup.Group
		g.SetLimit(r.cfg.jobs())
		for _, u := range units {
			u := u
			g.Go(func() error { return r.processUnitTask(u) })
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	r.flushPendingRanges()

	if err := r.finalizeDebugSections(); err != nil {
		return err
	}

	if r.opts.Splits != nil {
		var err error
		if r.cfg.WriteDWP {
			err = r.writeDWP()
		} else {
			err = r.writeDWOFiles()
		}
		if err != nil {
			return err
		}
	}

	if err := r.updateGdbIndexSection(); err != nil {
		return err
	}

	r.log.Info().
		Int("units", len(units)).
		Int("split_units", len(r.splitUnits)).
		Msg("debug info updated")
	return nil
}

func (r *Rewriter) newDiagnostics(u *dwarfinfo.Unit) *logging.Diagnostics {
	return logging.NewDiagnostics(r.cfg.Log, r.cfg.Verbosity, func(c zerolog.Context) zerolog.Context {
		return c.Str("component", "dwarf").Str("unit", hex(u.Offset))
	})
}

// processUnitTask rewrites one compile unit and, when it is a skeleton,
// its split unit first.
func (r *Rewriter) processUnitTask(u *dwarfinfo.Unit) error {
	diag := r.newDiagnostics(u)
	defer diag.Flush()

	if !u.Supported() {
		diag.Warn(logging.KindUnsupportedUnit).
			Uint16("version", u.Version).
			Msg("skipping unit with unsupported version")
		return nil
	}

	uc := &unitContext{
		unit:    u,
		patches: r.infoPatches,
		abbrevs: r.abbrevs,
		locs:    r.locWriter(u.Index),
		diag:    diag,
	}

	var rangesBase *uint64
	if u.HasDWOID {
		if u.HasAddrBase {
			r.addrs.Seed(u.DWOID, u.AddressTable())
		}
		su, err := r.loadSplitUnit(u, diag)
		if err != nil {
			return err
		}
		if su != nil {
			r.updateDWONameCompDir(uc)

			base := r.ranges.SectionOffset()
			su.patches.SetRangeBase(base)
			r.processUnit(&unitContext{
				unit:    su.obj.Unit,
				patches: su.patches,
				abbrevs: su.abbrevs,
				locs:    su.locs,
				split:   true,
				dwoID:   u.DWOID,
				diag:    diag,
			}, nil)
			if su.patches.RangeBaseUsed() {
				rangesBase = &base
			}
		}
	}

	r.processUnit(uc, rangesBase)
	return nil
}

// loadSplitUnit finds the split unit of skeleton u. A unit that cannot be
// loaded is reported and skipped; a second skeleton with the same id is
// fatal.
func (r *Rewriter) loadSplitUnit(u *dwarfinfo.Unit, diag *logging.Diagnostics) (*splitUnit, error) {
	if r.opts.Splits == nil {
		return nil, nil
	}
	obj, err := r.opts.Splits.SplitObject(u.DWOID, u)
	if err != nil {
		diag.Warn(logging.KindStructuralCorruption).
			Err(err).
			Str("dwo_id", hex(u.DWOID)).
			Msg("failed to load split unit")
		return nil, nil
	}

	r.splitMu.Lock()
	defer r.splitMu.Unlock()
	if _, dup := r.splitUnits[u.DWOID]; dup {
		return nil, fmt.Errorf("%w: %#x is claimed by more than one skeleton", dwp.ErrDuplicateUnit, u.DWOID)
	}
	su := &splitUnit{
		skeleton: u,
		obj:      obj,
		patches:  patch.NewBuffer(),
		abbrevs:  abbrev.NewRewriter(obj.Data.Abbrev),
		locs:     loclist.NewSplitWriter(u.DWOID, r.addrs),
	}
	r.splitUnits[u.DWOID] = su
	return su, nil
}

func (r *Rewriter) locWriter(unit int) *loclist.LocWriter {
	r.locMu.Lock()
	defer r.locMu.Unlock()
	w, ok := r.locWriters[unit]
	if !ok {
		w = loclist.NewLocWriter()
		r.locWriters[unit] = w
	}
	return w
}

func (r *Rewriter) addLocPatch(p locPatch) {
	r.locMu.Lock()
	r.locPatches = append(r.locPatches, p)
	r.locMu.Unlock()
}

func hex(v uint64) string {
	return fmt.Sprintf("%#x", v)
}
