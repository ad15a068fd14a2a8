package dwarfrewrite

import (
	"slices"

	"github.com/blacktop/go-dwarf"
	"github.com/rs/zerolog"

	"github.com/blacktop/go-dwarfrewrite/internal/logging"
	"github.com/blacktop/go-dwarfrewrite/pkg/abbrev"
	"github.com/blacktop/go-dwarfrewrite/pkg/dwarfinfo"
	"github.com/blacktop/go-dwarfrewrite/pkg/patch"
	"github.com/blacktop/go-dwarfrewrite/types"
)

// A function entry encoded with a low/high pair can only keep that
// encoding if no entry sharing its abbreviation needs more than one range.
// Until that is known its single range is parked here, keyed by the
// abbreviation's ID. The first entry that needs a range list converts the
// abbreviation and drains its bucket; whatever is still parked when all
// units are done is written back as a plain low/high pair.

// pendingRange is a function entry waiting for its abbreviation's fate.
// Only the first output range is kept.
type pendingRange struct {
	entry   *dwarfinfo.Entry
	patches *patch.Buffer
	dwoID   uint64
	rng     types.AddressRange
}

type pendingBucket struct {
	abbrevs *abbrev.Rewriter
	table   uint64
	decl    *abbrev.Decl
	entries []*pendingRange
}

// addToPendingRanges parks e with the first of rl. The caller holds
// pendingMu.
func (r *Rewriter) addToPendingRanges(uc *unitContext, e *dwarfinfo.Entry, rl types.RangeList) {
	rng := rl[0]
	if low, ok := e.Field(dwarf.AttrLowpc); ok && low.Form == types.FormGNUAddrIndex && rng != (types.AddressRange{}) {
		high, _ := e.Field(dwarf.AttrHighpc)
		for _, out := range rl {
			r.addrs.AddIndexAddress(out.Low, uint32(low.Val), uc.dwoID)
			if high != nil && high.Form == types.FormGNUAddrIndex {
				r.addrs.AddIndexAddress(out.High, uint32(high.Val), uc.dwoID)
			}
		}
	}

	b, ok := r.pending[e.Decl.ID]
	if !ok {
		b = &pendingBucket{abbrevs: uc.abbrevs, table: uc.unit.AbbrevOffset, decl: e.Decl}
		r.pending[e.Decl.ID] = b
	}
	b.entries = append(b.entries, &pendingRange{
		entry:   e,
		patches: uc.patches,
		dwoID:   uc.dwoID,
		rng:     rng,
	})
}

// convertPending switches decl to a range list encoding and converts every
// entry parked under it. The caller holds pendingMu.
func (r *Rewriter) convertPending(uc *unitContext, decl *abbrev.Decl) {
	if r.converted[decl.ID] {
		return
	}
	r.convertSchemaToRanges(uc.abbrevs, uc.unit.AbbrevOffset, decl, false, uc.diag)

	if b, ok := r.pending[decl.ID]; ok {
		for _, pr := range b.entries {
			off := r.ranges.EmptyRangesOffset()
			if pr.rng != (types.AddressRange{}) {
				off = r.ranges.AddRanges(types.RangeList{pr.rng})
			}
			r.convertEntryToRanges(pr.entry, pr.patches, off, nil, uc.diag)
		}
		delete(r.pending, decl.ID)
	}
	r.converted[decl.ID] = true
}

// flushPendingRanges writes every entry whose abbreviation was never
// converted back as a translated low/high pair.
func (r *Rewriter) flushPendingRanges() {
	diag := logging.NewDiagnostics(r.cfg.Log, r.cfg.Verbosity, func(c zerolog.Context) zerolog.Context {
		return c.Str("component", "dwarf")
	})
	defer diag.Flush()

	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()

	ids := make([]int, 0, len(r.pending))
	for id := range r.pending {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	for _, id := range ids {
		for _, pr := range r.pending[id].entries {
			r.patchLowHigh(pr, diag)
		}
	}
	clear(r.pending)
}
