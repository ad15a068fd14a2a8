package dwarfrewrite

import (
	"strconv"

	"github.com/blacktop/go-dwarf"

	"github.com/blacktop/go-dwarfrewrite/internal/logging"
	"github.com/blacktop/go-dwarfrewrite/pkg/dwarfinfo"
	"github.com/blacktop/go-dwarfrewrite/types"
)

// getDWOName returns the file name the split unit of skeleton u is written
// under. With an output directory every name gets a per-name counter so
// that units from different source directories cannot collide.
func (r *Rewriter) getDWOName(u *dwarfinfo.Unit) string {
	r.nameMu.Lock()
	defer r.nameMu.Unlock()

	if name, ok := r.dwoNames[u.DWOID]; ok {
		return name
	}
	name, _ := u.DWOName()
	if r.cfg.DwarfOutputPath != "" {
		n := r.nameCounts[name]
		r.nameCounts[name]++
		name += strconv.Itoa(n)
	}
	name += ".dwo"
	r.dwoNames[u.DWOID] = name
	return name
}

// updateDWONameCompDir points the skeleton at the split object it is about
// to get: DW_AT_dwo_name is replaced by the output name and, with an output
// directory, DW_AT_comp_dir by that directory.
func (r *Rewriter) updateDWONameCompDir(uc *unitContext) {
	root := uc.unit.Root
	if root == nil {
		return
	}

	name := r.getDWOName(uc.unit)
	f, ok := root.Field(types.AttrGNUDwoName)
	if !ok {
		f, ok = root.Field(types.AttrDwoName)
	}
	if ok {
		r.patchStrp(uc, root, f, name)
	}

	if r.cfg.DwarfOutputPath == "" {
		return
	}
	if f, ok := root.Field(dwarf.AttrCompDir); ok {
		r.patchStrp(uc, root, f, r.cfg.DwarfOutputPath)
	}
}

func (r *Rewriter) patchStrp(uc *unitContext, e *dwarfinfo.Entry, f *dwarfinfo.Field, s string) {
	if f.Form != types.FormStrp {
		uc.diag.Warn(logging.KindUnexpectedEncoding).
			Str("die", hex(e.Offset)).
			Stringer("attr", f.Attr).
			Stringer("form", f.Form).
			Msg("string attribute is not DW_FORM_strp, leaving it unchanged")
		return
	}
	uc.patches.AddLE32(f.ValueOffset, r.strs.AddString(s))
}
