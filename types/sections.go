package types

// SectionKind identifies a split-DWARF section contribution (DW_SECT_*, DWP v2).
type SectionKind uint32

const (
	SectInfo       SectionKind = 1
	SectTypes      SectionKind = 2
	SectAbbrev     SectionKind = 3
	SectLine       SectionKind = 4
	SectLoc        SectionKind = 5
	SectStrOffsets SectionKind = 6
	SectMacinfo    SectionKind = 7
	SectMacro      SectionKind = 8

	// Sections that are part of a split object but have no index column.
	SectUnknown SectionKind = 0
)

var sectStrings = []intName{
	{uint32(SectInfo), "DW_SECT_INFO"},
	{uint32(SectTypes), "DW_SECT_TYPES"},
	{uint32(SectAbbrev), "DW_SECT_ABBREV"},
	{uint32(SectLine), "DW_SECT_LINE"},
	{uint32(SectLoc), "DW_SECT_LOC"},
	{uint32(SectStrOffsets), "DW_SECT_STR_OFFSETS"},
	{uint32(SectMacinfo), "DW_SECT_MACINFO"},
	{uint32(SectMacro), "DW_SECT_MACRO"},
}

func (k SectionKind) String() string { return stringName(uint32(k), sectStrings, false) }

// MaxSectionKind is the number of index columns a DWP v2 index may carry.
const MaxSectionKind = 8

// Primary debug section names.
const (
	SectionInfo     = ".debug_info"
	SectionTypes    = ".debug_types"
	SectionAbbrev   = ".debug_abbrev"
	SectionStr      = ".debug_str"
	SectionRanges   = ".debug_ranges"
	SectionLoc      = ".debug_loc"
	SectionAddr     = ".debug_addr"
	SectionARanges  = ".debug_aranges"
	SectionLine     = ".debug_line"
	SectionGdbIndex = ".gdb_index"
)

// Split object section names.
const (
	SectionInfoDWO       = ".debug_info.dwo"
	SectionTypesDWO      = ".debug_types.dwo"
	SectionStrOffsetsDWO = ".debug_str_offsets.dwo"
	SectionStrDWO        = ".debug_str.dwo"
	SectionLocDWO        = ".debug_loc.dwo"
	SectionAbbrevDWO     = ".debug_abbrev.dwo"
	SectionLineDWO       = ".debug_line.dwo"
	SectionCUIndex       = ".debug_cu_index"
)

// SplitSectionKind maps a split object section name to its index column.
// ok is false for sections the rewriter does not know how to carry.
func SplitSectionKind(name string) (SectionKind, bool) {
	switch name {
	case SectionInfoDWO:
		return SectInfo, true
	case SectionTypesDWO:
		return SectTypes, true
	case SectionStrOffsetsDWO:
		return SectStrOffsets, true
	case SectionLocDWO:
		return SectLoc, true
	case SectionAbbrevDWO:
		return SectAbbrev, true
	case SectionLineDWO:
		return SectLine, true
	case SectionStrDWO:
		return SectUnknown, true
	}
	return SectUnknown, false
}
