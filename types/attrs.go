package types

import (
	"github.com/blacktop/go-dwarf"
)

// GNU split-DWARF attributes not covered by the dwarf package.
const (
	AttrGNUDwoName    dwarf.Attr = 0x2130
	AttrGNUDwoID      dwarf.Attr = 0x2131
	AttrGNURangesBase dwarf.Attr = 0x2132
	AttrGNUAddrBase   dwarf.Attr = 0x2133
	AttrGNUPubnames   dwarf.Attr = 0x2134
	AttrGNUPubtypes   dwarf.Attr = 0x2135

	// DW_AT_dwo_name as spelled by DWARF 5 producers emitting v4 skeletons.
	AttrDwoName dwarf.Attr = 0x76
)

// Tags that open a lexical scope with address ranges.
const (
	TagTryBlock   dwarf.Tag = 0x32
	TagCatchBlock dwarf.Tag = 0x25
)

// Fixed layout of a DWARF32 unit header (v2-v4).
const (
	UnitLengthSize        = 4
	UnitVersionOffset     = 4
	UnitAbbrevFieldOffset = 6
	UnitAddrSizeOffset    = 10
	CompileUnitHeaderSize = 11
	TypeUnitHeaderSize    = 23
)

// MaxVersion is the newest unit version this rewriter understands.
const MaxVersion = 4
