package dwarfinfo

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/blacktop/go-dwarf"

	"github.com/blacktop/go-dwarfrewrite/pkg/abbrev"
	"github.com/blacktop/go-dwarfrewrite/types"
)

// Unit is one compile or type unit header plus the root attributes the
// rewriter needs.
type Unit struct {
	Index        int
	Offset       uint64
	Length       uint64
	Version      uint16
	HeaderSize   int
	AbbrevOffset uint64
	AddrSize     int

	TypeUnit   bool
	Signature  uint64
	TypeOffset uint64

	DWOID    uint64
	HasDWOID bool

	AddrBase      uint64
	HasAddrBase   bool
	RangesBase    uint64
	HasRangesBase bool

	// BaseAddress is the unit base used by range and location lists.
	BaseAddress uint64

	Root *Entry

	data     *Data
	section  []byte
	abbrevs  *abbrev.Table
	skeleton *Unit
}

func (u *Unit) String() string {
	return fmt.Sprintf("unit %d @ %#x (v%d)", u.Index, u.Offset, u.Version)
}

// NextOffset returns the offset of the unit that follows u.
func (u *Unit) NextOffset() uint64 {
	return u.Offset + types.UnitLengthSize + u.Length
}

// FirstEntryOffset returns the offset of the root entry.
func (u *Unit) FirstEntryOffset() uint64 {
	return u.Offset + uint64(u.HeaderSize)
}

// Supported reports whether the unit's version can be rewritten.
func (u *Unit) Supported() bool {
	return u.HeaderSize > 0
}

// IsSplit reports whether the unit lives in a split object.
func (u *Unit) IsSplit() bool { return u.data.split }

// Data returns the object the unit belongs to.
func (u *Unit) Data() *Data { return u.data }

// Section returns the bytes of the section the unit lives in.
func (u *Unit) Section() []byte { return u.section }

// Abbrevs returns the unit's abbreviation table.
func (u *Unit) Abbrevs() *abbrev.Table { return u.abbrevs }

// Skeleton returns the primary unit a split unit was attached to.
func (u *Unit) Skeleton() *Unit { return u.skeleton }

func (u *Unit) readRoot() error {
	if u.FirstEntryOffset() >= u.NextOffset() {
		return nil
	}
	root, err := u.EntryAt(u.FirstEntryOffset())
	if err != nil {
		return fmt.Errorf("failed to read root of unit at %#x: %w", u.Offset, err)
	}
	if root.Decl == nil {
		return nil
	}
	u.Root = root
	if f, ok := root.Field(types.AttrGNUDwoID); ok {
		u.DWOID, u.HasDWOID = f.Val, true
	}
	if f, ok := root.Field(types.AttrGNUAddrBase); ok {
		u.AddrBase, u.HasAddrBase = f.Val, true
	}
	if f, ok := root.Field(types.AttrGNURangesBase); ok {
		u.RangesBase, u.HasRangesBase = f.Val, true
	}
	if f, ok := root.Field(dwarf.AttrLowpc); ok && f.Form == types.FormAddr {
		u.BaseAddress = f.Val
	}
	return nil
}

// SetSkeleton attaches a split unit to its primary (skeleton) unit. The
// split unit inherits the skeleton's address table base, ranges base, and
// base address.
func (u *Unit) SetSkeleton(skel *Unit) {
	u.skeleton = skel
	u.AddrBase, u.HasAddrBase = skel.AddrBase, skel.HasAddrBase
	u.RangesBase, u.HasRangesBase = skel.RangesBase, skel.HasRangesBase
	u.BaseAddress = skel.BaseAddress
	if u.Root == nil {
		return
	}
	if f, ok := u.Root.Field(dwarf.AttrLowpc); ok && f.Form == types.FormGNUAddrIndex {
		if addr, err := u.Address(f.Val); err == nil {
			u.BaseAddress = addr
		}
	}
}

func (u *Unit) primary() *Data {
	if u.skeleton != nil {
		return u.skeleton.data
	}
	return u.data
}

// Address resolves an address table index.
func (u *Unit) Address(index uint64) (uint64, error) {
	addr := u.primary().Addr
	off := u.AddrBase + index*uint64(u.AddrSize)
	if index > math.MaxUint32 || off+uint64(u.AddrSize) > uint64(len(addr)) {
		return 0, &FormatError{int64(off), "address index out of range", index}
	}
	return readAddr(addr[off:], u.AddrSize), nil
}

// AddressTable returns the original address table of a split unit.
func (u *Unit) AddressTable() []uint64 {
	if !u.HasAddrBase {
		return nil
	}
	return u.primary().AddressTable(u.AddrBase, u.AddrSize)
}

// LowHighPC returns the [low, high) pair of e. ok is false when e has no
// resolvable pair.
func (u *Unit) LowHighPC(e *Entry) (low, high uint64, ok bool, err error) {
	lf, ok := e.Field(dwarf.AttrLowpc)
	if !ok {
		return 0, 0, false, nil
	}
	hf, ok := e.Field(dwarf.AttrHighpc)
	if !ok {
		return 0, 0, false, nil
	}
	if low, err = u.addressValue(lf); err != nil {
		return 0, 0, false, err
	}
	switch hf.Form.Class() {
	case types.ClassAddress, types.ClassAddrIndex:
		if high, err = u.addressValue(hf); err != nil {
			return 0, 0, false, err
		}
	case types.ClassConstant:
		high = low + hf.Val
	default:
		return 0, 0, false, nil
	}
	return low, high, true, nil
}

func (u *Unit) addressValue(f *Field) (uint64, error) {
	switch f.Form {
	case types.FormAddr:
		return f.Val, nil
	case types.FormGNUAddrIndex:
		return u.Address(f.Val)
	}
	return 0, &FormatError{int64(f.Offset), "unexpected address form", f.Form}
}

// AddressValue returns the address held by f, resolving table indices.
func (u *Unit) AddressValue(f *Field) (uint64, error) {
	return u.addressValue(f)
}

// AddressRanges returns the ranges covered by e, from DW_AT_ranges when
// present, otherwise from its low/high pair. A nil list means e has no
// address range.
func (u *Unit) AddressRanges(e *Entry) (types.RangeList, error) {
	if f, ok := e.Field(dwarf.AttrRanges); ok {
		return u.RangeList(f.Val)
	}
	low, high, ok, err := u.LowHighPC(e)
	if err != nil || !ok {
		return nil, err
	}
	if high <= low {
		return nil, nil
	}
	return types.RangeList{{Low: low, High: high}}, nil
}

// RangeList decodes the .debug_ranges list at off, relative to the unit's
// ranges base when it has one.
func (u *Unit) RangeList(off uint64) (types.RangeList, error) {
	sect := u.primary().Ranges
	if u.IsSplit() {
		off += u.RangesBase
	}
	size := uint64(u.AddrSize)
	largest := uint64(math.MaxUint64)
	if size == 4 {
		largest = math.MaxUint32
	}
	base := u.BaseAddress
	var out types.RangeList
	for {
		if off+2*size > uint64(len(sect)) {
			return nil, &FormatError{int64(off), "range list runs past section end", nil}
		}
		start := readAddr(sect[off:], u.AddrSize)
		end := readAddr(sect[off+size:], u.AddrSize)
		off += 2 * size
		switch {
		case start == 0 && end == 0:
			return out, nil
		case start == largest:
			base = end
		case end > start:
			out = append(out, types.AddressRange{Low: base + start, High: base + end})
		}
	}
}

// LocationList decodes the location list at off, from .debug_loc for a
// primary unit or from .debug_loc.dwo for a split unit. Addresses are
// absolute.
func (u *Unit) LocationList(off uint64) (types.LocationList, error) {
	if u.IsSplit() {
		return u.splitLocationList(off)
	}
	sect := u.data.Loc
	size := uint64(u.AddrSize)
	largest := uint64(math.MaxUint64)
	if size == 4 {
		largest = math.MaxUint32
	}
	base := u.BaseAddress
	var out types.LocationList
	for {
		if off+2*size > uint64(len(sect)) {
			return nil, &FormatError{int64(off), "location list runs past section end", nil}
		}
		start := readAddr(sect[off:], u.AddrSize)
		end := readAddr(sect[off+size:], u.AddrSize)
		off += 2 * size
		switch {
		case start == 0 && end == 0:
			return out, nil
		case start == largest:
			base = end
			continue
		}
		expr, n, err := readExpr(sect, off)
		if err != nil {
			return nil, err
		}
		off += n
		out = append(out, types.LocationEntry{Low: base + start, High: base + end, Expr: expr})
	}
}

func readExpr(sect []byte, off uint64) ([]byte, uint64, error) {
	if off+2 > uint64(len(sect)) {
		return nil, 0, &FormatError{int64(off), "truncated location expression length", nil}
	}
	l := uint64(binary.LittleEndian.Uint16(sect[off:]))
	if off+2+l > uint64(len(sect)) {
		return nil, 0, &FormatError{int64(off), "truncated location expression", l}
	}
	return sect[off+2 : off+2+l], 2 + l, nil
}

func (u *Unit) splitLocationList(off uint64) (types.LocationList, error) {
	sect := u.data.Loc
	uleb := func() (uint64, error) {
		if off >= uint64(len(sect)) {
			return 0, &FormatError{int64(off), "location list runs past section end", nil}
		}
		v, n, err := types.Uleb128(sect[off:])
		if err != nil {
			return 0, &FormatError{int64(off), err.Error(), nil}
		}
		off += uint64(n)
		return v, nil
	}
	addr := func() (uint64, error) {
		idx, err := uleb()
		if err != nil {
			return 0, err
		}
		return u.Address(idx)
	}
	var out types.LocationList
	for {
		if off >= uint64(len(sect)) {
			return nil, &FormatError{int64(off), "location list runs past section end", nil}
		}
		kind := sect[off]
		off++
		var low, high uint64
		var err error
		switch kind {
		case types.DwoLLEEndOfList:
			return out, nil
		case types.DwoLLEBaseAddressSelection:
			// Split location lists carry absolute addresses; the base is
			// consumed and ignored.
			if _, err = addr(); err != nil {
				return nil, err
			}
			continue
		case types.DwoLLEStartEnd:
			if low, err = addr(); err != nil {
				return nil, err
			}
			if high, err = addr(); err != nil {
				return nil, err
			}
		case types.DwoLLEStartLength:
			if low, err = addr(); err != nil {
				return nil, err
			}
			if off+4 > uint64(len(sect)) {
				return nil, &FormatError{int64(off), "truncated location length", nil}
			}
			high = low + uint64(binary.LittleEndian.Uint32(sect[off:]))
			off += 4
		default:
			return nil, &FormatError{int64(off - 1), "unknown split location list entry kind", kind}
		}
		expr, n, err := readExpr(sect, off)
		if err != nil {
			return nil, err
		}
		off += n
		out = append(out, types.LocationEntry{Low: low, High: high, Expr: expr})
	}
}

// DWOName returns the split object name recorded on the root.
func (u *Unit) DWOName() (string, bool) {
	if u.Root == nil {
		return "", false
	}
	if f, ok := u.Root.Field(types.AttrGNUDwoName); ok {
		return f.Str, true
	}
	if f, ok := u.Root.Field(types.AttrDwoName); ok {
		return f.Str, true
	}
	return "", false
}

// CompDir returns DW_AT_comp_dir of the root.
func (u *Unit) CompDir() (string, bool) {
	if u.Root == nil {
		return "", false
	}
	if f, ok := u.Root.Field(dwarf.AttrCompDir); ok {
		return f.Str, true
	}
	return "", false
}
