package dwarfrewrite

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"path/filepath"
	"testing"

	"github.com/blacktop/go-dwarf"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blacktop/go-dwarfrewrite/internal/dwarftest"
	"github.com/blacktop/go-dwarfrewrite/internal/logging"
	"github.com/blacktop/go-dwarfrewrite/pkg/abbrev"
	"github.com/blacktop/go-dwarfrewrite/pkg/dwarfinfo"
	"github.com/blacktop/go-dwarfrewrite/pkg/dwp"
	"github.com/blacktop/go-dwarfrewrite/pkg/elfobj"
	"github.com/blacktop/go-dwarfrewrite/pkg/gdbindex"
	"github.com/blacktop/go-dwarfrewrite/pkg/oracle"
	"github.com/blacktop/go-dwarfrewrite/pkg/sink"
	"github.com/blacktop/go-dwarfrewrite/types"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Log = logging.Config{Level: "disabled", Output: io.Discard}
	return cfg
}

func primarySections(s dwarfinfo.Sections) map[string][]byte {
	in := make(map[string][]byte)
	for name, data := range map[string][]byte{
		types.SectionInfo:   s.Info,
		types.SectionTypes:  s.Types,
		types.SectionAbbrev: s.Abbrev,
		types.SectionStr:    s.Str,
		types.SectionRanges: s.Ranges,
		types.SectionLoc:    s.Loc,
		types.SectionAddr:   s.Addr,
		types.SectionLine:   s.Line,
	} {
		if len(data) > 0 {
			in[name] = append([]byte(nil), data...)
		}
	}
	return in
}

func splitSectionsOf(s dwarfinfo.Sections) map[string][]byte {
	in := make(map[string][]byte)
	for name, data := range map[string][]byte{
		types.SectionInfoDWO:       s.Info,
		types.SectionAbbrevDWO:     s.Abbrev,
		types.SectionStrDWO:        s.Str,
		types.SectionStrOffsetsDWO: s.StrOffsets,
		types.SectionLocDWO:        s.Loc,
	} {
		if len(data) > 0 {
			in[name] = append([]byte(nil), data...)
		}
	}
	return in
}

func outputData(t *testing.T, m *sink.Memory) *dwarfinfo.Data {
	t.Helper()
	get := func(name string) []byte {
		data, err := m.Output(name)
		if err != nil {
			return nil
		}
		return data
	}
	d, err := dwarfinfo.New(dwarfinfo.Sections{
		Info:   get(types.SectionInfo),
		Types:  get(types.SectionTypes),
		Abbrev: get(types.SectionAbbrev),
		Str:    get(types.SectionStr),
		Ranges: get(types.SectionRanges),
		Loc:    get(types.SectionLoc),
		Addr:   get(types.SectionAddr),
		Line:   get(types.SectionLine),
	})
	require.NoError(t, err)
	return d
}

func entryAt(t *testing.T, u *dwarfinfo.Unit, off uint64) *dwarfinfo.Entry {
	t.Helper()
	e, err := u.EntryAt(off)
	require.NoError(t, err)
	require.NotNil(t, e.Decl)
	return e
}

func entryRanges(t *testing.T, u *dwarfinfo.Unit, off uint64) types.RangeList {
	t.Helper()
	rl, err := u.AddressRanges(entryAt(t, u, off))
	require.NoError(t, err)
	return rl
}

func sectionMap(sections []elfobj.Section) map[string][]byte {
	out := make(map[string][]byte, len(sections))
	for _, s := range sections {
		out[s.Name] = s.Data
	}
	return out
}

// functionsFixture is one unit holding
//
//	f2 [0x2000,0x2040)  single output range, shares its abbreviation with f1
//	f1 [0x1000,0x1100)  split in two, with a lexical block inside
//	f3 [0x3000,0x3020)  single output range, abbreviation of its own
type functionsFixture struct {
	in     map[string][]byte
	oracle *oracle.Map

	cu, f1, f2, f3, blk uint64
	origAbbrevLen       uint64
}

func newFunctionsFixture(t *testing.T) *functionsFixture {
	t.Helper()
	b := dwarftest.New()
	tab := b.Abbrevs(
		dwarftest.Decl{Code: 1, Tag: dwarf.TagCompileUnit, Children: true, Attrs: []abbrev.AttrSpec{
			dwarftest.Spec(dwarf.AttrName, types.FormStrp),
			dwarftest.Spec(dwarf.AttrLowpc, types.FormAddr),
			dwarftest.Spec(dwarf.AttrHighpc, types.FormData4),
		}},
		dwarftest.Decl{Code: 2, Tag: dwarf.TagSubprogram, Children: true, Attrs: []abbrev.AttrSpec{
			dwarftest.Spec(dwarf.AttrName, types.FormString),
			dwarftest.Spec(dwarf.AttrLowpc, types.FormAddr),
			dwarftest.Spec(dwarf.AttrHighpc, types.FormData8),
		}},
		dwarftest.Decl{Code: 3, Tag: dwarf.TagSubprogram, Attrs: []abbrev.AttrSpec{
			dwarftest.Spec(dwarf.AttrName, types.FormString),
			dwarftest.Spec(dwarf.AttrLowpc, types.FormAddr),
			dwarftest.Spec(dwarf.AttrHighpc, types.FormData4),
		}},
		dwarftest.Decl{Code: 4, Tag: dwarf.TagLexDwarfBlock, Attrs: []abbrev.AttrSpec{
			dwarftest.Spec(dwarf.AttrLowpc, types.FormAddr),
			dwarftest.Spec(dwarf.AttrHighpc, types.FormData4),
		}},
	)

	fx := &functionsFixture{}
	u := b.BeginUnit(tab)
	fx.cu = u.Entry(1, "a.c", 0x1000, 0x3000)
	fx.f2 = u.Entry(2, "f2", 0x2000, 0x40)
	u.Null()
	fx.f1 = u.Entry(2, "f1", 0x1000, 0x100)
	fx.blk = u.Entry(4, 0x1010, 0x20)
	u.Null()
	fx.f3 = u.Entry(3, "f3", 0x3000, 0x20)
	u.Null()
	u.End()

	s := b.Sections()
	fx.in = primarySections(s)
	fx.origAbbrevLen = uint64(len(s.Abbrev))

	var err error
	fx.oracle, err = oracle.New(
		&oracle.Func{Name: "f1", Input: types.AddressRange{Low: 0x1000, High: 0x1100},
			Output: []types.AddressRange{{Low: 0x5000, High: 0x5080}, {Low: 0x6000, High: 0x6080}}},
		&oracle.Func{Name: "f2", Input: types.AddressRange{Low: 0x2000, High: 0x2040},
			Output: []types.AddressRange{{Low: 0x7000, High: 0x7040}}},
		&oracle.Func{Name: "f3", Input: types.AddressRange{Low: 0x3000, High: 0x3020},
			Output: []types.AddressRange{{Low: 0x8000, High: 0x8020}}},
	)
	require.NoError(t, err)
	return fx
}

func (fx *functionsFixture) check(t *testing.T, m *sink.Memory) {
	t.Helper()
	out := outputData(t, m)
	require.Len(t, out.Units(), 1)
	u := out.Units()[0]

	assert.Equal(t, fx.origAbbrevLen, u.AbbrevOffset, "patched table goes after the original section")

	if diff := cmp.Diff(types.RangeList{
		{Low: 0x5000, High: 0x5080},
		{Low: 0x6000, High: 0x6080},
		{Low: 0x7000, High: 0x7040},
		{Low: 0x8000, High: 0x8020},
	}, entryRanges(t, u, fx.cu)); diff != "" {
		t.Errorf("unit ranges mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(types.RangeList{{Low: 0x5000, High: 0x5080}, {Low: 0x6000, High: 0x6080}}, entryRanges(t, u, fx.f1)); diff != "" {
		t.Errorf("f1 ranges mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(types.RangeList{{Low: 0x7000, High: 0x7040}}, entryRanges(t, u, fx.f2)); diff != "" {
		t.Errorf("f2 ranges mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(types.RangeList{{Low: 0x5010, High: 0x5030}}, entryRanges(t, u, fx.blk)); diff != "" {
		t.Errorf("block ranges mismatch (-want +got):\n%s", diff)
	}

	f2 := entryAt(t, u, fx.f2)
	assert.True(t, f2.Decl.Has(dwarf.AttrRanges), "f2 follows the abbreviation f1 converted")

	f3 := entryAt(t, u, fx.f3)
	assert.False(t, f3.Decl.Has(dwarf.AttrRanges), "f3 keeps its low/high pair")
	low, high, ok, err := u.LowHighPC(f3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(0x8000), low)
	assert.Equal(t, uint64(0x8020), high)
}

func TestUpdateDebugInfoFunctions(t *testing.T) {
	fx := newFunctionsFixture(t)
	m := sink.NewMemory(fx.in)

	rw, err := New(testConfig(), Options{Oracle: fx.oracle, Sink: m})
	require.NoError(t, err)
	require.NoError(t, rw.UpdateDebugInfo())

	fx.check(t, m)

	abbrevs, ok := m.Section(types.SectionAbbrev)
	require.True(t, ok)
	assert.Equal(t, fx.in[types.SectionAbbrev], abbrevs[:fx.origAbbrevLen], "original tables are kept verbatim")

	info, _ := m.Section(types.SectionInfo)
	assert.Len(t, info, len(fx.in[types.SectionInfo]))

	_, ok = m.Section(types.SectionARanges)
	assert.True(t, ok)

	assert.Error(t, rw.UpdateDebugInfo(), "a session updates once")
}

func TestUpdateDebugInfoParallel(t *testing.T) {
	fx := newFunctionsFixture(t)
	m := sink.NewMemory(fx.in)

	cfg := testConfig()
	cfg.Deterministic = false
	cfg.Jobs = 4
	rw, err := New(cfg, Options{Oracle: fx.oracle, Sink: m})
	require.NoError(t, err)
	require.NoError(t, rw.UpdateDebugInfo())

	fx.check(t, m)
}

func TestUpdateDebugInfoUnitBase(t *testing.T) {
	b := dwarftest.New()
	tab := b.Abbrevs(
		dwarftest.Decl{Code: 1, Tag: dwarf.TagCompileUnit, Attrs: []abbrev.AttrSpec{
			dwarftest.Spec(dwarf.AttrLowpc, types.FormAddr),
			dwarftest.Spec(dwarf.AttrRanges, types.FormSecOffset),
		}},
	)
	// offsets are relative to the unit base 0x1000
	rl := b.Ranges(types.RangeList{{Low: 0, High: 0x100}})
	u := b.BeginUnit(tab)
	cu := u.Entry(1, 0x1000, rl)
	u.End()

	orc, err := oracle.New(&oracle.Func{Name: "f", Input: types.AddressRange{Low: 0x1000, High: 0x1100},
		Output: []types.AddressRange{{Low: 0x5000, High: 0x5100}}})
	require.NoError(t, err)

	m := sink.NewMemory(primarySections(b.Sections()))
	rw, err := New(testConfig(), Options{Oracle: orc, Sink: m})
	require.NoError(t, err)
	require.NoError(t, rw.UpdateDebugInfo())

	out := outputData(t, m).Units()[0]
	low, ok := entryAt(t, out, cu).Field(dwarf.AttrLowpc)
	require.True(t, ok)
	assert.Zero(t, low.Val, "range lists now hold absolute addresses")
	if diff := cmp.Diff(types.RangeList{{Low: 0x5000, High: 0x5100}}, entryRanges(t, out, cu)); diff != "" {
		t.Errorf("unit ranges mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateDebugInfoCrossUnitConversion(t *testing.T) {
	for _, deterministic := range []bool{true, false} {
		t.Run(fmt.Sprintf("deterministic=%v", deterministic), func(t *testing.T) {
			b := dwarftest.New()
			// both units share one table
			tab := b.Abbrevs(
				dwarftest.Decl{Code: 1, Tag: dwarf.TagCompileUnit, Children: true, Attrs: []abbrev.AttrSpec{
					dwarftest.Spec(dwarf.AttrLowpc, types.FormAddr),
					dwarftest.Spec(dwarf.AttrHighpc, types.FormData4),
				}},
				dwarftest.Decl{Code: 2, Tag: dwarf.TagSubprogram, Attrs: []abbrev.AttrSpec{
					dwarftest.Spec(dwarf.AttrName, types.FormString),
					dwarftest.Spec(dwarf.AttrLowpc, types.FormAddr),
					dwarftest.Spec(dwarf.AttrHighpc, types.FormData8),
				}},
			)
			u0 := b.BeginUnit(tab)
			u0.Entry(1, 0x2000, 0x40)
			f2 := u0.Entry(2, "f2", 0x2000, 0x40)
			u0.Null()
			u0.End()
			u1 := b.BeginUnit(tab)
			u1.Entry(1, 0x1000, 0x100)
			f1 := u1.Entry(2, "f1", 0x1000, 0x100)
			u1.Null()
			u1.End()

			orc, err := oracle.New(
				&oracle.Func{Name: "f1", Input: types.AddressRange{Low: 0x1000, High: 0x1100},
					Output: []types.AddressRange{{Low: 0x5000, High: 0x5080}, {Low: 0x6000, High: 0x6080}}},
				&oracle.Func{Name: "f2", Input: types.AddressRange{Low: 0x2000, High: 0x2040},
					Output: []types.AddressRange{{Low: 0x7000, High: 0x7040}}},
			)
			require.NoError(t, err)

			cfg := testConfig()
			cfg.Deterministic = deterministic
			cfg.Jobs = 2
			m := sink.NewMemory(primarySections(b.Sections()))
			rw, err := New(cfg, Options{Oracle: orc, Sink: m})
			require.NoError(t, err)
			require.NoError(t, rw.UpdateDebugInfo())

			out := outputData(t, m)
			require.Len(t, out.Units(), 2)
			assert.Equal(t, out.Units()[0].AbbrevOffset, out.Units()[1].AbbrevOffset)

			assert.True(t, entryAt(t, out.Units()[0], f2).Decl.Has(dwarf.AttrRanges), "f2 follows the conversion made in the other unit")
			if diff := cmp.Diff(types.RangeList{{Low: 0x7000, High: 0x7040}}, entryRanges(t, out.Units()[0], f2)); diff != "" {
				t.Errorf("f2 ranges mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(types.RangeList{{Low: 0x5000, High: 0x5080}, {Low: 0x6000, High: 0x6080}},
				entryRanges(t, out.Units()[1], f1)); diff != "" {
				t.Errorf("f1 ranges mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUpdateDebugInfoUntouchedAbbrevs(t *testing.T) {
	b := dwarftest.New()
	tab := b.Abbrevs(
		dwarftest.Decl{Code: 1, Tag: dwarf.TagCompileUnit, Children: true, Attrs: []abbrev.AttrSpec{
			dwarftest.Spec(dwarf.AttrName, types.FormString),
		}},
		dwarftest.Decl{Code: 2, Tag: dwarf.TagBaseType, Attrs: []abbrev.AttrSpec{
			dwarftest.Spec(dwarf.AttrName, types.FormString),
			dwarftest.Spec(dwarf.AttrByteSize, types.FormData1),
		}},
	)
	u := b.BeginUnit(tab)
	u.Entry(1, "types.c")
	u.Entry(2, "int", 4)
	u.Null()
	u.End()

	in := primarySections(b.Sections())
	orc, err := oracle.New()
	require.NoError(t, err)
	m := sink.NewMemory(in)
	rw, err := New(testConfig(), Options{Oracle: orc, Sink: m})
	require.NoError(t, err)
	require.NoError(t, rw.UpdateDebugInfo())

	abbrevs, ok := m.Section(types.SectionAbbrev)
	require.True(t, ok)
	assert.Equal(t, in[types.SectionAbbrev], abbrevs)
	info, _ := m.Section(types.SectionInfo)
	assert.Equal(t, in[types.SectionInfo], info)
	assert.Equal(t, uint64(0), outputData(t, m).Units()[0].AbbrevOffset)
}

func TestUpdateDebugInfoScopeTranslationMiss(t *testing.T) {
	b := dwarftest.New()
	tab := b.Abbrevs(
		dwarftest.Decl{Code: 1, Tag: dwarf.TagCompileUnit, Children: true, Attrs: []abbrev.AttrSpec{
			dwarftest.Spec(dwarf.AttrLowpc, types.FormAddr),
			dwarftest.Spec(dwarf.AttrHighpc, types.FormData4),
		}},
		dwarftest.Decl{Code: 2, Tag: dwarf.TagSubprogram, Children: true, Attrs: []abbrev.AttrSpec{
			dwarftest.Spec(dwarf.AttrLowpc, types.FormAddr),
			dwarftest.Spec(dwarf.AttrHighpc, types.FormData4),
		}},
		dwarftest.Decl{Code: 3, Tag: dwarf.TagLexDwarfBlock, Attrs: []abbrev.AttrSpec{
			dwarftest.Spec(dwarf.AttrLowpc, types.FormAddr),
			dwarftest.Spec(dwarf.AttrHighpc, types.FormData4),
		}},
	)
	u := b.BeginUnit(tab)
	u.Entry(1, 0x1000, 0x100)
	u.Entry(2, 0x1000, 0x100)
	blk := u.Entry(3, 0x1080, 0x20)
	u.Null()
	u.Null()
	u.End()

	// only the first 0x10 bytes of the body survive
	orc, err := oracle.New(&oracle.Func{Name: "f", Input: types.AddressRange{Low: 0x1000, High: 0x1100},
		Output: []types.AddressRange{{Low: 0x5000, High: 0x5010}},
		Blocks: []oracle.Block{{Input: 0x1000, Size: 0x10, Output: 0x5000}}})
	require.NoError(t, err)

	var log bytes.Buffer
	cfg := testConfig()
	cfg.Log = logging.Config{Level: "warn", Output: &log}
	cfg.Verbosity = 1
	m := sink.NewMemory(primarySections(b.Sections()))
	rw, err := New(cfg, Options{Oracle: orc, Sink: m})
	require.NoError(t, err)
	require.NoError(t, rw.UpdateDebugInfo())

	assert.Empty(t, entryRanges(t, outputData(t, m).Units()[0], blk))
	assert.Contains(t, log.String(), `"kind":"translation-miss"`)
	assert.Contains(t, log.String(), "scope ranges have no output addresses")
}

func TestUpdateDebugInfoSplitHighPCAddress(t *testing.T) {
	pb := dwarftest.New()
	tab := pb.Abbrevs(dwarftest.Decl{Code: 1, Tag: dwarf.TagCompileUnit, Attrs: []abbrev.AttrSpec{
		dwarftest.Spec(types.AttrGNUDwoName, types.FormStrp),
		dwarftest.Spec(dwarf.AttrCompDir, types.FormStrp),
		dwarftest.Spec(types.AttrGNUDwoID, types.FormData8),
		dwarftest.Spec(types.AttrGNUAddrBase, types.FormSecOffset),
		dwarftest.Spec(dwarf.AttrLowpc, types.FormAddr),
		dwarftest.Spec(dwarf.AttrHighpc, types.FormData4),
	}})
	base := pb.Addr(0x1000)
	u := pb.BeginUnit(tab)
	u.Entry(1, "unit", "/src", 0xaaaa, base, 0x1000, 0x100)
	u.End()

	sb := dwarftest.New()
	stab := sb.Abbrevs(
		dwarftest.Decl{Code: 1, Tag: dwarf.TagCompileUnit, Children: true, Attrs: []abbrev.AttrSpec{
			dwarftest.Spec(types.AttrGNUDwoID, types.FormData8),
		}},
		dwarftest.Decl{Code: 2, Tag: dwarf.TagSubprogram, Attrs: []abbrev.AttrSpec{
			dwarftest.Spec(dwarf.AttrLowpc, types.FormGNUAddrIndex),
			dwarftest.Spec(dwarf.AttrHighpc, types.FormAddr),
		}},
	)
	su := sb.BeginUnit(stab)
	su.Entry(1, 0xaaaa)
	fn := su.Entry(2, 0, 0x1100)
	su.Null()
	su.End()

	orc, err := oracle.New(&oracle.Func{Input: types.AddressRange{Low: 0x1000, High: 0x1100},
		Output: []types.AddressRange{{Low: 0x5000, High: 0x5100}}})
	require.NoError(t, err)

	m := sink.NewMemory(primarySections(pb.Sections()))
	splits := SplitObjects{0xaaaa: splitSectionsOf(sb.Sections())}
	rw, err := New(testConfig(), Options{Oracle: orc, Sink: m, Splits: splits, Objects: m})
	require.NoError(t, err)
	require.NoError(t, rw.UpdateDebugInfo())

	// a literal high_pc is not an index into the address table
	addrs, ok := m.Section(types.SectionAddr)
	require.True(t, ok)
	assert.Equal(t, binary.LittleEndian.AppendUint64(nil, 0x5000), addrs)

	skel := outputData(t, m).Units()[0]
	sections, _ := m.Object(m.Objects()[0])
	obj, err := NewSplitObject(sectionMap(sections), 0xaaaa, skel)
	require.NoError(t, err)
	if diff := cmp.Diff(types.RangeList{{Low: 0x5000, High: 0x5100}}, entryRanges(t, obj.Unit, fn)); diff != "" {
		t.Errorf("split function ranges mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateDebugInfoReadableByGoDwarf(t *testing.T) {
	fx := newFunctionsFixture(t)
	m := sink.NewMemory(fx.in)
	rw, err := New(testConfig(), Options{Oracle: fx.oracle, Sink: m})
	require.NoError(t, err)
	require.NoError(t, rw.UpdateDebugInfo())

	sec := func(name string) []byte {
		data, _ := m.Section(name)
		return data
	}
	d, err := dwarf.New(sec(types.SectionAbbrev), nil, nil, sec(types.SectionInfo), nil, nil, sec(types.SectionRanges), sec(types.SectionStr))
	require.NoError(t, err)

	got := make(map[string][][2]uint64)
	r := d.Reader()
	for {
		e, err := r.Next()
		require.NoError(t, err)
		if e == nil {
			break
		}
		if e.Tag != dwarf.TagSubprogram {
			continue
		}
		name, _ := e.Val(dwarf.AttrName).(string)
		rngs, err := d.Ranges(e)
		require.NoError(t, err)
		got[name] = rngs
	}

	want := map[string][][2]uint64{
		"f1": {{0x5000, 0x5080}, {0x6000, 0x6080}},
		"f2": {{0x7000, 0x7040}},
		"f3": {{0x8000, 0x8020}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("go-dwarf view mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateDebugInfoGdbIndex(t *testing.T) {
	fx := newFunctionsFixture(t)

	// v7 index over one unit at offset 0 with an empty address area.
	var idx []byte
	for _, v := range []uint32{7, 24, 40, 40, 40, 44} {
		idx = binary.LittleEndian.AppendUint32(idx, v)
	}
	idx = binary.LittleEndian.AppendUint64(idx, 0)
	idx = binary.LittleEndian.AppendUint64(idx, uint64(len(fx.in[types.SectionInfo])))
	idx = append(idx, 0xaa, 0xbb, 0xcc, 0xdd, 'x')
	fx.in[types.SectionGdbIndex] = idx

	m := sink.NewMemory(fx.in)
	rw, err := New(testConfig(), Options{Oracle: fx.oracle, Sink: m})
	require.NoError(t, err)
	require.NoError(t, rw.UpdateDebugInfo())

	_, ok := m.Section(types.SectionARanges)
	assert.False(t, ok, ".debug_aranges is dropped when .gdb_index is regenerated")

	data, ok := m.Section(types.SectionGdbIndex)
	require.True(t, ok)
	area, err := gdbindex.AddressArea(data)
	require.NoError(t, err)
	if diff := cmp.Diff([]gdbindex.AddressEntry{
		{Low: 0x5000, High: 0x5080},
		{Low: 0x6000, High: 0x6080},
		{Low: 0x7000, High: 0x7040},
		{Low: 0x8000, High: 0x8020},
	}, area); diff != "" {
		t.Errorf("address area mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []byte{0xaa, 0xbb, 0xcc, 0xdd, 'x'}, data[len(data)-5:])
}

func TestUpdateDebugInfoKeepARanges(t *testing.T) {
	fx := newFunctionsFixture(t)
	var idx []byte
	for _, v := range []uint32{7, 24, 40, 40, 40, 40} {
		idx = binary.LittleEndian.AppendUint32(idx, v)
	}
	idx = binary.LittleEndian.AppendUint64(idx, 0)
	idx = binary.LittleEndian.AppendUint64(idx, 0)
	fx.in[types.SectionGdbIndex] = idx

	cfg := testConfig()
	cfg.KeepARanges = true
	m := sink.NewMemory(fx.in)
	rw, err := New(cfg, Options{Oracle: fx.oracle, Sink: m})
	require.NoError(t, err)
	require.NoError(t, rw.UpdateDebugInfo())

	_, ok := m.Section(types.SectionARanges)
	assert.True(t, ok)
}

func TestUpdateDebugInfoLocationLists(t *testing.T) {
	b := dwarftest.New()
	tab := b.Abbrevs(
		dwarftest.Decl{Code: 1, Tag: dwarf.TagCompileUnit, Children: true, Attrs: []abbrev.AttrSpec{
			dwarftest.Spec(dwarf.AttrLowpc, types.FormAddr),
			dwarftest.Spec(dwarf.AttrHighpc, types.FormData4),
		}},
		dwarftest.Decl{Code: 2, Tag: dwarf.TagVariable, Attrs: []abbrev.AttrSpec{
			dwarftest.Spec(dwarf.AttrLocation, types.FormSecOffset),
		}},
		dwarftest.Decl{Code: 3, Tag: dwarf.TagFormalParameter, Attrs: []abbrev.AttrSpec{
			dwarftest.Spec(dwarf.AttrLocation, types.FormData4),
		}},
	)
	// entries are relative to the unit base 0x100
	covered := b.Loc(types.LocationList{{Low: 0, High: 0x40, Expr: []byte{0x50}}})
	dropped := b.Loc(types.LocationList{{Low: 0x900, High: 0x910, Expr: []byte{0x51}}})

	u := b.BeginUnit(tab)
	u.Entry(1, 0x100, 0x100)
	v1 := u.Entry(2, covered)
	v2 := u.Entry(3, dropped)
	u.Null()
	u.End()

	orc, err := oracle.New(&oracle.Func{Name: "f", Input: types.AddressRange{Low: 0x100, High: 0x200},
		Output: []types.AddressRange{{Low: 0x200, High: 0x300}}})
	require.NoError(t, err)

	var log bytes.Buffer
	cfg := testConfig()
	cfg.Log = logging.Config{Level: "warn", Output: &log}

	m := sink.NewMemory(primarySections(b.Sections()))
	rw, err := New(cfg, Options{Oracle: orc, Sink: m})
	require.NoError(t, err)
	require.NoError(t, rw.UpdateDebugInfo())

	out := outputData(t, m)
	ou := out.Units()[0]
	assert.Equal(t, uint64(0), ou.BaseAddress, "unit base is cleared for absolute lists")

	f1, _ := entryAt(t, ou, v1).Field(dwarf.AttrLocation)
	assert.Equal(t, uint64(16), f1.Val, "first list follows the shared empty list")
	ll, err := ou.LocationList(f1.Val)
	require.NoError(t, err)
	if diff := cmp.Diff(types.LocationList{{Low: 0x200, High: 0x240, Expr: []byte{0x50}}}, ll); diff != "" {
		t.Errorf("location list mismatch (-want +got):\n%s", diff)
	}

	f2, _ := entryAt(t, ou, v2).Field(dwarf.AttrLocation)
	assert.Equal(t, uint64(0), f2.Val)
	ll, err = ou.LocationList(f2.Val)
	require.NoError(t, err)
	assert.Empty(t, ll)

	assert.Contains(t, log.String(), `"kind":"translation-miss"`)
}

// splitFixture builds skeletons that all name the split object "unit"
// and one split unit per skeleton with a function and a variable.
type splitFixture struct {
	in     map[string][]byte
	splits SplitObjects
	oracle *oracle.Map
	ids    []uint64
	fn     map[uint64]uint64
	v      map[uint64]uint64
}

func newSplitFixture(t *testing.T, ids ...uint64) *splitFixture {
	t.Helper()
	return newSplitFixtureWithHighPC(t, types.FormData4, ids...)
}

// newSplitFixtureWithHighPC is newSplitFixture with the skeleton high_pc
// encoded as highForm.
func newSplitFixtureWithHighPC(t *testing.T, highForm types.Form, ids ...uint64) *splitFixture {
	t.Helper()
	fx := &splitFixture{
		splits: make(SplitObjects),
		ids:    ids,
		fn:     make(map[uint64]uint64),
		v:      make(map[uint64]uint64),
	}

	pb := dwarftest.New()
	for i, id := range ids {
		// one table per skeleton, as after linking separate objects
		tab := pb.Abbrevs(dwarftest.Decl{Code: 1, Tag: dwarf.TagCompileUnit, Attrs: []abbrev.AttrSpec{
			dwarftest.Spec(types.AttrGNUDwoName, types.FormStrp),
			dwarftest.Spec(dwarf.AttrCompDir, types.FormStrp),
			dwarftest.Spec(types.AttrGNUDwoID, types.FormData8),
			dwarftest.Spec(types.AttrGNUAddrBase, types.FormSecOffset),
			dwarftest.Spec(dwarf.AttrLowpc, types.FormAddr),
			dwarftest.Spec(dwarf.AttrHighpc, highForm),
		}})
		lo := uint64(0x1000 * (i + 1))
		base := pb.Addr(lo, lo+0x10)
		u := pb.BeginUnit(tab)
		u.Entry(1, "unit", "/src", id, base, lo, 0x100)
		u.End()

		sb := dwarftest.New()
		stab := sb.Abbrevs(
			dwarftest.Decl{Code: 1, Tag: dwarf.TagCompileUnit, Children: true, Attrs: []abbrev.AttrSpec{
				dwarftest.Spec(types.AttrGNUDwoID, types.FormData8),
			}},
			dwarftest.Decl{Code: 2, Tag: dwarf.TagSubprogram, Children: true, Attrs: []abbrev.AttrSpec{
				dwarftest.Spec(dwarf.AttrLowpc, types.FormGNUAddrIndex),
				dwarftest.Spec(dwarf.AttrHighpc, types.FormData4),
			}},
			dwarftest.Decl{Code: 3, Tag: dwarf.TagVariable, Attrs: []abbrev.AttrSpec{
				dwarftest.Spec(dwarf.AttrLocation, types.FormSecOffset),
			}},
		)
		loc := sb.SplitLoc(dwarftest.SplitLocEntry{Index: 1, Length: 0x10, Expr: []byte{0x50}})
		su := sb.BeginUnit(stab)
		su.Entry(1, id)
		fx.fn[id] = su.Entry(2, 0, 0x100)
		fx.v[id] = su.Entry(3, loc)
		su.Null()
		su.Null()
		su.End()
		fx.splits[id] = splitSectionsOf(sb.Sections())
	}
	fx.in = primarySections(pb.Sections())

	var fns []*oracle.Func
	for i := range ids {
		lo := uint64(0x1000 * (i + 1))
		out := 0x10000 * uint64(i+1)
		fns = append(fns, &oracle.Func{
			Input:  types.AddressRange{Low: lo, High: lo + 0x100},
			Output: []types.AddressRange{{Low: out, High: out + 0x80}, {Low: out + 0x8000, High: out + 0x8080}},
		})
	}
	var err error
	fx.oracle, err = oracle.New(fns...)
	require.NoError(t, err)
	return fx
}

func TestUpdateDebugInfoSplitUnits(t *testing.T) {
	fx := newSplitFixture(t, 0xaaaa, 0xbbbb)
	m := sink.NewMemory(fx.in)

	cfg := testConfig()
	cfg.DwarfOutputPath = "/dwo"
	rw, err := New(cfg, Options{Oracle: fx.oracle, Sink: m, Splits: fx.splits, Objects: m})
	require.NoError(t, err)
	require.NoError(t, rw.UpdateDebugInfo())

	assert.Equal(t, []string{"/dwo/unit0.dwo", "/dwo/unit1.dwo"}, m.Objects())

	out := outputData(t, m)
	require.Len(t, out.Units(), 2)
	for i, skel := range out.Units() {
		id := fx.ids[i]
		name, ok := skel.DWOName()
		require.True(t, ok)
		assert.Equal(t, filepath.Base(m.Objects()[i]), name)
		dir, _ := skel.CompDir()
		assert.Equal(t, "/dwo", dir)
		assert.True(t, skel.HasRangesBase, "skeleton carries the ranges base its split unit used")

		sections, ok := m.Object(m.Objects()[i])
		require.True(t, ok)
		obj, err := NewSplitObject(sectionMap(sections), id, skel)
		require.NoError(t, err)

		outLo := 0x10000 * uint64(i+1)
		if diff := cmp.Diff(types.RangeList{{Low: outLo, High: outLo + 0x80}, {Low: outLo + 0x8000, High: outLo + 0x8080}},
			entryRanges(t, obj.Unit, fx.fn[id])); diff != "" {
			t.Errorf("split function %d ranges mismatch (-want +got):\n%s", i, diff)
		}

		f, ok := entryAt(t, obj.Unit, fx.v[id]).Field(dwarf.AttrLocation)
		require.True(t, ok)
		ll, err := obj.Unit.LocationList(f.Val)
		require.NoError(t, err)
		if diff := cmp.Diff(types.LocationList{{Low: outLo + 0x10, High: outLo + 0x20, Expr: []byte{0x50}}}, ll); diff != "" {
			t.Errorf("split location list %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestUpdateDebugInfoSplitSkeletonHighData8(t *testing.T) {
	fx := newSplitFixtureWithHighPC(t, types.FormData8, 0xaaaa)
	m := sink.NewMemory(fx.in)

	rw, err := New(testConfig(), Options{Oracle: fx.oracle, Sink: m, Splits: fx.splits, Objects: m})
	require.NoError(t, err)
	require.NoError(t, rw.UpdateDebugInfo())

	// the ranges base fills the twelve bytes low_pc and high_pc gave up
	out := outputData(t, m)
	skel := out.Units()[0]
	require.True(t, skel.HasRangesBase)
	f, ok := skel.Root.Field(types.AttrGNURangesBase)
	require.True(t, ok)
	assert.Equal(t, 12, f.Size)

	info, _ := m.Section(types.SectionInfo)
	assert.Len(t, info, len(fx.in[types.SectionInfo]))

	require.Len(t, m.Objects(), 1)
	sections, _ := m.Object(m.Objects()[0])
	obj, err := NewSplitObject(sectionMap(sections), 0xaaaa, skel)
	require.NoError(t, err)
	if diff := cmp.Diff(types.RangeList{{Low: 0x10000, High: 0x10080}, {Low: 0x18000, High: 0x18080}},
		entryRanges(t, obj.Unit, fx.fn[0xaaaa])); diff != "" {
		t.Errorf("split function ranges mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdateDebugInfoDWP(t *testing.T) {
	fx := newSplitFixture(t, 0xaaaa, 0xbbbb)
	m := sink.NewMemory(fx.in)

	cfg := testConfig()
	cfg.WriteDWP = true
	cfg.Output = "/out/prog"
	rw, err := New(cfg, Options{Oracle: fx.oracle, Sink: m, Splits: fx.splits, Objects: m})
	require.NoError(t, err)
	require.NoError(t, rw.UpdateDebugInfo())

	require.Equal(t, []string{"/out/prog.dwp"}, m.Objects())
	sections, _ := m.Object("/out/prog.dwp")
	pkg, err := NewPackage(sectionMap(sections))
	require.NoError(t, err)

	out := outputData(t, m)
	for i, skel := range out.Units() {
		obj, err := pkg.SplitObject(fx.ids[i], skel)
		require.NoError(t, err)
		rl := entryRanges(t, obj.Unit, fx.fn[fx.ids[i]])
		assert.Len(t, rl, 2)
	}
}

func TestUpdateDebugInfoDuplicateSplitUnit(t *testing.T) {
	fx := newSplitFixture(t, 0xaaaa, 0xaaaa)
	m := sink.NewMemory(fx.in)

	rw, err := New(testConfig(), Options{Oracle: fx.oracle, Sink: m, Splits: fx.splits, Objects: m})
	require.NoError(t, err)
	err = rw.UpdateDebugInfo()
	assert.ErrorIs(t, err, dwp.ErrDuplicateUnit)
	assert.Empty(t, m.Objects())
}

func TestUpdateDebugInfoMissingSplitUnit(t *testing.T) {
	fx := newSplitFixture(t, 0xaaaa)
	m := sink.NewMemory(fx.in)

	rw, err := New(testConfig(), Options{Oracle: fx.oracle, Sink: m, Splits: SplitObjects{}, Objects: m})
	require.NoError(t, err)
	require.NoError(t, rw.UpdateDebugInfo())
	assert.Empty(t, m.Objects())

	// the skeleton itself is still rewritten
	out := outputData(t, m)
	rl := entryRanges(t, out.Units()[0], out.Units()[0].Root.Offset)
	assert.Equal(t, types.RangeList{{Low: 0x10000, High: 0x10080}, {Low: 0x18000, High: 0x18080}}, rl)
}

func TestNewMissingSections(t *testing.T) {
	orc, err := oracle.New()
	require.NoError(t, err)
	_, err = New(testConfig(), Options{Oracle: orc, Sink: sink.NewMemory(nil)})
	assert.ErrorIs(t, err, ErrSectionNotFound)
}

func TestUpdateLineTableOffsets(t *testing.T) {
	b := dwarftest.New()
	tab := b.Abbrevs(
		dwarftest.Decl{Code: 1, Tag: dwarf.TagCompileUnit, Attrs: []abbrev.AttrSpec{
			dwarftest.Spec(dwarf.AttrStmtList, types.FormSecOffset),
		}},
		dwarftest.Decl{Code: 2, Tag: dwarf.TagTypeUnit, Attrs: []abbrev.AttrSpec{
			dwarftest.Spec(dwarf.AttrStmtList, types.FormSecOffset),
		}},
	)
	line := b.Line([]byte{1, 2, 3, 4})
	u := b.BeginUnit(tab)
	cu := u.Entry(1, line)
	u.End()
	tu := b.BeginTypeUnit(tab, 0x1234, 0)
	tuRoot := tu.Entry(2, line)
	tu.End()

	in := primarySections(b.Sections())
	orc, err := oracle.New()
	require.NoError(t, err)

	m := sink.NewMemory(in)
	rw, err := New(testConfig(), Options{Oracle: orc, Sink: m})
	require.NoError(t, err)

	err = rw.UpdateLineTableOffsets(LineTableLocatorFunc(func(u *dwarfinfo.Unit) (uint64, bool) {
		return 0x40, true
	}))
	require.NoError(t, err)

	// stmt_list is the first attribute, right after the one-byte code
	assert.Equal(t, []sink.Relocation{{Offset: cu + 1, Value: 0x40}}, m.Relocations(types.SectionInfo))
	assert.Equal(t, []sink.Relocation{{Offset: tuRoot + 1, Value: 0x40}}, m.Relocations(types.SectionTypes))
	assert.True(t, m.Finalized(types.SectionInfo))
	assert.True(t, m.Finalized(types.SectionTypes))

	m = sink.NewMemory(in)
	rw, err = New(testConfig(), Options{Oracle: orc, Sink: m})
	require.NoError(t, err)
	err = rw.UpdateLineTableOffsets(LineTableLocatorFunc(func(u *dwarfinfo.Unit) (uint64, bool) {
		return 0, false
	}))
	assert.Error(t, err, "type unit without a moved line table")
}
