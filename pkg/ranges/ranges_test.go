package ranges

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/blacktop/go-dwarfrewrite/types"
)

func TestWriterStartsWithEmptyList(t *testing.T) {
	w := NewWriter()
	if got := w.Finalize(); len(got) != 16 {
		t.Fatalf("len(Finalize()) = %d, want 16", len(got))
	}
	if got := w.AddRanges(nil); got != EmptyRangesOffset {
		t.Errorf("AddRanges(nil) = %#x, want empty offset", got)
	}
}

func TestWriterAddRanges(t *testing.T) {
	w := NewWriter()
	rl := types.RangeList{{Low: 0x1000, High: 0x1010}, {Low: 0x2000, High: 0x2020}}
	off := w.AddRanges(rl)
	if off != 16 {
		t.Fatalf("AddRanges() = %#x, want 0x10", off)
	}
	if next := w.SectionOffset(); next != 16+3*16 {
		t.Errorf("SectionOffset() = %#x, want %#x", next, 16+3*16)
	}
	buf := w.Finalize()
	got := types.RangeList{
		{Low: binary.LittleEndian.Uint64(buf[16:]), High: binary.LittleEndian.Uint64(buf[24:])},
		{Low: binary.LittleEndian.Uint64(buf[32:]), High: binary.LittleEndian.Uint64(buf[40:])},
	}
	if diff := cmp.Diff(rl, got); diff != "" {
		t.Errorf("encoded ranges mismatch (-want +got):\n%s", diff)
	}
	if end := binary.LittleEndian.Uint64(buf[48:]) | binary.LittleEndian.Uint64(buf[56:]); end != 0 {
		t.Errorf("missing end-of-list entry")
	}
}

func TestWriterCacheDedup(t *testing.T) {
	w := NewWriter()
	cache := make(Cache)
	a := types.RangeList{{Low: 0x10, High: 0x20}}
	b := types.RangeList{{Low: 0x10, High: 0x20}}
	c := types.RangeList{{Low: 0x10, High: 0x30}}

	offA := w.AddRangesCached(a, cache)
	offB := w.AddRangesCached(b, cache)
	offC := w.AddRangesCached(c, cache)
	if offA != offB {
		t.Errorf("identical lists got offsets %#x and %#x", offA, offB)
	}
	if offA == offC {
		t.Errorf("different lists collided at %#x", offA)
	}

	// a fresh cache does not reuse offsets from another scope
	if off := w.AddRangesCached(a, make(Cache)); off == offA {
		t.Errorf("new cache scope reused offset %#x", off)
	}
}

func TestARangesWrite(t *testing.T) {
	a := NewARanges()
	a.AddUnitRanges(0x40, types.RangeList{{Low: 0x3000, High: 0x3100}})
	a.AddUnitRanges(0x0, types.RangeList{{Low: 0x1000, High: 0x1010}, {Low: 0x2000, High: 0x2008}})

	units := a.UnitRanges()
	if len(units) != 2 || units[0].Offset != 0 || units[1].Offset != 0x40 {
		t.Fatalf("UnitRanges() not sorted by offset: %+v", units)
	}
	if n := a.NumRanges(); n != 3 {
		t.Errorf("NumRanges() = %d, want 3", n)
	}

	buf := a.Write()
	// unit 0: 16 byte header, 2 tuples, terminator
	set0 := 16 + 3*16
	if got := binary.LittleEndian.Uint32(buf[0:]); int(got) != set0-4 {
		t.Errorf("set 0 length = %#x, want %#x", got, set0-4)
	}
	if got := binary.LittleEndian.Uint16(buf[4:]); got != 2 {
		t.Errorf("version = %d, want 2", got)
	}
	if got := binary.LittleEndian.Uint64(buf[16+8:]); got != 0x10 {
		t.Errorf("first tuple length = %#x, want 0x10", got)
	}
	if got := binary.LittleEndian.Uint32(buf[set0+6:]); got != 0x40 {
		t.Errorf("set 1 debug_info offset = %#x, want 0x40", got)
	}
	if len(buf) != set0+16+2*16 {
		t.Errorf("len(Write()) = %d, want %d", len(buf), set0+16+2*16)
	}
}

func TestWriterAddEmptyList(t *testing.T) {
	w := NewWriter()
	w.AddRanges(types.RangeList{{Low: 1, High: 2}})
	base := w.SectionOffset()
	if off := w.AddEmptyList(); off != base {
		t.Errorf("AddEmptyList() = %#x, want %#x", off, base)
	}
	if got := w.SectionOffset(); got != base+16 {
		t.Errorf("SectionOffset() = %#x, want %#x", got, base+16)
	}
}
