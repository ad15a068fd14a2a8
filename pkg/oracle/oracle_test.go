package oracle

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/blacktop/go-dwarfrewrite/types"
)

const testMap = `
functions:
  - name: moved
    input: {low: 0x100, high: 0x120}
    output:
      - {low: 0x200, high: 0x220}
  - name: split
    input: {low: 0x1000, high: 0x1040}
    output:
      - {low: 0x5000, high: 0x5020}
      - {low: 0x9000, high: 0x9020}
`

func load(t *testing.T) *Map {
	t.Helper()
	m, err := Load(strings.NewReader(testMap))
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestLocationListRoundTrip(t *testing.T) {
	m := load(t)
	fn := m.FunctionContaining(0x100)
	if fn == nil {
		t.Fatal("FunctionContaining(0x100) = nil")
	}
	expr := []byte{0x91, 0x78}
	got := fn.TranslateLocationList(types.LocationList{
		{Low: 0x100, High: 0x110, Expr: expr},
		{Low: 0x110, High: 0x120, Expr: expr},
	})
	want := types.LocationList{
		{Low: 0x200, High: 0x210, Expr: expr},
		{Low: 0x210, High: 0x220, Expr: expr},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("TranslateLocationList() mismatch (-want +got):\n%s", diff)
	}
}

func TestSplitFunction(t *testing.T) {
	m := load(t)
	fn := m.FunctionAt(0x1000)
	if fn == nil {
		t.Fatal("FunctionAt(0x1000) = nil")
	}
	if m.FunctionAt(0x1004) != nil {
		t.Error("FunctionAt() must only match entry points")
	}

	tests := []struct {
		name string
		in   types.RangeList
		want types.RangeList
	}{
		{"whole", types.RangeList{{Low: 0x1000, High: 0x1040}}, types.RangeList{{Low: 0x5000, High: 0x5020}, {Low: 0x9000, High: 0x9020}}},
		{"first half", types.RangeList{{Low: 0x1008, High: 0x1010}}, types.RangeList{{Low: 0x5008, High: 0x5010}}},
		{"straddle", types.RangeList{{Low: 0x1018, High: 0x1028}}, types.RangeList{{Low: 0x5018, High: 0x5020}, {Low: 0x9000, High: 0x9008}}},
		{"outside", types.RangeList{{Low: 0x2000, High: 0x2010}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, fn.TranslateRanges(tt.in)); diff != "" {
				t.Errorf("TranslateRanges() mismatch (-want +got):\n%s", diff)
			}
		})
	}

	if got := fn.TranslateAddress(0x1024); got != 0x9004 {
		t.Errorf("TranslateAddress(0x1024) = %#x, want 0x9004", got)
	}
	if got := fn.TranslateAddress(0x1040); got != 0x9020 {
		t.Errorf("TranslateAddress(end) = %#x, want 0x9020", got)
	}
	if got := fn.TranslateAddress(0x3000); got != 0 {
		t.Errorf("TranslateAddress(outside) = %#x, want 0", got)
	}
}

func TestTranslateModuleRanges(t *testing.T) {
	m := load(t)
	got := m.TranslateModuleRanges(types.RangeList{{Low: 0x0, High: 0x2000}})
	want := types.RangeList{
		{Low: 0x200, High: 0x220},
		{Low: 0x5000, High: 0x5020},
		{Low: 0x9000, High: 0x9020},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("TranslateModuleRanges() mismatch (-want +got):\n%s", diff)
	}
}

func TestOverlappingFunctions(t *testing.T) {
	_, err := New(
		&Func{Name: "a", Input: types.AddressRange{Low: 0, High: 0x20}},
		&Func{Name: "b", Input: types.AddressRange{Low: 0x10, High: 0x30}},
	)
	if err == nil {
		t.Error("expected overlapping functions to be rejected")
	}
}
