// Package oracle translates addresses of the original binary into the
// address space of the rewritten one.
package oracle

import (
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/blacktop/go-dwarfrewrite/types"
)

// Oracle finds the function that owns an input address.
type Oracle interface {
	// FunctionAt returns the function whose entry point is addr, or nil.
	FunctionAt(addr uint64) Function
	// FunctionContaining returns the function whose input body covers addr, or nil.
	FunctionContaining(addr uint64) Function
	// TranslateModuleRanges maps unit-level ranges, which may span many
	// functions, into the output address space.
	TranslateModuleRanges(in types.RangeList) types.RangeList
}

// Function translates addresses inside one function body.
type Function interface {
	OutputRanges() types.RangeList
	TranslateRanges(in types.RangeList) types.RangeList
	TranslateLocationList(in types.LocationList) types.LocationList
	// TranslateAddress returns 0 when addr has no output address.
	TranslateAddress(addr uint64) uint64
}

// Block maps Size bytes at Input to Output.
type Block struct {
	Input  uint64 `yaml:"input"`
	Size   uint64 `yaml:"size"`
	Output uint64 `yaml:"output"`
}

// Func is one entry of an address map.
type Func struct {
	Name   string               `yaml:"name,omitempty"`
	Input  types.AddressRange   `yaml:"input"`
	Output []types.AddressRange `yaml:"output"`
	// Blocks is optional; without it the input body is laid out over the
	// output ranges in order.
	Blocks []Block `yaml:"blocks,omitempty"`
}

// Map is an Oracle backed by a static list of functions.
type Map struct {
	Functions []*Func `yaml:"functions"`
}

// Load reads an address map.
func Load(r io.Reader) (*Map, error) {
	var m Map
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to decode address map: %w", err)
	}
	if err := m.init(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadFile reads the address map at path.
func LoadFile(path string) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// New returns a map over fns.
func New(fns ...*Func) (*Map, error) {
	m := &Map{Functions: fns}
	if err := m.init(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Map) init() error {
	sort.Slice(m.Functions, func(i, j int) bool { return m.Functions[i].Input.Low < m.Functions[j].Input.Low })
	for i, f := range m.Functions {
		if f.Input.High <= f.Input.Low {
			return fmt.Errorf("function %q has an empty input range %s", f.Name, f.Input)
		}
		if i > 0 && m.Functions[i-1].Input.High > f.Input.Low {
			return fmt.Errorf("function %q overlaps %q", f.Name, m.Functions[i-1].Name)
		}
		if len(f.Blocks) == 0 {
			f.Blocks = defaultBlocks(f)
		}
		sort.Slice(f.Blocks, func(a, b int) bool { return f.Blocks[a].Input < f.Blocks[b].Input })
	}
	return nil
}

// defaultBlocks lays the input body over the output ranges in order.
func defaultBlocks(f *Func) []Block {
	var blocks []Block
	in := f.Input.Low
	for _, r := range f.Output {
		if in >= f.Input.High {
			break
		}
		size := r.Size()
		if rest := f.Input.High - in; size > rest {
			size = rest
		}
		blocks = append(blocks, Block{Input: in, Size: size, Output: r.Low})
		in += size
	}
	return blocks
}

func (m *Map) find(addr uint64) *Func {
	i := sort.Search(len(m.Functions), func(i int) bool { return m.Functions[i].Input.High > addr })
	if i < len(m.Functions) && m.Functions[i].Input.Contains(addr) {
		return m.Functions[i]
	}
	return nil
}

func (m *Map) FunctionAt(addr uint64) Function {
	if f := m.find(addr); f != nil && f.Input.Low == addr {
		return f
	}
	return nil
}

func (m *Map) FunctionContaining(addr uint64) Function {
	if f := m.find(addr); f != nil {
		return f
	}
	return nil
}

func (m *Map) TranslateModuleRanges(in types.RangeList) types.RangeList {
	var out types.RangeList
	for _, r := range in {
		for _, f := range m.Functions {
			lo, hi := max(r.Low, f.Input.Low), min(r.High, f.Input.High)
			if lo >= hi {
				continue
			}
			out = append(out, f.TranslateRanges(types.RangeList{{Low: lo, High: hi}})...)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Low < out[j].Low })
	return merge(out)
}

// merge joins sorted ranges that touch or overlap.
func merge(rl types.RangeList) types.RangeList {
	var out types.RangeList
	for _, r := range rl {
		if n := len(out); n > 0 && out[n-1].High >= r.Low {
			out[n-1].High = max(out[n-1].High, r.High)
			continue
		}
		out = append(out, r)
	}
	return out
}

func (f *Func) OutputRanges() types.RangeList {
	return append(types.RangeList(nil), f.Output...)
}

// translate maps [lo, hi) block by block, joining pieces that stay
// contiguous in the output.
func (f *Func) translate(lo, hi uint64) types.RangeList {
	var out types.RangeList
	for _, b := range f.Blocks {
		s, e := max(lo, b.Input), min(hi, b.Input+b.Size)
		if s >= e {
			continue
		}
		r := types.AddressRange{Low: b.Output + (s - b.Input), High: b.Output + (e - b.Input)}
		if n := len(out); n > 0 && out[n-1].High == r.Low {
			out[n-1].High = r.High
			continue
		}
		out = append(out, r)
	}
	return out
}

func (f *Func) TranslateRanges(in types.RangeList) types.RangeList {
	var out types.RangeList
	for _, r := range in {
		for _, t := range f.translate(r.Low, r.High) {
			if n := len(out); n > 0 && out[n-1].High == t.Low {
				out[n-1].High = t.High
				continue
			}
			out = append(out, t)
		}
	}
	return out
}

// TranslateLocationList maps every entry separately; entries are never
// merged with their neighbours.
func (f *Func) TranslateLocationList(in types.LocationList) types.LocationList {
	var out types.LocationList
	for _, e := range in {
		for _, r := range f.translate(e.Low, e.High) {
			out = append(out, types.LocationEntry{Low: r.Low, High: r.High, Expr: e.Expr})
		}
	}
	return out
}

func (f *Func) TranslateAddress(addr uint64) uint64 {
	for _, b := range f.Blocks {
		if addr >= b.Input && addr < b.Input+b.Size {
			return b.Output + (addr - b.Input)
		}
	}
	if n := len(f.Blocks); n > 0 && addr == f.Input.High {
		last := f.Blocks[n-1]
		if last.Input+last.Size == addr {
			return last.Output + last.Size
		}
	}
	return 0
}
