// Package patch records deferred, offset-keyed, same-width byte edits for a
// section and replays them once the section bytes are final.
package patch

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/blacktop/go-dwarfrewrite/types"
)

// Kind is the width class of a patch.
type Kind uint8

const (
	LE32 Kind = iota
	LE64
	UData
)

func (k Kind) String() string {
	switch k {
	case LE32:
		return "le32"
	case LE64:
		return "le64"
	case UData:
		return "udata"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Patch is a single in-place substitution.
type Patch struct {
	Offset uint64
	Kind   Kind
	Value  uint64
	Size   int
}

// Width returns the number of bytes the patch overwrites.
func (p Patch) Width() int {
	switch p.Kind {
	case LE32:
		return 4
	case LE64:
		return 8
	}
	return p.Size
}

func (p Patch) String() string {
	return fmt.Sprintf("%#x: %s %#x (%d bytes)", p.Offset, p.Kind, p.Value, p.Width())
}

func (p Patch) encode(dst []byte) error {
	switch p.Kind {
	case LE32:
		binary.LittleEndian.PutUint32(dst, uint32(p.Value))
	case LE64:
		binary.LittleEndian.PutUint64(dst, p.Value)
	case UData:
		return types.PutPaddedUleb128(dst, p.Value)
	}
	return nil
}

// Buffer collects patches for one section. It is safe for concurrent use.
// Patches are replayed in insertion order, so a later patch to the same
// bytes wins.
type Buffer struct {
	mu      sync.Mutex
	patches []Patch

	rangeBase     uint64
	rangeBaseUsed bool
}

// NewBuffer returns an empty patch buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) add(p Patch) {
	b.mu.Lock()
	b.patches = append(b.patches, p)
	b.mu.Unlock()
}

// AddLE32 records a 4-byte little-endian write at off.
func (b *Buffer) AddLE32(off uint64, v uint32) {
	b.add(Patch{Offset: off, Kind: LE32, Value: uint64(v)})
}

// AddLE64 records an 8-byte little-endian write at off.
func (b *Buffer) AddLE64(off uint64, v uint64) {
	b.add(Patch{Offset: off, Kind: LE64, Value: v})
}

// AddUData records a ULEB128 write at off padded to exactly size bytes.
func (b *Buffer) AddUData(off uint64, v uint64, size int) error {
	if size <= 0 || types.Uleb128Size(v) > size {
		return fmt.Errorf("failed to add udata patch at %#x: %#x does not fit in %d bytes", off, v, size)
	}
	b.add(Patch{Offset: off, Kind: UData, Value: v, Size: size})
	return nil
}

// SetRangeBase sets the base that range-list offsets written into this
// section are relative to.
func (b *Buffer) SetRangeBase(base uint64) {
	b.mu.Lock()
	b.rangeBase = base
	b.mu.Unlock()
}

// RangeBase returns the range base and marks it as used.
func (b *Buffer) RangeBase() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rangeBaseUsed = true
	return b.rangeBase
}

// RangeBaseUsed reports whether any patch was computed relative to the range base.
func (b *Buffer) RangeBaseUsed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rangeBaseUsed
}

// Len returns the number of recorded patches.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.patches)
}

// Patches returns a copy of the recorded patches sorted by offset; patches
// at equal offsets keep their insertion order.
func (b *Buffer) Patches() []Patch {
	b.mu.Lock()
	out := append([]Patch(nil), b.patches...)
	b.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Offset < out[j].Offset })
	return out
}

// Apply returns a copy of data with every patch applied. base is the
// section offset of data[0]; patches outside [base, base+len(data)) are
// skipped, which lets one buffer serve a slice of a packaged section.
func (b *Buffer) Apply(data []byte, base uint64) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)

	b.mu.Lock()
	defer b.mu.Unlock()

	end := base + uint64(len(data))
	for _, p := range b.patches {
		if p.Offset < base || p.Offset >= end {
			continue
		}
		if p.Offset+uint64(p.Width()) > end {
			return nil, fmt.Errorf("failed to apply patch %s: overruns section end %#x", p, end)
		}
		off := p.Offset - base
		if err := p.encode(out[off : off+uint64(p.Width())]); err != nil {
			return nil, fmt.Errorf("failed to apply patch %s: %v", p, err)
		}
	}
	return out, nil
}
