// Package dwp assembles rewritten split units into a DWARF package (.dwp):
// concatenated section contributions, a merged string pool and a version 2
// unit index.
package dwp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/blacktop/go-dwarfrewrite/types"
)

// ErrDuplicateUnit is returned when two split units claim the same id.
var ErrDuplicateUnit = errors.New("duplicate split unit")

// Unit is one rewritten split unit and its .dwo sections.
type Unit struct {
	DWOID    uint64
	Sections map[string][]byte
}

// Packager collects split units into one package. Nothing is emitted until
// Finalize, so a failed Add never leaves a partial package behind.
type Packager struct {
	units []Unit
	seen  map[uint64]bool
}

// NewPackager returns an empty packager.
func NewPackager() *Packager {
	return &Packager{seen: make(map[uint64]bool)}
}

// Add queues u for packaging.
func (p *Packager) Add(u Unit) error {
	if p.seen[u.DWOID] {
		return fmt.Errorf("%w: %#x", ErrDuplicateUnit, u.DWOID)
	}
	p.seen[u.DWOID] = true
	p.units = append(p.units, u)
	return nil
}

// Len returns the number of queued units.
func (p *Packager) Len() int { return len(p.units) }

// Finalize lays out every queued unit and returns the package sections by
// name, including .debug_cu_index.
func (p *Packager) Finalize() (map[string][]byte, error) {
	out := make(map[string]*bytes.Buffer)
	buf := func(name string) *bytes.Buffer {
		b, ok := out[name]
		if !ok {
			b = new(bytes.Buffer)
			out[name] = b
		}
		return b
	}
	pool := NewStringPool()
	index := &Index{}

	for _, u := range p.units {
		row := Row{Signature: u.DWOID, Contributions: make(map[types.SectionKind]Contribution)}
		for _, kind := range []types.SectionKind{
			types.SectInfo,
			types.SectTypes,
			types.SectAbbrev,
			types.SectLine,
			types.SectLoc,
			types.SectStrOffsets,
		} {
			name := kindSections[kind]
			data, ok := u.Sections[name]
			if !ok {
				continue
			}
			if kind == types.SectStrOffsets {
				var err error
				if data, err = remapStrOffsets(data, u.Sections[types.SectionStrDWO], pool); err != nil {
					return nil, fmt.Errorf("failed to merge strings of unit %#x: %w", u.DWOID, err)
				}
			}
			b := buf(name)
			// type units belong in a .debug_tu_index; the compile unit
			// index gets no types column
			if kind != types.SectTypes {
				row.Contributions[kind] = Contribution{Offset: uint32(b.Len()), Size: uint32(len(data))}
			}
			b.Write(data)
		}
		index.Rows = append(index.Rows, row)
	}

	sections := make(map[string][]byte, len(out)+2)
	for name, b := range out {
		sections[name] = b.Bytes()
	}
	sections[types.SectionStrDWO] = pool.Bytes()
	sections[types.SectionCUIndex] = index.Bytes()
	return sections, nil
}

// remapStrOffsets rewrites a unit's string offsets table to point into the
// merged pool.
func remapStrOffsets(offsets, strs []byte, pool *StringPool) ([]byte, error) {
	if len(offsets)%4 != 0 {
		return nil, fmt.Errorf("string offsets table size %d is not a multiple of 4", len(offsets))
	}
	out := make([]byte, len(offsets))
	for i := 0; i < len(offsets); i += 4 {
		off := binary.LittleEndian.Uint32(offsets[i:])
		if uint64(off) >= uint64(len(strs)) {
			return nil, fmt.Errorf("string offset %#x out of range (%d bytes)", off, len(strs))
		}
		s := strs[off:]
		if end := bytes.IndexByte(s, 0); end >= 0 {
			s = s[:end]
		}
		binary.LittleEndian.PutUint32(out[i:], pool.Add(s))
	}
	return out, nil
}
