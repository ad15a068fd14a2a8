package dwp

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/blacktop/go-dwarfrewrite/types"
)

const (
	indexVersion    = 2
	indexHeaderSize = 16
)

// Contribution is the slice of one package section owned by a unit.
type Contribution struct {
	Offset uint32
	Size   uint32
}

// Row is one unit of a package index.
type Row struct {
	Signature     uint64
	Contributions map[types.SectionKind]Contribution
}

// Index is a DWP version 2 unit index (.debug_cu_index).
type Index struct {
	Columns []types.SectionKind
	Rows    []Row
}

// Lookup returns the row for signature.
func (x *Index) Lookup(signature uint64) (*Row, bool) {
	for i := range x.Rows {
		if x.Rows[i].Signature == signature {
			return &x.Rows[i], true
		}
	}
	return nil, false
}

func slotCount(units int) uint32 {
	n := uint32(1)
	for n < uint32(units)*3/2+1 {
		n <<= 1
	}
	return n
}

// ParseIndex decodes a version 2 unit index.
func ParseIndex(data []byte) (*Index, error) {
	if len(data) < indexHeaderSize {
		return nil, fmt.Errorf("failed to read unit index: section too short (%d bytes)", len(data))
	}
	le := binary.LittleEndian
	version := le.Uint32(data[0:])
	if version != indexVersion {
		return nil, fmt.Errorf("failed to read unit index: unsupported version %d", version)
	}
	cols, units, slots := le.Uint32(data[4:]), le.Uint32(data[8:]), le.Uint32(data[12:])
	if cols > types.MaxSectionKind {
		return nil, fmt.Errorf("failed to read unit index: %d columns", cols)
	}
	need := uint64(indexHeaderSize) + uint64(slots)*12 + uint64(cols)*4 + 2*uint64(units)*uint64(cols)*4
	if need > uint64(len(data)) {
		return nil, fmt.Errorf("failed to read unit index: need %d bytes, have %d", need, len(data))
	}

	hashes := data[indexHeaderSize:]
	rows := hashes[slots*8:]
	offsets := rows[slots*4:]
	x := &Index{}
	for c := uint32(0); c < cols; c++ {
		x.Columns = append(x.Columns, types.SectionKind(le.Uint32(offsets[c*4:])))
	}
	offTab := offsets[cols*4:]
	sizeTab := offTab[units*cols*4:]

	x.Rows = make([]Row, units)
	seen := make([]bool, units)
	for s := uint32(0); s < slots; s++ {
		row := le.Uint32(rows[s*4:])
		if row == 0 {
			continue
		}
		if row > units || seen[row-1] {
			return nil, fmt.Errorf("failed to read unit index: bad row %d in slot %d", row, s)
		}
		seen[row-1] = true
		r := Row{
			Signature:     le.Uint64(hashes[s*8:]),
			Contributions: make(map[types.SectionKind]Contribution, cols),
		}
		for c, kind := range x.Columns {
			i := ((row-1)*cols + uint32(c)) * 4
			r.Contributions[kind] = Contribution{Offset: le.Uint32(offTab[i:]), Size: le.Uint32(sizeTab[i:])}
		}
		x.Rows[row-1] = r
	}
	return x, nil
}

// Bytes serializes the index. Columns are the union of the kinds used by
// the rows, in ascending order.
func (x *Index) Bytes() []byte {
	kinds := make(map[types.SectionKind]bool)
	for _, r := range x.Rows {
		for k := range r.Contributions {
			kinds[k] = true
		}
	}
	cols := make([]types.SectionKind, 0, len(kinds))
	for k := range kinds {
		cols = append(cols, k)
	}
	sort.Slice(cols, func(i, j int) bool { return cols[i] < cols[j] })

	units := uint32(len(x.Rows))
	slots := slotCount(len(x.Rows))
	mask := uint64(slots - 1)
	sigs := make([]uint64, slots)
	rows := make([]uint32, slots)
	for i, r := range x.Rows {
		h := r.Signature & mask
		step := ((r.Signature >> 32) & mask) | 1
		for rows[h] != 0 {
			h = (h + step) & mask
		}
		sigs[h] = r.Signature
		rows[h] = uint32(i + 1)
	}

	le := binary.LittleEndian
	out := le.AppendUint32(nil, indexVersion)
	out = le.AppendUint32(out, uint32(len(cols)))
	out = le.AppendUint32(out, units)
	out = le.AppendUint32(out, slots)
	for _, s := range sigs {
		out = le.AppendUint64(out, s)
	}
	for _, r := range rows {
		out = le.AppendUint32(out, r)
	}
	for _, k := range cols {
		out = le.AppendUint32(out, uint32(k))
	}
	for _, r := range x.Rows {
		for _, k := range cols {
			out = le.AppendUint32(out, r.Contributions[k].Offset)
		}
	}
	for _, r := range x.Rows {
		for _, k := range cols {
			out = le.AppendUint32(out, r.Contributions[k].Size)
		}
	}
	return out
}

var kindSections = map[types.SectionKind]string{
	types.SectInfo:       types.SectionInfoDWO,
	types.SectTypes:      types.SectionTypesDWO,
	types.SectAbbrev:     types.SectionAbbrevDWO,
	types.SectLine:       types.SectionLineDWO,
	types.SectLoc:        types.SectionLocDWO,
	types.SectStrOffsets: types.SectionStrOffsetsDWO,
}

// Extract slices the contributions of the unit with signature out of the
// package sections. The shared string section is returned whole.
func (x *Index) Extract(signature uint64, sections map[string][]byte) (map[string][]byte, error) {
	row, ok := x.Lookup(signature)
	if !ok {
		return nil, fmt.Errorf("unit %#x not found in package index", signature)
	}
	out := make(map[string][]byte)
	for kind, c := range row.Contributions {
		name, ok := kindSections[kind]
		if !ok {
			continue
		}
		data := sections[name]
		end := uint64(c.Offset) + uint64(c.Size)
		if end > uint64(len(data)) {
			return nil, fmt.Errorf("contribution of unit %#x to %s [%#x, %#x) exceeds section size %#x",
				signature, name, c.Offset, end, len(data))
		}
		out[name] = data[c.Offset:end]
	}
	if str, ok := sections[types.SectionStrDWO]; ok {
		out[types.SectionStrDWO] = str
	}
	return out, nil
}
