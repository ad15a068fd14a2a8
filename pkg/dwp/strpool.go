package dwp

import (
	"bytes"

	"github.com/cespare/xxhash/v2"
)

// StringPool is the merged .debug_str.dwo of a package. Strings are
// deduplicated by their 64-bit hash, with a byte comparison against every
// candidate so that collisions never merge distinct strings.
type StringPool struct {
	data   []byte
	byHash map[uint64][]uint32
}

// NewStringPool returns an empty pool.
func NewStringPool() *StringPool {
	return &StringPool{byHash: make(map[uint64][]uint32)}
}

// Add interns s (without its terminator) and returns its offset.
func (p *StringPool) Add(s []byte) uint32 {
	h := xxhash.Sum64(s)
	for _, off := range p.byHash[h] {
		end := int(off) + len(s)
		if end < len(p.data) && p.data[end] == 0 && bytes.Equal(p.data[off:end], s) {
			return off
		}
	}
	off := uint32(len(p.data))
	p.data = append(p.data, s...)
	p.data = append(p.data, 0)
	p.byHash[h] = append(p.byHash[h], off)
	return off
}

// Bytes returns the pool contents.
func (p *StringPool) Bytes() []byte { return p.data }
