package types

import (
	"fmt"

	"github.com/dennwc/varint"
)

// Uleb128 decodes an unsigned LEB128 value at the start of buf and returns
// the value and the number of bytes consumed.
func Uleb128(buf []byte) (uint64, int, error) {
	v, n := varint.Uvarint(buf)
	switch {
	case n > 0:
		return v, n, nil
	case n < 0:
		// padded values run past ten bytes
		return paddedUleb128(buf)
	}
	return 0, 0, fmt.Errorf("could not parse ULEB128 value (%d)", n)
}

// paddedUleb128 decodes a ULEB128 value of any length whose bytes past the
// 64th bit carry no payload.
func paddedUleb128(buf []byte) (uint64, int, error) {
	var (
		result uint64
		shift  uint
	)
	for i, b := range buf {
		p := uint64(b & 0x7f)
		switch {
		case shift < 63:
			result |= p << shift
		case shift == 63 && p <= 1:
			result |= p << shift
		case p != 0:
			return 0, 0, fmt.Errorf("ULEB128 value overflows 64 bits at byte %d", i)
		}
		shift += 7
		if b&0x80 == 0 {
			return result, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("could not parse ULEB128 value: truncated after %d bytes", len(buf))
}

// Sleb128 decodes a signed LEB128 value at the start of buf.
func Sleb128(buf []byte) (int64, int, error) {
	var (
		result int64
		shift  uint
	)
	for i, b := range buf {
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, i + 1, nil
		}
		if shift >= 70 {
			break
		}
	}
	return 0, 0, fmt.Errorf("could not parse SLEB128 value")
}

// AppendUleb128 appends the minimal ULEB128 encoding of v.
func AppendUleb128(dst []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// AppendSleb128 appends the minimal SLEB128 encoding of v.
func AppendSleb128(dst []byte, v int64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// Uleb128Size returns the minimal encoded size of v.
func Uleb128Size(v uint64) int {
	n := 1
	for v >>= 7; v != 0; v >>= 7 {
		n++
	}
	return n
}

// PutPaddedUleb128 encodes v into exactly len(dst) bytes, using redundant
// continuation bytes so the value occupies the whole slot.
func PutPaddedUleb128(dst []byte, v uint64) error {
	if len(dst) == 0 {
		return fmt.Errorf("cannot encode ULEB128 %#x into zero bytes", v)
	}
	if Uleb128Size(v) > len(dst) {
		return fmt.Errorf("ULEB128 %#x does not fit in %d bytes", v, len(dst))
	}
	for i := 0; i < len(dst)-1; i++ {
		dst[i] = byte(v&0x7f) | 0x80
		v >>= 7
	}
	dst[len(dst)-1] = byte(v & 0x7f)
	return nil
}
