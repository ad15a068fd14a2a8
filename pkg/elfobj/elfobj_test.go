package elfobj

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteRelocatableRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteRelocatable(&buf, elf.EM_X86_64, []Section{
		{Name: ".debug_info.dwo", Data: []byte{1, 2, 3}},
		{Name: ".debug_abbrev.dwo", Data: []byte{0}},
	}))

	f, err := NewFile(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, elf.ET_REL, f.Type)
	assert.Equal(t, elf.EM_X86_64, f.Machine)

	secs, err := f.DebugSections()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, secs[".debug_info.dwo"])
	assert.Equal(t, []byte{0}, secs[".debug_abbrev.dwo"])
	assert.NotContains(t, secs, ".shstrtab")
}

func TestLegacyCompressedSection(t *testing.T) {
	payload := []byte("hello debug info")
	var z bytes.Buffer
	zw := zlib.NewWriter(&z)
	_, err := zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	data := append([]byte("ZLIB"), binary.BigEndian.AppendUint64(nil, uint64(len(payload)))...)
	data = append(data, z.Bytes()...)

	var buf bytes.Buffer
	require.NoError(t, WriteRelocatable(&buf, elf.EM_AARCH64, []Section{{Name: ".zdebug_str", Data: data}}))
	f, err := NewFile(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	secs, err := f.DebugSections()
	require.NoError(t, err)
	assert.Equal(t, payload, secs[".debug_str"])
}
