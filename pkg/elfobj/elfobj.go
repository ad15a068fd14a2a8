// Package elfobj reads the debug sections of ELF objects and writes minimal
// ELF64 relocatable objects that carry nothing but named sections.
package elfobj

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zlib"
)

// File is an opened ELF object.
type File struct {
	*elf.File
	r      io.ReaderAt
	closer io.Closer
}

// Open opens the ELF object at name.
func Open(name string) (*File, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	ef, err := elf.NewFile(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to parse ELF %s: %w", name, err)
	}
	return &File{File: ef, r: f, closer: f}, nil
}

// NewFile reads an ELF object from r.
func NewFile(r io.ReaderAt) (*File, error) {
	ef, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}
	return &File{File: ef, r: r}, nil
}

// Close closes the underlying file if Open created it.
func (f *File) Close() error {
	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}

// SectionData returns the uncompressed contents of s. Both SHF_COMPRESSED
// sections and legacy .zdebug_* sections ("ZLIB" + big-endian size) are
// inflated.
func (f *File) SectionData(s *elf.Section) ([]byte, error) {
	if s.Type == elf.SHT_NOBITS {
		return nil, nil
	}
	// elf.Section hides the raw bytes of compressed sections.
	raw := make([]byte, s.FileSize)
	if _, err := f.r.ReadAt(raw, int64(s.Offset)); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read section %s: %w", s.Name, err)
	}
	switch {
	case s.Flags&elf.SHF_COMPRESSED != 0:
		return f.inflateCompressed(s.Name, raw)
	case strings.HasPrefix(s.Name, ".zdebug_") && len(raw) >= 12 && string(raw[:4]) == "ZLIB":
		return inflate(s.Name, raw[12:], binary.BigEndian.Uint64(raw[4:12]))
	}
	return raw, nil
}

func (f *File) inflateCompressed(name string, raw []byte) ([]byte, error) {
	var typ elf.CompressionType
	var size uint64
	var hdr int
	switch f.Class {
	case elf.ELFCLASS64:
		if len(raw) < 24 {
			return nil, fmt.Errorf("failed to read compression header of %s", name)
		}
		typ = elf.CompressionType(f.ByteOrder.Uint32(raw[0:]))
		size = f.ByteOrder.Uint64(raw[8:])
		hdr = 24
	default:
		if len(raw) < 12 {
			return nil, fmt.Errorf("failed to read compression header of %s", name)
		}
		typ = elf.CompressionType(f.ByteOrder.Uint32(raw[0:]))
		size = uint64(f.ByteOrder.Uint32(raw[4:]))
		hdr = 12
	}
	if typ != elf.COMPRESS_ZLIB {
		return nil, fmt.Errorf("failed to inflate %s: unsupported compression type %s", name, typ)
	}
	return inflate(name, raw[hdr:], size)
}

func inflate(name string, data []byte, size uint64) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to inflate %s: %w", name, err)
	}
	out := make([]byte, size)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("failed to inflate %s: %w", name, err)
	}
	if err := r.Close(); err != nil {
		return nil, fmt.Errorf("failed to inflate %s: %w", name, err)
	}
	return out, nil
}

// DebugSections returns every .debug_* (and .zdebug_*) section plus
// .gdb_index, keyed by the uncompressed .debug_ name.
func (f *File) DebugSections() (map[string][]byte, error) {
	out := make(map[string][]byte)
	for _, s := range f.Sections {
		name := s.Name
		switch {
		case strings.HasPrefix(name, ".zdebug_"):
			name = ".debug_" + name[len(".zdebug_"):]
		case strings.HasPrefix(name, ".debug_"), name == ".gdb_index":
		default:
			continue
		}
		data, err := f.SectionData(s)
		if err != nil {
			return nil, err
		}
		out[name] = data
	}
	return out, nil
}

// Section is one named section of an object to write.
type Section struct {
	Name string
	Data []byte
}

// WriteRelocatable writes an ELF64 little-endian relocatable object for
// machine holding sections in order, followed by .shstrtab.
func WriteRelocatable(w io.Writer, machine elf.Machine, sections []Section) error {
	const (
		ehsize    = 64
		shentsize = 64
	)
	var shstrtab bytes.Buffer
	shstrtab.WriteByte(0)
	nameOff := make([]uint32, len(sections)+1)
	for i, s := range sections {
		nameOff[i] = uint32(shstrtab.Len())
		shstrtab.WriteString(s.Name)
		shstrtab.WriteByte(0)
	}
	nameOff[len(sections)] = uint32(shstrtab.Len())
	shstrtab.WriteString(".shstrtab")
	shstrtab.WriteByte(0)

	var body bytes.Buffer
	shdrs := []elf.Section64{{}}
	for i, s := range append(sections, Section{Data: shstrtab.Bytes()}) {
		typ := elf.SHT_PROGBITS
		if i == len(sections) {
			typ = elf.SHT_STRTAB
		}
		shdrs = append(shdrs, elf.Section64{
			Name:      nameOff[i],
			Type:      uint32(typ),
			Off:       uint64(ehsize + body.Len()),
			Size:      uint64(len(s.Data)),
			Addralign: 1,
		})
		body.Write(s.Data)
	}
	for body.Len()%8 != 0 {
		body.WriteByte(0)
	}

	hdr := elf.Header64{
		Type:      uint16(elf.ET_REL),
		Machine:   uint16(machine),
		Version:   uint32(elf.EV_CURRENT),
		Shoff:     uint64(ehsize + body.Len()),
		Ehsize:    ehsize,
		Shentsize: shentsize,
		Shnum:     uint16(len(shdrs)),
		Shstrndx:  uint16(len(shdrs) - 1),
	}
	copy(hdr.Ident[:], elf.ELFMAG)
	hdr.Ident[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	hdr.Ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	hdr.Ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("failed to write ELF header: %w", err)
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return fmt.Errorf("failed to write sections: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, shdrs); err != nil {
		return fmt.Errorf("failed to write section headers: %w", err)
	}
	return nil
}
