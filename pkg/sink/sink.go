// Package sink collects the rewritten sections and split objects produced
// by a rewrite.
package sink

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/blacktop/go-dwarfrewrite/pkg/elfobj"
)

// Relocation is a 32-bit value to store at Offset once the section is final.
type Relocation struct {
	Offset uint64
	Value  uint32
}

// Memory keeps everything in memory. It is safe for concurrent use.
type Memory struct {
	mu        sync.Mutex
	sections  map[string][]byte
	relocs    map[string][]Relocation
	finalized map[string]bool
	objects   map[string][]elfobj.Section
}

// NewMemory returns a sink seeded with the input sections.
func NewMemory(input map[string][]byte) *Memory {
	m := &Memory{
		sections:  make(map[string][]byte, len(input)),
		relocs:    make(map[string][]Relocation),
		finalized: make(map[string]bool),
		objects:   make(map[string][]elfobj.Section),
	}
	for name, data := range input {
		m.sections[name] = data
	}
	return m
}

func (m *Memory) Section(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.sections[name]
	return data, ok
}

func (m *Memory) RegisterOrUpdate(name string, data []byte) {
	m.mu.Lock()
	m.sections[name] = data
	m.mu.Unlock()
}

func (m *Memory) AddPendingRelocation(name string, offset uint64, value uint32) {
	m.mu.Lock()
	m.relocs[name] = append(m.relocs[name], Relocation{Offset: offset, Value: value})
	m.mu.Unlock()
}

func (m *Memory) SetFinalized(name string) {
	m.mu.Lock()
	m.finalized[name] = true
	m.mu.Unlock()
}

// Finalized reports whether name was marked final.
func (m *Memory) Finalized(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.finalized[name]
}

// Relocations returns the pending relocations recorded against name.
func (m *Memory) Relocations(name string) []Relocation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Relocation(nil), m.relocs[name]...)
}

// Output returns the bytes of name with its pending relocations applied.
func (m *Memory) Output(name string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.sections[name]
	if !ok {
		return nil, fmt.Errorf("section %s not found", name)
	}
	out := append([]byte(nil), data...)
	for _, r := range m.relocs[name] {
		if r.Offset+4 > uint64(len(out)) {
			return nil, fmt.Errorf("relocation at %#x outside section %s (%d bytes)", r.Offset, name, len(out))
		}
		binary.LittleEndian.PutUint32(out[r.Offset:], r.Value)
	}
	return out, nil
}

// Names returns the section names in sorted order.
func (m *Memory) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.sections))
	for name := range m.sections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WriteObject records a split object.
func (m *Memory) WriteObject(name string, sections []elfobj.Section) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.objects[name]; dup {
		return fmt.Errorf("object %s written twice", name)
	}
	m.objects[name] = sections
	return nil
}

// Object returns the sections of a written split object.
func (m *Memory) Object(name string) ([]elfobj.Section, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.objects[name]
	return s, ok
}

// Objects returns the names of written split objects in sorted order.
func (m *Memory) Objects() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.objects))
	for name := range m.objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
