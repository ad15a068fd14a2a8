package sink

import (
	"debug/elf"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/blacktop/go-dwarfrewrite/pkg/elfobj"
)

// Dir is a Memory sink that writes split objects as ELF files and, on
// Flush, every section as a raw file under Root.
type Dir struct {
	*Memory
	Root    string
	Machine elf.Machine
}

// NewDir returns a directory sink seeded with the input sections.
func NewDir(root string, machine elf.Machine, input map[string][]byte) *Dir {
	return &Dir{Memory: NewMemory(input), Root: root, Machine: machine}
}

func (d *Dir) path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(d.Root, name)
}

// WriteObject writes sections as an ELF relocatable object named name.
func (d *Dir) WriteObject(name string, sections []elfobj.Section) error {
	if err := d.Memory.WriteObject(name, sections); err != nil {
		return err
	}
	path := d.path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := elfobj.WriteRelocatable(f, d.Machine, sections); err != nil {
		f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}

// Flush writes every section with its relocations applied. All failures
// are reported together.
func (d *Dir) Flush() error {
	if err := os.MkdirAll(d.Root, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", d.Root, err)
	}
	var errs *multierror.Error
	for _, name := range d.Names() {
		data, err := d.Output(name)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		path := filepath.Join(d.Root, strings.TrimPrefix(name, "."))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to write section %s: %w", name, err))
		}
	}
	return errs.ErrorOrNil()
}
