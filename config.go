package dwarfrewrite

import (
	"runtime"

	"github.com/blacktop/go-dwarfrewrite/internal/logging"
)

// Config controls a rewrite.
type Config struct {
	// DwarfOutputPath is the directory split objects are written to. When
	// empty, each split object goes next to its skeleton's DW_AT_comp_dir.
	DwarfOutputPath string `yaml:"dwarf_output_path"`
	// WriteDWP packages all split units into one .dwp instead of writing
	// one .dwo per unit.
	WriteDWP bool `yaml:"write_dwp"`
	// Deterministic processes units one at a time so that the shared tables
	// are laid out identically on every run.
	Deterministic bool `yaml:"deterministic"`
	// KeepARanges writes .debug_aranges even when .gdb_index is regenerated.
	KeepARanges bool `yaml:"keep_aranges"`
	Verbosity   int  `yaml:"verbosity"`
	// Output is the name of the rewritten binary; the package is named
	// after it.
	Output string `yaml:"output"`
	// Jobs bounds the number of units processed in parallel.
	Jobs int `yaml:"jobs"`

	Log logging.Config `yaml:"log"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Deterministic: true,
		Output:        "a.out",
		Jobs:          runtime.GOMAXPROCS(0),
		Log:           logging.DefaultConfig(),
	}
}

func (c Config) jobs() int {
	if c.Jobs <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return c.Jobs
}
