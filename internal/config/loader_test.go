package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dwarfrewrite "github.com/blacktop/go-dwarfrewrite"
)

func TestLoad_NotExists(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	def := dwarfrewrite.DefaultConfig()
	assert.Equal(t, def.Deterministic, cfg.Deterministic)
	assert.Equal(t, def.Output, cfg.Output)
	assert.Equal(t, def.Jobs, cfg.Jobs)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dwarf-rewrite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dwarf_output_path: /tmp/dwo
write_dwp: true
keep_aranges: true
verbosity: 2
output: prog.bolt
log:
  level: debug
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/dwo", cfg.DwarfOutputPath)
	assert.True(t, cfg.WriteDWP)
	assert.True(t, cfg.KeepARanges)
	assert.Equal(t, 2, cfg.Verbosity)
	assert.Equal(t, "prog.bolt", cfg.Output)
	assert.Equal(t, "debug", cfg.Log.Level)
	// untouched keys keep their defaults
	assert.True(t, cfg.Deterministic)
	assert.True(t, cfg.Log.Pretty)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"syntax", "jobs: [1"},
		{"negative jobs", "jobs: -1"},
		{"negative verbosity", "verbosity: -2"},
		{"log level", "log:\n  level: loud"},
		{"dwp without output", "write_dwp: true\noutput: \"\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}
