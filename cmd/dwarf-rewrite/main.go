// dwarf-rewrite updates the debug sections of an ELF binary after its code
// was moved, given an address map of the new layout.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	dwarfrewrite "github.com/blacktop/go-dwarfrewrite"
	"github.com/blacktop/go-dwarfrewrite/internal/config"
	"github.com/blacktop/go-dwarfrewrite/internal/logging"
	"github.com/blacktop/go-dwarfrewrite/pkg/elfobj"
	"github.com/blacktop/go-dwarfrewrite/pkg/oracle"
	"github.com/blacktop/go-dwarfrewrite/pkg/sink"
)

type options struct {
	configPath string
	addrMap    string
	outDir     string
	dwoDir     string
	dwpInput   string
	logLevel   string

	dwarfOutputPath string
	output          string
	writeDWP        bool
	deterministic   bool
	keepARanges     bool
	verbosity       int
	jobs            int
}

func newRootCmd() *cobra.Command {
	var o options
	cmd := &cobra.Command{
		Use:   "dwarf-rewrite [flags] <binary>",
		Short: "Rewrite DWARF debug info for a binary whose code was moved",
		Long: `Rewrite the DWARF debug info of an ELF binary to match a new code layout.

The layout is given as a YAML address map (--map). The rewritten sections are
written as raw files under --out-dir; split units are written as .dwo files or,
with --write-dwp, as a single DWARF package.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Flags(), o, args[0])
		},
	}

	f := cmd.Flags()
	f.StringVarP(&o.configPath, "config", "c", "", "YAML configuration file")
	f.StringVarP(&o.addrMap, "map", "m", "", "YAML address map of the new layout")
	f.StringVarP(&o.outDir, "out-dir", "o", ".", "directory the rewritten sections are written to")
	f.StringVar(&o.dwoDir, "dwo-dir", "", "directory to read .dwo files from instead of each unit's comp_dir")
	f.StringVar(&o.dwpInput, "dwp", "", "read split units from this DWARF package")
	f.StringVar(&o.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	f.StringVar(&o.dwarfOutputPath, "dwarf-output-path", "", "directory for rewritten split units")
	f.StringVar(&o.output, "output", "", "name of the rewritten binary, used to name the package")
	f.BoolVar(&o.writeDWP, "write-dwp", false, "package split units into <output>.dwp")
	f.BoolVar(&o.deterministic, "deterministic", true, "process units serially for a reproducible layout")
	f.BoolVar(&o.keepARanges, "keep-aranges", false, "keep .debug_aranges when .gdb_index is regenerated")
	f.CountVarP(&o.verbosity, "verbose", "v", "report more diagnostics (repeatable)")
	f.IntVarP(&o.jobs, "jobs", "j", 0, "units processed in parallel when not deterministic")
	_ = cmd.MarkFlagRequired("map")

	return cmd
}

// loadConfig reads the config file and applies the flags that were set.
func loadConfig(flags *pflag.FlagSet, o options) (dwarfrewrite.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, err
	}
	if flags.Changed("dwarf-output-path") {
		cfg.DwarfOutputPath = o.dwarfOutputPath
	}
	if flags.Changed("output") {
		cfg.Output = o.output
	}
	if flags.Changed("write-dwp") {
		cfg.WriteDWP = o.writeDWP
	}
	if flags.Changed("deterministic") {
		cfg.Deterministic = o.deterministic
	}
	if flags.Changed("keep-aranges") {
		cfg.KeepARanges = o.keepARanges
	}
	if flags.Changed("verbose") {
		cfg.Verbosity = o.verbosity
	}
	if flags.Changed("jobs") {
		cfg.Jobs = o.jobs
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	return cfg, config.Validate(cfg)
}

func run(flags *pflag.FlagSet, o options, input string) error {
	cfg, err := loadConfig(flags, o)
	if err != nil {
		return err
	}
	log := logging.NewWithComponent(cfg.Log, "cli")

	orc, err := oracle.LoadFile(o.addrMap)
	if err != nil {
		return fmt.Errorf("failed to load address map: %w", err)
	}

	f, err := elfobj.Open(input)
	if err != nil {
		return err
	}
	sections, err := f.DebugSections()
	machine := f.Machine
	f.Close()
	if err != nil {
		return fmt.Errorf("failed to read debug sections of %s: %w", input, err)
	}

	out := sink.NewDir(o.outDir, machine, sections)

	var splits dwarfrewrite.SplitSource = dwarfrewrite.DWOFiles{Dir: o.dwoDir}
	if o.dwpInput != "" {
		pkg, err := dwarfrewrite.OpenPackage(o.dwpInput)
		if err != nil {
			return fmt.Errorf("failed to open package %s: %w", o.dwpInput, err)
		}
		splits = pkg
	}

	rw, err := dwarfrewrite.New(cfg, dwarfrewrite.Options{
		Oracle:  orc,
		Sink:    out,
		Splits:  splits,
		Objects: out,
	})
	if err != nil {
		return err
	}
	if err := rw.UpdateDebugInfo(); err != nil {
		return err
	}

	// .debug_line is carried over as is
	if err := rw.UpdateLineTableOffsets(dwarfrewrite.UnchangedLineTables); err != nil {
		return err
	}

	if err := out.Flush(); err != nil {
		return err
	}
	log.Info().Str("input", input).Str("out_dir", o.outDir).Msg("rewrite complete")
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
