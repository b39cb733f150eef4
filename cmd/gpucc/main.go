// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

// Command gpucc compiles programs in the IR text form to NVIDIA machine
// code.
//
// Usage:
//
//	gpucc [flags] <input.ir>...
//
// Examples:
//
//	gpucc shader.ir                            # binary next to the input
//	gpucc --chipset 0xc0 -o shader.bin shader.ir
//	gpucc --dump pre-ssa,post-ra --debug shader.ir
//	gpucc --jobs 4 --output-dir out --stats *.ir
package main

import (
	"os"
	"runtime"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	configFile string
	output     string
	stats      bool
	verbose    bool
	debug      bool

	cfg config
}

func newRootCommand() *cobra.Command {
	opts := options{
		cfg: config{Validate: true, Jobs: runtime.NumCPU()},
	}

	cmd := &cobra.Command{
		Use:           "gpucc [OPTIONS] INPUT...",
		Short:         "Compile IR programs to NVIDIA machine code",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.merge(cmd); err != nil {
				return err
			}
			return runCompile(cmd, &opts, args)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configFile, "config", "", "Read settings from a TOML file")
	flags.StringVarP(&opts.output, "output", "o", "", "Output file (single input only)")
	flags.StringVar(&opts.cfg.OutputDir, "output-dir", "", "Directory for output files (default: next to the input)")
	flags.StringVar(&opts.cfg.Chipset, "chipset", "", "Target chipset, e.g. 0x50 or 0xc0 (default: from the input)")
	flags.StringVar(&opts.cfg.Stage, "stage", "", "Stop after the named stage")
	flags.StringSliceVar(&opts.cfg.Debug, "dump", nil, "Dump the IR after the named stages")
	flags.BoolVar(&opts.cfg.Validate, "validate", true, "Check the input program")
	flags.BoolVar(&opts.cfg.Relocs, "relocs", false, "Print the relocation table")
	flags.IntVarP(&opts.cfg.Jobs, "jobs", "j", runtime.NumCPU(), "Number of files compiled in parallel")
	flags.IntVar(&opts.cfg.MaxCodeSize, "max-code-size", 0, "Fail when a binary exceeds this many bytes")
	flags.BoolVar(&opts.stats, "stats", false, "Print compilation statistics")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log each compiled file")
	flags.BoolVar(&opts.debug, "debug", false, "Enable debug logging")

	return cmd
}

// merge applies the configuration file under the flags set explicitly.
func (o *options) merge(cmd *cobra.Command) error {
	if o.configFile == "" {
		return nil
	}
	fileCfg, err := loadConfig(o.configFile, o.cfg)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if !flags.Changed("chipset") {
		o.cfg.Chipset = fileCfg.Chipset
	}
	if !flags.Changed("dump") {
		o.cfg.Debug = fileCfg.Debug
	}
	if !flags.Changed("stage") {
		o.cfg.Stage = fileCfg.Stage
	}
	if !flags.Changed("validate") {
		o.cfg.Validate = fileCfg.Validate
	}
	if !flags.Changed("output-dir") {
		o.cfg.OutputDir = fileCfg.OutputDir
	}
	if !flags.Changed("relocs") {
		o.cfg.Relocs = fileCfg.Relocs
	}
	if !flags.Changed("jobs") {
		o.cfg.Jobs = fileCfg.Jobs
	}
	if !flags.Changed("max-code-size") {
		o.cfg.MaxCodeSize = fileCfg.MaxCodeSize
	}
	return nil
}

func (o *options) logger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	switch {
	case o.debug:
		log.SetLevel(logrus.DebugLevel)
	case o.verbose:
		log.SetLevel(logrus.InfoLevel)
	default:
		log.SetLevel(logrus.WarnLevel)
	}
	return log
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
