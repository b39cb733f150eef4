// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package main

import (
	"os"
	"strconv"
	"strings"

	"github.com/gogpu/gpucc"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
)

// config is the content of a gpucc.toml file. Command line flags override
// its values.
type config struct {
	Chipset     string   `toml:"chipset"`
	Debug       []string `toml:"debug"`
	Stage       string   `toml:"stage"`
	Validate    bool     `toml:"validate"`
	OutputDir   string   `toml:"output-dir"`
	Relocs      bool     `toml:"relocs"`
	Jobs        int      `toml:"jobs"`
	MaxCodeSize int      `toml:"max-code-size"`
}

// loadConfig reads a configuration file. Keys the file does not set keep
// the values of defaults.
func loadConfig(path string, defaults config) (config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return defaults, errors.Wrap(err, "reading config")
	}
	tree, err := toml.LoadBytes(data)
	if err != nil {
		return defaults, errors.Wrapf(err, "parsing %s", path)
	}
	var cfg config
	if err := tree.Unmarshal(&cfg); err != nil {
		return defaults, errors.Wrapf(err, "decoding %s", path)
	}
	if !tree.Has("validate") {
		cfg.Validate = defaults.Validate
	}
	if !tree.Has("jobs") {
		cfg.Jobs = defaults.Jobs
	}
	return cfg, nil
}

// compileOptions translates the configuration for the compiler.
func (c *config) compileOptions() (gpucc.CompileOptions, error) {
	opts := gpucc.DefaultOptions()
	opts.Validate = c.Validate
	opts.MaxCodeSize = c.MaxCodeSize

	if c.Chipset != "" {
		n, err := strconv.ParseUint(c.Chipset, 0, 32)
		if err != nil {
			return opts, errors.Wrapf(err, "invalid chipset %q", c.Chipset)
		}
		opts.Chipset = uint32(n)
	}
	if c.Stage != "" {
		s, ok := gpucc.StageByName(c.Stage)
		if !ok {
			return opts, errors.Errorf("unknown stage %q", c.Stage)
		}
		opts.Stage = s
	}
	for _, name := range c.Debug {
		s, ok := gpucc.StageByName(strings.TrimSpace(name))
		if !ok || s.DebugFlag() == 0 {
			return opts, errors.Errorf("no IR dump for %q", name)
		}
		opts.Debug |= s.DebugFlag()
	}
	return opts, nil
}
