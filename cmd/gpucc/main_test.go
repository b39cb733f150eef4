// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"os"
	"testing"

	"github.com/gogpu/gpucc"
	"github.com/gogpu/gpucc/ir"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/fs"
)

const sumProgram = `program compute chipset 0xc0
func main
bb 0
  %0:u32 = ld.u32 c0[0x0]
  %1:u32 = ld.u32 c0[0x4]
  %2:u32 = add.u32 %0 %1
  st.u32 g0[0x0] %2
  exit
`

const divProgram = `program vertex chipset 0xc0
func main
bb 0
  %0:u32 = ld.u32 c0[0x0]
  %1:u32 = ld.u32 c0[0x4]
  %2:u32 = div.u32 %0 %1
  export.u32 o[0x0]:u32 %2
  exit
`

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCompileFiles(t *testing.T) {
	dir := fs.NewDir(t, "gpucc",
		fs.WithFile("sum.ir", sumProgram),
		fs.WithFile("div.ir", divProgram),
	)
	outDir := dir.Join("out")

	out, err := run(t, "--output-dir", outDir, "--jobs", "2", "--relocs", "--stats",
		dir.Join("sum.ir"), dir.Join("div.ir"))
	assert.NilError(t, err)

	for _, name := range []string{"sum.bin", "div.bin"} {
		data, err := os.ReadFile(dir.Join("out", name))
		assert.NilError(t, err)
		assert.Check(t, len(data) > 0, name)
		assert.Check(t, is.Equal(len(data)%8, 0), name)
	}
	assert.Check(t, is.Contains(out, dir.Join("div.ir")+":"))
	assert.Check(t, is.Contains(out, "builtin"))
	assert.Check(t, is.Contains(out, `gpucc_compiles_total{result="ok"}`))
	assert.Check(t, is.Contains(out, `gpucc_max_gpr{chipset="0xc0"}`))
}

func TestCompileOutputFlag(t *testing.T) {
	dir := fs.NewDir(t, "gpucc", fs.WithFile("sum.ir", sumProgram))

	_, err := run(t, "-o", dir.Join("a.bin"), dir.Join("sum.ir"))
	assert.NilError(t, err)
	_, err = os.Stat(dir.Join("a.bin"))
	assert.NilError(t, err)

	_, err = run(t, "-o", dir.Join("a.bin"), dir.Join("sum.ir"), dir.Join("sum.ir"))
	assert.Check(t, is.ErrorContains(err, "single input"))
}

func TestCompileError(t *testing.T) {
	dir := fs.NewDir(t, "gpucc", fs.WithFile("sum.ir", sumProgram))
	_, err := run(t, "--chipset", "0x20", dir.Join("sum.ir"))
	assert.Check(t, is.ErrorContains(err, "chipset 0x20"))
}

func TestConfigFile(t *testing.T) {
	dir := fs.NewDir(t, "gpucc", fs.WithFile("gpucc.toml", `
chipset = "0xc0"
debug = ["pre-ssa", "post-ra"]
stage = "post-ra"
relocs = true
max-code-size = 4096
`))

	defaults := config{Validate: true, Jobs: 3}
	cfg, err := loadConfig(dir.Join("gpucc.toml"), defaults)
	assert.NilError(t, err)
	assert.DeepEqual(t, cfg, config{
		Chipset:     "0xc0",
		Debug:       []string{"pre-ssa", "post-ra"},
		Stage:       "post-ra",
		Validate:    true,
		Relocs:      true,
		Jobs:        3,
		MaxCodeSize: 4096,
	})

	opts, err := cfg.compileOptions()
	assert.NilError(t, err)
	assert.Check(t, is.Equal(opts.Chipset, uint32(0xc0)))
	assert.Check(t, is.Equal(opts.Stage, gpucc.StagePostRA))
	assert.Check(t, is.Equal(opts.Debug, ir.DebugPreSSA|ir.DebugPostRA))
	assert.Check(t, opts.Validate)
}

func TestConfigFlagsOverride(t *testing.T) {
	dir := fs.NewDir(t, "gpucc",
		fs.WithFile("gpucc.toml", "chipset = \"0x20\"\nvalidate = false\n"),
		fs.WithFile("sum.ir", sumProgram),
	)
	// the file names an unsupported chipset, the flag wins
	_, err := run(t, "--config", dir.Join("gpucc.toml"), "--chipset", "0xc0", dir.Join("sum.ir"))
	assert.NilError(t, err)

	_, err = run(t, "--config", dir.Join("gpucc.toml"), dir.Join("sum.ir"))
	assert.Check(t, is.ErrorContains(err, "chipset 0x20"))
}

func TestCompileOptionsErrors(t *testing.T) {
	tests := []struct {
		cfg  config
		want string
	}{
		{config{Chipset: "fermi"}, "invalid chipset"},
		{config{Stage: "link"}, "unknown stage"},
		{config{Debug: []string{"emit"}}, "no IR dump"},
	}
	for _, tt := range tests {
		_, err := tt.cfg.compileOptions()
		assert.Check(t, is.ErrorContains(err, tt.want))
	}
}
