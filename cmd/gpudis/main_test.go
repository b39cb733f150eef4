// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package main

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/gogpu/gpucc"
	"github.com/gogpu/gpucc/target"
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

func TestDisassemble(t *testing.T) {
	targ, err := target.New(0xc0)
	assert.NilError(t, err)
	code := []uint32{
		0x43f05c06, 0x14000000,
		0xfc109c03, 0x48000000,
		0x00001c07, 0x80000000,
		0x00000000, 0x00000000,
	}
	d := &disassembler{targ: targ, f: targ.Fields(), base: 0x100}

	var out bytes.Buffer
	assert.NilError(t, d.run(&out, code))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Assert(t, is.Len(lines, 5))
	assert.Check(t, strings.HasPrefix(lines[0], "00000100: ld"), lines[0])
	assert.Check(t, is.Contains(lines[0], " c "))
	assert.Check(t, strings.HasPrefix(lines[1], "00000108: add"), lines[1])
	assert.Check(t, strings.HasPrefix(lines[2], "00000110: exit"), lines[2])
	assert.Check(t, is.Equal(lines[3], "00000118: .word 0x00000000"))
	assert.Check(t, is.Equal(lines[4], "0000011c: .word 0x00000000"))
}

func TestDisassembleRaw(t *testing.T) {
	targ, err := target.New(0xc0)
	assert.NilError(t, err)
	d := &disassembler{targ: targ, f: targ.Fields(), raw: true}

	var out bytes.Buffer
	assert.NilError(t, d.run(&out, []uint32{0x00001c07, 0x80000000}))
	assert.Check(t, is.Equal(out.String(), "00000000: 00001c07 80000000  exit\n"))
}

func TestDisassembleCompiled(t *testing.T) {
	res, err := gpucc.CompileString(sumProgram, gpucc.DefaultOptions())
	assert.NilError(t, err)
	var buf bytes.Buffer
	assert.NilError(t, binary.Write(&buf, binary.LittleEndian, res.Code))
	dir := fs.NewDir(t, "gpudis", fs.WithFile("sum.bin", "", fs.WithBytes(buf.Bytes())))

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--chipset", "0xc0", dir.Join("sum.bin")})
	assert.NilError(t, cmd.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Check(t, len(lines) >= len(res.Code)/2)
	assert.Check(t, strings.HasPrefix(lines[0], "00000000: ld"), lines[0])
	assert.Check(t, is.Contains(lines[len(lines)-1], "exit"))
}

func TestDisassembleErrors(t *testing.T) {
	dir := fs.NewDir(t, "gpudis", fs.WithFile("odd.bin", "", fs.WithBytes([]byte{1, 2, 3})))
	var out bytes.Buffer

	err := runDisassemble(&out, disOptions{chipset: "tesla"}, dir.Join("odd.bin"))
	assert.Check(t, is.ErrorContains(err, "invalid chipset"))
	err = runDisassemble(&out, disOptions{chipset: "0x20"}, dir.Join("odd.bin"))
	assert.Check(t, is.ErrorContains(err, "chipset 0x20"))
	err = runDisassemble(&out, disOptions{chipset: "0xc0"}, dir.Join("odd.bin"))
	assert.Check(t, is.ErrorContains(err, "multiple of 4"))
}
