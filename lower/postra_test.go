// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package lower

import (
	"fmt"
	"testing"

	"github.com/gogpu/gpucc/ir"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestPostRA_ZeroRegister(t *testing.T) {
	src := `program compute chipset %s
func main
bb 0
  $r0:u32 = ld.u32 c0[0x0]
  $r1:u32 = add.u32 $r0 0x0
  $r2:u32 = mov.u32 0x0
  st.u32 g0[0x0] $r1
  st.u32 g0[0x4] $r2
  exit
`
	prog := parse(t, fmt.Sprintf(src, "0xc0"))
	assert.NilError(t, PostRA(prog))
	insns := prog.Main.Entry.Instructions()
	zero := insns[1].GetSrc(1)
	assert.Check(t, zero.IsLValue())
	assert.Check(t, is.Equal(zero.Reg.ID, int32(63)))
	assert.Check(t, insns[2].GetSrc(0).IsImm())

	prog = parse(t, fmt.Sprintf(src, "0x50"))
	assert.NilError(t, PostRA(prog))
	assert.Check(t, prog.Main.Entry.Instructions()[1].GetSrc(1).IsImm())
}

func TestPostRA_RemovesNops(t *testing.T) {
	prog := parse(t, `program compute chipset 0xc0
func main
bb 0
  $r0:u32 = ld.u32 c0[0x0]
  $r0:u32 = mov.u32 $r0
  nop
  %0:u32 = add.u32 $r0 $r0
  $r1:u32 = mov.u32 $r0
  st.u32 g0[0x0] $r1
  exit
`)
	assert.NilError(t, PostRA(prog))
	assert.DeepEqual(t, opsOf(prog.Main.Entry), []ir.Op{ir.OpLoad, ir.OpMov, ir.OpStore, ir.OpExit})
}

func TestPostRA_Split64(t *testing.T) {
	prog := parse(t, `program compute chipset 0xc0
func main
bb 0
  $r0:u64 = ld.u64 c0[0x0]
  $r4:u64 = ld.u64 c0[0x8]
  $r2:u64 = add.u64 $r0 $r4
  st.u64 g0[0x0] $r2
  exit
`)
	assert.NilError(t, PostRA(prog))
	assert.DeepEqual(t, opsOf(prog.Main.Entry), []ir.Op{
		ir.OpLoad, ir.OpLoad, ir.OpAdd, ir.OpAdd, ir.OpStore, ir.OpExit,
	})
	insns := prog.Main.Entry.Instructions()
	lo, hi := insns[2], insns[3]
	assert.Check(t, is.Equal(lo.DType, ir.TypeU32))
	assert.Check(t, is.Equal(hi.DType, ir.TypeU32))
	assert.Check(t, is.Equal(lo.GetDef(0).Reg.ID, int32(2)))
	assert.Check(t, is.Equal(hi.GetDef(0).Reg.ID, int32(3)))
	assert.Check(t, is.Equal(lo.GetSrc(0).Reg.ID, int32(0)))
	assert.Check(t, is.Equal(hi.GetSrc(0).Reg.ID, int32(1)))
	assert.Check(t, is.Equal(lo.GetSrc(1).Reg.ID, int32(4)))
	assert.Check(t, is.Equal(hi.GetSrc(1).Reg.ID, int32(5)))

	assert.Assert(t, lo.FlagsDef >= 0)
	assert.Assert(t, hi.FlagsSrc >= 0)
	assert.Check(t, lo.GetDef(int(lo.FlagsDef)) == hi.GetSrc(int(hi.FlagsSrc)))
	assert.Check(t, is.Equal(hi.GetSrc(int(hi.FlagsSrc)).Reg.File, ir.FileFlags))
}

func TestPostRA_SplitDoubleMad(t *testing.T) {
	prog := parse(t, `program compute chipset 0xc0
func main
bb 0
  $r0:f64 = ld.f64 c0[0x0]
  $r2:f64 = ld.f64 c0[0x8]
  $r4:f64 = ld.f64 c0[0x10]
  $r6:f64 = mad.f64 $r0 $r2 $r4
  $r8:f32 = ld.f32 c0[0x18]
  $r9:f32 = mad.f32 $r8 $r8 $r8
  st.f64 g0[0x0] $r6
  st.f32 g0[0x8] $r9
  exit
`)
	assert.NilError(t, PostRA(prog))
	assert.DeepEqual(t, opsOf(prog.Main.Entry), []ir.Op{
		ir.OpLoad, ir.OpLoad, ir.OpLoad, ir.OpMad, ir.OpMad,
		ir.OpLoad, ir.OpMad,
		ir.OpStore, ir.OpStore, ir.OpExit,
	})
	insns := prog.Main.Entry.Instructions()
	for k, mad := range insns[3:5] {
		assert.Check(t, is.Equal(mad.DType, ir.TypeU32))
		assert.Check(t, is.Equal(mad.GetDef(0).Reg.ID, int32(6+k)))
		for s := 0; s < 3; s++ {
			assert.Check(t, is.Equal(mad.GetSrc(s).Reg.ID, int32(2*s+k)))
		}
	}
	assert.Check(t, is.Equal(insns[6].DType, ir.TypeF32))
}

func TestPostRA_ContToBranch(t *testing.T) {
	prog := parse(t, `program compute chipset 0xc0
func main
bb 0 -> 1
  $r0:u32 = ld.u32 c0[0x0]
  bra bb1
bb 1 -> 2 3
  precont bb1
  $r0:u32 = add.u32 $r0 0x1
  $p0:pred = set.u8.u32.lt $r0 0x10
  @$p0 bra bb3
bb 2 -> 1
  cont bb1
bb 3
  exit
`)
	assert.NilError(t, PostRA(prog))
	blocks := prog.Main.Blocks()
	assert.Check(t, is.Equal(blocks[1].Entry().Op, ir.OpAdd))
	assert.Check(t, is.Equal(blocks[2].Exit().Op, ir.OpBra))
}

func TestPostRA_PredicatedContStays(t *testing.T) {
	prog := parse(t, `program compute chipset 0xc0
func main
bb 0 -> 1
  $r0:u32 = ld.u32 c0[0x0]
  bra bb1
bb 1 -> 2 3
  precont bb1
  $r0:u32 = add.u32 $r0 0x1
  $p0:pred = set.u8.u32.lt $r0 0x10
  @$p0 bra bb3
bb 2 -> 1 3
  @$p0 cont bb1
bb 3
  exit
`)
	assert.NilError(t, PostRA(prog))
	blocks := prog.Main.Blocks()
	assert.Check(t, is.Equal(blocks[1].Entry().Op, ir.OpPrecont))
	assert.Check(t, is.Equal(blocks[2].Exit().Op, ir.OpCont))
}

func TestPostRA_PropagateJoin(t *testing.T) {
	prog := parse(t, `program compute chipset 0xc0
func main
bb 0 -> 1 2
  $r0:u32 = ld.u32 c0[0x0]
  $p0:pred = set.u8.u32.lt $r0 0x10
  @$p0 bra bb2
bb 1 -> 3
  $r1:u32 = mov.u32 0x1
  bra bb3
bb 2 -> 3
  $r1:u32 = mov.u32 0x2
  bra bb3
bb 3
  join
  st.u32 g0[0x0] $r1
  exit
`)
	assert.NilError(t, PostRA(prog))
	blocks := prog.Main.Blocks()
	for _, bb := range blocks[1:3] {
		exit := bb.Exit()
		assert.Check(t, is.Equal(exit.Op, ir.OpJoin))
		assert.Check(t, exit.AsFlow().Limit)
	}
	assert.Check(t, is.Equal(blocks[3].Entry().Op, ir.OpStore))
}
