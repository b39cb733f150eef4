// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package regalloc

import (
	"strings"
	"testing"

	"github.com/gogpu/gpucc/ir"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestInsertPhiMoves_Diamond(t *testing.T) {
	prog := parse(t, branchProgram)
	fn := prog.Main
	InsertPhiMoves(fn)

	blocks := fn.Blocks()
	assert.Assert(t, is.Len(blocks, 4))
	join := blocks[3]
	phi := join.First()
	for j, pb := range []*ir.BasicBlock{blocks[1], blocks[2]} {
		assert.Check(t, join.Preds()[j] == pb)
		assert.DeepEqual(t, opsOf(pb), []ir.Op{pb.First().Op, ir.OpMov, ir.OpBra})

		mov := pb.Exit().Prev()
		assert.Check(t, mov.GetSrc(0) == pb.First().GetDef(0))
		assert.Check(t, phi.GetSrc(j) == mov.GetDef(0))
		assert.Check(t, mov.GetDef(0) != phi.GetDef(0))
		assert.Check(t, is.Equal(mov.DType, ir.TypeU32))
	}
}

func TestInsertPhiMoves_FallThrough(t *testing.T) {
	// the first arm falls through into the join block
	src := strings.Replace(branchProgram, "  %2:f32 = mul.f32 %0 0x40000000:f32\n  bra bb3\n",
		"  %2:f32 = mul.f32 %0 0x40000000:f32\n", 1)
	prog := parse(t, src)
	fn := prog.Main
	arm := fn.Blocks()[1]
	assert.Assert(t, !arm.IsTerminated())

	InsertPhiMoves(fn)
	assert.DeepEqual(t, opsOf(arm), []ir.Op{ir.OpMul, ir.OpMov, ir.OpBra})
	assert.Check(t, arm.Exit().AsFlow().TargetBB == fn.Blocks()[3])
	assert.Check(t, fn.Blocks()[3].First().GetSrc(0) == arm.Exit().Prev().GetDef(0))
}

func TestInsertPhiMoves_CriticalEdge(t *testing.T) {
	prog := parse(t, `program fragment chipset 0xc0
func main
bb 0 -> 1 2
  %0:f32 = linterp.f32 a[0x10]:f32
  %1:pred = set.u8.f32.lt %0 0x3f800000:f32
  @%1 bra bb2
bb 1 -> 2
  %2:f32 = mul.f32 %0 0x40000000:f32
  bra bb2
bb 2
  %3:f32 = phi %0 %2
  export.f32 o[0x0]:f32 %3
  exit
`)
	fn := prog.Main
	head, arm, join := fn.Blocks()[0], fn.Blocks()[1], fn.Blocks()[2]
	InsertPhiMoves(fn)

	assert.Assert(t, is.Len(fn.Blocks(), 4))
	pn := fn.Blocks()[3]
	preds := join.Preds()
	assert.Assert(t, is.Len(preds, 2))
	assert.Check(t, preds[0] == pn)
	assert.Check(t, preds[1] == arm)
	assert.Assert(t, is.Len(pn.Preds(), 1))
	assert.Check(t, pn.Preds()[0] == head)
	assert.Check(t, head.Exit().AsFlow().TargetBB == pn)

	assert.DeepEqual(t, opsOf(pn), []ir.Op{ir.OpMov, ir.OpBra})
	assert.Check(t, pn.Exit().AsFlow().TargetBB == join)
	phi := join.First()
	assert.Check(t, phi.GetSrc(0) == pn.First().GetDef(0))
	assert.Check(t, pn.First().GetSrc(0) == head.First().GetDef(0))
	assert.Check(t, phi.GetSrc(1) == arm.Exit().Prev().GetDef(0))

	// the head keeps its copies out of the path through the arm
	assert.DeepEqual(t, opsOf(head), []ir.Op{ir.OpLinterp, ir.OpSet, ir.OpBra})
}
