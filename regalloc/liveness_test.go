// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package regalloc

import (
	"testing"

	"github.com/gogpu/gpucc/ir"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func liveIn(bb *ir.BasicBlock) []int {
	var ids []int
	for j, ok := bb.LiveSet.NextSet(0); ok; j, ok = bb.LiveSet.NextSet(j + 1) {
		ids = append(ids, int(j))
	}
	return ids
}

func TestBuildLiveSets_Loop(t *testing.T) {
	prog := parse(t, loopProgram)
	fn := prog.Main
	InsertPhiMoves(fn)
	BuildLiveSets(fn)

	entry, body, tail := fn.Blocks()[0], fn.Blocks()[1], fn.Blocks()[2]
	inv := entry.Instructions()[1].GetDef(0)
	sum := body.Instructions()[1].GetDef(0)

	assert.Check(t, is.Len(liveIn(entry), 0))
	assert.DeepEqual(t, liveIn(body), []int{inv.Index})
	assert.DeepEqual(t, liveIn(tail), []int{sum.Index})
}

func TestBuildIntervals_Loop(t *testing.T) {
	prog := parse(t, loopProgram)
	fn := prog.Main
	InsertPhiMoves(fn)
	BuildLiveSets(fn)
	fn.OrderInstructions()
	BuildIntervals(fn)

	entry, body := fn.Blocks()[0].Instructions(), fn.Blocks()[1].Instructions()
	tests := []struct {
		name string
		v    *ir.Value
		want []ir.Range
	}{
		{"first load", entry[0].GetDef(0), []ir.Range{{Begin: 1, End: 3}}},
		{"invariant", entry[1].GetDef(0), []ir.Range{{Begin: 2, End: 5}, {Begin: 6, End: 10}}},
		{"entry copy", entry[2].GetDef(0), []ir.Range{{Begin: 3, End: 5}}},
		{"sum", body[1].GetDef(0), []ir.Range{{Begin: 6, End: 10}}},
		{"condition", body[2].GetDef(0), []ir.Range{{Begin: 7, End: 9}}},
		{"back edge copy", body[3].GetDef(0), []ir.Range{{Begin: 8, End: 10}}},
	}
	for _, tt := range tests {
		assert.Check(t, is.DeepEqual(tt.v.Live.Ranges(), tt.want), tt.name)
	}
	// read by the first instruction of the body only
	assert.Check(t, body[0].GetDef(0).Live.IsEmpty())
}

func TestBuildIntervals_FixedDefHazard(t *testing.T) {
	prog := parse(t, `program compute chipset 0xc0
func main
bb 0
  $r0:u32 = ld.u32 c0[0x0]
  %1:u32 = ld.u32 c0[0x4]
  st.u32 g0[0x0] %1
  exit
`)
	fn := prog.Main
	BuildLiveSets(fn)
	fn.OrderInstructions()
	BuildIntervals(fn)

	dead := fn.Entry.First().GetDef(0)
	assert.DeepEqual(t, dead.Live.Ranges(), []ir.Range{{Begin: 1, End: 1}})
	assert.DeepEqual(t, fn.Entry.Instructions()[1].GetDef(0).Live.Ranges(), []ir.Range{{Begin: 2, End: 3}})
}

func TestCoalesce_Mov(t *testing.T) {
	prog := parse(t, `program compute chipset 0xc0
func main
bb 0
  %0:u32 = ld.u32 c0[0x0]
  %1:u32 = mov.u32 %0
  %2:u32 = ld.u32 c0[0x4]
  %3:u32 = mov.u32 %2
  %4:u32 = add.u32 %2 %3
  st.u32 g0[0x0] %1
  st.u32 g0[0x4] %4
  exit
`)
	fn := prog.Main
	BuildLiveSets(fn)
	fn.OrderInstructions()
	BuildIntervals(fn)
	assert.NilError(t, Coalesce(fn, JoinMov))

	insns := fn.Entry.Instructions()
	assert.Check(t, insns[1].GetDef(0).Rep() == insns[0].GetDef(0).Rep())
	// the source is still read after the copy
	assert.Check(t, insns[3].GetDef(0).Rep() != insns[2].GetDef(0).Rep())
}
