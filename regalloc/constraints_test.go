// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package regalloc

import (
	"testing"

	"github.com/gogpu/gpucc/ir"
	"github.com/gogpu/gpucc/lower"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestInsertConstraints(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		want  []ir.Op
		check func(t *testing.T, insns []*ir.Instruction)
	}{
		{
			name: "coordinates",
			body: `  %0:f32 = linterp.f32 a[0x10]:f32
  %1:f32 = linterp.f32 a[0x14]:f32
  %2:f32 = tex.f32.2d %0 %1 tic:0 tsc:0 mask:0x1
  export.f32 o[0x0]:f32 %2
`,
			want: []ir.Op{ir.OpLinterp, ir.OpLinterp, ir.OpConstraint, ir.OpTex, ir.OpExport},
			check: func(t *testing.T, insns []*ir.Instruction) {
				cst, tex := insns[2], insns[3]
				for s := 0; s < 2; s++ {
					assert.Check(t, cst.GetSrc(s) == insns[s].GetDef(0))
					assert.Check(t, tex.GetSrc(s) == cst.GetDef(s))
				}
			},
		},
		{
			name: "repeated coordinate",
			body: `  %0:f32 = linterp.f32 a[0x10]:f32
  %2:f32 = tex.f32.2d %0 %0 tic:0 tsc:0 mask:0x1
  export.f32 o[0x0]:f32 %2
`,
			want: []ir.Op{ir.OpLinterp, ir.OpMov, ir.OpConstraint, ir.OpTex, ir.OpExport},
			check: func(t *testing.T, insns []*ir.Instruction) {
				mov, cst := insns[1], insns[2]
				assert.Check(t, cst.GetSrc(0) == insns[0].GetDef(0))
				assert.Check(t, cst.GetSrc(1) == mov.GetDef(0))
				assert.Check(t, mov.GetSrc(0) == insns[0].GetDef(0))
			},
		},
		{
			name: "coordinate read elsewhere",
			body: `  %0:f32 = linterp.f32 a[0x10]:f32
  %1:f32 = linterp.f32 a[0x14]:f32
  %2:f32 = tex.f32.2d %0 %1 tic:0 tsc:0 mask:0x1
  %3:f32 = add.f32 %2 %1
  export.f32 o[0x0]:f32 %3
`,
			want: []ir.Op{ir.OpLinterp, ir.OpLinterp, ir.OpMov, ir.OpConstraint, ir.OpTex, ir.OpAdd, ir.OpExport},
			check: func(t *testing.T, insns []*ir.Instruction) {
				mov, cst := insns[2], insns[3]
				assert.Check(t, cst.GetSrc(0) == insns[0].GetDef(0))
				assert.Check(t, cst.GetSrc(1) == mov.GetDef(0))
				assert.Check(t, mov.GetSrc(0) == insns[1].GetDef(0))
			},
		},
		{
			name: "shared coordinates",
			body: `  %0:f32 = linterp.f32 a[0x10]:f32
  %1:f32 = linterp.f32 a[0x14]:f32
  %2:f32 = tex.f32.2d %0 %1 tic:0 tsc:0 mask:0x1
  %3:f32 = tex.f32.2d %0 %1 tic:1 tsc:1 mask:0x1
  %4:f32 = add.f32 %2 %3
  export.f32 o[0x0]:f32 %4
`,
			want: []ir.Op{ir.OpLinterp, ir.OpLinterp, ir.OpConstraint, ir.OpTex, ir.OpTex, ir.OpAdd, ir.OpExport},
			check: func(t *testing.T, insns []*ir.Instruction) {
				cst := insns[2]
				for s := 0; s < 2; s++ {
					assert.Check(t, insns[3].GetSrc(s) == cst.GetDef(s))
					assert.Check(t, insns[4].GetSrc(s) == cst.GetDef(s))
				}
			},
		},
		{
			name: "unused results",
			body: `  %0:f32 = linterp.f32 a[0x10]:f32
  %2:f32 %3:f32 %4:f32 %5:f32 = tex.f32.1d %0 tic:0 tsc:0
  %6:f32 = add.f32 %2 %4
  export.f32 o[0x0]:f32 %6
`,
			want: []ir.Op{ir.OpLinterp, ir.OpTex, ir.OpAdd, ir.OpExport},
			check: func(t *testing.T, insns []*ir.Instruction) {
				tex := insns[1]
				assert.Check(t, is.Equal(tex.DefCount(), 2))
				assert.Check(t, is.Equal(tex.AsTex().Mask, uint8(0x5)))
				assert.Check(t, tex.GetDef(0) == insns[2].GetSrc(0))
				assert.Check(t, tex.GetDef(1) == insns[2].GetSrc(1))
			},
		},
		{
			name: "wide store",
			body: `  %0:u32 = ld.u32 c0[0x0]
  %1:u32 = ld.u32 c0[0x4]
  st.u64 g0[0x0] %0 %1
`,
			want: []ir.Op{ir.OpLoad, ir.OpLoad, ir.OpConstraint, ir.OpStore},
			check: func(t *testing.T, insns []*ir.Instruction) {
				cst, st := insns[2], insns[3]
				assert.Check(t, is.Equal(cst.DefCount(), 2))
				assert.Check(t, st.GetSrc(1) == cst.GetDef(0))
				assert.Check(t, st.GetSrc(2) == cst.GetDef(1))
			},
		},
		{
			name: "wide indirect load",
			body: `  %0:u32 = ld.u32 c0[0x0]
  %1:addr = shl.u16 %0 0x2
  %2:u64 = ld.u64 g0[%1+0x40]:u64
  st.u64 g0[0x0] %2
`,
			want: []ir.Op{ir.OpLoad, ir.OpShl, ir.OpLoad, ir.OpNop, ir.OpStore},
			check: func(t *testing.T, insns []*ir.Instruction) {
				assert.Check(t, insns[3].GetSrc(0) == insns[1].GetDef(0))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog := parse(t, "program fragment chipset 0xc0\nfunc main\nbb 0\n"+tt.body+"  exit\n")
			assert.NilError(t, InsertConstraints(prog.Main))

			bb := prog.Main.Entry
			assert.DeepEqual(t, opsOf(bb), append(tt.want, ir.OpExit))
			tt.check(t, bb.Instructions())
		})
	}
}

func TestTextureGroups(t *testing.T) {
	tests := []struct {
		insn string
		s, n int
	}{
		{"tex.f32.2d %0 %1 tic:0 tsc:0", 2, 0},
		{"txb.f32.2d %0 %1 %2 tic:0 tsc:0", 2, 1},
		{"tex.f32.2d_shadow %0 %1 %2 tic:0 tsc:0", 3, 0},
		{"tex.f32.2d_array %0 %1 %2 tic:0 tsc:0", 3, 0},
		{"txd.f32.2d %0 %1 tic:0 tsc:0 dx:%0,%1 dy:%1,%0", 2, 0},
		{"txq.f32.2d %0 tic:0 tsc:0", 1, 0},
	}
	for _, tt := range tests {
		t.Run(tt.insn, func(t *testing.T) {
			prog := parse(t, `program fragment chipset 0xc0
func main
bb 0
  %0:f32 = linterp.f32 a[0x10]:f32
  %1:f32 = linterp.f32 a[0x14]:f32
  %2:f32 = linterp.f32 a[0x18]:f32
  %3:f32 = `+tt.insn+`
  exit
`)
			i := prog.Main.Entry.Instructions()[3]
			s, n := i.TextureGroups()
			assert.Check(t, is.Equal(s, tt.s))
			assert.Check(t, is.Equal(n, tt.n))
		})
	}
}

const manualTXDProgram = `program fragment chipset 0x50
func main
bb 0
  %0:f32 = linterp.f32 a[0x10]:f32
  %1:f32 = linterp.f32 a[0x14]:f32
  %2:f32 = linterp.f32 a[0x18]:f32
  %3:f32 = linterp.f32 a[0x1c]:f32
  %4:f32 %5:f32 = txd.f32.2d %0 %1 tic:0 tsc:0 dx:%2,%3 dy:%3,%2
  %6:f32 = add.f32 %4 %5
  export.f32 o[0x0]:f32 %6
  exit
`

func lowerTXD(t *testing.T) *ir.Program {
	t.Helper()
	prog := parse(t, manualTXDProgram)
	assert.NilError(t, lower.PreSSA(prog))
	assert.NilError(t, lower.SSA(prog))
	return prog
}

// Every lane of a manual TXD writes its coordinates into the same scratch
// registers, so each fetch needs a group of its own.
func TestInsertConstraints_ManualTXDLanes(t *testing.T) {
	prog := lowerTXD(t)
	assert.NilError(t, InsertConstraints(prog.Main))

	pos := map[*ir.Instruction]int{}
	var texs []*ir.Instruction
	k := 0
	for i := prog.Main.Entry.First(); i != nil; i = i.Next() {
		pos[i] = k
		k++
		if i.Op == ir.OpTex {
			texs = append(texs, i)
		}
	}
	assert.Assert(t, is.Len(texs, 4))

	prev := -1
	for l, tex := range texs {
		cst := tex.GetSrc(0).Insn()
		assert.Assert(t, cst != nil, "lane %d", l)
		assert.Check(t, is.Equal(cst.Op, ir.OpConstraint), "lane %d", l)
		assert.Check(t, pos[cst] > prev, "lane %d reads a group built before the previous fetch", l)
		for x := 0; x < l; x++ {
			assert.Check(t, tex.GetSrc(0) != texs[x].GetSrc(0), "lanes %d and %d share coordinates", x, l)
		}
		prev = pos[tex]
	}
}

func TestRun_ManualTXD(t *testing.T) {
	prog := lowerTXD(t)
	assert.NilError(t, Run(prog))
	n := 0
	for i := prog.Main.Entry.First(); i != nil; i = i.Next() {
		if i.Op != ir.OpTex {
			continue
		}
		n++
		for s := 0; i.SrcExists(s); s++ {
			assert.Check(t, i.GetSrc(s).Rep().IsFixed())
		}
	}
	assert.Check(t, is.Equal(n, 4))
}
