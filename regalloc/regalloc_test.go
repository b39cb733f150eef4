// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package regalloc

import (
	"fmt"
	"strings"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/gogpu/gpucc/ir"
	"github.com/gogpu/gpucc/target"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"pgregory.net/rapid"
)

type helperT interface {
	assert.TestingT
	Helper()
}

func parse(t helperT, src string) *ir.Program {
	t.Helper()
	prog, err := ir.ParseString(src)
	assert.NilError(t, err)
	prog.Target, err = target.New(prog.Chipset)
	assert.NilError(t, err)
	return prog
}

func opsOf(bb *ir.BasicBlock) []ir.Op {
	var ops []ir.Op
	for i := bb.First(); i != nil; i = i.Next() {
		ops = append(ops, i.Op)
	}
	return ops
}

// checkRegisters verifies that every live value has a register, that
// coalesced values agree on it and that values live at the same time do
// not share storage.
func checkRegisters(t helperT, fn *ir.Function) {
	t.Helper()
	var reps []*ir.Value
	for _, v := range fn.LValues() {
		rep := v.Rep()
		if !rep.Live.IsEmpty() {
			assert.Check(t, is.Equal(v.Reg.ID, rep.Reg.ID), "member %%%d of %%%d", v.Index, rep.Index)
		}
		if rep != v || v.Live.IsEmpty() {
			continue
		}
		assert.Assert(t, v.IsFixed(), "%%%d has no register", v.Index)
		reps = append(reps, v)
	}
	for x, a := range reps {
		for _, b := range reps[x+1:] {
			if a.Live.Overlaps(&b.Live) {
				assert.Check(t, !a.Interferes(b), "%%%d %s %s and %%%d %s %s",
					a.Index, a, &a.Live, b.Index, b, &b.Live)
			}
		}
	}
}

const branchProgram = `program fragment chipset 0x50
func main
bb 0 -> 1 2
  %0:f32 = linterp.f32 a[0x10]:f32 ipa:0x1
  %1:pred = set.u8.f32.lt %0 0x3f800000:f32
  @%1 bra bb2
bb 1 -> 3
  %2:f32 = mul.f32 %0 0x40000000:f32
  bra bb3
bb 2 -> 3
  %3:f32 = add.f32 -%0 |%0|
  bra bb3
bb 3
  %4:f32 = phi %2 %3
  export.f32 o[0x0]:f32 %4
  exit
`

const loopProgram = `program compute chipset 0xc0
func main
bb 0 -> 1
  %0:u32 = ld.u32 c0[0x0]
  %1:u32 = ld.u32 c0[0x4]
  bra bb1
bb 1 -> 1 2
  %2:u32 = phi %0 %3
  %3:u32 = add.u32 %2 %1
  %4:pred = set.u8.u32.lt %3 0x10:u32
  @%4 bra bb1
bb 2
  st.u32 g0[0x0] %3
  exit
`

func TestRun_Branches(t *testing.T) {
	prog := parse(t, branchProgram)
	assert.NilError(t, Run(prog))

	fn := prog.Main
	checkRegisters(t, fn)
	join := fn.Blocks()[3]
	phi := join.First()
	assert.Equal(t, phi.Op, ir.OpPhi)
	for s := 0; phi.SrcExists(s); s++ {
		assert.Check(t, is.Equal(phi.GetSrc(s).Reg.ID, phi.GetDef(0).Reg.ID))
	}
	assert.Check(t, is.Equal(join.Exit().Prev().GetSrc(1).Reg.ID, phi.GetDef(0).Reg.ID))
	assert.Check(t, prog.MaxGPR >= 0)
}

func TestRun_Loop(t *testing.T) {
	prog := parse(t, loopProgram)
	assert.NilError(t, Run(prog))

	fn := prog.Main
	checkRegisters(t, fn)
	entry, body := fn.Blocks()[0], fn.Blocks()[1]
	assert.DeepEqual(t, opsOf(entry), []ir.Op{ir.OpLoad, ir.OpLoad, ir.OpMov, ir.OpBra})
	assert.DeepEqual(t, opsOf(body), []ir.Op{ir.OpPhi, ir.OpAdd, ir.OpSet, ir.OpMov, ir.OpBra})

	// the loop invariant stays live across the back edge
	inv := entry.Instructions()[1].GetDef(0)
	assert.DeepEqual(t, inv.Live.Ranges(), []ir.Range{{Begin: 2, End: 5}, {Begin: 6, End: 10}})

	phi := body.First()
	assert.Check(t, is.Equal(phi.GetSrc(0).Reg.ID, phi.GetDef(0).Reg.ID))
	assert.Check(t, is.Equal(phi.GetSrc(1).Reg.ID, phi.GetDef(0).Reg.ID))
	// the first operand copy is coalesced with the load it reads
	assert.Check(t, is.Equal(entry.Instructions()[0].GetDef(0).Reg.ID, phi.GetDef(0).Reg.ID))
	assert.Check(t, is.Equal(prog.MaxGPR, 2))
}

func TestRun_LostCopy(t *testing.T) {
	prog := parse(t, `program compute chipset 0xc0
func main
bb 0 -> 1
  %0:u32 = ld.u32 c0[0x0]
  bra bb1
bb 1 -> 1 2
  %2:u32 = phi %0 %3
  %3:u32 = add.u32 %2 0x1:u32
  %4:pred = set.u8.u32.lt %3 0x10:u32
  @%4 bra bb1
bb 2
  st.u32 g0[0x0] %2
  exit
`)
	err := Run(prog)
	assert.Check(t, errdefs.IsFailedPrecondition(err), "got %v", err)
	assert.ErrorContains(t, err, "register allocation of main")
}

func texProgram(chipset uint32) string {
	return fmt.Sprintf(`program fragment chipset 0x%x
func main
bb 0
  %%0:f32 = linterp.f32 a[0x10]:f32
  %%1:f32 = linterp.f32 a[0x14]:f32
  %%2:f32 %%3:f32 %%4:f32 %%5:f32 = tex.f32.2d %%0 %%1 tic:0 tsc:0
  %%6:f32 = add.f32 %%2 %%3
  %%7:f32 = add.f32 %%4 %%5
  %%8:f32 = add.f32 %%6 %%7
  export.f32 o[0x0]:f32 %%8
  exit
`, chipset)
}

func TestRun_TextureGroupsFermi(t *testing.T) {
	prog := parse(t, texProgram(0xc0))
	assert.NilError(t, Run(prog))

	fn := prog.Main
	checkRegisters(t, fn)
	bb := fn.Entry
	assert.DeepEqual(t, opsOf(bb), []ir.Op{
		ir.OpLinterp, ir.OpLinterp, ir.OpTex,
		ir.OpAdd, ir.OpAdd, ir.OpAdd, ir.OpExport, ir.OpExit,
	})
	tex := bb.Instructions()[2]
	for c := 0; c < 4; c++ {
		assert.Check(t, is.Equal(tex.GetDef(c).Reg.ID, int32(c)))
	}
	// the coordinates were coalesced into the group
	for s := 0; s < 2; s++ {
		assert.Check(t, is.Equal(tex.GetSrc(s).Reg.ID, int32(s)))
		assert.Check(t, is.Equal(bb.Instructions()[s].GetDef(0).Reg.ID, int32(s)))
	}
}

func TestRun_TextureGroupsTesla(t *testing.T) {
	prog := parse(t, texProgram(0x50))
	assert.NilError(t, Run(prog))

	fn := prog.Main
	checkRegisters(t, fn)
	bb := fn.Entry
	assert.DeepEqual(t, opsOf(bb), []ir.Op{
		ir.OpLinterp, ir.OpLinterp, ir.OpMov, ir.OpMov, ir.OpTex,
		ir.OpAdd, ir.OpAdd, ir.OpAdd, ir.OpExport, ir.OpExit,
	})
	insns := bb.Instructions()
	tex := insns[4]
	for c := 0; c < 4; c++ {
		assert.Check(t, is.Equal(tex.GetDef(c).Reg.ID, int32(c)))
	}
	for k, mov := range insns[2:4] {
		assert.Check(t, is.Equal(mov.GetDef(0).Reg.ID, int32(k)))
		assert.Check(t, mov.GetSrc(0) == insns[k].GetDef(0))
		assert.Check(t, mov.GetSrc(0).Reg.ID != int32(k))
		assert.Check(t, tex.GetSrc(k) == mov.GetDef(0))
	}
}

func TestRun_PinnedGroupPastFile(t *testing.T) {
	prog := parse(t, texProgram(0xc0))
	size := prog.Target.FileSize(ir.FileGPR)
	tex := prog.Main.Entry.Instructions()[2]
	// four results from the third to last register do not fit
	tex.GetDef(0).Reg.ID = int32(size - 2)

	err := Run(prog)
	assert.Check(t, errdefs.IsResourceExhausted(err), "got %v", err)
	assert.Check(t, is.ErrorContains(err, "past the end of the file"))
}

func TestRun_OutOfRegisters(t *testing.T) {
	program := func(n int) string {
		var sb strings.Builder
		sb.WriteString("program compute chipset 0xc0\nfunc main\nbb 0\n")
		for k := 0; k < n; k++ {
			fmt.Fprintf(&sb, "  %%%d:u32 = ld.u32 c0[0x%x]\n", k, 4*k)
		}
		for k := 0; k < n; k++ {
			fmt.Fprintf(&sb, "  st.u32 g0[0x%x] %%%d\n", 4*k, k)
		}
		sb.WriteString("  exit\n")
		return sb.String()
	}

	prog := parse(t, program(63))
	assert.NilError(t, Run(prog))
	assert.Check(t, is.Equal(prog.MaxGPR, 62))
	checkRegisters(t, prog.Main)

	err := Run(parse(t, program(64)))
	assert.Check(t, errdefs.IsResourceExhausted(err), "got %v", err)
	assert.ErrorContains(t, err, "out of gpr registers")
}

// straightLine builds a single block of loads, arithmetic and stores over
// 32 and 64 bit values.
func straightLine(t *rapid.T) string {
	chipset := rapid.SampledFrom([]uint32{0x50, 0xa0, 0xc0}).Draw(t, "chipset")
	n := rapid.IntRange(1, 20).Draw(t, "values")
	types := make([]string, n)
	var sb strings.Builder
	fmt.Fprintf(&sb, "program compute chipset 0x%x\nfunc main\nbb 0\n", chipset)
	for k := 0; k < n; k++ {
		ty := "u32"
		if rapid.Bool().Draw(t, "wide") {
			ty = "u64"
		}
		types[k] = ty
		if k >= 2 && rapid.Bool().Draw(t, "arith") {
			a := rapid.IntRange(0, k-1).Draw(t, "a")
			b := rapid.IntRange(0, k-1).Draw(t, "b")
			fmt.Fprintf(&sb, "  %%%d:%s = add.%s %%%d %%%d\n", k, ty, ty, a, b)
		} else {
			fmt.Fprintf(&sb, "  %%%d:%s = ld.%s c0[0x%x]\n", k, ty, ty, 8*k)
		}
	}
	for k := 0; k < n; k++ {
		if k == n-1 || rapid.Bool().Draw(t, "store") {
			fmt.Fprintf(&sb, "  st.%s g0[0x%x] %%%d\n", types[k], 8*k, k)
		}
	}
	sb.WriteString("  exit\n")
	return sb.String()
}

func TestRun_RegistersDoNotOverlap(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prog := parse(t, straightLine(t))
		assert.NilError(t, Run(prog))
		checkRegisters(t, prog.Main)
	})
}

func TestRun_UsesAreCovered(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		prog := parse(t, straightLine(t))
		assert.NilError(t, Run(prog))

		for i := prog.Main.Entry.First(); i != nil; i = i.Next() {
			for s := 0; i.SrcExists(s); s++ {
				v := i.GetSrc(s)
				if !v.IsLValue() {
					continue
				}
				def := v.UniqueInsn()
				assert.Assert(t, def != nil)
				for p := def.Serial; p < i.Serial; p++ {
					assert.Assert(t, v.Rep().Live.Contains(p),
						"%%%d read at %d is dead at %d: %s", v.Index, i.Serial, p, &v.Rep().Live)
				}
			}
		}
	})
}
