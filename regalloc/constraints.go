// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package regalloc

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gogpu/gpucc/ir"
	"github.com/sirupsen/logrus"
)

// constraints inserts CONSTRAINT instructions in front of every
// instruction whose sources must occupy consecutive registers.
type constraints struct {
	ir.BasePass

	fn   *ir.Function
	log  logrus.FieldLogger
	list []*ir.Instruction
}

// InsertConstraints groups texture coordinates, explicit derivatives and
// multi-register store values of fn, trims unused texture results and adds
// the hazard uses required after wide indirect loads.
func InsertConstraints(fn *ir.Function) error {
	fn.BuildDominatorTree()
	c := &constraints{fn: fn, log: fn.Program().Log}
	if err := ir.RunFunction(fn, c, true, true); err != nil {
		return err
	}
	c.insertConstraintMoves()
	return nil
}

func (c *constraints) VisitBlock(bb *ir.BasicBlock) error {
	var next *ir.Instruction
	for i := bb.Entry(); i != nil; i = next {
		next = i.Next()

		switch {
		case i.AsTex() != nil:
			textureMask(i)
			s, n := i.TextureGroups()
			if s > 1 {
				c.addConstraint(i, 0, s)
			}
			if n > 1 {
				c.addConstraint(i, s, n)
			}
		case i.Op == ir.OpExport || i.Op == ir.OpStore:
			s := 1
			for size := i.DType.Size(); size > 0 && i.SrcExists(s); s++ {
				size -= int(i.GetSrc(s).Reg.Size)
			}
			if s-1 > 1 {
				c.addConstraint(i, 1, s-1)
			}
		case i.Op == ir.OpLoad:
			if i.Src(0).IsIndirect(0) && i.DType.Size() >= 8 {
				c.addHazard(i, i.Indirect(0, 0))
			}
		}
	}
	return ir.SkipChildren
}

// textureMask drops the results of a texture instruction nobody reads and
// compacts the remaining ones, updating the component mask.
func textureMask(i *ir.Instruction) {
	tex := i.AsTex()
	var kept []*ir.Value
	var mask uint8
	k := 0
	for c := 0; c < 4; c++ {
		if tex.Mask&(1<<c) == 0 {
			continue
		}
		if v := i.GetDef(k); v != nil && v.RefCount() > 0 {
			mask |= 1 << c
			kept = append(kept, v)
		}
		k++
	}
	tex.Mask = mask
	for d, v := range kept {
		i.SetDef(d, v)
	}
	for d := i.DefCount() - 1; d >= len(kept); d-- {
		i.SetDef(d, nil)
	}
}

// addConstraint routes n sources of i starting at slot s through a
// CONSTRAINT. An equivalent CONSTRAINT that dominates i is reused, provided
// every source has a single definition: a register written again between
// the two instructions holds a different value at i.
func (c *constraints) addConstraint(i *ir.Instruction, s, n int) {
	bb := i.BB()
	if cst := c.findConstraint(i, s, n); cst != nil {
		for d := 0; d < n; d++ {
			i.SetSrc(s+d, cst.GetDef(d))
		}
		c.log.WithFields(logrus.Fields{
			"phase": "regalloc",
			"func":  c.fn.Name,
			"insn":  i.ID,
		}).Debug("reusing constraint")
		return
	}

	cst := c.fn.NewInstruction(ir.OpConstraint, i.DType)
	for d := 0; d < n; d++ {
		src := i.GetSrc(s + d)
		def := c.fn.NewLValueSized(int(src.Reg.Size))
		cst.SetDef(d, def)
		cst.SetSrc(d, src)
		i.SetSrc(s+d, def)
	}
	bb.InsertBefore(i, cst)
	c.list = append(c.list, cst)
}

func (c *constraints) findConstraint(i *ir.Instruction, s, n int) *ir.Instruction {
	for d := 0; d < n; d++ {
		if i.GetSrc(s+d).UniqueInsn() == nil {
			return nil
		}
	}
	for _, cst := range c.list {
		if !cst.BB().Dominates(i.BB()) || cst.SrcExists(n) {
			continue
		}
		d := 0
		for d < n && cst.GetSrc(d) == i.GetSrc(s+d) {
			d++
		}
		if d == n {
			return cst
		}
	}
	return nil
}

// addHazard adds a dummy use of the address of a wide indirect load right
// after it, so the address register cannot overlap the loaded value.
func (c *constraints) addHazard(i *ir.Instruction, addr *ir.Value) {
	hzd := c.fn.NewInstruction(ir.OpNop, ir.TypeNone)
	hzd.SetSrc(0, addr)
	i.BB().InsertAfter(i, hzd)
}

// detectConflict reports whether source s of cst cannot be allocated in
// place: it is read elsewhere, repeated within the group, or produced by an
// instruction whose results are themselves grouped.
func detectConflict(cst *ir.Instruction, s int, seen mapset.Set[*ir.Value]) bool {
	v := cst.GetSrc(s)
	if !seen.Add(v) {
		return true
	}
	for _, u := range v.Uses() {
		if u.Insn() != cst {
			return true
		}
	}
	defi := v.Insn()
	return defi == nil || defi.ConstrainedDefs()
}

// insertConstraintMoves copies conflicting CONSTRAINT sources into fresh
// registers.
func (c *constraints) insertConstraintMoves() {
	for _, cst := range c.list {
		seen := mapset.NewThreadUnsafeSet[*ir.Value]()
		for s := 0; cst.SrcExists(s); s++ {
			if !detectConflict(cst, s, seen) {
				continue
			}
			src := cst.GetSrc(s)
			mov := c.fn.NewInstruction(ir.OpMov, ir.TypeOfSize(int(src.Reg.Size), false, false))
			mov.SetSrc(0, src)
			mov.SetDef(0, c.fn.NewLValueSized(int(src.Reg.Size)))
			cst.SetSrc(s, mov.GetDef(0))
			cst.BB().InsertBefore(cst, mov)
		}
	}
}
