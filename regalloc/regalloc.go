// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package regalloc

import (
	"fmt"
	"strings"

	"github.com/gogpu/gpucc/ir"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Run allocates physical registers for every function of prog and raises
// prog.MaxGPR to the highest general purpose register in use.
//
// Failures are fatal for the program: errdefs.ErrFailedPrecondition when
// phi operands cannot share a register, errdefs.ErrResourceExhausted when
// a register file runs out.
func Run(prog *ir.Program) error {
	for _, fn := range prog.Functions() {
		a := &allocator{prog: prog, fn: fn, targ: prog.Target, maxGPR: -1}
		if err := a.run(); err != nil {
			return errors.Wrapf(err, "register allocation of %s", fn.Name)
		}
		prog.MaxGPR = max(prog.MaxGPR, a.maxGPR)
	}
	return nil
}

type allocator struct {
	prog *ir.Program
	fn   *ir.Function
	targ ir.Target

	maxGPR   int
	groups   int
	assigned int
}

func (a *allocator) logger() logrus.FieldLogger {
	return a.prog.Log.WithFields(logrus.Fields{"phase": "regalloc", "func": a.fn.Name})
}

// joinMask returns the best effort coalescing done for the target family.
// Tesla texture results overwrite their coordinates, Fermi needs the
// grouped sources in the registers of the CONSTRAINT results.
func joinMask(f ir.Family) JoinMask {
	switch f {
	case ir.FamilyTesla:
		return JoinUnion | JoinTex
	case ir.FamilyFermi:
		return JoinUnion | JoinConstraint
	}
	return JoinUnion
}

func (a *allocator) run() error {
	fn := a.fn
	if fn.Entry == nil {
		return nil
	}
	if err := InsertConstraints(fn); err != nil {
		return err
	}
	InsertPhiMoves(fn)

	BuildLiveSets(fn)
	fn.OrderInstructions()
	BuildIntervals(fn)

	if err := Coalesce(fn, JoinPhi); err != nil {
		return err
	}
	if err := Coalesce(fn, joinMask(a.targ.Family())); err != nil {
		return err
	}
	if err := Coalesce(fn, JoinMov); err != nil {
		return err
	}
	if a.prog.Debug&ir.DebugRegAlloc != 0 {
		a.logger().Debug(fn.Dump() + DumpIntervals(fn))
	}

	if err := a.allocateConstrainedValues(); err != nil {
		return err
	}
	if err := a.linearScan(); err != nil {
		return err
	}
	a.resolve()

	a.logger().WithFields(logrus.Fields{
		"groups":   a.groups,
		"assigned": a.assigned,
		"maxgpr":   a.maxGPR,
	}).Debug("registers allocated")
	return nil
}

// resolve copies the register of every representative to the values
// coalesced into it and turns the CONSTRAINTs whose results did not end up
// in the registers of their sources into copies.
func (a *allocator) resolve() {
	for _, v := range a.fn.LValues() {
		if rep := v.Rep(); rep != v {
			v.Reg.ID = rep.Reg.ID
		}
	}
	for _, bb := range a.fn.BBArray {
		var next *ir.Instruction
		for i := bb.First(); i != nil; i = next {
			next = i.Next()
			if i.Op != ir.OpConstraint {
				continue
			}
			for c := 0; i.DefExists(c) && i.SrcExists(c); c++ {
				def, src := i.GetDef(c), i.GetSrc(c)
				if !def.IsFixed() || def.Equals(src, false) {
					continue
				}
				mov := a.fn.NewInstruction(ir.OpMov, ir.TypeOfSize(int(def.Reg.Size), false, false))
				mov.SetDef(0, def)
				mov.SetSrc(0, src)
				bb.InsertBefore(i, mov)
			}
			a.fn.DeleteInstruction(i)
		}
	}
}

// DumpIntervals lists the live interval and register of every
// representative of fn that has one.
func DumpIntervals(fn *ir.Function) string {
	var sb strings.Builder
	for _, v := range fn.LValues() {
		if v.Rep() != v || v.Live.IsEmpty() {
			continue
		}
		fmt.Fprintf(&sb, "%%%d %s: %s\n", v.Index, v, &v.Live)
	}
	return sb.String()
}
