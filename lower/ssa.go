// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package lower

import (
	"github.com/gogpu/gpucc/ir"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// SSA lowers operations on SSA form, before register allocation.
func SSA(prog *ir.Program) error {
	p := &ssaLowering{prog: prog, targ: prog.Target, bld: ir.NewBuilder(prog)}
	if err := ir.Run(prog, p, false, true); err != nil {
		return errors.Wrap(err, "SSA lowering")
	}
	prog.Log.WithFields(logrus.Fields{
		"phase":     "ssa",
		"builtins":  p.calls,
		"immediate": p.loads,
	}).Debug("lowering done")
	return nil
}

type ssaLowering struct {
	ir.BasePass

	prog *ir.Program
	targ ir.Target
	bld  *ir.Builder

	calls int
	loads int
}

func (p *ssaLowering) VisitFunction(fn *ir.Function) error {
	p.bld.SetFunction(fn)
	return nil
}

func (p *ssaLowering) VisitInstruction(i *ir.Instruction) error {
	p.bld.SetPositionAt(i, false)
	switch i.Op {
	case ir.OpRcp, ir.OpRsq:
		if i.DType == ir.TypeF64 && !p.targ.IsOpSupported(i.Op, ir.TypeF64) {
			p.handleF64Builtin(i)
			return nil
		}
	}
	p.legalizeImmediates(i)
	return nil
}

// handleF64Builtin calls the double precision reciprocal routines. The
// argument and the result are in r0:r1.
func (p *ssaLowering) handleF64Builtin(i *ir.Instruction) {
	b := ir.BuiltinRcpF64
	if i.Op == ir.OpRsq {
		b = ir.BuiltinRsqF64
	}
	arg := p.bld.MkMovToReg(0, i.GetSrc(0))
	arg.Src(0).Mod = i.Src(0).Mod
	call := p.bld.MkBuiltinCall(b)
	call.SetDef(0, p.bld.MkMovFromReg(i.GetDef(0), 0).GetSrc(0))
	p.bld.MkClobber(ir.FileGPR, 0xc, 2)
	p.bld.MkClobber(ir.FilePredicate, 0xf, 0)
	i.Function().DeleteInstruction(i)
	p.calls++
}

// legalizeImmediates leaves an immediate only in the last principal source
// of an encoding with an immediate form. A leading immediate of a
// commutative operation is swapped there; any other is loaded into a
// register. Zero stays in place where the target has a zero register.
func (p *ssaLowering) legalizeImmediates(i *ir.Instruction) {
	if i.IsPseudo() || i.Op.IsFlow() || i.Op.IsTexture() {
		return
	}
	switch i.Op {
	case ir.OpMov, ir.OpEmit, ir.OpRestart, ir.OpQuadon, ir.OpQuadpop:
		return
	}
	n := i.PrincipalSrcCount()
	if n == 2 && i.GetSrc(0).IsImm() && !i.GetSrc(1).IsImm() && commutes(i) {
		i.SwapSources(0, 1)
		if c := i.AsCmp(); c != nil {
			c.SetCond = c.SetCond.Reverse()
		}
	}
	enc, ok := p.targ.OpEncoding(i)
	for s := 0; s < n; s++ {
		v := i.GetSrc(s)
		if !v.IsImm() {
			continue
		}
		if p.targ.NeedsZeroRegister() && v.IsZero() {
			continue
		}
		if ok && enc.HasImm && s == n-1 && n <= 2 {
			continue
		}
		size := int(v.Reg.Size)
		if size == 0 {
			size = 4
		}
		reg := p.bld.GetSSA(size)
		p.bld.MkMov(reg, v, ir.TypeOfSize(size, false, false))
		i.SetSrc(s, reg)
		p.loads++
	}
}

func commutes(i *ir.Instruction) bool {
	switch i.Op {
	case ir.OpAdd, ir.OpMul, ir.OpAnd, ir.OpOr, ir.OpXor, ir.OpMax, ir.OpMin, ir.OpSet:
		return true
	}
	return false
}
