// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package lower

import (
	"github.com/containerd/errdefs"
	"github.com/gogpu/gpucc/ir"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// subOpEmitRestart marks an EMIT that also restarts the primitive.
const subOpEmitRestart = 1

// PreSSA lowers operations the target lacks before SSA construction.
func PreSSA(prog *ir.Program) error {
	p := &preSSA{prog: prog, targ: prog.Target, bld: ir.NewBuilder(prog)}
	if err := ir.Run(prog, p, false, true); err != nil {
		return errors.Wrap(err, "pre-SSA lowering")
	}
	return nil
}

type preSSA struct {
	ir.BasePass

	prog *ir.Program
	targ ir.Target
	bld  *ir.Builder
	fn   *ir.Function

	// emitAddr holds the output vertex address of a geometry program.
	emitAddr *ir.Value
}

func (p *preSSA) VisitFunction(fn *ir.Function) error {
	p.fn = fn
	p.bld.SetFunction(fn)
	p.emitAddr = nil
	if p.prog.Type != ir.ProgramGeometry || fn.Entry == nil {
		return nil
	}
	p.bld.SetPosition(fn.Entry, false)
	p.emitAddr = p.bld.LoadImm(nil, 0)
	if fn.Exit != nil && fn.Exit.Exit() != nil {
		p.bld.SetPositionAt(fn.Exit.Exit(), false)
		p.bld.MkMovToReg(0, p.emitAddr)
	}
	return nil
}

func (p *preSSA) VisitInstruction(i *ir.Instruction) error {
	p.bld.SetPositionAt(i, false)
	p.checkPredicate(i)

	var err error
	switch i.Op {
	case ir.OpTex, ir.OpTxb, ir.OpTxl, ir.OpTxf, ir.OpTxg:
		_, err = p.handleTEX(i)
	case ir.OpTxd:
		err = p.handleTXD(i)
	case ir.OpEx2:
		p.handleEX2(i)
	case ir.OpPow:
		p.handlePOW(i)
	case ir.OpDiv:
		err = p.handleDIV(i)
	case ir.OpMod:
		err = p.handleMOD(i)
	case ir.OpSqrt:
		p.handleSQRT(i)
	case ir.OpDfdx, ir.OpDfdy:
		p.handleDeriv(i)
	case ir.OpExport:
		err = p.handleEXPORT(i)
	case ir.OpEmit, ir.OpRestart:
		p.handleOUT(i)
	case ir.OpRdsv:
		p.handleRDSV(i)
	case ir.OpWrsv:
		err = p.handleWRSV(i)
	case ir.OpLoad:
		p.handleLOAD(i)
	}
	if err != nil {
		return err
	}
	if i.BB() == nil {
		return nil
	}
	return p.checkSupported(i)
}

func (p *preSSA) logger(i *ir.Instruction) logrus.FieldLogger {
	return p.prog.Log.WithFields(logrus.Fields{
		"phase": "pre-ssa",
		"func":  p.fn.Name,
		"insn":  i.ID,
		"op":    i.Op.String(),
	})
}

// checkSupported fails for an operation left without a native form. 64 bit
// operations are split after register allocation and pass here.
func (p *preSSA) checkSupported(i *ir.Instruction) error {
	ty := opType(i)
	if ty.Size() == 8 || p.targ.IsOpSupported(i.Op, ty) {
		return nil
	}
	return errors.Wrapf(errdefs.ErrNotImplemented, "%s.%s on %s", i.Op, ty, p.targ.Family())
}

// opType is the type an operation is selected by: the source type for
// comparisons and conversions, the result type otherwise.
func opType(i *ir.Instruction) ir.DataType {
	switch i.Op {
	case ir.OpSet, ir.OpSetAnd, ir.OpSetOr, ir.OpSetXor, ir.OpSlct, ir.OpCvt:
		return i.SType
	}
	return i.DType
}

// checkPredicate turns a general purpose predicate into a predicate
// register holding value != 0.
func (p *preSSA) checkPredicate(i *ir.Instruction) {
	pred := i.Predicate()
	if pred == nil {
		return
	}
	switch pred.Reg.File {
	case ir.FilePredicate, ir.FileFlags:
		return
	}
	pdst := p.fn.NewLValue(ir.FilePredicate)
	p.bld.MkCmp(ir.OpSet, ir.CCNEU, ir.TypeU32, pdst, pred, p.bld.MkImm(0), nil)
	i.SetPredicate(i.CC, pdst)
}

// insertSrc sets principal source s, moving an extra source occupying the
// slot out of the way.
func insertSrc(i *ir.Instruction, s int, v *ir.Value) {
	if i.SrcExists(s) {
		i.MoveSources(s, 1)
	}
	i.SetSrc(s, v)
}

func (p *preSSA) handleDIV(i *ir.Instruction) error {
	if !i.DType.IsFloat() {
		return p.handleIntDivMod(i)
	}
	rcp := p.bld.MkOp1(ir.OpRcp, i.DType, p.bld.GetSSA(i.DType.Size()), i.GetSrc(1))
	rcp.Src(0).Mod = i.Src(1).Mod
	i.Op = ir.OpMul
	i.SetSrc(1, rcp.GetDef(0))
	i.Src(1).Mod = 0
	return nil
}

// handleIntDivMod calls the division routine of the builtin library. The
// operands go in r0 and r1; the quotient comes back in r0, the remainder
// in r1.
func (p *preSSA) handleIntDivMod(i *ir.Instruction) error {
	if p.targ.IsOpSupported(i.Op, i.DType) {
		return nil
	}
	var b ir.Builtin
	switch i.DType {
	case ir.TypeU32:
		b = ir.BuiltinDivU32
	case ir.TypeS32:
		b = ir.BuiltinDivS32
	default:
		return errors.Wrapf(errdefs.ErrNotImplemented, "%s.%s on %s", i.Op, i.DType, p.targ.Family())
	}
	p.logger(i).Debug("lowering to builtin call")

	p.bld.MkMovToReg(0, i.GetSrc(0))
	p.bld.MkMovToReg(1, i.GetSrc(1))
	call := p.bld.MkBuiltinCall(b)

	res, gprs := 0, uint32(0xe)
	if i.Op == ir.OpMod {
		res, gprs = 1, 0xd
	}
	mov := p.bld.MkMovFromReg(i.GetDef(0), res)
	call.SetDef(0, mov.GetSrc(0))

	preds := uint32(0x3)
	if i.DType == ir.TypeS32 {
		preds = 0xf
	}
	p.bld.MkClobber(ir.FileGPR, gprs, 2)
	p.bld.MkClobber(ir.FilePredicate, preds, 0)

	p.fn.DeleteInstruction(i)
	return nil
}

// handleMOD computes a - b * trunc(a / b) for floats.
func (p *preSSA) handleMOD(i *ir.Instruction) error {
	if !i.DType.IsFloat() {
		return p.handleIntDivMod(i)
	}
	if i.DType != ir.TypeF32 {
		return nil
	}
	v := p.bld.GetScratch(4)
	rcp := p.bld.MkOp1(ir.OpRcp, ir.TypeF32, v, i.GetSrc(1))
	rcp.Src(0).Mod = i.Src(1).Mod
	mul := p.bld.MkOp2(ir.OpMul, ir.TypeF32, v, i.GetSrc(0), v)
	mul.Src(0).Mod = i.Src(0).Mod
	p.bld.MkOp1(ir.OpTrunc, ir.TypeF32, v, v)
	mul = p.bld.MkOp2(ir.OpMul, ir.TypeF32, v, i.GetSrc(1), v)
	mul.Src(0).Mod = i.Src(1).Mod
	i.Op = ir.OpSub
	i.SetSrc(1, v)
	i.Src(1).Mod = 0
	return nil
}

// handleSQRT computes x * rsq(x).
func (p *preSSA) handleSQRT(i *ir.Instruction) {
	if i.DType != ir.TypeF32 || p.targ.IsOpSupported(ir.OpSqrt, ir.TypeF32) {
		return
	}
	rsq := p.bld.MkOp1(ir.OpRsq, ir.TypeF32, p.bld.GetSSA(4), i.GetSrc(0))
	rsq.Src(0).Mod = i.Src(0).Mod
	i.Op = ir.OpMul
	insertSrc(i, 1, rsq.GetDef(0))
}

// handlePOW computes ex2(y * lg2(x)).
func (p *preSSA) handlePOW(i *ir.Instruction) {
	if i.DType != ir.TypeF32 {
		return
	}
	v := p.bld.GetScratch(4)
	lg2 := p.bld.MkOp1(ir.OpLg2, ir.TypeF32, v, i.GetSrc(0))
	lg2.Src(0).Mod = i.Src(0).Mod
	mul := p.bld.MkOp2(ir.OpMul, ir.TypeF32, v, i.GetSrc(1), v)
	mul.Src(0).Mod = i.Src(1).Mod
	mul.DNZ = true
	p.bld.MkOp1(ir.OpPreex2, ir.TypeF32, v, v)

	i.Op = ir.OpEx2
	i.SetSrc(1, nil)
	i.SetSrc(0, v)
	i.Src(0).Mod = 0
}

// handleEX2 inserts the argument reduction EX2 expects.
func (p *preSSA) handleEX2(i *ir.Instruction) {
	if i.DType != ir.TypeF32 {
		return
	}
	pre := p.bld.MkOp1(ir.OpPreex2, ir.TypeF32, i.GetDef(0), i.GetSrc(0))
	pre.Src(0).Mod = i.Src(0).Mod
	i.SetSrc(0, i.GetDef(0))
	i.Src(0).Mod = 0
}
