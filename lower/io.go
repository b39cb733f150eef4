// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package lower

import (
	"github.com/containerd/errdefs"
	"github.com/gogpu/gpucc/ir"
	"github.com/pkg/errors"
)

// handleRDSV reads a memory mapped system value through the input space.
// Values without an input address stay special register reads.
func (p *preSSA) handleRDSV(i *ir.Instruction) {
	sym := i.GetSrc(0)
	sv := sym.Reg.SV
	addr := p.targ.SVAddress(p.prog.Type, ir.FileShaderInput, sym)
	if addr >= 0x400 {
		if sym.Reg.SVIndex == 3 {
			// the w component of the thread and grid vectors
			c := uint32(0)
			if sv == ir.SVNTID || sv == ir.SVNCTAID {
				c = 1
			}
			i.Op = ir.OpMov
			i.SetSrc(0, p.bld.MkImm(c))
		}
		return
	}

	def := i.GetDef(0)
	frag := p.prog.Type == ir.ProgramFragment
	switch {
	case sv == ir.SVPosition && frag:
		p.bld.MkInterp(ir.InterpLinear, def, int32(addr), nil)
	case sv == ir.SVFace && frag:
		p.bld.MkInterp(ir.InterpFlat, def, int32(addr), nil)
		if i.DType == ir.TypeF32 {
			p.bld.MkOp2(ir.OpAnd, ir.TypeU32, def, def, p.bld.MkImm(0x80000000))
			p.bld.MkOp2(ir.OpXor, ir.TypeU32, def, def, p.bld.MkImm(0xbf800000))
		}
	case sv == ir.SVTessCoord:
		c := int(sym.Reg.SVIndex)
		p.readTessCoord(def, c, int32(addr)-int32(4*c))
	default:
		var vtx *ir.Value
		if p.prog.Type == ir.ProgramTessEval {
			vtx = p.bld.MkOp1v(ir.OpPfetch, ir.TypeU32, p.bld.GetSSA(4), p.bld.MkImm(0))
		}
		ld := p.bld.MkFetch(def, i.DType, ir.FileShaderInput, int32(addr), i.Indirect(0, 0), vtx)
		ld.PerPatch = i.PerPatch
	}
	p.fn.DeleteInstruction(i)
}

// readTessCoord loads component c of the tessellation coordinate. The
// hardware provides u and v at base; w is 1 - u - v.
func (p *preSSA) readTessCoord(dst *ir.Value, c int, base int32) {
	laneid := p.bld.GetSSA(4)
	p.bld.MkOp1(ir.OpRdsv, ir.TypeU32, laneid, p.bld.MkSysVal(ir.SVLaneID, 0))

	var x, y *ir.Value
	switch c {
	case 0:
		x = dst
	case 1:
		y = dst
	default:
		x, y = p.bld.GetSSA(4), p.bld.GetSSA(4)
	}
	if x != nil {
		p.bld.MkFetch(x, ir.TypeF32, ir.FileShaderOutput, base, nil, laneid)
	}
	if y != nil {
		p.bld.MkFetch(y, ir.TypeF32, ir.FileShaderOutput, base+4, nil, laneid)
	}
	if c == 2 {
		p.bld.MkOp2(ir.OpAdd, ir.TypeF32, dst, x, y)
		p.bld.MkOp2(ir.OpSub, ir.TypeF32, dst, p.bld.LoadImmF32(nil, 1), dst)
	}
}

// handleWRSV stores a system value output through the output space.
func (p *preSSA) handleWRSV(i *ir.Instruction) error {
	sym := i.GetSrc(0)
	addr := p.targ.SVAddress(p.prog.Type, ir.FileShaderOutput, sym)
	if addr >= 0x400 {
		return errors.Wrapf(errdefs.ErrNotImplemented, "write to system value %s", sym.Reg.SV)
	}
	out := p.bld.MkSymbol(ir.FileShaderOutput, 0, i.SType, int32(addr))
	st := p.bld.MkStore(ir.OpExport, i.DType, out, i.Indirect(0, 0), i.GetSrc(1))
	st.PerPatch = i.PerPatch
	p.fn.DeleteInstruction(i)
	return nil
}

// handleEXPORT binds shader outputs. Fragment outputs are results left in
// fixed registers at the end of the program; geometry outputs are written
// relative to the current vertex.
func (p *preSSA) handleEXPORT(i *ir.Instruction) error {
	switch p.prog.Type {
	case ir.ProgramFragment:
		if i.Src(0).IsIndirect(0) {
			return errors.Wrap(errdefs.ErrNotImplemented, "indirect fragment output")
		}
		id := int(i.GetSrc(0).Reg.Offset / 4)
		dst := p.fn.NewLValue(ir.FileGPR)
		dst.Reg.ID = int32(id)

		i.Op = ir.OpMov
		i.SetSrcRef(0, i.Src(1))
		i.SetSrc(1, nil)
		i.SetDef(0, dst)
		if id > p.prog.MaxGPR {
			p.prog.MaxGPR = id
		}
	case ir.ProgramGeometry:
		i.SetIndirect(0, 1, p.emitAddr)
	}
	return nil
}

// handleOUT threads the output vertex address through EMIT and RESTART. A
// RESTART directly following an EMIT is folded into it.
func (p *preSSA) handleOUT(i *ir.Instruction) {
	if p.emitAddr == nil {
		return
	}
	if prev := i.Prev(); i.Op == ir.OpRestart && prev != nil && prev.Op == ir.OpEmit {
		prev.SubOp |= subOpEmitRestart
		p.fn.DeleteInstruction(i)
		return
	}
	i.SetDef(0, p.emitAddr)
	if i.SrcExists(0) {
		i.MoveSources(0, 1)
	}
	i.SetSrc(0, p.emitAddr)
}

// handleLOAD reads shader inputs: compute programs find their parameters
// in the first const buffer, other non-fragment stages fetch attributes.
func (p *preSSA) handleLOAD(i *ir.Instruction) {
	if i.Src(0).File() != ir.FileShaderInput {
		return
	}
	switch p.prog.Type {
	case ir.ProgramCompute:
		sym := i.GetSrc(0).Clone(p.fn)
		sym.Reg.File = ir.FileMemoryConst
		sym.Reg.FileIndex = 0
		i.SetSrc(0, sym)
	case ir.ProgramFragment:
	default:
		i.Op = ir.OpVfetch
	}
}
