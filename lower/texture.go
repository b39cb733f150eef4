// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package lower

import (
	"github.com/containerd/errdefs"
	"github.com/gogpu/gpucc/ir"
	"github.com/pkg/errors"
)

// Quad micro-ops, one per destination lane of a QUADOP.
const (
	qopAdd  = 0
	qopSubr = 1
	qopSub  = 2
	qopMov2 = 3
)

func quadop(ul, ur, ll, lr uint8) uint8 {
	return ul<<6 | ur<<4 | ll<<2 | lr
}

// txdQuadops holds, for each source lane, the micro-ops applying dPdx and
// dPdy to the coordinates broadcast from that lane.
var txdQuadops = [4][2]uint8{
	{quadop(qopMov2, qopAdd, qopMov2, qopAdd), quadop(qopMov2, qopMov2, qopAdd, qopAdd)},
	{quadop(qopSubr, qopMov2, qopSubr, qopMov2), quadop(qopMov2, qopMov2, qopAdd, qopAdd)},
	{quadop(qopMov2, qopAdd, qopMov2, qopAdd), quadop(qopSubr, qopSubr, qopMov2, qopMov2)},
	{quadop(qopSubr, qopMov2, qopSubr, qopMov2), quadop(qopSubr, qopSubr, qopMov2, qopMov2)},
}

// Bit field descriptors (position | width<<8) of the texture and sampler
// index inside the leading texture source.
const (
	ticField = 0x0917
	tscField = 0x0710
)

// handleTEX normalizes the sources of a texture instruction. The array
// layer and indirect texture and sampler indices are packed into one
// leading source; texel offsets are packed into one trailing source. It
// returns the slot of the first coordinate.
func (p *preSSA) handleTEX(i *ir.Instruction) (int, error) {
	tex := i.AsTex()
	dim := tex.Target.Dim()
	if tex.Target.IsCube() {
		dim++
	}
	ticRel, tscRel := i.IndirectR(), i.IndirectS()

	base := 0
	if tex.Target.IsArray() || ticRel != nil || tscRel != nil {
		if (ticRel != nil || tscRel != nil) && !p.targ.IsOpSupported(ir.OpInsbf, ir.TypeU32) {
			return 0, errors.Wrapf(errdefs.ErrNotImplemented, "indirect texture index on %s", p.targ.Family())
		}
		i.SetIndirectR(nil)
		i.SetIndirectS(nil)

		var layer *ir.Value
		if tex.Target.IsArray() {
			layer = i.GetSrc(dim)
			i.SetSrc(dim, nil)
		}
		i.MoveSources(0, 1)

		src := p.fn.NewLValue(ir.FileGPR)
		if layer != nil {
			sTy := ir.TypeF32
			if i.Op == ir.OpTxf {
				sTy = ir.TypeU32
			}
			cvt := p.bld.MkCvt(ir.OpCvt, ir.TypeU16, src, sTy, layer)
			cvt.Saturate = i.Op == ir.OpTxf
		} else {
			p.bld.LoadImm(src, 0)
		}
		if ticRel != nil {
			p.bld.MkOp3(ir.OpInsbf, ir.TypeU32, src, ticRel, p.bld.MkImm(ticField), src)
		}
		if tscRel != nil {
			p.bld.MkOp3(ir.OpInsbf, ir.TypeU32, src, tscRel, p.bld.MkImm(tscField), src)
		}
		i.SetSrc(0, src)
		tex.PackedIndex = !tex.Target.IsArray()
		base = 1
	}

	if tex.UseOffsets > 0 {
		var value uint32
		for n := 0; n < tex.UseOffsets; n++ {
			for c := 0; c < 3; c++ {
				value |= uint32(tex.Offset[n][c]&0xf) << (n*12 + c*4)
			}
		}
		i.SetSrc(i.SrcCount(), p.bld.LoadImm(nil, value))
	}
	return base, nil
}

// handleTXD passes explicit derivatives as sources where the hardware
// takes them, and otherwise samples each quad lane separately.
func (p *preSSA) handleTXD(i *ir.Instruction) error {
	tex := i.AsTex()
	dim := tex.Target.Dim()
	base, err := p.handleTEX(i)
	if err != nil {
		return err
	}
	tex.DerivAll = true

	arg := i.PrincipalSrcCount()
	if !p.targ.IsOpSupported(ir.OpTxd, i.DType) || dim > 2 || tex.Target.IsCube() ||
		tex.Target.IsShadow() || arg > 4 || i.SrcCount()+2*dim > ir.MaxSrcs {
		return p.handleManualTXD(i, base)
	}

	if i.SrcExists(arg) {
		i.MoveSources(arg, 2*dim)
	}
	for c := 0; c < dim; c++ {
		i.SetSrcRef(arg+2*c, &tex.DPdx[c])
		i.SetSrcRef(arg+2*c+1, &tex.DPdy[c])
		tex.DPdx[c].Set(nil)
		tex.DPdy[c].Set(nil)
	}
	return nil
}

// handleManualTXD emulates explicit derivatives: for each lane of the quad
// the coordinates of that lane are broadcast and offset by the
// derivatives, the texture is sampled, and the lane keeps its own result.
func (p *preSSA) handleManualTXD(i *ir.Instruction, base int) error {
	tex := i.AsTex()
	dim := tex.Target.Dim()
	if tex.Target.IsCube() {
		dim++
	}
	p.logger(i).WithField("dim", dim).Debug("sampling quad lanes separately")

	zero := p.bld.LoadImm(p.bld.GetSSA(4), 0)
	i.Op = ir.OpTex

	crd := make([]*ir.Value, dim)
	for c := range crd {
		crd[c] = p.bld.GetScratch(4)
	}
	ndef := i.DefCount()
	lanes := make([][4]*ir.Value, ndef)

	p.bld.MkOp(ir.OpQuadon, ir.TypeNone, nil)
	for l := 0; l < 4; l++ {
		for c := range crd {
			p.bld.MkQuadop(0x00, crd[c], uint8(l), i.GetSrc(base+c), zero)
		}
		for c := range crd {
			p.bld.MkQuadop(txdQuadops[l][0], crd[c], uint8(l), tex.DPdx[c].Get(), crd[c])
		}
		for c := range crd {
			p.bld.MkQuadop(txdQuadops[l][1], crd[c], uint8(l), tex.DPdy[c].Get(), crd[c])
		}

		t := i.Clone(true)
		p.bld.Insert(t)
		for c := range crd {
			t.SetSrc(base+c, crd[c])
		}
		for d := 0; d < ndef; d++ {
			lanes[d][l] = p.bld.GetSSA(4)
			mov := p.bld.MkMov(lanes[d][l], t.GetDef(d), ir.TypeF32)
			mov.Fixed = true
			mov.Lanes = 1 << l
		}
	}
	p.bld.MkOp(ir.OpQuadpop, ir.TypeNone, nil)

	for d := 0; d < ndef; d++ {
		u := p.bld.MkOp(ir.OpUnion, ir.TypeU32, i.GetDef(d))
		for l := 0; l < 4; l++ {
			u.SetSrc(l, lanes[d][l])
		}
	}
	p.fn.DeleteInstruction(i)
	return nil
}

// handleDeriv computes a screen space derivative with a quad operation
// subtracting the neighbouring lane.
func (p *preSSA) handleDeriv(i *ir.Instruction) {
	if p.targ.IsOpSupported(i.Op, i.DType) {
		return
	}
	lane, q := uint8(4), uint8(0x99)
	if i.Op == ir.OpDfdy {
		lane, q = 5, 0xa5
	}
	mod := i.Src(0).Mod
	if mod.Neg() {
		// swaps sub and subr in every lane
		q = ^q
		mod &^= ir.ModNeg
	}
	i.Op = ir.OpQuadop
	i.SubOp = q
	i.Lanes = lane
	i.Src(0).Mod = mod
	insertSrc(i, 1, i.GetSrc(0))
	i.Src(1).Mod = mod
}
