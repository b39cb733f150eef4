// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package emit

import (
	"github.com/containerd/errdefs"
	"github.com/gogpu/gpucc/ir"
	"github.com/pkg/errors"
)

// code is an instruction under construction. Bit 0 of the first word is
// bit 0, bit 0 of the second word is bit 32.
type code uint64

// put ORs v in at pos. Position 0 marks a field the encoding lacks.
func (c *code) put(pos uint8, v uint32) {
	if pos == 0 {
		return
	}
	*c |= code(v) << pos
}

func (c *code) set(pos uint8, on bool) {
	if pos != 0 && on {
		*c |= 1 << pos
	}
}

func (c *code) flip(pos uint8, on bool) {
	if pos != 0 && on {
		*c ^= 1 << pos
	}
}

func (c *code) or(w [2]uint32) {
	*c |= code(w[0]) | code(w[1])<<32
}

func (c code) words() [2]uint32 {
	return [2]uint32{uint32(c), uint32(c >> 32)}
}

type form uint8

const (
	formLong form = iota
	formShort
	formImm
)

// packer encodes one instruction.
type packer struct {
	w    *writer
	i    *ir.Instruction
	enc  *ir.OpEncoding
	f    *ir.EncodingFields
	form form
	c    code
}

func (p *packer) pack() error {
	switch p.enc.Kind {
	case ir.EncALU, ir.EncSFU, ir.EncSet, ir.EncShift, ir.EncMov:
		return p.arith()
	case ir.EncCvt:
		return p.cvt()
	case ir.EncLoad, ir.EncFetch:
		return p.load()
	case ir.EncStore, ir.EncExport:
		return p.store()
	case ir.EncInterp:
		return p.interp()
	case ir.EncSysVal:
		return p.sysval()
	case ir.EncTex:
		return p.tex()
	case ir.EncFlow:
		return p.flow()
	case ir.EncQuadop:
		return p.quadop()
	case ir.EncNop:
		p.begin()
		return p.pred()
	}
	return errors.Wrapf(errdefs.ErrNotImplemented, "encoding kind %s", p.enc.Kind)
}

func (p *packer) begin() {
	switch p.form {
	case formShort:
		p.c = code(p.enc.Short)
		return
	case formImm:
		p.c.or(p.enc.Imm)
	default:
		p.c.or(p.enc.Long)
	}
	p.c.or(p.f.LongForm)
}

func storage(v *ir.Value) *ir.Storage {
	if v.IsLValue() {
		return &v.Rep().Reg
	}
	return &v.Reg
}

func (p *packer) sink(pos uint8) {
	p.c.put(pos, p.f.Sink)
	p.c.or(p.f.SinkBits)
}

// def encodes destination d at pos.
func (p *packer) def(d int, pos uint8) error {
	i := p.i
	if !i.DefExists(d) {
		p.sink(pos)
		return nil
	}
	reg := storage(i.GetDef(d))
	switch reg.File {
	case ir.FileGPR, ir.FilePredicate, ir.FileFlags:
		if reg.ID < 0 {
			p.sink(pos)
			return nil
		}
		if reg.File != ir.FileGPR && p.f.FlagsDef != 0 {
			p.c.put(p.f.FlagsDef, uint32(reg.ID))
			p.c.or(p.f.FlagsDefOn)
			p.sink(pos)
			return nil
		}
		p.c.put(pos, uint32(reg.ID))
	case ir.FileAddress:
		p.c.put(pos, uint32(reg.ID)+1)
	case ir.FileShaderOutput:
		p.c.or(p.f.OutputDst)
		p.c.put(pos, uint32(reg.Offset)/4)
	default:
		return errors.Wrapf(errdefs.ErrInvalidArgument, "destination %d in %s file", d, reg.File)
	}
	return nil
}

// flagsDef encodes the condition flags written besides the result.
func (p *packer) flagsDef() {
	i := p.i
	if i.FlagsDef <= 0 || !i.DefExists(int(i.FlagsDef)) {
		return
	}
	p.c.put(p.f.FlagsDef, uint32(storage(i.GetDef(int(i.FlagsDef))).ID))
	p.c.or(p.f.FlagsDefOn)
}

// src encodes source s in the register slot of the current form.
func (p *packer) src(s, slot int) error {
	pos := p.enc.SrcPos[s]
	if pos == 0 {
		pos = p.f.Src[slot]
	}
	return p.srcAt(s, slot, pos)
}

func (p *packer) srcAt(s, slot int, pos uint8) error {
	reg := storage(p.i.GetSrc(s))
	switch reg.File {
	case ir.FileGPR, ir.FilePredicate, ir.FileFlags:
		if reg.ID < 0 {
			return errors.Wrapf(errdefs.ErrInvalidArgument, "source %d has no register", s)
		}
		p.c.put(pos, uint32(reg.ID))
	case ir.FileAddress:
		p.aRegBits(uint32(reg.ID) + 1)
	case ir.FileMemoryConst:
		bits := p.f.ConstSrc[slot]
		if bits == ([2]uint32{}) {
			return errors.Wrapf(errdefs.ErrNotImplemented, "const space operand in source slot %d", slot)
		}
		p.c.or(bits)
		p.c.put(p.f.ConstIndex, uint32(reg.FileIndex))
		p.c.put(pos, uint32(reg.Offset)/4)
		p.areg(s)
	case ir.FileShaderInput:
		if slot != 0 || p.f.InputSrc0 == ([2]uint32{}) {
			return errors.Wrapf(errdefs.ErrNotImplemented, "shader input operand in source slot %d", slot)
		}
		p.c.or(p.f.InputSrc0)
		p.c.put(pos, uint32(reg.Offset)/4)
		p.areg(s)
	default:
		return errors.Wrapf(errdefs.ErrInvalidArgument, "source %d in %s file", s, reg.File)
	}
	return nil
}

// areg encodes the address register indexing source s, if any.
func (p *packer) areg(s int) {
	a := p.i.Indirect(s, 0)
	if a == nil {
		return
	}
	if reg := storage(a); reg.File == ir.FileAddress {
		p.aRegBits(uint32(reg.ID) + 1)
	}
}

// aRegBits encodes an address register number, where 0 means none.
func (p *packer) aRegBits(u uint32) {
	p.c.put(p.f.ARegLo, u&3)
	p.c.put(p.f.ARegHi, (u>>2)&1)
}

// pred encodes the predicate or flags source the instruction is
// conditional on.
func (p *packer) pred() error {
	if p.form == formShort {
		return nil
	}
	i := p.i
	s := int(i.PredSrc)
	if i.FlagsSrc >= 0 {
		if p.f.FlagsSrcOn != ([2]uint32{}) {
			p.c.or(p.f.FlagsSrcOn)
		} else {
			s = int(i.FlagsSrc)
		}
	}
	if s < 0 {
		p.c.or(p.f.NoPred)
		return nil
	}
	if p.f.PredNot != 0 {
		switch i.CC {
		case ir.CCNotP:
			p.c.set(p.f.PredNot, true)
		case ir.CCP:
		default:
			return errors.Wrapf(errdefs.ErrNotImplemented, "predicate condition %s", i.CC)
		}
	} else {
		cc, err := hwCond(i.CC)
		if err != nil {
			return err
		}
		p.c.put(p.f.Cond, cc)
	}
	p.c.put(p.f.PredReg, uint32(storage(i.GetSrc(s)).ID))
	return nil
}

func (p *packer) arith() error {
	i := p.i
	n := i.PrincipalSrcCount()
	if n > 3 {
		return errors.Wrapf(errdefs.ErrNotImplemented, "%d sources", n)
	}
	for s := 0; s < n; s++ {
		if i.Src(s).File() == ir.FileImmediate {
			return p.immForm(s)
		}
	}
	p.begin()
	if err := p.operands(); err != nil {
		return err
	}
	if err := p.pred(); err != nil {
		return err
	}
	p.flagsDef()
	return p.mods()
}

// operands encodes the destination and the principal sources.
func (p *packer) operands() error {
	if err := p.def(0, p.f.Dst); err != nil {
		return err
	}
	n := p.i.PrincipalSrcCount()
	for s := 0; s < n && s < 3; s++ {
		slot := s
		if s == 1 && p.form == formLong && p.enc.Layout == ir.LayoutAdd {
			slot = 2
		}
		if err := p.src(s, slot); err != nil {
			return err
		}
	}
	return nil
}

// immForm encodes an instruction whose source s is an immediate.
func (p *packer) immForm(s int) error {
	i, enc, f := p.i, p.enc, p.f
	if s != i.PrincipalSrcCount()-1 {
		return errors.Wrapf(errdefs.ErrInvalidArgument, "immediate in source %d is not the last source", s)
	}
	if !enc.HasImm {
		return errors.Wrapf(errdefs.ErrNotImplemented, "no immediate form for %s", i.Op)
	}
	p.form = formImm
	p.begin()
	if enc.ImmBits == 0 {
		p.c.or(f.ImmOn)
	}
	if err := p.def(0, f.Dst); err != nil {
		return err
	}
	for k := 0; k < s; k++ {
		if err := p.src(k, k); err != nil {
			return err
		}
	}

	v := i.GetSrc(s).U32()
	var field code
	if enc.ImmBits != 0 {
		m := uint32(1)<<enc.ImmBits - 1
		p.c.put(f.ImmLo, v&m)
		field.put(f.ImmLo, m)
	} else {
		m := uint32(1)<<f.ImmLoBits - 1
		p.c.put(f.ImmLo, v&m)
		p.c.put(f.ImmHi, v>>f.ImmLoBits)
		field.put(f.ImmLo, m)
		field.put(f.ImmHi, ^uint32(0)>>f.ImmLoBits)
	}

	var noPred code
	noPred.or(f.NoPred)
	if noPred&field == 0 {
		if err := p.pred(); err != nil {
			return err
		}
	} else if i.PredSrc >= 0 || i.FlagsSrc >= 0 {
		return errors.Wrapf(errdefs.ErrNotImplemented, "predicated immediate form of %s", i.Op)
	}
	p.flagsDef()
	return p.mods()
}

// mods encodes source modifiers, saturation, rounding, the comparison and
// the lane mask of the current form.
func (p *packer) mods() error {
	i, enc := p.i, p.enc
	n := min(i.PrincipalSrcCount(), 3)

	neg := enc.NegLong
	if p.form != formLong && enc.NegShort != ([3]uint8{}) {
		neg = enc.NegShort
	}
	for s := 0; s < n; s++ {
		on := i.Src(s).Mod.Neg()
		if s == 1 && i.Op == ir.OpSub {
			on = !on
		}
		p.c.flip(neg[s], on)
	}
	if enc.Signed != 0 && i.SType.IsSigned() {
		p.c.set(enc.Signed, true)
	}
	if p.form == formImm {
		return nil
	}
	if i.Saturate {
		if p.form == formLong {
			p.c.set(enc.SatLong, true)
		} else {
			p.c.set(enc.SatShort, true)
		}
	}
	if p.form != formLong {
		return nil
	}

	for s := 0; s < n; s++ {
		p.c.set(enc.AbsLong[s], i.Src(s).Mod.Abs())
	}
	if enc.RndLong != 0 {
		r := p.round()
		p.c.put(enc.RndLong, roundModes[r&3])
		p.c.set(enc.RndInt, r >= ir.RoundNI)
	}
	if enc.CCLong != 0 {
		cc := i.CC
		if cmp := i.AsCmp(); cmp != nil {
			cc = cmp.SetCond
		}
		hw, err := hwCond(cc)
		if err != nil {
			return err
		}
		p.c.put(enc.CCLong, hw)
	}
	if enc.LaneMask {
		p.c.put(p.f.Lanes, uint32(i.Lanes))
	}
	return nil
}

// round returns the rounding mode, implied by the opcode for ceil, floor
// and trunc.
func (p *packer) round() ir.RoundMode {
	i := p.i
	flt := i.DType.IsFloat() && i.SType.IsFloat()
	pick := func(r, ri ir.RoundMode) ir.RoundMode {
		if flt {
			return ri
		}
		return r
	}
	switch i.Op {
	case ir.OpCeil:
		return pick(ir.RoundP, ir.RoundPI)
	case ir.OpFloor:
		return pick(ir.RoundM, ir.RoundMI)
	case ir.OpTrunc:
		return pick(ir.RoundZ, ir.RoundZI)
	}
	return i.Rnd
}

func (p *packer) cvt() error {
	i := p.i
	w, ok := p.w.targ.Conversion(i.DType, i.SType)
	if !ok {
		return errors.Wrapf(errdefs.ErrNotImplemented, "conversion from %s to %s", i.SType, i.DType)
	}
	p.begin()
	if err := p.operands(); err != nil {
		return err
	}
	p.c |= code(w) << 32
	if err := p.pred(); err != nil {
		return err
	}
	p.flagsDef()
	return p.mods()
}

func (p *packer) quadop() error {
	i := p.i
	// the micro-op of a derivative carries the sign of its source
	lane, q := uint32(i.Lanes), uint32(i.SubOp)
	neg := i.Src(0).Mod.Neg()
	switch i.Op {
	case ir.OpDfdx:
		lane, q = 4, 0x99
		if neg {
			q = 0x66
		}
	case ir.OpDfdy:
		lane, q = 5, 0xa5
		if neg {
			q = 0x5a
		}
	}
	if err := p.arith(); err != nil {
		return err
	}
	p.c.put(p.enc.Lane, lane)
	if p.enc.SubOp[1] != 0 {
		p.c.put(p.enc.SubOp[0], q&3)
		p.c.put(p.enc.SubOp[1], q>>2)
	} else {
		p.c.put(p.enc.SubOp[0], q)
	}
	if i.PrincipalSrcCount() == 1 {
		return p.srcAt(0, 2, p.f.Src[2])
	}
	return nil
}

func (p *packer) load() error {
	i := p.i
	p.begin()
	if err := p.def(0, p.f.Dst); err != nil {
		return err
	}
	if err := p.address(0); err != nil {
		return err
	}
	p.memory(i.SType)
	if p.enc.LaneMask {
		p.c.put(p.f.Lanes, uint32(i.Lanes))
	}
	if err := p.pred(); err != nil {
		return err
	}
	p.flagsDef()
	return nil
}

// memory encodes the access size and the buffer index of the memory
// operand in source 0.
func (p *packer) memory(ty ir.DataType) {
	if p.enc.Size != 0 {
		p.c.put(p.enc.Size, p.f.AccessSize[ty])
	}
	reg := storage(p.i.GetSrc(0))
	switch {
	case p.enc.Index != 0:
		p.c.put(p.enc.Index, uint32(reg.FileIndex))
	case reg.File == ir.FileMemoryConst:
		p.c.put(p.f.ConstIndex, uint32(reg.FileIndex))
	}
}

// address encodes the memory operand in source s: its register or address
// register index and its offset.
func (p *packer) address(s int) error {
	i, enc, f := p.i, p.enc, p.f
	sym := storage(i.GetSrc(s))
	off := uint32(sym.Offset) >> enc.AddrShift
	if ind := i.Indirect(s, 0); ind != nil {
		reg := storage(ind)
		switch reg.File {
		case ir.FileGPR:
			p.c.put(f.Src[0], uint32(reg.ID))
			if enc.AddrPos == 0 {
				if off != 0 {
					return errors.Wrapf(errdefs.ErrNotImplemented, "offset 0x%x on a register address", sym.Offset)
				}
				return nil
			}
		case ir.FileAddress:
			p.aRegBits(uint32(reg.ID) + 1)
		default:
			return errors.Wrapf(errdefs.ErrInvalidArgument, "address in %s file", reg.File)
		}
	} else if p.w.targ.NeedsZeroRegister() && enc.AddrPos != 0 {
		p.c.put(f.Src[0], uint32(p.w.targ.FileSize(ir.FileGPR)))
	}
	if enc.AddrPos != 0 {
		p.c.put(enc.AddrPos, off)
	} else {
		p.c.put(f.Src[0], off)
	}
	return nil
}

func (p *packer) store() error {
	i := p.i
	p.begin()
	pos := p.enc.ValuePos
	if pos == 0 {
		pos = p.f.Dst
	}
	if err := p.srcAt(1, 0, pos); err != nil {
		return err
	}
	if err := p.address(0); err != nil {
		return err
	}
	p.memory(i.DType)
	return p.pred()
}

func (p *packer) interp() error {
	i, enc := p.i, p.enc
	p.begin()
	if err := p.def(0, p.f.Dst); err != nil {
		return err
	}
	if err := p.address(0); err != nil {
		return err
	}
	idx := 0
	if p.form != formShort {
		idx = 1
	}
	mode := i.IPA & ir.InterpModeMask
	switch {
	case mode == ir.InterpFlat:
		p.c.set(enc.Flat[idx], true)
	case i.Op == ir.OpPinterp:
		pos := enc.SrcPos[1]
		if pos == 0 {
			pos = p.f.Src[0]
		}
		if err := p.srcAt(1, 0, pos); err != nil {
			return err
		}
	}
	if mode != ir.InterpFlat && i.IPA&ir.InterpSampleMask == ir.InterpCentroid {
		p.c.set(enc.Centroid[idx], true)
	}
	if i.Op == ir.OpLinterp && enc.SrcPos[1] != 0 {
		p.c.put(enc.SrcPos[1], p.f.Sink)
	}
	return p.pred()
}

func (p *packer) sysval() error {
	i := p.i
	p.begin()
	if err := p.def(0, p.f.Dst); err != nil {
		return err
	}
	sym := storage(i.GetSrc(0))
	reg, ok := p.w.targ.SysValRegister(sym.SV, int(sym.SVIndex))
	if !ok {
		return errors.Wrapf(errdefs.ErrNotImplemented, "system value %s.%d", sym.SV, sym.SVIndex)
	}
	pos := p.enc.SrcPos[0]
	if pos == 0 {
		pos = p.f.Src[0]
	}
	p.c.put(pos, reg)
	return p.pred()
}

func (p *packer) tex() error {
	i := p.i
	tex := i.AsTex()
	tf := &p.f.Tex
	p.begin()
	p.c.put(tf.R, uint32(tex.R))
	p.c.put(tf.S, uint32(tex.S))

	argc := tex.Target.ArgCount()
	if i.Op == ir.OpTxb || i.Op == ir.OpTxl {
		argc++
	}
	if tf.ArgCount != 0 {
		if argc < 1 || argc > 4 {
			return errors.Wrapf(errdefs.ErrNotImplemented, "%d texture coordinates", argc)
		}
		p.c.put(tf.ArgCount, uint32(argc-1))
	}
	if tex.Target.IsCube() {
		p.c.set(tf.Cube, true)
	} else if tex.UseOffsets > 0 && tf.Offset != 0 {
		for c := 0; c < 3; c++ {
			p.c.put(tf.Offset+uint8(4*c), uint32(tex.Offset[0][c])&0xf)
		}
	}
	p.c.put(tf.Dim, uint32(tex.Target.Dim()-1))
	p.c.set(tf.Array, tex.Target.IsArray())
	p.c.set(tf.Shadow, tex.Target.IsShadow())

	mask := uint32(tex.Mask)
	if tf.MaskHi != 0 {
		p.c.put(tf.MaskLo, mask&3)
		p.c.put(tf.MaskHi, mask>>2)
	} else {
		p.c.put(tf.MaskLo, mask)
	}
	p.c.set(tf.LiveOnly, tex.LiveOnly)
	p.c.set(tf.DerivAll, tex.DerivAll)
	if i.Op == ir.OpTxg {
		p.c.put(tf.GatherComp, uint32(tex.GatherComp))
	}

	if err := p.def(0, p.f.Dst); err != nil {
		return err
	}
	if tf.Src != 0 {
		s, n := i.TextureGroups()
		if s > 0 {
			if err := p.srcAt(0, 0, tf.Src); err != nil {
				return err
			}
		}
		if n > 0 {
			if err := p.srcAt(s, 1, tf.Src1); err != nil {
				return err
			}
		} else {
			p.c.put(tf.Src1, p.f.Sink)
		}
	}
	return p.pred()
}

func (p *packer) flow() error {
	i := p.i
	f := i.AsFlow()
	p.begin()
	p.c.put(p.f.FlowOp, uint32(p.enc.FlowOp))
	if err := p.pred(); err != nil {
		return err
	}
	if f == nil {
		return nil
	}
	switch {
	case f.Builtin:
		p.reloc(ir.RelocBuiltin, p.w.targ.BuiltinOffset(f.TargetBuiltin))
	case f.TargetFn != nil:
		pos := uint32(f.TargetFn.BinPos)
		p.target(pos)
		if f.Absolute {
			p.reloc(ir.RelocCode, pos)
		}
	case f.TargetBB != nil:
		p.target(uint32(f.TargetBB.BinPos))
	}
	return nil
}

// target encodes a branch target given in bytes.
func (p *packer) target(pos uint32) {
	p.c.put(p.f.FlowLo, (pos>>2)&0xffff)
	p.c.put(p.f.FlowHi, (pos>>18)&0x3f)
}

// reloc records the branch target fields of the instruction as patched
// with data relative to the base address selected by kind.
func (p *packer) reloc(kind ir.RelocKind, data uint32) {
	fields := []struct {
		pos, width, shift uint8
	}{
		{p.f.FlowLo, 16, 2},
		{p.f.FlowHi, 6, 18},
	}
	var entries []ir.RelocEntry
	for _, fd := range fields {
		if fd.pos == 0 {
			continue
		}
		m := (code(1)<<fd.width - 1) << fd.pos
		for w := 0; w < 2; w++ {
			mask := uint32(m >> (32 * w))
			if mask == 0 {
				continue
			}
			e := ir.RelocEntry{
				Offset: uint32(p.w.pos + 4*w),
				Data:   data,
				Mask:   mask,
				Bit:    int8(int(fd.pos) - int(fd.shift) - 32*w),
				Kind:   kind,
			}
			merged := false
			for k := range entries {
				if entries[k].Offset == e.Offset && entries[k].Bit == e.Bit {
					entries[k].Mask |= e.Mask
					merged = true
				}
			}
			if !merged {
				entries = append(entries, e)
			}
		}
	}
	for _, e := range entries {
		p.w.prog.Relocs.Add(e)
	}
}

// roundModes maps the rounding direction to its hardware code.
var roundModes = [4]uint32{
	ir.RoundN: 0,
	ir.RoundM: 1,
	ir.RoundZ: 3,
	ir.RoundP: 2,
}

var hwConds = map[ir.CondCode]uint32{
	ir.CCFalse: 0x00,
	ir.CCLT:    0x01,
	ir.CCEQ:    0x02,
	ir.CCLE:    0x03,
	ir.CCGT:    0x04,
	ir.CCNE:    0x05,
	ir.CCGE:    0x06,
	ir.CCU:     0x08,
	ir.CCLTU:   0x09,
	ir.CCEQU:   0x0a,
	ir.CCLEU:   0x0b,
	ir.CCGTU:   0x0c,
	ir.CCNEU:   0x0d,
	ir.CCGEU:   0x0e,
	ir.CCTrue:  0x0f,
	ir.CCO:     0x10,
	ir.CCC:     0x11,
	ir.CCA:     0x12,
	ir.CCS:     0x13,
	ir.CCNS:    0x1c,
	ir.CCNA:    0x1d,
	ir.CCNC:    0x1e,
	ir.CCNO:    0x1f,
}

func hwCond(cc ir.CondCode) (uint32, error) {
	hw, ok := hwConds[cc]
	if !ok {
		return 0, errors.Wrapf(errdefs.ErrInvalidArgument, "condition %s", cc)
	}
	return hw, nil
}
