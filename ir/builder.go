package ir

// Builder creates instructions and inserts them at a cursor, the way the
// lowering passes rewrite code in place.
type Builder struct {
	prog *Program
	fn   *Function
	bb   *BasicBlock
	pos  *Instruction
	tail bool
}

// NewBuilder returns a builder for prog with no position set.
func NewBuilder(prog *Program) *Builder {
	return &Builder{prog: prog}
}

// Program returns the program the builder creates values in.
func (b *Builder) Program() *Program { return b.prog }

// Function returns the function of the current position.
func (b *Builder) Function() *Function { return b.fn }

// SetFunction selects the function new virtual registers are created in.
func (b *Builder) SetFunction(fn *Function) { b.fn = fn }

// SetPosition places the cursor at the start or the end of bb.
func (b *Builder) SetPosition(bb *BasicBlock, atTail bool) {
	b.bb = bb
	b.fn = bb.fn
	b.pos = nil
	b.tail = atTail
}

// SetPositionAt places the cursor before or after i. Inserting after i
// advances the cursor so a sequence keeps its order.
func (b *Builder) SetPositionAt(i *Instruction, after bool) {
	b.bb = i.bb
	b.fn = i.fn
	b.pos = i
	b.tail = after
}

// Position returns the current insertion block.
func (b *Builder) Position() *BasicBlock { return b.bb }

// Insert places i at the cursor.
func (b *Builder) Insert(i *Instruction) {
	if b.bb == nil {
		return
	}
	if b.pos == nil {
		if b.tail {
			b.bb.InsertTail(i)
			return
		}
		b.bb.InsertHead(i)
		b.pos = i
		b.tail = true
		return
	}
	if b.tail {
		b.bb.InsertAfter(b.pos, i)
		b.pos = i
		return
	}
	b.bb.InsertBefore(b.pos, i)
}

// MkOp creates op with an optional destination.
func (b *Builder) MkOp(op Op, ty DataType, dst *Value) *Instruction {
	i := b.fn.NewInstruction(op, ty)
	if dst != nil {
		i.SetDef(0, dst)
	}
	b.Insert(i)
	return i
}

// MkOp1 creates a one source operation.
func (b *Builder) MkOp1(op Op, ty DataType, dst, src *Value) *Instruction {
	i := b.MkOp(op, ty, dst)
	i.SetSrc(0, src)
	return i
}

// MkOp2 creates a two source operation.
func (b *Builder) MkOp2(op Op, ty DataType, dst, src0, src1 *Value) *Instruction {
	i := b.MkOp1(op, ty, dst, src0)
	i.SetSrc(1, src1)
	return i
}

// MkOp3 creates a three source operation.
func (b *Builder) MkOp3(op Op, ty DataType, dst, src0, src1, src2 *Value) *Instruction {
	i := b.MkOp2(op, ty, dst, src0, src1)
	i.SetSrc(2, src2)
	return i
}

// MkOp1v is MkOp1 returning the destination.
func (b *Builder) MkOp1v(op Op, ty DataType, dst, src *Value) *Value {
	b.MkOp1(op, ty, dst, src)
	return dst
}

// MkOp2v is MkOp2 returning the destination.
func (b *Builder) MkOp2v(op Op, ty DataType, dst, src0, src1 *Value) *Value {
	b.MkOp2(op, ty, dst, src0, src1)
	return dst
}

// MkOp3v is MkOp3 returning the destination.
func (b *Builder) MkOp3v(op Op, ty DataType, dst, src0, src1, src2 *Value) *Value {
	b.MkOp3(op, ty, dst, src0, src1, src2)
	return dst
}

// MkMov creates a move of ty.
func (b *Builder) MkMov(dst, src *Value, ty DataType) *Instruction {
	return b.MkOp1(OpMov, ty, dst, src)
}

// MkMovToReg moves src into a virtual register pinned to GPR id.
func (b *Builder) MkMovToReg(id int, src *Value) *Instruction {
	dst := b.fn.NewLValue(FileGPR)
	dst.Reg.Size = src.Reg.Size
	if dst.Reg.Size == 0 {
		dst.Reg.Size = 4
	}
	dst.Reg.ID = int32(id)
	return b.MkOp1(OpMov, TypeOfSize(int(dst.Reg.Size), false, false), dst, src)
}

// MkMovFromReg moves the content of GPR id into dst.
func (b *Builder) MkMovFromReg(dst *Value, id int) *Instruction {
	src := b.fn.NewLValue(FileGPR)
	src.Reg.Size = dst.Reg.Size
	src.Reg.ID = int32(id)
	return b.MkOp1(OpMov, TypeOfSize(int(dst.Reg.Size), false, false), dst, src)
}

// MkCvt creates a conversion from sTy to dTy.
func (b *Builder) MkCvt(op Op, dTy DataType, dst *Value, sTy DataType, src *Value) *Instruction {
	i := b.MkOp1(op, dTy, dst, src)
	i.SType = sTy
	return i
}

// MkCmp creates a comparison of ty sources with condition cc. A
// predicate destination makes the result type u8.
func (b *Builder) MkCmp(op Op, cc CondCode, ty DataType, dst, src0, src1, src2 *Value) *Instruction {
	i := b.fn.NewInstruction(op, ty)
	if dst.Reg.File == FilePredicate {
		i.DType = TypeU8
	}
	i.SType = ty
	if c := i.AsCmp(); c != nil {
		c.SetCond = cc
	}
	i.SetDef(0, dst)
	i.SetSrc(0, src0)
	i.SetSrc(1, src1)
	if src2 != nil {
		i.SetSrc(2, src2)
	}
	b.Insert(i)
	return i
}

// MkTex creates a texture instruction with the given definitions and
// sources.
func (b *Builder) MkTex(op Op, target TexTarget, tic, tsc int, defs, srcs []*Value) *Instruction {
	i := b.fn.NewTex(op, target)
	tex := i.AsTex()
	tex.R = tic
	tex.S = tsc
	for d, v := range defs {
		i.SetDef(d, v)
	}
	for s, v := range srcs {
		i.SetSrc(s, v)
	}
	b.Insert(i)
	return i
}

// MkQuadop creates a quad operation: lane selects the lane src0 is read
// from, and q holds one 2 bit micro-op per destination lane.
func (b *Builder) MkQuadop(q uint8, def *Value, lane uint8, src0, src1 *Value) *Instruction {
	i := b.MkOp2(OpQuadop, TypeF32, def, src0, src1)
	i.SubOp = q
	i.Lanes = lane
	return i
}

// MkSelect merges trSrc and flSrc into dst depending on pred.
func (b *Builder) MkSelect(pred, dst, trSrc, flSrc *Value) *Instruction {
	def0 := b.GetSSA(4)
	def1 := b.GetSSA(4)
	b.MkMov(def0, trSrc, TypeU32).SetPredicate(CCP, pred)
	b.MkMov(def1, flSrc, TypeU32).SetPredicate(CCNotP, pred)
	return b.MkOp2(OpUnion, TypeOfSize(int(dst.Reg.Size), false, false), dst, def0, def1)
}

// MkFlow creates a control flow instruction. target is a *BasicBlock, a
// *Function or nil.
func (b *Builder) MkFlow(op Op, target any, cc CondCode, pred *Value) *Instruction {
	i := b.fn.NewInstruction(op, TypeNone)
	f := i.AsFlow()
	switch t := target.(type) {
	case *BasicBlock:
		f.TargetBB = t
	case *Function:
		f.TargetFn = t
	}
	if pred != nil {
		i.SetPredicate(cc, pred)
	}
	switch op {
	case OpBra, OpRet, OpExit, OpCont, OpBreak, OpDiscard:
		i.Terminator = op != OpDiscard
	}
	b.Insert(i)
	return i
}

// MkBuiltinCall creates an absolute call into the builtin library.
func (b *Builder) MkBuiltinCall(builtin Builtin) *Instruction {
	i := b.MkFlow(OpCall, nil, CCTrue, nil)
	f := i.AsFlow()
	f.Builtin = true
	f.Absolute = true
	f.TargetBuiltin = builtin
	i.Fixed = true
	return i
}

// MkLoad creates a load of ty from mem, optionally indexed by ptr.
func (b *Builder) MkLoad(ty DataType, dst, mem, ptr *Value) *Instruction {
	i := b.MkOp1(OpLoad, ty, dst, mem)
	i.SetIndirect(0, 0, ptr)
	return i
}

// MkStore creates a store of stVal to mem, optionally indexed by ptr.
func (b *Builder) MkStore(op Op, ty DataType, mem, ptr, stVal *Value) *Instruction {
	i := b.MkOp2(op, ty, nil, mem, stVal)
	i.SetIndirect(0, 0, ptr)
	return i
}

// MkFetch creates a vertex attribute fetch.
func (b *Builder) MkFetch(dst *Value, ty DataType, file DataFile, offset int32, attrRel, primRel *Value) *Instruction {
	sym := b.MkSymbol(file, 0, ty, offset)
	i := b.MkOp1(OpVfetch, ty, dst, sym)
	i.SetIndirect(0, 0, attrRel)
	i.SetIndirect(0, 1, primRel)
	return i
}

// MkInterp creates an interpolation of the input at offset.
func (b *Builder) MkInterp(mode uint8, dst *Value, offset int32, rel *Value) *Instruction {
	ty := TypeF32
	if mode&InterpModeMask == InterpFlat {
		ty = TypeU32
	}
	sym := b.MkSymbol(FileShaderInput, 0, ty, offset)
	i := b.MkOp1(OpLinterp, ty, dst, sym)
	i.SetIndirect(0, 0, rel)
	i.IPA = mode
	return i
}

// MkClobber creates fixed no-ops whose definitions cover the registers set
// in mask, in units of 1<<unit bytes. The registers are split into aligned
// chunks of 1, 2 or 4 units. It returns the last no-op created.
func (b *Builder) MkClobber(file DataFile, mask uint32, unit int) *Instruction {
	var nop *Instruction
	d := MaxDefs
	for base := 0; base < 32; {
		if mask&(1<<base) == 0 {
			base++
			continue
		}
		size := 1
		for _, s := range []int{4, 2} {
			chunk := uint32(1)<<s - 1
			if base%s == 0 && base+s <= 32 && (mask>>base)&chunk == chunk {
				size = s
				break
			}
		}
		if d == MaxDefs {
			nop = b.MkOp(OpNop, TypeNone, nil)
			nop.Fixed = true
			d = 0
		}
		reg := b.fn.NewLValue(file)
		reg.Reg.Size = uint8(size << unit)
		reg.Reg.Type = TypeOfSize(int(reg.Reg.Size), false, false)
		reg.Reg.ID = int32(base)
		nop.SetDef(d, reg)
		d++
		base += size
	}
	return nop
}

// MkImm creates a 32 bit immediate.
func (b *Builder) MkImm(u uint32) *Value { return b.prog.ImmU32(u) }

// MkImmF32 creates a single precision float immediate.
func (b *Builder) MkImmF32(f float32) *Value { return b.prog.ImmF32(f) }

// MkImm64 creates a 64 bit immediate.
func (b *Builder) MkImm64(u uint64) *Value { return b.prog.NewImmediate(u, TypeU64) }

// LoadImm moves the immediate u into dst, or into a new scratch register
// if dst is nil, and returns the register.
func (b *Builder) LoadImm(dst *Value, u uint32) *Value {
	if dst == nil {
		dst = b.GetScratch(4)
	}
	b.MkOp1(OpMov, TypeU32, dst, b.MkImm(u))
	return dst
}

// LoadImmF32 is LoadImm for a float constant.
func (b *Builder) LoadImmF32(dst *Value, f float32) *Value {
	if dst == nil {
		dst = b.GetScratch(4)
	}
	b.MkOp1(OpMov, TypeF32, dst, b.MkImmF32(f))
	return dst
}

// MkSymbol creates a memory symbol.
func (b *Builder) MkSymbol(file DataFile, fileIndex int8, ty DataType, offset int32) *Value {
	return b.prog.NewSymbol(file, fileIndex, ty, offset)
}

// MkSysVal creates a system value symbol.
func (b *Builder) MkSysVal(sv SVSemantic, index int8) *Value {
	return b.prog.NewSysVal(sv, index)
}

// GetScratch returns a fresh general purpose register that may be
// defined more than once.
func (b *Builder) GetScratch(size int) *Value {
	v := b.fn.NewLValue(FileGPR)
	if size != 4 {
		v.Reg.Size = uint8(size)
		v.Reg.Type = TypeOfSize(size, false, false)
	}
	return v
}

// GetSSA returns a fresh general purpose register defined exactly once.
func (b *Builder) GetSSA(size int) *Value {
	v := b.GetScratch(size)
	v.SSA = true
	return v
}

// Split64BitOpPostRA splits an allocated 64 bit operation into a low and a
// high half. Narrow sources of the high half read zero. Add and subtract
// chain the halves through carry. It returns the high half, or nil if the
// operation cannot be split.
func (b *Builder) Split64BitOpPostRA(i *Instruction, zero, carry *Value) *Instruction {
	var hTy DataType
	switch i.DType {
	case TypeU64, TypeF64:
		hTy = TypeU32
	case TypeS64:
		hTy = TypeS32
	default:
		return nil
	}
	srcNr := 0
	switch i.Op {
	case OpMov, OpNot, OpNeg, OpAbs:
		srcNr = 1
	case OpAdd, OpSub:
		if carry == nil {
			return nil
		}
		srcNr = 2
	case OpAnd, OpOr, OpXor, OpMul:
		srcNr = 2
	case OpMad, OpFma:
		srcNr = 3
	default:
		return nil
	}
	fn := i.fn

	i.DType = hTy
	i.SType = hTy
	lo := i
	def := lo.GetDef(0).Clone(fn)
	def.Reg.Size = 4
	def.Reg.Type = hTy
	lo.SetDef(0, def)

	hi := lo.Clone(true)
	lo.bb.InsertAfter(lo, hi)
	hi.GetDef(0).Reg.ID++

	for s := 0; s < srcNr; s++ {
		src := lo.GetSrc(s)
		if src.Reg.Size < 8 {
			hi.SetSrc(s, zero)
			continue
		}
		if src.RefCount() > 1 {
			src = src.Clone(fn)
			lo.SetSrc(s, src)
		}
		src.Reg.Size /= 2
		src.Reg.Type = hTy
		h := src.Clone(fn)
		hi.SetSrc(s, h)
		switch h.Reg.File {
		case FileImmediate:
			h.Reg.Imm >>= 32
			src.Reg.Imm &= 0xffffffff
		case FileMemoryConst, FileMemoryShared, FileShaderInput:
			h.Reg.Offset += 4
		default:
			h.Reg.ID++
		}
	}
	if srcNr == 2 && (i.Op == OpAdd || i.Op == OpSub) {
		lo.SetFlagsDef(1, carry)
		hi.SetFlagsSrc(hi.SrcCount(), carry)
	}
	return hi
}
