package ir

import "fmt"

// Function owns its basic blocks, its instructions and every virtual
// register it has allocated.
type Function struct {
	ID   int
	Name string

	Entry *BasicBlock
	Exit  *BasicBlock

	// LoopNestingBound bounds the loop depth, sizing the liveness fixed
	// point iteration.
	LoopNestingBound int

	// BBArray holds the blocks in emission order, set by OrderInstructions.
	BBArray []*BasicBlock

	BinPos  int
	BinSize int

	blocks  []*BasicBlock
	insns   []*Instruction
	lvalues []*Value
	rpo     []*BasicBlock

	prog *Program
}

// Program returns the owning program.
func (fn *Function) Program() *Program { return fn.prog }

// Blocks returns every block of the function in creation order.
func (fn *Function) Blocks() []*BasicBlock { return fn.blocks }

// LValues returns every virtual register of the function, indexed by
// Value.Index.
func (fn *Function) LValues() []*Value { return fn.lvalues }

// Instructions returns the instruction arena. Deleted slots are nil.
func (fn *Function) Instructions() []*Instruction { return fn.insns }

// NewBlock allocates an empty block.
func (fn *Function) NewBlock() *BasicBlock {
	bb := &BasicBlock{ID: len(fn.blocks), fn: fn, rpo: -1}
	fn.blocks = append(fn.blocks, bb)
	if fn.Entry == nil {
		fn.Entry = bb
	}
	return bb
}

// NewLValue allocates a virtual register in file with the natural size of
// the file.
func (fn *Function) NewLValue(file DataFile) *Value {
	v := fn.prog.newValue(KindLValue)
	v.Reg.File = file
	v.Reg.Size = 4
	v.Reg.Type = TypeU32
	switch file {
	case FilePredicate, FileFlags:
		v.Reg.Size = 1
		v.Reg.Type = TypeU8
	case FileAddress:
		v.Reg.Size = 2
		v.Reg.Type = TypeU16
	}
	v.Index = len(fn.lvalues)
	v.fn = fn
	fn.lvalues = append(fn.lvalues, v)
	return v
}

// NewLValueSized allocates a GPR virtual register of the given byte size.
func (fn *Function) NewLValueSized(size int) *Value {
	v := fn.NewLValue(FileGPR)
	v.Reg.Size = uint8(size)
	v.Reg.Type = TypeOfSize(size, false, false)
	return v
}

func (fn *Function) newInstruction(op Op, ty DataType) *Instruction {
	i := &Instruction{ID: len(fn.insns)}
	i.init(fn, op, ty)
	fn.insns = append(fn.insns, i)
	return i
}

// NewInstruction allocates an instruction registered with fn. Texture,
// comparison and control flow opcodes receive their payload.
func (fn *Function) NewInstruction(op Op, ty DataType) *Instruction {
	i := fn.newInstruction(op, ty)
	switch {
	case op.IsTexture() || op == OpSuld || op == OpSust:
		i.Ext = newTexInfo(i, Tex2D)
	case op.IsFlow():
		i.Ext = &FlowInfo{}
	case op == OpSet || op == OpSetAnd || op == OpSetOr || op == OpSetXor || op == OpSlct:
		i.Ext = &CmpInfo{SetCond: CCTrue}
	}
	return i
}

// NewTex allocates a texture instruction for target.
func (fn *Function) NewTex(op Op, target TexTarget) *Instruction {
	i := fn.newInstruction(op, TypeF32)
	i.Ext = newTexInfo(i, target)
	return i
}

// DeleteInstruction detaches i from its block and then clears its
// definitions and sources, in that order.
func (fn *Function) DeleteInstruction(i *Instruction) {
	if i.bb != nil {
		i.bb.Remove(i)
	}
	for d := MaxDefs - 1; d >= 0; d-- {
		i.defs[d].Set(nil)
	}
	for s := MaxSrcs - 1; s >= 0; s-- {
		i.srcs[s].Set(nil)
	}
	if tex := i.AsTex(); tex != nil {
		for c := range tex.DPdx {
			tex.DPdx[c].Set(nil)
			tex.DPdy[c].Set(nil)
		}
	}
	if i.ID < len(fn.insns) && fn.insns[i.ID] == i {
		fn.insns[i.ID] = nil
	}
}

// OrderInstructions numbers the instructions in reverse postorder of the
// CFG and records that order in BBArray. Serials start at 1.
func (fn *Function) OrderInstructions() {
	fn.ClassifyEdges()
	fn.BBArray = fn.BBArray[:0]
	serial := 1
	for _, bb := range fn.rpo {
		fn.BBArray = append(fn.BBArray, bb)
		bb.firstSerial = serial
		for i := bb.head; i != nil; i = i.next {
			i.Serial = serial
			serial++
		}
		bb.lastSerial = serial - 1
	}
}

func (fn *Function) String() string {
	return fmt.Sprintf("function %s", fn.Name)
}
