package ir

// Family is a GPU generation sharing one encoding and register model.
type Family uint8

const (
	FamilyTesla Family = iota
	FamilyFermi
)

func (f Family) String() string {
	switch f {
	case FamilyTesla:
		return "tesla"
	case FamilyFermi:
		return "fermi"
	}
	return "unknown"
}

// Target describes the capabilities of one chip generation. The lowering
// passes, the register allocator and the emitter query it; implementations
// live in package target.
type Target interface {
	Chipset() uint32
	Family() Family

	// IsOpSupported reports whether op executes natively for type ty.
	IsOpSupported(op Op, ty DataType) bool
	// IsModSupported reports whether source s of insn can carry mod.
	IsModSupported(insn *Instruction, s int, mod Modifier) bool

	// FileSize is the number of allocation units of a register file.
	FileSize(file DataFile) int
	// FileUnit is log2 of the allocation unit of a register file in bytes.
	FileUnit(file DataFile) int

	Latency(op Op) int
	Throughput(op Op) int

	// BuiltinCode is the pre-built library implementing emulation
	// routines; BuiltinOffset is the byte offset of a routine inside it.
	BuiltinCode() []uint32
	BuiltinOffset(b Builtin) uint32

	// SVAddress returns the input/output space address of a system value,
	// or ^0 if the value is not memory mapped for the program type.
	SVAddress(pt ProgramType, file DataFile, sym *Value) uint32

	// OpEncoding returns the layout table entry used to encode insn.
	OpEncoding(insn *Instruction) (*OpEncoding, bool)
	// Conversion returns the type word OR-ed into the second word of a
	// conversion from src to dst.
	Conversion(dst, src DataType) (uint32, bool)
	// Fields returns the operand bit positions shared by all encodings.
	Fields() *EncodingFields
	// MinEncodingSize returns the smallest encoding size insn fits in.
	MinEncodingSize(pt ProgramType, insn *Instruction) int

	// NeedsZeroRegister reports whether immediate zero sources must be
	// replaced by the always-zero register after allocation.
	NeedsZeroRegister() bool

	// SysValRegister returns the special register holding component index
	// of a system value that is not memory mapped.
	SysValRegister(sv SVSemantic, index int) (uint32, bool)
}

// EncodingKind selects the packing procedure used for an opcode.
type EncodingKind uint8

const (
	EncALU EncodingKind = iota
	EncMov
	EncCvt
	EncSet
	EncSFU
	EncTex
	EncFlow
	EncQuadop
	EncLoad
	EncStore
	EncInterp
	EncFetch
	EncExport
	EncNop
	EncSysVal
	EncShift
)

var encodingKindNames = [...]string{
	"alu", "mov", "cvt", "set", "sfu", "tex", "flow", "quadop", "load",
	"store", "interp", "fetch", "export", "nop", "sysval", "shift",
}

func (k EncodingKind) String() string {
	if int(k) < len(encodingKindNames) {
		return encodingKindNames[k]
	}
	return "unknown"
}

// EncodingKindByName looks up an encoding kind by name.
func EncodingKindByName(name string) (EncodingKind, bool) {
	for i, n := range encodingKindNames {
		if n == name {
			return EncodingKind(i), true
		}
	}
	return EncALU, false
}

// LongLayout selects where the sources go in the long ALU form.
type LongLayout uint8

const (
	// LayoutMad puts sources 0, 1 and 2 in slots 0, 1 and 2.
	LayoutMad LongLayout = iota
	// LayoutAdd puts source 1 in slot 2.
	LayoutAdd
)

// OpEncoding is one entry of a target's per-opcode layout table. Bit
// positions count from bit 0 of the first word through bit 63 of the
// second; position 0 means the field does not exist.
type OpEncoding struct {
	Kind   EncodingKind
	Layout LongLayout

	Long     [2]uint32
	Short    uint32
	HasShort bool
	Imm      [2]uint32
	HasImm   bool

	// Neg bits are XOR-ed in, so two sources sharing one bit encode the
	// sign of a product.
	NegLong  [3]uint8
	NegShort [3]uint8
	AbsLong  [3]uint8
	SatLong  uint8
	SatShort uint8
	RndLong  uint8
	CCLong   uint8
	// Signed is set for signed source types.
	Signed uint8

	// FlowOp is the 4 bit control flow operation code.
	FlowOp uint8

	// SrcPos overrides the register positions of the first sources.
	SrcPos [3]uint8

	// Memory operands: the byte offset shifted right by AddrShift goes to
	// AddrPos, the stored register to ValuePos, the buffer index to Index
	// and the access size code to Size. Zero positions fall back to the
	// first source, the destination and EncodingFields.ConstIndex.
	AddrPos   uint8
	AddrShift uint8
	ValuePos  uint8
	Index     uint8
	Size      uint8

	// ImmBits is the width of an immediate held in one field at ImmLo.
	ImmBits uint8
	// RndInt marks rounding to an integral value.
	RndInt uint8

	// Interpolation mode bits of the short and long forms.
	Flat     [2]uint8
	Centroid [2]uint8

	// Quad operations: the source lane goes to Lane, the low two bits of
	// the micro-op to SubOp[0] and the rest to SubOp[1]. Without
	// SubOp[1] the whole micro-op goes to SubOp[0].
	Lane  uint8
	SubOp [2]uint8

	// LaneMask puts Instruction.Lanes at EncodingFields.Lanes.
	LaneMask bool
}

// TexFields holds the operand positions of texture instructions.
type TexFields struct {
	R, S     uint8
	ArgCount uint8
	Dim      uint8
	Cube     uint8
	Array    uint8
	Shadow   uint8
	// Offset is the position of the first of three 4 bit texel offsets.
	Offset uint8
	// MaskLo takes the low two bits of the component mask and MaskHi the
	// rest; without MaskHi the whole mask goes to MaskLo.
	MaskLo     uint8
	MaskHi     uint8
	LiveOnly   uint8
	DerivAll   uint8
	GatherComp uint8
	// Src and Src1 hold the first register of each source group. Targets
	// that read the coordinates from the destination registers leave
	// them zero.
	Src  uint8
	Src1 uint8
}

// EncodingFields holds the operand positions a target shares between all
// opcodes. Positions count like those of OpEncoding; [2]uint32 fields are
// bits OR-ed into the two words.
type EncodingFields struct {
	// LongForm marks an 8 byte encoding.
	LongForm [2]uint32

	Dst uint8
	Src [3]uint8

	// Sink is the register id written when the result is discarded,
	// together with the extra bits it needs.
	Sink     uint32
	SinkBits [2]uint32

	// ConstSrc marks source slot s as a const space operand; the const
	// buffer index goes to ConstIndex.
	ConstSrc   [3][2]uint32
	ConstIndex uint8
	// InputSrc0 marks source 0 as a shader input.
	InputSrc0 [2]uint32
	// OutputDst marks the destination as a shader output.
	OutputDst [2]uint32

	// Predicate and flags reads: condition code at Cond, register at
	// PredReg. NoPred is written when the instruction is unconditional.
	Cond    uint8
	PredReg uint8
	PredNot uint8
	NoPred  [2]uint32

	FlagsDef   uint8
	FlagsDefOn [2]uint32
	// FlagsSrcOn marks a flags register read in place of a predicate.
	FlagsSrcOn [2]uint32

	// Immediate payload split into ImmLoBits at ImmLo and the rest at ImmHi.
	ImmLo     uint8
	ImmLoBits uint8
	ImmHi     uint8
	ImmOn     [2]uint32

	// Address register operand, low two bits at ARegLo and bit 2 at ARegHi.
	ARegLo uint8
	ARegHi uint8

	// Branch target, in words: 16 bits at FlowLo, 6 bits at FlowHi.
	FlowLo uint8
	FlowHi uint8
	// FlowOp is the position of OpEncoding.FlowOp.
	FlowOp uint8

	// Lanes is the position of the quad lane mask of moves and loads.
	Lanes uint8

	Join [2]uint32
	Exit [2]uint32

	// AccessSize maps the type of a memory access to its size code.
	AccessSize map[DataType]uint32

	Tex TexFields
}
