package ir

import "fmt"

// Op is an instruction opcode.
//
// Opcodes below OpMov are pseudo operations that must be eliminated before
// code emission.
type Op uint8

const (
	OpNop Op = iota
	OpPhi
	OpUnion
	OpSplit
	OpMerge
	OpConstraint
	OpMov
	OpLoad
	OpStore
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpMad
	OpFma
	OpSad
	OpAbs
	OpNeg
	OpNot
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpMax
	OpMin
	OpSat
	OpCeil
	OpFloor
	OpTrunc
	OpCvt
	OpSetAnd
	OpSetOr
	OpSetXor
	OpSet
	OpSelp
	OpSlct
	OpRcp
	OpRsq
	OpLg2
	OpSin
	OpCos
	OpEx2
	OpExp
	OpLog
	OpPresin
	OpPreex2
	OpSqrt
	OpPow
	OpBra
	OpCall
	OpRet
	OpCont
	OpBreak
	OpPreret
	OpPrecont
	OpPrebreak
	OpBrkpt
	OpJoinAt
	OpJoin
	OpDiscard
	OpExit
	OpMembar
	OpVfetch
	OpPfetch
	OpExport
	OpLinterp
	OpPinterp
	OpEmit
	OpRestart
	OpTex
	OpTxb
	OpTxl
	OpTxf
	OpTxq
	OpTxd
	OpTxg
	OpTexCsaa
	OpSuld
	OpSust
	OpDfdx
	OpDfdy
	OpRdsv
	OpWrsv
	OpPixld
	OpQuadop
	OpQuadon
	OpQuadpop
	OpPopcnt
	OpInsbf
	OpExtbf

	opCount
)

var opNames = [opCount]string{
	"nop", "phi", "union", "split", "merge", "constraint", "mov", "ld", "st",
	"add", "sub", "mul", "div", "mod", "mad", "fma", "sad", "abs", "neg",
	"not", "and", "or", "xor", "shl", "shr", "max", "min", "sat", "ceil",
	"floor", "trunc", "cvt", "set_and", "set_or", "set_xor", "set", "selp",
	"slct", "rcp", "rsq", "lg2", "sin", "cos", "ex2", "exp", "log", "presin",
	"preex2", "sqrt", "pow", "bra", "call", "ret", "cont", "break", "preret",
	"precont", "prebreak", "brkpt", "joinat", "join", "discard", "exit",
	"membar", "vfetch", "pfetch", "export", "linterp", "pinterp", "emit",
	"restart", "tex", "txb", "txl", "txf", "txq", "txd", "txg", "texcsaa",
	"suld", "sust", "dfdx", "dfdy", "rdsv", "wrsv", "pixld", "quadop",
	"quadon", "quadpop", "popcnt", "insbf", "extbf",
}

// String returns the lowercase mnemonic used by the text form.
func (op Op) String() string {
	if op < opCount {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

// OpByName looks up an opcode by its mnemonic.
func OpByName(name string) (Op, bool) {
	for i, n := range opNames {
		if n == name {
			return Op(i), true
		}
	}
	return OpNop, false
}

// IsPseudo reports whether op never reaches the emitter.
func (op Op) IsPseudo() bool { return op < OpMov }

// IsTexture reports whether op is a texture sampling or query operation.
func (op Op) IsTexture() bool { return op >= OpTex && op <= OpTexCsaa }

// IsFlow reports whether op is a control flow operation.
func (op Op) IsFlow() bool { return op >= OpBra && op <= OpExit }

// SrcCount is the number of principal sources an opcode reads. Extra
// sources (predicate, indirect addresses) are not counted.
func (op Op) SrcCount() int {
	switch op {
	case OpNop, OpPhi, OpUnion, OpConstraint, OpMerge:
		return 0 // variable
	case OpMad, OpFma, OpSad, OpSlct, OpInsbf, OpSelp, OpSetAnd, OpSetOr, OpSetXor:
		return 3
	case OpAdd, OpSub, OpMul, OpDiv, OpMod, OpAnd, OpOr, OpXor, OpShl, OpShr,
		OpMax, OpMin, OpSet, OpPow, OpStore, OpExtbf, OpQuadop, OpPinterp:
		return 2
	case OpBra, OpCall, OpRet, OpCont, OpBreak, OpPreret, OpPrecont, OpPrebreak,
		OpBrkpt, OpJoinAt, OpJoin, OpDiscard, OpExit, OpMembar, OpQuadon,
		OpQuadpop, OpEmit, OpRestart:
		return 0
	default:
		return 1
	}
}

// OpClass groups opcodes by the functional unit that executes them.
type OpClass uint8

const (
	ClassMove OpClass = iota
	ClassLoad
	ClassStore
	ClassArith
	ClassShift
	ClassSFU
	ClassLogic
	ClassCompare
	ClassConvert
	ClassAtomic
	ClassTexture
	ClassControl
	ClassPseudo
	ClassOther
)

// Class returns the operation class of op.
func (op Op) Class() OpClass {
	switch {
	case op.IsPseudo():
		return ClassPseudo
	case op.IsTexture():
		return ClassTexture
	case op.IsFlow():
		return ClassControl
	}
	switch op {
	case OpMov, OpRdsv, OpWrsv, OpQuadop, OpPixld:
		return ClassMove
	case OpLoad, OpVfetch, OpPfetch, OpLinterp, OpPinterp, OpSuld:
		return ClassLoad
	case OpStore, OpExport, OpSust:
		return ClassStore
	case OpShl, OpShr:
		return ClassShift
	case OpRcp, OpRsq, OpLg2, OpSin, OpCos, OpEx2, OpExp, OpLog, OpPresin, OpPreex2, OpSqrt, OpPow:
		return ClassSFU
	case OpAnd, OpOr, OpXor, OpNot:
		return ClassLogic
	case OpSet, OpSetAnd, OpSetOr, OpSetXor, OpSelp, OpSlct:
		return ClassCompare
	case OpCvt, OpCeil, OpFloor, OpTrunc, OpSat, OpAbs, OpNeg:
		return ClassConvert
	case OpMembar, OpEmit, OpRestart, OpQuadon, OpQuadpop:
		return ClassControl
	case OpDfdx, OpDfdy, OpPopcnt, OpInsbf, OpExtbf:
		return ClassOther
	}
	return ClassArith
}

// DataType is the type tag of an operation or value.
type DataType uint8

const (
	TypeNone DataType = iota
	TypeU8
	TypeS8
	TypeU16
	TypeS16
	TypeU32
	TypeS32
	TypeU64
	TypeS64
	TypeF16
	TypeF32
	TypeF64
	TypeB96
	TypeB128
)

var typeNames = [...]string{"none", "u8", "s8", "u16", "s16", "u32", "s32", "u64", "s64", "f16", "f32", "f64", "b96", "b128"}

func (t DataType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// TypeByName looks up a data type by its text form.
func TypeByName(name string) (DataType, bool) {
	for i, n := range typeNames {
		if n == name {
			return DataType(i), true
		}
	}
	return TypeNone, false
}

// Size returns the size of t in bytes.
func (t DataType) Size() int {
	switch t {
	case TypeU8, TypeS8:
		return 1
	case TypeU16, TypeS16, TypeF16:
		return 2
	case TypeU32, TypeS32, TypeF32:
		return 4
	case TypeU64, TypeS64, TypeF64:
		return 8
	case TypeB96:
		return 12
	case TypeB128:
		return 16
	}
	return 0
}

// IsFloat reports whether t is a floating point type.
func (t DataType) IsFloat() bool { return t == TypeF16 || t == TypeF32 || t == TypeF64 }

// IsSigned reports whether t is a signed integer or floating point type.
func (t DataType) IsSigned() bool {
	switch t {
	case TypeS8, TypeS16, TypeS32, TypeS64, TypeF16, TypeF32, TypeF64:
		return true
	}
	return false
}

// TypeOfSize returns the type with the given size and properties.
func TypeOfSize(size int, flt, sgn bool) DataType {
	switch size {
	case 1:
		if sgn {
			return TypeS8
		}
		return TypeU8
	case 2:
		if flt {
			return TypeF16
		}
		if sgn {
			return TypeS16
		}
		return TypeU16
	case 4:
		if flt {
			return TypeF32
		}
		if sgn {
			return TypeS32
		}
		return TypeU32
	case 8:
		if flt {
			return TypeF64
		}
		if sgn {
			return TypeS64
		}
		return TypeU64
	case 12:
		return TypeB96
	case 16:
		return TypeB128
	}
	return TypeNone
}

// DataFile is a storage class.
type DataFile uint8

const (
	FileNull DataFile = iota
	FileGPR
	FilePredicate
	FileFlags
	FileAddress
	FileImmediate
	FileMemoryConst
	FileShaderInput
	FileShaderOutput
	FileMemoryGlobal
	FileMemoryShared
	FileMemoryLocal
	FileSystemValue

	fileCount
)

// NumFiles is the number of storage classes.
const NumFiles = int(fileCount)

var fileNames = [fileCount]string{"null", "gpr", "pred", "flags", "addr", "imm", "c", "a", "o", "g", "s", "l", "sv"}

func (f DataFile) String() string {
	if f < fileCount {
		return fileNames[f]
	}
	return fmt.Sprintf("file(%d)", uint8(f))
}

// IsRegister reports whether f is allocated by the register allocator.
func (f DataFile) IsRegister() bool { return f >= FileGPR && f <= FileAddress }

// IsMemory reports whether f is an addressable memory space.
func (f DataFile) IsMemory() bool { return f >= FileMemoryConst && f <= FileMemoryLocal }

// CondCode is a comparison or predicate condition.
type CondCode uint8

const (
	CCFalse CondCode = 0
	CCLT    CondCode = 1
	CCEQ    CondCode = 2
	CCLE    CondCode = 3
	CCGT    CondCode = 4
	CCNE    CondCode = 5
	CCGE    CondCode = 6
	CCTrue  CondCode = 7
	CCU     CondCode = 8
	CCLTU   CondCode = 9
	CCEQU   CondCode = 10
	CCLEU   CondCode = 11
	CCGTU   CondCode = 12
	CCNEU   CondCode = 13
	CCGEU   CondCode = 14
	CCNO    CondCode = 0x10
	CCNC    CondCode = 0x11
	CCNS    CondCode = 0x12
	CCNA    CondCode = 0x13
	CCA     CondCode = 0x14
	CCS     CondCode = 0x15
	CCC     CondCode = 0x16
	CCO     CondCode = 0x17

	// CCNotP and CCP test a predicate register for false and true.
	CCNotP = CCEQ
	CCP    = CCNE
)

var ccNames = map[CondCode]string{
	CCFalse: "fl", CCLT: "lt", CCEQ: "eq", CCLE: "le", CCGT: "gt", CCNE: "ne",
	CCGE: "ge", CCTrue: "tr", CCU: "u", CCLTU: "ltu", CCEQU: "equ", CCLEU: "leu",
	CCGTU: "gtu", CCNEU: "neu", CCGEU: "geu", CCNO: "no", CCNC: "nc",
	CCNS: "ns", CCNA: "na", CCA: "a", CCS: "s", CCC: "c", CCO: "o",
}

func (cc CondCode) String() string {
	if s, ok := ccNames[cc]; ok {
		return s
	}
	return fmt.Sprintf("cc(%d)", uint8(cc))
}

// CondCodeByName looks up a condition code by its text form.
func CondCodeByName(name string) (CondCode, bool) {
	for cc, n := range ccNames {
		if n == name {
			return cc, true
		}
	}
	return CCFalse, false
}

// Inverse returns the negated condition.
func (cc CondCode) Inverse() CondCode { return cc ^ 7 }

// Reverse returns the condition to use when the compared operands are swapped.
func (cc CondCode) Reverse() CondCode {
	if cc >= CCNO {
		return cc
	}
	u := cc & CCU
	switch cc &^ CCU {
	case CCLT:
		return CCGT | u
	case CCLE:
		return CCGE | u
	case CCGT:
		return CCLT | u
	case CCGE:
		return CCLE | u
	}
	return cc
}

// RoundMode is a rounding mode for arithmetic and conversions.
type RoundMode uint8

const (
	RoundN RoundMode = iota // nearest
	RoundM                  // towards -inf
	RoundZ                  // towards 0
	RoundP                  // towards +inf
	RoundNI                 // nearest, integer result
	RoundMI
	RoundZI
	RoundPI
)

var roundNames = [...]string{"rn", "rm", "rz", "rp", "rni", "rmi", "rzi", "rpi"}

func (r RoundMode) String() string {
	if int(r) < len(roundNames) {
		return roundNames[r]
	}
	return fmt.Sprintf("rnd(%d)", uint8(r))
}

// RoundModeByName looks up a rounding mode by its text form.
func RoundModeByName(name string) (RoundMode, bool) {
	for i, n := range roundNames {
		if n == name {
			return RoundMode(i), true
		}
	}
	return RoundN, false
}

// Interpolation mode bits stored in Instruction.IPA.
const (
	InterpModeMask    = 0x3
	InterpLinear      = 0 << 0
	InterpPerspective = 1 << 0
	InterpFlat        = 2 << 0
	InterpSC          = 3 << 0
	InterpSampleMask  = 0xc
	InterpDefault     = 0 << 2
	InterpCentroid    = 1 << 2
	InterpOffset      = 2 << 2
	InterpSampleID    = 3 << 2
)

// SVSemantic identifies a system value.
type SVSemantic uint8

const (
	SVPosition SVSemantic = iota
	SVFace
	SVLayer
	SVViewportIndex
	SVPointSize
	SVPointCoord
	SVClipDistance
	SVSampleIndex
	SVTessFactor
	SVTessCoord
	SVTID
	SVCTAID
	SVNTID
	SVGridID
	SVNCTAID
	SVLaneID
	SVPhysID
	SVNPhysID
	SVClock
	SVLBase
	SVSBase
	SVVertexID
	SVInstanceID
	SVInvocationID
	SVPrimitiveID
	SVVertexCount
	SVUndefined

	svCount
)

var svNames = [svCount]string{
	"position", "face", "layer", "viewport_index", "point_size", "point_coord",
	"clip_distance", "sample_index", "tess_factor", "tess_coord", "tid",
	"ctaid", "ntid", "gridid", "nctaid", "laneid", "physid", "nphysid",
	"clock", "lbase", "sbase", "vertex_id", "instance_id", "invocation_id",
	"primitive_id", "vertex_count", "undefined",
}

func (sv SVSemantic) String() string {
	if sv < svCount {
		return svNames[sv]
	}
	return fmt.Sprintf("sv(%d)", uint8(sv))
}

// SVByName looks up a system value semantic by its text form.
func SVByName(name string) (SVSemantic, bool) {
	for i, n := range svNames {
		if n == name {
			return SVSemantic(i), true
		}
	}
	return SVUndefined, false
}

// ProgramType is the shader stage of a program.
type ProgramType uint8

const (
	ProgramVertex ProgramType = iota
	ProgramTessControl
	ProgramTessEval
	ProgramGeometry
	ProgramFragment
	ProgramCompute
)

var programTypeNames = [...]string{"vertex", "tess_control", "tess_eval", "geometry", "fragment", "compute"}

func (t ProgramType) String() string {
	if int(t) < len(programTypeNames) {
		return programTypeNames[t]
	}
	return fmt.Sprintf("stage(%d)", uint8(t))
}

// ProgramTypeByName looks up a shader stage by its text form.
func ProgramTypeByName(name string) (ProgramType, bool) {
	for i, n := range programTypeNames {
		if n == name {
			return ProgramType(i), true
		}
	}
	return ProgramVertex, false
}

// Builtin identifies a routine of the target's pre-built library.
type Builtin uint8

const (
	BuiltinDivU32 Builtin = iota
	BuiltinDivS32
	BuiltinRcpF64
	BuiltinRsqF64

	// NumBuiltins is the number of library routines.
	NumBuiltins
)

var builtinNames = [NumBuiltins]string{"div_u32", "div_s32", "rcp_f64", "rsq_f64"}

func (b Builtin) String() string {
	if b < NumBuiltins {
		return builtinNames[b]
	}
	return fmt.Sprintf("builtin(%d)", uint8(b))
}

// BuiltinByName looks up a library routine by name.
func BuiltinByName(name string) (Builtin, bool) {
	for i, n := range builtinNames {
		if n == name {
			return Builtin(i), true
		}
	}
	return 0, false
}
