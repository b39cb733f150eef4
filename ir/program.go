package ir

import (
	"math"

	"github.com/sirupsen/logrus"
)

// Debug levels for Program.Debug. Each enables a text dump of the IR after
// the corresponding phase.
const (
	DebugFrontend uint32 = 1 << iota
	DebugPreSSA
	DebugSSA
	DebugRegAlloc
	DebugPostRA
)

// Program is the unit of compilation: a shader stage for one chipset.
//
// The program owns the value arena shared by all of its functions. Values
// are never freed while the program is alive, so IDs stay stable through
// coalescing.
type Program struct {
	Type   ProgramType
	Target Target
	// Chipset records the chipset named by the text form when no target
	// is attached yet.
	Chipset uint32
	Log    logrus.FieldLogger
	Debug  uint32

	Main *Function

	// Code is the emitted binary, BinSize its size in bytes.
	Code    []uint32
	BinSize int
	// MaxGPR is the highest general purpose register index used.
	MaxGPR int
	Relocs RelocationTable

	funcs  []*Function
	values []*Value
}

// NewProgram creates an empty program for the given stage and target.
func NewProgram(t ProgramType, target Target) *Program {
	return &Program{
		Type:   t,
		Target: target,
		Log:    logrus.StandardLogger(),
		MaxGPR: -1,
	}
}

// NewFunction adds a function. The first function becomes Main.
func (p *Program) NewFunction(name string) *Function {
	fn := &Function{ID: len(p.funcs), Name: name, prog: p}
	p.funcs = append(p.funcs, fn)
	if p.Main == nil {
		p.Main = fn
	}
	return fn
}

// Functions returns every function of the program.
func (p *Program) Functions() []*Function { return p.funcs }

// Value returns the value with the given arena ID.
func (p *Program) Value(id int) *Value { return p.values[id] }

// NumValues returns the size of the value arena.
func (p *Program) NumValues() int { return len(p.values) }

func (p *Program) newValue(kind ValueKind) *Value {
	v := &Value{
		ID:       len(p.values),
		Kind:     kind,
		Affinity: -1,
		prog:     p,
	}
	v.join = v.ID
	v.Reg.ID = -1
	p.values = append(p.values, v)
	return v
}

// NewImmediate creates an immediate holding bits, typed ty.
func (p *Program) NewImmediate(bits uint64, ty DataType) *Value {
	v := p.newValue(KindImmediate)
	v.Reg.File = FileImmediate
	v.Reg.Type = ty
	v.Reg.Size = uint8(ty.Size())
	if v.Reg.Size == 0 {
		v.Reg.Size = 4
	}
	v.Reg.Imm = bits
	return v
}

// ImmU32 creates a 32 bit integer immediate.
func (p *Program) ImmU32(u uint32) *Value { return p.NewImmediate(uint64(u), TypeU32) }

// ImmF32 creates a single precision float immediate.
func (p *Program) ImmF32(f float32) *Value {
	return p.NewImmediate(uint64(math.Float32bits(f)), TypeF32)
}

// ImmF64 creates a double precision float immediate.
func (p *Program) ImmF64(f float64) *Value {
	return p.NewImmediate(math.Float64bits(f), TypeF64)
}

// NewSymbol creates a memory symbol at byte offset in the given space.
func (p *Program) NewSymbol(file DataFile, fileIndex int8, ty DataType, offset int32) *Value {
	v := p.newValue(KindSymbol)
	v.Reg.File = file
	v.Reg.FileIndex = fileIndex
	v.Reg.Type = ty
	v.Reg.Size = uint8(ty.Size())
	v.Reg.Offset = offset
	return v
}

// NewSysVal creates a system value symbol.
func (p *Program) NewSysVal(sv SVSemantic, index int8) *Value {
	v := p.newValue(KindSymbol)
	v.Reg.File = FileSystemValue
	v.Reg.Type = TypeU32
	v.Reg.Size = 4
	v.Reg.SV = sv
	v.Reg.SVIndex = index
	return v
}
