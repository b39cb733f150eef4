package ir

import (
	"fmt"
	"math"
)

// ValueKind distinguishes the three variants of Value.
type ValueKind uint8

const (
	// KindLValue is a virtual register.
	KindLValue ValueKind = iota
	// KindSymbol is a fixed location in a memory space or a system value.
	KindSymbol
	// KindImmediate is a constant.
	KindImmediate
)

// Storage describes where a value lives.
type Storage struct {
	File      DataFile
	FileIndex int8
	Size      uint8
	Type      DataType

	// ID is the physical register of an LValue, or -1 while unassigned.
	ID int32
	// Offset is the byte address of a memory symbol.
	Offset int32
	// Imm holds the bits of an immediate.
	Imm uint64
	// SV and SVIndex identify a system value symbol.
	SV      SVSemantic
	SVIndex int8
}

// Value is a unit of storage: a virtual register, a symbol or an immediate.
//
// All values live in the arena of their Program and are addressed by ID.
// Coalescing merges values through an index based union-find: Rep returns
// the representative, which is the only value consulted for physical
// register identity and interference.
type Value struct {
	ID   int
	Kind ValueKind
	Reg  Storage

	// Live is the live interval, empty until computed by the allocator.
	Live Interval

	join    int
	members []*Value

	uses []*Ref
	defs []*Def

	// Index is the slot of an LValue in its function, used for live sets.
	Index int
	// SSA is set for virtual registers defined exactly once.
	SSA bool
	// Affinity is a preferred register id, or -1.
	Affinity int

	// Base is the symbol a symbol's offset is relative to, if any.
	Base *Value

	fn   *Function
	prog *Program
}

// IsLValue reports whether v is a virtual register.
func (v *Value) IsLValue() bool { return v.Kind == KindLValue }

// IsSymbol reports whether v is a memory or system value symbol.
func (v *Value) IsSymbol() bool { return v.Kind == KindSymbol }

// IsImm reports whether v is an immediate.
func (v *Value) IsImm() bool { return v.Kind == KindImmediate }

// Function returns the function owning an LValue, or nil.
func (v *Value) Function() *Function { return v.fn }

// Rep returns the coalescing representative of v.
func (v *Value) Rep() *Value {
	vals := v.prog.values
	r := v.join
	for vals[r].join != r {
		r = vals[r].join
	}
	for c := v.ID; vals[c].join != r; {
		next := vals[c].join
		vals[c].join = r
		c = next
	}
	return vals[r]
}

// Members returns the values coalesced into v. It is only meaningful on a
// representative and always contains v itself.
func (v *Value) Members() []*Value {
	if len(v.members) == 0 {
		return []*Value{v}
	}
	return v.members
}

// JoinedDefs returns the definitions of every value coalesced into v.
func (v *Value) JoinedDefs() []*Def {
	var defs []*Def
	for _, m := range v.Rep().Members() {
		defs = append(defs, m.defs...)
	}
	return defs
}

// Uses returns the use list of v. The slice must not be modified.
func (v *Value) Uses() []*Ref { return v.uses }

// Defs returns the def list of v. The slice must not be modified.
func (v *Value) Defs() []*Def { return v.defs }

// RefCount returns the number of uses.
func (v *Value) RefCount() int { return len(v.uses) }

// UniqueInsn returns the only defining instruction, or nil if v has zero or
// several definitions.
func (v *Value) UniqueInsn() *Instruction {
	if len(v.defs) != 1 {
		return nil
	}
	return v.defs[0].insn
}

// Insn returns the first defining instruction, or nil.
func (v *Value) Insn() *Instruction {
	if len(v.defs) == 0 {
		return nil
	}
	return v.defs[0].insn
}

// IsUniform reports whether v has the same content in every lane.
func (v *Value) IsUniform() bool {
	switch v.Reg.File {
	case FileImmediate, FileMemoryConst:
		return true
	}
	return false
}

// IsFixed reports whether v is bound to a physical register.
func (v *Value) IsFixed() bool { return v.Reg.ID >= 0 }

func (v *Value) removeUse(r *Ref) {
	for i, u := range v.uses {
		if u == r {
			last := len(v.uses) - 1
			v.uses[i] = v.uses[last]
			v.uses[last] = nil
			v.uses = v.uses[:last]
			return
		}
	}
}

func (v *Value) removeDef(d *Def) {
	for i, x := range v.defs {
		if x == d {
			last := len(v.defs) - 1
			v.defs[i] = v.defs[last]
			v.defs[last] = nil
			v.defs = v.defs[:last]
			return
		}
	}
}

// Replace makes every current use of v reference repl instead. With relink
// unset the use list is handed over in bulk.
func (v *Value) Replace(repl *Value, relink bool) {
	if v == repl {
		return
	}
	if relink {
		for len(v.uses) > 0 {
			v.uses[len(v.uses)-1].Set(repl)
		}
		return
	}
	for _, u := range v.uses {
		u.value = repl
	}
	repl.uses = append(repl.uses, v.uses...)
	v.uses = nil
}

// Coalesce merges v and other into one representative.
//
// Without force it refuses when the storage classes or sizes differ, when
// both sides are bound to distinct registers, when another value bound to
// the surviving register overlaps the joined interval, or when the two live
// intervals overlap. On refusal nothing is changed.
func (v *Value) Coalesce(other *Value, force bool) bool {
	repr := v.Rep()
	jrep := other.Rep()
	if repr == jrep {
		return true
	}

	if v.Reg.File != other.Reg.File || v.Reg.Size != other.Reg.Size {
		if !force {
			return false
		}
		v.prog.Log.WithField("values", fmt.Sprintf("%s %s", v, other)).
			Warn("forced coalescing of values of different sizes or files")
	}

	if !force && repr.Reg.ID != jrep.Reg.ID {
		if repr.Reg.ID >= 0 && jrep.Reg.ID >= 0 {
			return false
		}
		if jrep.Reg.ID >= 0 {
			repr, jrep = jrep, repr
		}
		if fn := lvalueFunction(repr, jrep); fn != nil {
			for _, fixed := range fn.lvalues {
				if fixed.Reg.ID == repr.Reg.ID && fixed.Reg.File == repr.Reg.File &&
					fixed.Live.Overlaps(&jrep.Live) {
					return false
				}
			}
		}
	}

	if repr.Live.Overlaps(&jrep.Live) {
		if !force {
			return false
		}
		v.prog.Log.WithField("values", fmt.Sprintf("%s %s", repr, jrep)).
			Debug("forced coalescing with live range overlap")
	}

	joined := jrep.Members()
	for _, m := range joined {
		m.join = repr.ID
	}
	repr.members = append(repr.Members(), joined...)
	jrep.members = nil
	repr.Live.Unify(&jrep.Live)
	return true
}

func lvalueFunction(a, b *Value) *Function {
	if a.fn != nil {
		return a.fn
	}
	return b.fn
}

// Equals compares two values by location. With strict set only identity counts.
func (v *Value) Equals(other *Value, strict bool) bool {
	if strict || v == other {
		return v == other
	}
	switch v.Kind {
	case KindImmediate:
		return other.Kind == KindImmediate && v.Reg.Imm == other.Reg.Imm
	case KindSymbol:
		if other.Kind != KindSymbol || v.Reg.File != other.Reg.File ||
			v.Reg.FileIndex != other.Reg.FileIndex || v.Base != other.Base {
			return false
		}
		if v.Reg.File == FileSystemValue {
			return v.Reg.SV == other.Reg.SV && v.Reg.SVIndex == other.Reg.SVIndex
		}
		return v.Reg.Offset == other.Reg.Offset
	}
	return v.Reg.File == other.Reg.File && v.Reg.FileIndex == other.Reg.FileIndex &&
		v.Reg.Size == other.Reg.Size && v.Reg.ID == other.Reg.ID
}

// Interferes reports whether the storage of v and other overlaps.
// Registers compare byte-scaled id ranges, symbols compare offsets.
func (v *Value) Interferes(other *Value) bool {
	if v.Reg.File != other.Reg.File || v.Reg.FileIndex != other.Reg.FileIndex {
		return false
	}
	if v.Kind == KindImmediate {
		return false
	}
	var a, b int
	if v.Kind == KindSymbol {
		a = int(v.Rep().Reg.Offset)
		b = int(other.Rep().Reg.Offset)
	} else {
		a = int(v.Rep().Reg.ID) * min(int(v.Reg.Size), 4)
		b = int(other.Rep().Reg.ID) * min(int(other.Reg.Size), 4)
	}
	switch {
	case a < b:
		return a+int(v.Reg.Size) > b
	case a > b:
		return b+int(other.Reg.Size) > a
	}
	return true
}

// Clone returns a new value with the same storage description. LValues are
// cloned into fn.
func (v *Value) Clone(fn *Function) *Value {
	switch v.Kind {
	case KindLValue:
		c := fn.NewLValue(v.Reg.File)
		c.Reg = v.Reg
		c.SSA = v.SSA
		c.Affinity = v.Affinity
		return c
	case KindSymbol:
		c := v.prog.newValue(KindSymbol)
		c.Reg = v.Reg
		c.Base = v.Base
		return c
	}
	return v.prog.NewImmediate(v.Reg.Imm, v.Reg.Type)
}

// U32 returns the low 32 bits of an immediate.
func (v *Value) U32() uint32 { return uint32(v.Reg.Imm) }

// F32 returns an immediate interpreted as single precision float.
func (v *Value) F32() float32 { return math.Float32frombits(uint32(v.Reg.Imm)) }

// F64 returns an immediate interpreted as double precision float.
func (v *Value) F64() float64 { return math.Float64frombits(v.Reg.Imm) }

// IsInteger reports whether v is an immediate equal to i.
func (v *Value) IsInteger(i uint64) bool {
	if v.Kind != KindImmediate {
		return false
	}
	if v.Reg.Size == 8 {
		return v.Reg.Imm == i
	}
	return uint32(v.Reg.Imm) == uint32(i)
}

// IsZero reports whether v is an immediate with all bits clear.
func (v *Value) IsZero() bool { return v.IsInteger(0) }
