package ir

// Modifier is a set of source operand modifiers.
type Modifier uint8

const (
	ModAbs Modifier = 1 << iota
	ModNeg
	ModSat
	ModNot
)

// Abs reports whether the absolute value modifier is set.
func (m Modifier) Abs() bool { return m&ModAbs != 0 }

// Neg reports whether the negate modifier is set.
func (m Modifier) Neg() bool { return m&ModNeg != 0 }

// Sat reports whether the saturate modifier is set.
func (m Modifier) Sat() bool { return m&ModSat != 0 }

// Not reports whether the bitwise not modifier is set.
func (m Modifier) Not() bool { return m&ModNot != 0 }

// Apply returns the modifier resulting from applying m after inner.
func (m Modifier) Apply(inner Modifier) Modifier {
	b := inner
	if m.Abs() {
		b &^= ModNeg
	}
	a := (m ^ b) & (ModNot | ModNeg)
	c := (m | inner) & (ModAbs | ModSat)
	return a | c
}

func (m Modifier) String() string {
	s := ""
	if m.Not() {
		s += "not "
	}
	if m.Neg() {
		s += "neg "
	}
	if m.Abs() {
		s += "abs "
	}
	if m.Sat() {
		s += "sat "
	}
	return s
}

// Ref is a use of a value by one source slot of an instruction.
type Ref struct {
	Mod Modifier

	// Indirect holds the source slots of the indirect addresses applied to
	// this operand, or -1.
	Indirect [2]int8

	value *Value
	insn  *Instruction
}

func (r *Ref) init(insn *Instruction) {
	r.insn = insn
	r.Indirect = [2]int8{-1, -1}
}

// Get returns the referenced value, or nil.
func (r *Ref) Get() *Value { return r.value }

// Rep returns the coalescing representative of the referenced value.
func (r *Ref) Rep() *Value { return r.value.Rep() }

// Insn returns the instruction owning this source slot.
func (r *Ref) Insn() *Instruction { return r.insn }

// File returns the storage class of the referenced value.
func (r *Ref) File() DataFile {
	if r.value == nil {
		return FileNull
	}
	return r.value.Reg.File
}

// IsIndirect reports whether dimension dim of the operand is indirectly addressed.
func (r *Ref) IsIndirect(dim int) bool { return r.Indirect[dim] >= 0 }

// Set points the reference at v, moving it between use lists.
func (r *Ref) Set(v *Value) {
	if r.value == v {
		return
	}
	if r.value != nil {
		r.value.removeUse(r)
	}
	if v != nil {
		v.uses = append(v.uses, r)
	}
	r.value = v
}

// Def is a definition of a value by one destination slot of an instruction.
type Def struct {
	value *Value
	insn  *Instruction
}

// Get returns the defined value, or nil.
func (d *Def) Get() *Value { return d.value }

// Rep returns the coalescing representative of the defined value.
func (d *Def) Rep() *Value { return d.value.Rep() }

// Insn returns the instruction owning this destination slot.
func (d *Def) Insn() *Instruction { return d.insn }

// File returns the storage class of the defined value.
func (d *Def) File() DataFile {
	if d.value == nil {
		return FileNull
	}
	return d.value.Reg.File
}

// Set points the definition at v, moving it between def lists.
func (d *Def) Set(v *Value) {
	if d.value == v {
		return
	}
	if d.value != nil {
		d.value.removeDef(d)
	}
	if v != nil {
		v.defs = append(v.defs, d)
	}
	d.value = v
}

// Replace rewrites the definition to v and, if doSet, every use of the old
// value as well.
func (d *Def) Replace(v *Value, doSet bool) {
	old := d.value
	if old == nil || old == v {
		return
	}
	if doSet {
		old.Replace(v, true)
	}
	d.Set(v)
}
