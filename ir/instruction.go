package ir

import "fmt"

// Slot limits of an instruction.
const (
	MaxDefs = 4
	MaxSrcs = 8
)

// Extension is the specialization payload of an instruction: one of
// *CmpInfo, *TexInfo or *FlowInfo.
type Extension interface {
	extension()
}

// CmpInfo is carried by comparisons that combine their result with a
// third source.
type CmpInfo struct {
	SetCond CondCode
}

func (*CmpInfo) extension() {}

// FlowInfo is carried by control flow instructions.
type FlowInfo struct {
	TargetBB      *BasicBlock
	TargetFn      *Function
	TargetBuiltin Builtin

	Absolute bool
	Limit    bool
	AllWarp  bool
	Builtin  bool
}

func (*FlowInfo) extension() {}

// Instruction is an operation with up to MaxDefs definitions and MaxSrcs
// sources. Slots are always packed: slot i is used only if slot i-1 is.
type Instruction struct {
	ID     int
	Serial int

	Op    Op
	DType DataType
	SType DataType
	CC    CondCode
	Rnd   RoundMode
	SubOp uint8

	// Lanes is the mask of quad lanes the instruction executes in.
	Lanes uint8
	// IPA holds the interpolation mode bits.
	IPA uint8
	// EncSize is the size of the binary encoding in bytes, set by layout.
	EncSize    uint8
	PostFactor int8

	Saturate   bool
	Join       bool
	Fixed      bool
	Terminator bool
	Atomic     bool
	FTZ        bool
	DNZ        bool
	PerPatch   bool
	Exit       bool

	// PredSrc, FlagsSrc and FlagsDef index the predicate source, the
	// condition flags source and the flags definition, or are -1.
	PredSrc  int8
	FlagsDef int8
	FlagsSrc int8

	Ext Extension

	defs [MaxDefs]Def
	srcs [MaxSrcs]Ref

	fn         *Function
	bb         *BasicBlock
	prev, next *Instruction
}

func (i *Instruction) init(fn *Function, op Op, ty DataType) {
	i.fn = fn
	i.Op = op
	i.DType = ty
	i.SType = ty
	i.CC = CCTrue
	i.Lanes = 0xf
	i.PredSrc = -1
	i.FlagsDef = -1
	i.FlagsSrc = -1
	for d := range i.defs {
		i.defs[d].insn = i
	}
	for s := range i.srcs {
		i.srcs[s].init(i)
	}
}

// Function returns the owning function.
func (i *Instruction) Function() *Function { return i.fn }

// BB returns the block containing the instruction, or nil.
func (i *Instruction) BB() *BasicBlock { return i.bb }

// Next returns the following instruction in the block.
func (i *Instruction) Next() *Instruction { return i.next }

// Prev returns the preceding instruction in the block.
func (i *Instruction) Prev() *Instruction { return i.prev }

// Def returns destination slot d.
func (i *Instruction) Def(d int) *Def { return &i.defs[d] }

// Src returns source slot s.
func (i *Instruction) Src(s int) *Ref { return &i.srcs[s] }

// GetDef returns the value defined by slot d, or nil.
func (i *Instruction) GetDef(d int) *Value {
	if d < 0 || d >= MaxDefs {
		return nil
	}
	return i.defs[d].value
}

// GetSrc returns the value read by slot s, or nil.
func (i *Instruction) GetSrc(s int) *Value {
	if s < 0 || s >= MaxSrcs {
		return nil
	}
	return i.srcs[s].value
}

// DefExists reports whether destination slot d is used.
func (i *Instruction) DefExists(d int) bool { return d >= 0 && d < MaxDefs && i.defs[d].value != nil }

// SrcExists reports whether source slot s is used.
func (i *Instruction) SrcExists(s int) bool { return s >= 0 && s < MaxSrcs && i.srcs[s].value != nil }

// DefCount returns the number of definitions.
func (i *Instruction) DefCount() int {
	n := 0
	for n < MaxDefs && i.defs[n].value != nil {
		n++
	}
	return n
}

// SrcCount returns the number of sources, including predicate and
// indirect address sources.
func (i *Instruction) SrcCount() int {
	n := 0
	for n < MaxSrcs && i.srcs[n].value != nil {
		n++
	}
	return n
}

// PrincipalSrcCount returns the number of sources that are neither the
// predicate nor the flags source nor an indirect address.
func (i *Instruction) PrincipalSrcCount() int {
	n := 0
	for s := 0; s < i.SrcCount(); s++ {
		if !i.isExtraSrc(s) {
			n++
		}
	}
	return n
}

func (i *Instruction) isExtraSrc(s int) bool {
	if int(i.PredSrc) == s || int(i.FlagsSrc) == s {
		return true
	}
	for k := range i.srcs {
		if int(i.srcs[k].Indirect[0]) == s || int(i.srcs[k].Indirect[1]) == s {
			return true
		}
	}
	if tex := i.AsTex(); tex != nil {
		if int(tex.RIndirectSrc) == s || int(tex.SIndirectSrc) == s {
			return true
		}
	}
	return false
}

// SetDef sets destination slot d. Clearing a slot compacts the later ones.
// Setting a slot past the first free one panics.
func (i *Instruction) SetDef(d int, v *Value) {
	n := i.DefCount()
	if v == nil {
		if d >= n {
			return
		}
		for k := d; k < n-1; k++ {
			i.defs[k].Set(i.defs[k+1].value)
		}
		i.defs[n-1].Set(nil)
		if int(i.FlagsDef) == d {
			i.FlagsDef = -1
		} else if int(i.FlagsDef) > d {
			i.FlagsDef--
		}
		return
	}
	if d > n {
		panic(fmt.Sprintf("ir: def slot %d set before slot %d of %s", d, n, i.Op))
	}
	i.defs[d].Set(v)
}

// SetSrc sets source slot s. Clearing a slot removes it and compacts the
// later ones, fixing up the predicate, flags and indirect indices. Setting a
// slot past the first free one panics.
func (i *Instruction) SetSrc(s int, v *Value) {
	n := i.SrcCount()
	if v == nil {
		if s < n {
			i.removeSrc(s, n)
		}
		return
	}
	if s > n {
		panic(fmt.Sprintf("ir: source slot %d set before slot %d of %s", s, n, i.Op))
	}
	i.srcs[s].Set(v)
}

// SetSrcRef copies value and modifier of ref into slot s.
func (i *Instruction) SetSrcRef(s int, ref *Ref) {
	i.SetSrc(s, ref.value)
	i.srcs[s].Mod = ref.Mod
}

func (i *Instruction) removeSrc(s, n int) {
	for k := s; k < n-1; k++ {
		i.srcs[k].Set(i.srcs[k+1].value)
		i.srcs[k].Mod = i.srcs[k+1].Mod
		i.srcs[k].Indirect = i.srcs[k+1].Indirect
	}
	i.srcs[n-1].Set(nil)
	i.srcs[n-1].Mod = 0
	i.srcs[n-1].Indirect = [2]int8{-1, -1}

	fix := func(p *int8) {
		switch {
		case int(*p) == s:
			*p = -1
		case int(*p) > s:
			*p--
		}
	}
	fix(&i.PredSrc)
	fix(&i.FlagsSrc)
	for k := range i.srcs {
		fix(&i.srcs[k].Indirect[0])
		fix(&i.srcs[k].Indirect[1])
	}
	if tex := i.AsTex(); tex != nil {
		fix(&tex.RIndirectSrc)
		fix(&tex.SIndirectSrc)
	}
}

// MoveSources shifts the sources starting at slot s by delta slots. A
// positive delta opens free slots, which must be filled before the
// instruction is used again; a negative delta overwrites the slots below s.
func (i *Instruction) MoveSources(s, delta int) {
	if delta == 0 {
		return
	}
	n := i.SrcCount()
	shift := func(p *int8) {
		if int(*p) >= s {
			*p += int8(delta)
		}
	}
	shift(&i.PredSrc)
	shift(&i.FlagsSrc)
	if tex := i.AsTex(); tex != nil {
		shift(&tex.RIndirectSrc)
		shift(&tex.SIndirectSrc)
	}
	for k := 0; k < n; k++ {
		shift(&i.srcs[k].Indirect[0])
		shift(&i.srcs[k].Indirect[1])
	}
	move := func(to, from int) {
		i.srcs[to].Set(i.srcs[from].value)
		i.srcs[to].Mod = i.srcs[from].Mod
		i.srcs[to].Indirect = i.srcs[from].Indirect
	}
	if delta > 0 {
		for k := n - 1; k >= s; k-- {
			move(k+delta, k)
		}
		for k := s; k < s+delta; k++ {
			i.srcs[k].Set(nil)
			i.srcs[k].Mod = 0
			i.srcs[k].Indirect = [2]int8{-1, -1}
		}
		return
	}
	for k := s; k < n; k++ {
		move(k+delta, k)
	}
	for k := n + delta; k < n; k++ {
		i.srcs[k].Set(nil)
		i.srcs[k].Mod = 0
		i.srcs[k].Indirect = [2]int8{-1, -1}
	}
}

// SwapSources exchanges the contents of two source slots.
func (i *Instruction) SwapSources(a, b int) {
	va, vb := i.srcs[a].value, i.srcs[b].value
	ma, mb := i.srcs[a].Mod, i.srcs[b].Mod
	i.srcs[a].Set(nil)
	i.srcs[b].Set(nil)
	i.srcs[a].Set(vb)
	i.srcs[b].Set(va)
	i.srcs[a].Mod, i.srcs[b].Mod = mb, ma
	i.srcs[a].Indirect, i.srcs[b].Indirect = i.srcs[b].Indirect, i.srcs[a].Indirect
}

// extraSlot returns the first free source slot.
func (i *Instruction) extraSlot() int {
	return i.SrcCount()
}

// SetIndirect sets the indirect address of dimension dim of source s. A nil
// value removes the address source.
func (i *Instruction) SetIndirect(s, dim int, v *Value) {
	p := int(i.srcs[s].Indirect[dim])
	if p < 0 {
		if v == nil {
			return
		}
		p = i.extraSlot()
		i.srcs[s].Indirect[dim] = int8(p)
	}
	i.SetSrc(p, v)
}

// Indirect returns the indirect address of dimension dim of source s, or nil.
func (i *Instruction) Indirect(s, dim int) *Value {
	p := i.srcs[s].Indirect[dim]
	if p < 0 {
		return nil
	}
	return i.srcs[p].value
}

// SetPredicate sets the predicate condition and source. A nil value removes
// the predicate source.
func (i *Instruction) SetPredicate(cc CondCode, v *Value) {
	i.CC = cc
	if v == nil {
		if i.PredSrc >= 0 {
			i.SetSrc(int(i.PredSrc), nil)
		}
		i.PredSrc = -1
		return
	}
	if i.PredSrc < 0 {
		i.PredSrc = int8(i.extraSlot())
	}
	i.SetSrc(int(i.PredSrc), v)
}

// Predicate returns the predicate source, or nil.
func (i *Instruction) Predicate() *Value {
	if i.PredSrc < 0 {
		return nil
	}
	return i.srcs[i.PredSrc].value
}

// SetFlagsSrc sets the condition flags source to slot s.
func (i *Instruction) SetFlagsSrc(s int, v *Value) {
	i.FlagsSrc = int8(s)
	i.SetSrc(s, v)
}

// SetFlagsDef sets the condition flags definition to slot d.
func (i *Instruction) SetFlagsDef(d int, v *Value) {
	if v == nil {
		if i.FlagsDef >= 0 {
			i.SetDef(int(i.FlagsDef), nil)
		}
		return
	}
	i.FlagsDef = int8(d)
	i.SetDef(d, v)
}

// AsCmp returns the comparison payload, or nil.
func (i *Instruction) AsCmp() *CmpInfo {
	c, _ := i.Ext.(*CmpInfo)
	return c
}

// AsTex returns the texture payload, or nil.
func (i *Instruction) AsTex() *TexInfo {
	t, _ := i.Ext.(*TexInfo)
	return t
}

// AsFlow returns the control flow payload, or nil.
func (i *Instruction) AsFlow() *FlowInfo {
	f, _ := i.Ext.(*FlowInfo)
	return f
}

// ConstrainedDefs reports whether the definitions must be allocated to
// consecutive registers.
func (i *Instruction) ConstrainedDefs() bool { return i.DefExists(1) }

// IsPseudo reports whether the instruction must be gone before emission.
func (i *Instruction) IsPseudo() bool { return i.Op.IsPseudo() }

// IsNop reports whether the instruction has no effect after allocation.
func (i *Instruction) IsNop() bool {
	switch i.Op {
	case OpPhi, OpSplit, OpMerge, OpConstraint:
		return true
	}
	if i.Terminator || i.Join {
		return false
	}
	if i.Op == OpNop {
		return true
	}
	if i.DefExists(0) && i.defs[0].Rep().Reg.ID < 0 {
		return i.Op != OpCall && !i.Op.IsFlow()
	}
	if i.Op == OpMov || i.Op == OpUnion {
		if !i.defs[0].Rep().Equals(i.srcs[0].Rep(), false) || i.srcs[0].Mod != 0 || i.PredSrc >= 0 {
			return false
		}
		if i.Op == OpUnion && !i.defs[0].Rep().Equals(i.srcs[1].Rep(), false) {
			return false
		}
		return i.srcs[0].value.IsLValue()
	}
	return false
}

// IsDead reports whether the instruction can be removed because nothing
// observes its results.
func (i *Instruction) IsDead() bool {
	switch i.Op {
	case OpStore, OpExport, OpWrsv:
		return false
	}
	for d := 0; i.DefExists(d); d++ {
		v := i.defs[d].value
		if v.RefCount() > 0 || v.Reg.ID >= 0 {
			return false
		}
	}
	if i.Terminator || i.AsFlow() != nil || i.Fixed {
		return false
	}
	return true
}

// Clone copies the instruction into its function without inserting it. A
// shallow clone aliases the defined values, a deep clone defines fresh ones.
func (i *Instruction) Clone(deep bool) *Instruction {
	c := i.fn.newInstruction(i.Op, i.DType)
	c.SType = i.SType
	c.CC = i.CC
	c.Rnd = i.Rnd
	c.SubOp = i.SubOp
	c.Lanes = i.Lanes
	c.IPA = i.IPA
	c.EncSize = i.EncSize
	c.PostFactor = i.PostFactor
	c.Saturate = i.Saturate
	c.Join = i.Join
	c.Fixed = i.Fixed
	c.Terminator = i.Terminator
	c.Atomic = i.Atomic
	c.FTZ = i.FTZ
	c.DNZ = i.DNZ
	c.PerPatch = i.PerPatch
	c.Exit = i.Exit
	c.PredSrc = i.PredSrc
	c.FlagsDef = i.FlagsDef
	c.FlagsSrc = i.FlagsSrc

	for d := 0; i.DefExists(d); d++ {
		v := i.defs[d].value
		if deep {
			v = v.Clone(i.fn)
		}
		c.defs[d].Set(v)
	}
	for s := 0; i.SrcExists(s); s++ {
		c.srcs[s].Set(i.srcs[s].value)
		c.srcs[s].Mod = i.srcs[s].Mod
		c.srcs[s].Indirect = i.srcs[s].Indirect
	}

	switch ext := i.Ext.(type) {
	case *CmpInfo:
		cp := *ext
		c.Ext = &cp
	case *FlowInfo:
		cp := *ext
		c.Ext = &cp
	case *TexInfo:
		c.Ext = ext.clone(c, i.Op == OpTxd)
	}
	return c
}

func (i *Instruction) String() string {
	return printInstruction(i)
}
