package ir

import "fmt"

// TexTarget is the kind of texture a sampling instruction addresses.
type TexTarget uint8

const (
	Tex1D TexTarget = iota
	Tex2D
	Tex2DMS
	Tex3D
	TexCube
	Tex1DShadow
	Tex2DShadow
	TexCubeShadow
	Tex1DArray
	Tex2DArray
	Tex2DMSArray
	TexCubeArray
	Tex1DArrayShadow
	Tex2DArrayShadow
	TexRect
	TexRectShadow
	TexCubeArrayShadow
	TexBuffer

	texTargetCount
)

type texTargetDesc struct {
	name   string
	dim    int
	argc   int
	array  bool
	cube   bool
	shadow bool
}

// argc counts coordinates including the array layer, but not the shadow
// reference.
var texTargetDescs = [texTargetCount]texTargetDesc{
	{"1d", 1, 1, false, false, false},
	{"2d", 2, 2, false, false, false},
	{"2d_ms", 2, 3, false, false, false},
	{"3d", 3, 3, false, false, false},
	{"cube", 2, 3, false, true, false},
	{"1d_shadow", 1, 1, false, false, true},
	{"2d_shadow", 2, 2, false, false, true},
	{"cube_shadow", 2, 3, false, true, true},
	{"1d_array", 1, 2, true, false, false},
	{"2d_array", 2, 3, true, false, false},
	{"2d_ms_array", 2, 4, true, false, false},
	{"cube_array", 2, 4, true, true, false},
	{"1d_array_shadow", 1, 2, true, false, true},
	{"2d_array_shadow", 2, 3, true, false, true},
	{"rect", 2, 2, false, false, false},
	{"rect_shadow", 2, 2, false, false, true},
	{"cube_array_shadow", 2, 4, true, true, true},
	{"buffer", 1, 1, false, false, false},
}

func (t TexTarget) String() string {
	if t < texTargetCount {
		return texTargetDescs[t].name
	}
	return fmt.Sprintf("textarget(%d)", uint8(t))
}

// TexTargetByName looks up a texture target by its text form.
func TexTargetByName(name string) (TexTarget, bool) {
	for i, d := range texTargetDescs {
		if d.name == name {
			return TexTarget(i), true
		}
	}
	return Tex1D, false
}

// Dim returns the number of spatial dimensions.
func (t TexTarget) Dim() int { return texTargetDescs[t].dim }

// ArgCount returns the number of coordinate sources, including the array
// layer and the shadow reference.
func (t TexTarget) ArgCount() int {
	d := texTargetDescs[t]
	if d.shadow {
		return d.argc + 1
	}
	return d.argc
}

// CoordCount returns the number of coordinate sources including the array
// layer but not the shadow reference.
func (t TexTarget) CoordCount() int { return texTargetDescs[t].argc }

// IsArray reports whether the target has an array layer coordinate.
func (t TexTarget) IsArray() bool { return texTargetDescs[t].array }

// IsCube reports whether the target is a cube map.
func (t TexTarget) IsCube() bool { return texTargetDescs[t].cube }

// IsShadow reports whether the target takes a depth comparison reference.
func (t TexTarget) IsShadow() bool { return texTargetDescs[t].shadow }

// TexInfo is carried by texture instructions.
type TexInfo struct {
	Target TexTarget

	// R and S are the texture and sampler indices.
	R, S int
	// RIndirectSrc and SIndirectSrc are the source slots of indirect
	// texture and sampler indices, or -1.
	RIndirectSrc int8
	SIndirectSrc int8
	// PackedIndex is set once the indirect indices have been packed into
	// the leading source of a target without array layer.
	PackedIndex bool

	// Mask is the component mask of the result.
	Mask       uint8
	GatherComp uint8
	LiveOnly   bool
	DerivAll   bool

	UseOffsets int
	Offset     [4][3]int8

	// DPdx and DPdy are the explicit derivatives consumed by OpTxd.
	DPdx [3]Ref
	DPdy [3]Ref
}

func (*TexInfo) extension() {}

func newTexInfo(insn *Instruction, target TexTarget) *TexInfo {
	t := &TexInfo{
		Target:       target,
		RIndirectSrc: -1,
		SIndirectSrc: -1,
		Mask:         0xf,
	}
	for c := range t.DPdx {
		t.DPdx[c].init(insn)
		t.DPdy[c].init(insn)
	}
	return t
}

func (t *TexInfo) clone(insn *Instruction, derivs bool) *TexInfo {
	c := newTexInfo(insn, t.Target)
	c.R, c.S = t.R, t.S
	c.RIndirectSrc, c.SIndirectSrc = t.RIndirectSrc, t.SIndirectSrc
	c.PackedIndex = t.PackedIndex
	c.Mask = t.Mask
	c.GatherComp = t.GatherComp
	c.LiveOnly = t.LiveOnly
	c.DerivAll = t.DerivAll
	c.UseOffsets = t.UseOffsets
	c.Offset = t.Offset
	if derivs {
		for k := range t.DPdx {
			c.DPdx[k].Set(t.DPdx[k].value)
			c.DPdx[k].Mod = t.DPdx[k].Mod
			c.DPdy[k].Set(t.DPdy[k].value)
			c.DPdy[k].Mod = t.DPdy[k].Mod
		}
	}
	return c
}

// SetIndirectR sets the indirect texture index source. A nil value removes it.
func (i *Instruction) SetIndirectR(v *Value) {
	t := i.AsTex()
	if t.RIndirectSrc >= 0 {
		if v == nil {
			i.SetSrc(int(t.RIndirectSrc), nil)
			return
		}
		i.SetSrc(int(t.RIndirectSrc), v)
		return
	}
	if v != nil {
		t.RIndirectSrc = int8(i.extraSlot())
		i.SetSrc(int(t.RIndirectSrc), v)
	}
}

// SetIndirectS sets the indirect sampler index source. A nil value removes it.
func (i *Instruction) SetIndirectS(v *Value) {
	t := i.AsTex()
	if t.SIndirectSrc >= 0 {
		if v == nil {
			i.SetSrc(int(t.SIndirectSrc), nil)
			return
		}
		i.SetSrc(int(t.SIndirectSrc), v)
		return
	}
	if v != nil {
		t.SIndirectSrc = int8(i.extraSlot())
		i.SetSrc(int(t.SIndirectSrc), v)
	}
}

// IndirectR returns the indirect texture index, or nil.
func (i *Instruction) IndirectR() *Value {
	if t := i.AsTex(); t != nil && t.RIndirectSrc >= 0 {
		return i.srcs[t.RIndirectSrc].value
	}
	return nil
}

// IndirectS returns the indirect sampler index, or nil.
func (i *Instruction) IndirectS() *Value {
	if t := i.AsTex(); t != nil && t.SIndirectSrc >= 0 {
		return i.srcs[t.SIndirectSrc].value
	}
	return nil
}

// TextureGroups returns the size of the coordinate group of a texture
// instruction and of the group that follows it: derivatives, offsets or the
// depth reference. Each group occupies consecutive registers.
func (i *Instruction) TextureGroups() (s, n int) {
	tex := i.AsTex()
	if i.Op == OpTxq {
		return i.PrincipalSrcCount(), 0
	}
	s = tex.Target.ArgCount()
	if !tex.Target.IsArray() && (tex.PackedIndex || tex.RIndirectSrc >= 0 || tex.SIndirectSrc >= 0) {
		s++
	}
	if i.Op == OpTxd && tex.UseOffsets > 0 {
		s++
	}
	total := i.PrincipalSrcCount()
	if s > total {
		s = total
	}
	return s, min(total-s, 4)
}
