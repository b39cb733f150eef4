package ir

import (
	"fmt"
	"io"
	"strings"
)

// Print writes prog in the text form read by Parse.
func Print(w io.Writer, prog *Program) error {
	_, err := io.WriteString(w, prog.String())
	return err
}

func (p *Program) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "program %s", p.Type)
	switch {
	case p.Target != nil:
		fmt.Fprintf(&sb, " chipset 0x%x", p.Target.Chipset())
	case p.Chipset != 0:
		fmt.Fprintf(&sb, " chipset 0x%x", p.Chipset)
	}
	sb.WriteByte('\n')
	for _, fn := range p.funcs {
		writeFunction(&sb, fn)
	}
	return sb.String()
}

// Dump returns the text form of a single function.
func (fn *Function) Dump() string {
	var sb strings.Builder
	writeFunction(&sb, fn)
	return sb.String()
}

func writeFunction(sb *strings.Builder, fn *Function) {
	fmt.Fprintf(sb, "func %s\n", fn.Name)
	for _, bb := range fn.blocks {
		if bb.head == nil && len(bb.in) == 0 && len(bb.out) == 0 && bb != fn.Entry {
			continue
		}
		fmt.Fprintf(sb, "bb %d", bb.ID)
		if len(bb.out) > 0 {
			sb.WriteString(" ->")
			for _, e := range bb.out {
				fmt.Fprintf(sb, " %d", e.To.ID)
			}
		}
		sb.WriteByte('\n')
		for i := bb.head; i != nil; i = i.next {
			sb.WriteString("  ")
			sb.WriteString(printInstruction(i))
			sb.WriteByte('\n')
		}
	}
}

func regPrefix(f DataFile) string {
	switch f {
	case FilePredicate:
		return "p"
	case FileFlags:
		return "c"
	case FileAddress:
		return "a"
	}
	return "r"
}

func lvalueTypeName(v *Value) string {
	switch v.Reg.File {
	case FilePredicate:
		return "pred"
	case FileFlags:
		return "flags"
	case FileAddress:
		return "addr"
	}
	return v.Reg.Type.String()
}

func (v *Value) String() string { return formatValue(v, true) }

func formatValue(v *Value, withType bool) string {
	switch v.Kind {
	case KindImmediate:
		s := fmt.Sprintf("0x%x", v.Reg.Imm)
		if v.Reg.Type != TypeU32 {
			s += ":" + v.Reg.Type.String()
		}
		return s
	case KindSymbol:
		return formatSymbol(v, "", "")
	}
	var s string
	if rep := v.Rep(); rep.Reg.ID >= 0 {
		s = fmt.Sprintf("$%s%d", regPrefix(v.Reg.File), rep.Reg.ID)
	} else {
		s = fmt.Sprintf("%%%d", v.Index)
	}
	if withType {
		s += ":" + lvalueTypeName(v)
	}
	return s
}

func formatSymbol(v *Value, ind0, ind1 string) string {
	var s string
	if v.Reg.File == FileSystemValue {
		s = fmt.Sprintf("sv:%s.%d", v.Reg.SV, v.Reg.SVIndex)
	} else {
		switch v.Reg.File {
		case FileMemoryConst, FileMemoryGlobal:
			s = fmt.Sprintf("%s%d[", v.Reg.File, v.Reg.FileIndex)
		default:
			s = v.Reg.File.String() + "["
		}
		if ind0 != "" {
			s += ind0 + "+"
		}
		s += fmt.Sprintf("0x%x]", v.Reg.Offset)
		if ind1 != "" {
			s += "[" + ind1 + "]"
		}
	}
	if v.Reg.Type != TypeU32 {
		s += ":" + v.Reg.Type.String()
	}
	return s
}

func formatRef(i *Instruction, s int) string {
	r := &i.srcs[s]
	v := r.value
	var body string
	if v.Kind == KindSymbol {
		var ind [2]string
		for dim := range ind {
			if x := i.Indirect(s, dim); x != nil {
				ind[dim] = formatValue(x, false)
			}
		}
		body = formatSymbol(v, ind[0], ind[1])
	} else {
		body = formatValue(v, false)
	}
	return formatMod(r.Mod, body)
}

func formatMod(m Modifier, body string) string {
	if m.Abs() {
		body = "|" + body + "|"
	}
	if m.Neg() {
		body = "-" + body
	}
	if m.Not() {
		body = "~" + body
	}
	if m.Sat() {
		body = "^" + body
	}
	return body
}

func printInstruction(i *Instruction) string {
	var sb strings.Builder

	if i.PredSrc >= 0 {
		p := formatValue(i.srcs[i.PredSrc].value, false)
		switch i.CC {
		case CCP:
			fmt.Fprintf(&sb, "@%s ", p)
		case CCNotP:
			fmt.Fprintf(&sb, "@!%s ", p)
		default:
			fmt.Fprintf(&sb, "@%s:%s ", i.CC, p)
		}
	}

	if i.DefExists(0) {
		for d := 0; i.DefExists(d); d++ {
			sb.WriteString(formatValue(i.defs[d].value, true))
			sb.WriteByte(' ')
		}
		sb.WriteString("= ")
	}

	sb.WriteString(i.Op.String())
	if i.DType != TypeNone || (i.SType != TypeNone && i.SType != i.DType) {
		sb.WriteString("." + i.DType.String())
		if i.SType != i.DType {
			sb.WriteString("." + i.SType.String())
		}
	}
	if c := i.AsCmp(); c != nil {
		sb.WriteString("." + c.SetCond.String())
	}
	if i.Rnd != RoundN {
		sb.WriteString("." + i.Rnd.String())
	}
	tex := i.AsTex()
	if tex != nil {
		sb.WriteString("." + tex.Target.String())
		if tex.LiveOnly {
			sb.WriteString(".live")
		}
		if tex.DerivAll {
			sb.WriteString(".dall")
		}
	}
	flow := i.AsFlow()
	if flow != nil {
		if flow.Absolute && !flow.Builtin {
			sb.WriteString(".abs")
		}
		if flow.Limit {
			sb.WriteString(".limit")
		}
		if flow.AllWarp {
			sb.WriteString(".allwarp")
		}
	}
	for _, f := range []struct {
		set  bool
		name string
	}{
		{i.Saturate, "sat"}, {i.FTZ, "ftz"}, {i.DNZ, "dnz"}, {i.Atomic, "atom"},
		{i.PerPatch, "patch"}, {i.Join, "join"}, {i.Exit, "exit"},
		{i.Fixed && !(flow != nil && flow.Builtin), "fixed"},
	} {
		if f.set {
			sb.WriteString("." + f.name)
		}
	}

	for s := 0; i.SrcExists(s); s++ {
		if i.isExtraSrc(s) {
			continue
		}
		sb.WriteByte(' ')
		sb.WriteString(formatRef(i, s))
	}

	if flow != nil {
		switch {
		case flow.Builtin:
			fmt.Fprintf(&sb, " builtin:%s", flow.TargetBuiltin)
		case flow.TargetFn != nil:
			fmt.Fprintf(&sb, " fn:%s", flow.TargetFn.Name)
		case flow.TargetBB != nil:
			fmt.Fprintf(&sb, " bb%d", flow.TargetBB.ID)
		}
	}

	if i.FlagsSrc >= 0 {
		fmt.Fprintf(&sb, " flags:%s", formatValue(i.srcs[i.FlagsSrc].value, false))
	}
	if tex != nil {
		fmt.Fprintf(&sb, " tic:%d tsc:%d", tex.R, tex.S)
		if tex.Mask != 0xf {
			fmt.Fprintf(&sb, " mask:0x%x", tex.Mask)
		}
		if tex.RIndirectSrc >= 0 {
			fmt.Fprintf(&sb, " ticr:%s", formatValue(i.srcs[tex.RIndirectSrc].value, false))
		}
		if tex.SIndirectSrc >= 0 {
			fmt.Fprintf(&sb, " tscr:%s", formatValue(i.srcs[tex.SIndirectSrc].value, false))
		}
		if tex.GatherComp != 0 {
			fmt.Fprintf(&sb, " gather:%d", tex.GatherComp)
		}
		for n := 0; n < tex.UseOffsets; n++ {
			o := tex.Offset[n]
			fmt.Fprintf(&sb, " off:%d,%d,%d", o[0], o[1], o[2])
		}
		if i.Op == OpTxd {
			writeDerivs(&sb, "dx", tex.DPdx[:])
			writeDerivs(&sb, "dy", tex.DPdy[:])
		}
	}
	if i.Lanes != 0xf {
		fmt.Fprintf(&sb, " lanes:0x%x", i.Lanes)
	}
	if i.SubOp != 0 {
		fmt.Fprintf(&sb, " subop:0x%x", i.SubOp)
	}
	if i.IPA != 0 {
		fmt.Fprintf(&sb, " ipa:0x%x", i.IPA)
	}
	return sb.String()
}

func writeDerivs(sb *strings.Builder, key string, refs []Ref) {
	var parts []string
	for c := range refs {
		if refs[c].value == nil {
			break
		}
		parts = append(parts, formatMod(refs[c].Mod, formatValue(refs[c].value, false)))
	}
	if len(parts) > 0 {
		fmt.Fprintf(sb, " %s:%s", key, strings.Join(parts, ","))
	}
}
