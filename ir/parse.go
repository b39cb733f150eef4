package ir

import (
	"bufio"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/containerd/errdefs"
	"github.com/pkg/errors"
)

// Parse reads a program in the text form written by Print. The target is
// left unset; the chipset named in the header is kept in Program.Chipset.
func Parse(r io.Reader) (*Program, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "reading program text")
	}
	p := &parser{funcs: make(map[string]*Function)}
	if err := p.parse(lines); err != nil {
		return nil, err
	}
	return p.prog, nil
}

// ParseString is Parse on an in-memory string.
func ParseString(src string) (*Program, error) {
	return Parse(strings.NewReader(src))
}

type parser struct {
	prog  *Program
	fn    *Function
	bb    *BasicBlock
	line  int
	funcs map[string]*Function

	values map[string]*Value
	blocks map[int]*BasicBlock
	order  []*BasicBlock
}

func (p *parser) errorf(format string, args ...any) error {
	return errors.Wrapf(errdefs.ErrInvalidArgument, "line %d: "+format, append([]any{p.line}, args...)...)
}

func stripComment(s string) []string {
	if k := strings.IndexByte(s, '#'); k >= 0 {
		s = s[:k]
	}
	return strings.Fields(s)
}

func (p *parser) parse(lines []string) error {
	for n, l := range lines {
		p.line = n + 1
		f := stripComment(l)
		if len(f) == 0 {
			continue
		}
		if p.prog == nil {
			if err := p.header(f); err != nil {
				return err
			}
			continue
		}
		if f[0] == "func" {
			if len(f) != 2 {
				return p.errorf("expected function name")
			}
			if _, ok := p.funcs[f[1]]; ok {
				return p.errorf("function %q redefined", f[1])
			}
			p.funcs[f[1]] = p.prog.NewFunction(f[1])
		}
	}
	if p.prog == nil {
		return errors.Wrap(errdefs.ErrInvalidArgument, "missing program header")
	}

	seenHeader := false
	for n, l := range lines {
		p.line = n + 1
		f := stripComment(l)
		if len(f) == 0 {
			continue
		}
		if !seenHeader {
			seenHeader = true
			continue
		}
		var err error
		switch f[0] {
		case "func":
			p.finishFunction()
			p.fn = p.funcs[f[1]]
			p.bb = nil
			p.values = make(map[string]*Value)
			p.blocks = make(map[int]*BasicBlock)
			p.order = nil
		case "bb":
			err = p.blockHeader(f)
		default:
			err = p.instruction(f)
		}
		if err != nil {
			return err
		}
	}
	p.finishFunction()
	return nil
}

func (p *parser) header(f []string) error {
	if f[0] != "program" || len(f) < 2 {
		return p.errorf("expected program header")
	}
	pt, ok := ProgramTypeByName(f[1])
	if !ok {
		return p.errorf("unknown program type %q", f[1])
	}
	p.prog = NewProgram(pt, nil)
	rest := f[2:]
	for len(rest) > 0 {
		if rest[0] != "chipset" || len(rest) < 2 {
			return p.errorf("unexpected %q in program header", rest[0])
		}
		c, err := strconv.ParseUint(rest[1], 0, 32)
		if err != nil {
			return p.errorf("bad chipset %q", rest[1])
		}
		p.prog.Chipset = uint32(c)
		rest = rest[2:]
	}
	return nil
}

func (p *parser) finishFunction() {
	if p.fn == nil {
		return
	}
	for _, bb := range p.order {
		if t := bb.tail; t != nil && (t.Op == OpExit || t.Op == OpRet) {
			p.fn.Exit = bb
		}
	}
	if p.fn.Exit == nil && len(p.order) > 0 {
		p.fn.Exit = p.order[len(p.order)-1]
	}
}

func (p *parser) block(id int) *BasicBlock {
	if bb, ok := p.blocks[id]; ok {
		return bb
	}
	bb := p.fn.NewBlock()
	p.blocks[id] = bb
	return bb
}

func (p *parser) blockHeader(f []string) error {
	if p.fn == nil {
		return p.errorf("block outside of a function")
	}
	if len(f) < 2 {
		return p.errorf("expected block number")
	}
	id, err := strconv.Atoi(f[1])
	if err != nil {
		return p.errorf("bad block number %q", f[1])
	}
	p.bb = p.block(id)
	if len(p.order) == 0 {
		p.fn.Entry = p.bb
	}
	p.order = append(p.order, p.bb)
	if len(f) == 2 {
		return nil
	}
	if f[2] != "->" {
		return p.errorf("expected -> after block number")
	}
	for _, s := range f[3:] {
		to, err := strconv.Atoi(s)
		if err != nil {
			return p.errorf("bad successor %q", s)
		}
		p.bb.Attach(p.block(to), EdgeUnknown)
	}
	return nil
}

type operand struct {
	value *Value
	mod   Modifier
	ind   [2]*Value
}

var attrKeys = map[string]bool{
	"tic": true, "tsc": true, "mask": true, "ticr": true, "tscr": true,
	"gather": true, "off": true, "dx": true, "dy": true, "lanes": true,
	"subop": true, "ipa": true, "fn": true, "builtin": true, "flags": true,
}

func (p *parser) instruction(f []string) error {
	if p.bb == nil {
		return p.errorf("instruction outside of a block")
	}

	var pred *Value
	predCC := CCTrue
	if strings.HasPrefix(f[0], "@") {
		tok := f[0][1:]
		predCC = CCP
		switch {
		case strings.HasPrefix(tok, "!"):
			predCC = CCNotP
			tok = tok[1:]
		case strings.Contains(tok, ":"):
			k := strings.IndexByte(tok, ':')
			cc, ok := CondCodeByName(tok[:k])
			if !ok {
				return p.errorf("unknown condition %q", tok[:k])
			}
			predCC = cc
			tok = tok[k+1:]
		}
		v, err := p.lvalue(tok)
		if err != nil {
			return err
		}
		pred = v
		f = f[1:]
	}

	var defToks []string
	for k, tok := range f {
		if tok == "=" {
			defToks = f[:k]
			f = f[k+1:]
			break
		}
	}
	if len(f) == 0 {
		return p.errorf("missing opcode")
	}

	i, err := p.opcode(f[0])
	if err != nil {
		return err
	}
	for d, tok := range defToks {
		v, err := p.lvalue(tok)
		if err != nil {
			return err
		}
		if v.Reg.File == FileFlags {
			i.SetFlagsDef(d, v)
		} else {
			i.SetDef(d, v)
		}
	}

	var (
		srcs  []operand
		attrs [][2]string
	)
	for _, tok := range f[1:] {
		if k := strings.IndexByte(tok, ':'); k > 0 && attrKeys[tok[:k]] {
			attrs = append(attrs, [2]string{tok[:k], tok[k+1:]})
			continue
		}
		if strings.HasPrefix(tok, "bb") {
			id, err := strconv.Atoi(tok[2:])
			if err != nil {
				return p.errorf("bad block reference %q", tok)
			}
			flow := i.AsFlow()
			if flow == nil {
				return p.errorf("block target on %s", i.Op)
			}
			flow.TargetBB = p.block(id)
			continue
		}
		o, err := p.operand(tok)
		if err != nil {
			return err
		}
		srcs = append(srcs, o)
	}

	for s, o := range srcs {
		i.SetSrc(s, o.value)
		i.srcs[s].Mod = o.mod
	}
	for s, o := range srcs {
		for dim, x := range o.ind {
			if x != nil {
				i.SetIndirect(s, dim, x)
			}
		}
	}
	if pred != nil {
		i.SetPredicate(predCC, pred)
	}
	for _, a := range attrs {
		if err := p.attribute(i, a[0], a[1]); err != nil {
			return err
		}
	}

	p.bb.InsertTail(i)
	return nil
}

func (p *parser) opcode(tok string) (*Instruction, error) {
	parts := strings.Split(tok, ".")
	op, ok := OpByName(parts[0])
	if !ok {
		return nil, p.errorf("unknown opcode %q", parts[0])
	}

	var (
		types   []DataType
		target  = Tex2D
		setCond = CCTrue
		rnd     = RoundN
		flags   = map[string]bool{}
	)
	for _, s := range parts[1:] {
		if ty, ok := TypeByName(s); ok && len(types) < 2 {
			types = append(types, ty)
			continue
		}
		if t, ok := TexTargetByName(s); ok {
			target = t
			continue
		}
		switch s {
		case "sat", "ftz", "dnz", "atom", "patch", "join", "exit", "fixed",
			"abs", "limit", "allwarp", "live", "dall":
			flags[s] = true
			continue
		}
		if r, ok := RoundModeByName(s); ok {
			rnd = r
			continue
		}
		if cc, ok := CondCodeByName(s); ok {
			setCond = cc
			continue
		}
		return nil, p.errorf("unknown suffix %q on %s", s, op)
	}

	dty := TypeNone
	if len(types) > 0 {
		dty = types[0]
	}
	i := p.fn.NewInstruction(op, dty)
	if tex := i.AsTex(); tex != nil {
		tex.Target = target
	}
	if len(types) > 1 {
		i.SType = types[1]
	}
	i.Rnd = rnd
	if c := i.AsCmp(); c != nil {
		c.SetCond = setCond
	}
	i.Saturate = flags["sat"]
	i.FTZ = flags["ftz"]
	i.DNZ = flags["dnz"]
	i.Atomic = flags["atom"]
	i.PerPatch = flags["patch"]
	i.Join = flags["join"]
	i.Exit = flags["exit"]
	i.Fixed = flags["fixed"]
	if tex := i.AsTex(); tex != nil {
		tex.LiveOnly = flags["live"]
		tex.DerivAll = flags["dall"]
	}
	if flow := i.AsFlow(); flow != nil {
		flow.Absolute = flags["abs"]
		flow.Limit = flags["limit"]
		flow.AllWarp = flags["allwarp"]
		switch op {
		case OpBra, OpRet, OpExit, OpCont, OpBreak:
			i.Terminator = true
		}
	}
	return i, nil
}

func (p *parser) attribute(i *Instruction, key, val string) error {
	num := func() (int64, error) {
		n, err := strconv.ParseInt(val, 0, 32)
		if err != nil {
			return 0, p.errorf("bad %s value %q", key, val)
		}
		return n, nil
	}
	tex := i.AsTex()
	if tex == nil {
		switch key {
		case "tic", "tsc", "mask", "ticr", "tscr", "gather", "off", "dx", "dy":
			return p.errorf("%s on non-texture %s", key, i.Op)
		}
	}
	switch key {
	case "tic", "tsc", "mask", "gather", "lanes", "subop", "ipa":
		n, err := num()
		if err != nil {
			return err
		}
		switch key {
		case "tic":
			tex.R = int(n)
		case "tsc":
			tex.S = int(n)
		case "mask":
			tex.Mask = uint8(n)
		case "gather":
			tex.GatherComp = uint8(n)
		case "lanes":
			i.Lanes = uint8(n)
		case "subop":
			i.SubOp = uint8(n)
		case "ipa":
			i.IPA = uint8(n)
		}
	case "ticr", "tscr":
		v, err := p.lvalue(val)
		if err != nil {
			return err
		}
		if key == "ticr" {
			i.SetIndirectR(v)
		} else {
			i.SetIndirectS(v)
		}
	case "off":
		if tex.UseOffsets >= len(tex.Offset) {
			return p.errorf("too many texture offsets")
		}
		for c, s := range strings.Split(val, ",") {
			if c >= 3 {
				return p.errorf("texture offset has more than 3 components")
			}
			n, err := strconv.ParseInt(s, 0, 8)
			if err != nil {
				return p.errorf("bad texture offset %q", s)
			}
			tex.Offset[tex.UseOffsets][c] = int8(n)
		}
		tex.UseOffsets++
	case "dx", "dy":
		refs := tex.DPdx[:]
		if key == "dy" {
			refs = tex.DPdy[:]
		}
		for c, s := range strings.Split(val, ",") {
			if c >= len(refs) {
				return p.errorf("derivative has more than 3 components")
			}
			o, err := p.operand(s)
			if err != nil {
				return err
			}
			refs[c].Set(o.value)
			refs[c].Mod = o.mod
		}
	case "fn":
		callee, ok := p.funcs[val]
		if !ok {
			return p.errorf("unknown function %q", val)
		}
		flow := i.AsFlow()
		if flow == nil {
			return p.errorf("function target on %s", i.Op)
		}
		flow.TargetFn = callee
	case "builtin":
		b, ok := BuiltinByName(val)
		if !ok {
			return p.errorf("unknown builtin %q", val)
		}
		flow := i.AsFlow()
		if flow == nil {
			return p.errorf("builtin target on %s", i.Op)
		}
		flow.Builtin = true
		flow.Absolute = true
		flow.TargetBuiltin = b
		i.Fixed = true
	case "flags":
		v, err := p.lvalue(val)
		if err != nil {
			return err
		}
		i.SetFlagsSrc(i.SrcCount(), v)
	}
	return nil
}

func splitType(tok string) (string, string) {
	if k := strings.LastIndexByte(tok, ':'); k >= 0 {
		return tok[:k], tok[k+1:]
	}
	return tok, ""
}

// lvalue resolves %N and $rN names. Names are local to a function, and %N
// need not match the index the value receives. A type annotation sets the
// storage of the value; values first seen without one default to a 32 bit
// GPR.
func (p *parser) lvalue(tok string) (*Value, error) {
	name, ty := splitType(tok)
	if len(name) < 2 || (name[0] != '%' && name[0] != '$') {
		return nil, p.errorf("expected register, got %q", tok)
	}
	v, ok := p.values[name]
	if !ok {
		file := FileGPR
		id := int64(-1)
		if name[0] == '$' {
			switch name[1] {
			case 'r':
			case 'p':
				file = FilePredicate
			case 'c':
				file = FileFlags
			case 'a':
				file = FileAddress
			default:
				return nil, p.errorf("unknown register file in %q", name)
			}
			n, err := strconv.ParseInt(name[2:], 10, 32)
			if err != nil {
				return nil, p.errorf("bad register %q", name)
			}
			id = n
		} else if _, err := strconv.Atoi(name[1:]); err != nil {
			return nil, p.errorf("bad value name %q", name)
		}
		v = p.fn.NewLValue(file)
		v.Reg.ID = int32(id)
		p.values[name] = v
	}
	if ty != "" {
		switch ty {
		case "pred":
			v.Reg.File = FilePredicate
			v.Reg.Size = 1
			v.Reg.Type = TypeU8
		case "flags":
			v.Reg.File = FileFlags
			v.Reg.Size = 1
			v.Reg.Type = TypeU8
		case "addr":
			v.Reg.File = FileAddress
			v.Reg.Size = 2
			v.Reg.Type = TypeU16
		default:
			t, ok := TypeByName(ty)
			if !ok || t == TypeNone {
				return nil, p.errorf("unknown type %q", ty)
			}
			if v.Reg.File != FileGPR && name[0] == '%' {
				v.Reg.File = FileGPR
			}
			v.Reg.Type = t
			v.Reg.Size = uint8(t.Size())
		}
	}
	return v, nil
}

func (p *parser) operand(tok string) (operand, error) {
	var o operand
prefix:
	for len(tok) > 1 {
		switch tok[0] {
		case '^':
			o.mod |= ModSat
		case '~':
			o.mod |= ModNot
		case '-':
			o.mod |= ModNeg
		default:
			break prefix
		}
		tok = tok[1:]
	}
	if len(tok) > 2 && tok[0] == '|' && tok[len(tok)-1] == '|' {
		o.mod |= ModAbs
		tok = tok[1 : len(tok)-1]
	}

	var err error
	switch {
	case tok == "":
		return o, p.errorf("empty operand")
	case tok[0] == '%' || tok[0] == '$':
		o.value, err = p.lvalue(tok)
	case strings.HasPrefix(tok, "sv:"):
		o.value, err = p.sysval(tok[3:])
	case strings.Contains(tok, "["):
		o.value, o.ind, err = p.symbol(tok)
	default:
		o.value, err = p.immediate(tok)
	}
	return o, err
}

func (p *parser) sysval(tok string) (*Value, error) {
	body, ty := splitType(tok)
	name, idx := body, "0"
	if k := strings.LastIndexByte(body, '.'); k >= 0 {
		name, idx = body[:k], body[k+1:]
	}
	sv, ok := SVByName(name)
	if !ok {
		return nil, p.errorf("unknown system value %q", name)
	}
	n, err := strconv.ParseInt(idx, 10, 8)
	if err != nil {
		return nil, p.errorf("bad system value index %q", idx)
	}
	v := p.prog.NewSysVal(sv, int8(n))
	if ty != "" {
		t, ok := TypeByName(ty)
		if !ok {
			return nil, p.errorf("unknown type %q", ty)
		}
		v.Reg.Type = t
		v.Reg.Size = uint8(t.Size())
	}
	return v, nil
}

var symbolFiles = map[string]DataFile{
	"c": FileMemoryConst, "g": FileMemoryGlobal, "a": FileShaderInput,
	"o": FileShaderOutput, "s": FileMemoryShared, "l": FileMemoryLocal,
}

func (p *parser) symbol(tok string) (*Value, [2]*Value, error) {
	var ind [2]*Value
	open := strings.IndexByte(tok, '[')
	prefix := tok[:open]
	if prefix == "" {
		return nil, ind, p.errorf("missing memory space in %q", tok)
	}
	file, ok := symbolFiles[prefix[:1]]
	if !ok {
		return nil, ind, p.errorf("unknown memory space %q", prefix)
	}
	fileIndex := int64(0)
	if len(prefix) > 1 {
		n, err := strconv.ParseInt(prefix[1:], 10, 8)
		if err != nil {
			return nil, ind, p.errorf("bad memory space index %q", prefix)
		}
		fileIndex = n
	}

	rest, ty := splitType(tok[open:])
	var addr []string
	for len(rest) > 0 {
		if rest[0] != '[' {
			return nil, ind, p.errorf("malformed address %q", tok)
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, ind, p.errorf("unterminated address %q", tok)
		}
		addr = append(addr, rest[1:end])
		rest = rest[end+1:]
	}
	if len(addr) == 0 || len(addr) > 2 {
		return nil, ind, p.errorf("malformed address %q", tok)
	}

	off := addr[0]
	if k := strings.IndexByte(off, '+'); k >= 0 {
		v, err := p.lvalue(off[:k])
		if err != nil {
			return nil, ind, err
		}
		ind[0] = v
		off = off[k+1:]
	}
	n, err := strconv.ParseInt(off, 0, 32)
	if err != nil {
		return nil, ind, p.errorf("bad offset %q", off)
	}
	if len(addr) == 2 {
		v, err := p.lvalue(addr[1])
		if err != nil {
			return nil, ind, err
		}
		ind[1] = v
	}

	t := TypeU32
	if ty != "" {
		if t, ok = TypeByName(ty); !ok {
			return nil, ind, p.errorf("unknown type %q", ty)
		}
	}
	return p.prog.NewSymbol(file, int8(fileIndex), t, int32(n)), ind, nil
}

func (p *parser) immediate(tok string) (*Value, error) {
	body, ty := splitType(tok)
	t := TypeU32
	if ty != "" {
		var ok bool
		if t, ok = TypeByName(ty); !ok {
			return nil, p.errorf("unknown type %q", ty)
		}
	}
	isHex := strings.HasPrefix(body, "0x") || strings.HasPrefix(body, "0X")
	if !isHex && strings.ContainsAny(body, ".eE") || body == "inf" || body == "nan" {
		f, err := strconv.ParseFloat(body, 64)
		if err != nil {
			return nil, p.errorf("bad float literal %q", body)
		}
		if t == TypeF64 {
			return p.prog.ImmF64(f), nil
		}
		return p.prog.ImmF32(float32(f)), nil
	}
	u, err := strconv.ParseUint(body, 0, 64)
	if err != nil {
		return nil, p.errorf("bad literal %q", body)
	}
	if t.Size() < 8 && u > math.MaxUint32 {
		return nil, p.errorf("literal %q does not fit %s", body, t)
	}
	return p.prog.NewImmediate(u, t), nil
}
