package ir

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
)

// ValidationError represents a validation error.
type ValidationError struct {
	Message string
	// Optional context
	Function    string
	Block       int
	Instruction int
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Function != "" {
		if e.Instruction >= 0 {
			return fmt.Sprintf("in function %s, bb%d, instruction %d: %s", e.Function, e.Block, e.Instruction, e.Message)
		}
		if e.Block >= 0 {
			return fmt.Sprintf("in function %s, bb%d: %s", e.Function, e.Block, e.Message)
		}
		return fmt.Sprintf("in function %s: %s", e.Function, e.Message)
	}
	return e.Message
}

// Validator checks the structural invariants of a program: block lists,
// slot packing, use-def consistency and control flow shape.
type Validator struct {
	prog   *Program
	errors []ValidationError

	fn *Function
	bb *BasicBlock
}

// Validate checks the program for correctness.
// Returns validation errors if any, or nil if the program is valid.
func Validate(prog *Program) ([]ValidationError, error) {
	if prog == nil {
		return nil, errors.New("program is nil")
	}

	v := &Validator{prog: prog}
	v.ValidateProgram()

	if len(v.errors) > 0 {
		return v.errors, nil
	}
	return nil, nil
}

// ValidateProgram validates every function and the value arena.
func (v *Validator) ValidateProgram() {
	for _, fn := range v.prog.funcs {
		v.validateFunction(fn)
	}
	v.fn, v.bb = nil, nil
	v.validateValues()
}

func (v *Validator) validateFunction(fn *Function) {
	v.fn = fn
	v.bb = nil
	if fn.Entry == nil {
		v.addError(-1, "function has no entry block")
		return
	}
	for _, bb := range fn.blocks {
		v.bb = bb
		v.validateBlock(bb)
	}
}

func (v *Validator) validateBlock(bb *BasicBlock) {
	for _, e := range bb.out {
		if e.From != bb {
			v.addError(-1, fmt.Sprintf("out edge to bb%d has wrong source", e.To.ID))
		}
		if !containsEdge(e.To.in, e) {
			v.addError(-1, fmt.Sprintf("edge to bb%d missing from its in list", e.To.ID))
		}
	}
	for _, e := range bb.in {
		if !containsEdge(e.From.out, e) {
			v.addError(-1, fmt.Sprintf("edge from bb%d missing from its out list", e.From.ID))
		}
	}

	n := 0
	var prev *Instruction
	phis := true
	for i := bb.head; i != nil; i = i.next {
		n++
		if i.bb != bb {
			v.addError(i.ID, "instruction linked into a foreign block")
		}
		if i.prev != prev {
			v.addError(i.ID, "broken back link")
		}
		if i.fn != bb.fn {
			v.addError(i.ID, "instruction belongs to another function")
		}
		if i.Op == OpPhi {
			if !phis {
				v.addError(i.ID, "phi after a non-phi instruction")
			}
			if len(bb.in) > 0 && i.SrcCount() != len(bb.in) {
				v.addError(i.ID, fmt.Sprintf("phi has %d sources for %d predecessors", i.SrcCount(), len(bb.in)))
			}
		} else {
			phis = false
		}
		if i.Terminator && i.next != nil {
			v.addError(i.ID, fmt.Sprintf("terminator %s is not last in its block", i.Op))
		}
		v.validateInstruction(i)
		prev = i
	}
	if prev != bb.tail {
		v.addError(-1, "tail does not match the instruction list")
	}
	if n != bb.numInsns {
		v.addError(-1, fmt.Sprintf("instruction count %d, list holds %d", bb.numInsns, n))
	}
}

func containsEdge(list []*Edge, e *Edge) bool {
	for _, x := range list {
		if x == e {
			return true
		}
	}
	return false
}

func (v *Validator) validateInstruction(i *Instruction) {
	nd := i.DefCount()
	for d := nd; d < MaxDefs; d++ {
		if i.defs[d].value != nil {
			v.addError(i.ID, fmt.Sprintf("def slot %d used after gap at %d", d, nd))
		}
	}
	ns := i.SrcCount()
	for s := ns; s < MaxSrcs; s++ {
		if i.srcs[s].value != nil {
			v.addError(i.ID, fmt.Sprintf("source slot %d used after gap at %d", s, ns))
		}
	}

	for d := 0; d < nd; d++ {
		def := &i.defs[d]
		if def.insn != i {
			v.addError(i.ID, fmt.Sprintf("def %d owned by another instruction", d))
		}
		if !containsDef(def.value.defs, def) {
			v.addError(i.ID, fmt.Sprintf("def %d missing from def list of %%%d", d, def.value.ID))
		}
		if def.value.Kind != KindLValue {
			v.addError(i.ID, fmt.Sprintf("def %d is not a register", d))
		}
	}
	for s := 0; s < ns; s++ {
		ref := &i.srcs[s]
		if ref.insn != i {
			v.addError(i.ID, fmt.Sprintf("source %d owned by another instruction", s))
		}
		if !containsRef(ref.value.uses, ref) {
			v.addError(i.ID, fmt.Sprintf("source %d missing from use list of %%%d", s, ref.value.ID))
		}
		for dim, k := range ref.Indirect {
			if k >= 0 && int(k) >= ns {
				v.addError(i.ID, fmt.Sprintf("indirect %d of source %d points past the sources", dim, s))
			}
		}
	}
	if int(i.PredSrc) >= ns {
		v.addError(i.ID, "predicate index points past the sources")
	}
	if int(i.FlagsSrc) >= ns {
		v.addError(i.ID, "flags source index points past the sources")
	}
	if int(i.FlagsDef) >= nd {
		v.addError(i.ID, "flags def index points past the defs")
	}
	if i.Op.IsFlow() && i.AsFlow() == nil {
		v.addError(i.ID, fmt.Sprintf("%s without flow payload", i.Op))
	}
	if i.Op.IsTexture() && i.AsTex() == nil {
		v.addError(i.ID, fmt.Sprintf("%s without texture payload", i.Op))
	}
}

func containsDef(list []*Def, d *Def) bool {
	for _, x := range list {
		if x == d {
			return true
		}
	}
	return false
}

func containsRef(list []*Ref, r *Ref) bool {
	for _, x := range list {
		if x == r {
			return true
		}
	}
	return false
}

// validateValues checks that every recorded use and def points back at
// the value, and that no list holds an entry twice.
func (v *Validator) validateValues() {
	for _, val := range v.prog.values {
		uses := mapset.NewThreadUnsafeSet[*Ref]()
		for _, r := range val.uses {
			if !uses.Add(r) {
				v.addValueError(val, "use recorded twice")
			}
			if r.value != val {
				v.addValueError(val, "use reads another value")
			}
			if deleted(r.insn) {
				v.addValueError(val, "used by a deleted instruction")
			}
		}
		defs := mapset.NewThreadUnsafeSet[*Def]()
		for _, d := range val.defs {
			if !defs.Add(d) {
				v.addValueError(val, "def recorded twice")
			}
			if d.value != val {
				v.addValueError(val, "def writes another value")
			}
			if deleted(d.insn) {
				v.addValueError(val, "defined by a deleted instruction")
			}
		}
		if val.SSA && len(val.defs) > 1 {
			v.addValueError(val, fmt.Sprintf("SSA value has %d defs", len(val.defs)))
		}
	}
}

func deleted(i *Instruction) bool {
	if i == nil {
		return true
	}
	fn := i.fn
	return fn == nil || i.ID >= len(fn.insns) || fn.insns[i.ID] != i
}

func (v *Validator) addError(insn int, msg string) {
	e := ValidationError{Message: msg, Block: -1, Instruction: insn}
	if v.fn != nil {
		e.Function = v.fn.Name
	}
	if v.bb != nil {
		e.Block = v.bb.ID
	}
	v.errors = append(v.errors, e)
}

func (v *Validator) addValueError(val *Value, msg string) {
	v.errors = append(v.errors, ValidationError{
		Message:     fmt.Sprintf("value %%%d: %s", val.ID, msg),
		Block:       -1,
		Instruction: -1,
	})
}
