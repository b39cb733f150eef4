// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package emit

import (
	"github.com/containerd/errdefs"
	"github.com/gogpu/gpucc/ir"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Emitter encodes programs.
type Emitter struct {
	// MaxCodeSize bounds the size of the binary in bytes. Zero means no
	// bound.
	MaxCodeSize int
	// Logger receives debug output. It defaults to the program logger.
	Logger logrus.FieldLogger

	// Instructions is the number of instructions encoded by the last call
	// to Emit.
	Instructions int
}

// Emit lays out and encodes prog with the default settings.
func Emit(prog *ir.Program) error {
	return (&Emitter{}).Emit(prog)
}

// Emit lays out and encodes prog, storing the binary in prog.Code and the
// relocations in prog.Relocs.
func (e *Emitter) Emit(prog *ir.Program) error {
	if prog.Target == nil {
		return errors.Wrap(errdefs.ErrInvalidArgument, "emitting a program without target")
	}
	log := e.Logger
	if log == nil {
		log = prog.Log
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	size, err := Layout(prog)
	if err != nil {
		return err
	}
	limit := size
	if e.MaxCodeSize > 0 {
		limit = e.MaxCodeSize
	}

	w := &writer{
		prog:  prog,
		targ:  prog.Target,
		f:     prog.Target.Fields(),
		code:  make([]uint32, 0, size/4),
		limit: limit,
	}
	prog.Relocs = ir.RelocationTable{}
	for _, fn := range prog.Functions() {
		for _, bb := range fn.BBArray {
			for i := bb.First(); i != nil; i = i.Next() {
				if err := w.emitInstruction(i); err != nil {
					return errors.Wrapf(err, "emitting %s", fn.Name)
				}
			}
		}
	}

	prog.Code = w.code
	prog.BinSize = w.pos
	e.Instructions = w.count
	log.WithFields(logrus.Fields{
		"phase":  "emit",
		"size":   w.pos,
		"insns":  w.count,
		"relocs": prog.Relocs.Len(),
	}).Debug("program emitted")
	return nil
}

// Layout assigns every instruction its encoding size and every block and
// function its byte position in the binary. It returns the size of the
// binary.
func Layout(prog *ir.Program) (int, error) {
	targ := prog.Target
	if targ == nil {
		return 0, errors.Wrap(errdefs.ErrInvalidArgument, "layout of a program without target")
	}
	bld := ir.NewBuilder(prog)
	pos := 0
	for _, fn := range prog.Functions() {
		fn.OrderInstructions()
		if linkFallThrough(bld, fn) {
			fn.OrderInstructions()
		}
		fn.BinPos = pos
		for _, bb := range fn.BBArray {
			bb.BinPos = pos
			if err := sizeBlock(targ, prog.Type, bb); err != nil {
				return 0, errors.Wrapf(err, "layout of %s", fn.Name)
			}
			pos += bb.BinSize
		}
		fn.BinSize = pos - fn.BinPos
	}
	prog.BinSize = pos
	return pos, nil
}

// linkFallThrough appends a branch to every block whose fall-through
// successor is not placed right after it.
func linkFallThrough(bld *ir.Builder, fn *ir.Function) bool {
	added := false
	for k, bb := range fn.BBArray {
		ft := fallThrough(bb)
		if ft == nil || (k+1 < len(fn.BBArray) && fn.BBArray[k+1] == ft) {
			continue
		}
		bld.SetPosition(bb, true)
		bld.MkFlow(ir.OpBra, ft, ir.CCTrue, nil)
		added = true
	}
	return added
}

// fallThrough returns the successor bb continues into when its last
// instruction does not transfer control, or nil.
func fallThrough(bb *ir.BasicBlock) *ir.BasicBlock {
	var target *ir.BasicBlock
	if exit := bb.Exit(); exit != nil {
		if exit.Terminator && exit.Predicate() == nil && exit.FlagsSrc < 0 {
			return nil
		}
		if f := exit.AsFlow(); f != nil {
			target = f.TargetBB
		}
	}
	for _, e := range bb.OutEdges() {
		if e.Type == ir.EdgeDummy || e.To == target {
			continue
		}
		return e.To
	}
	return nil
}

// sizeBlock sets the encoding size of every instruction of bb and the
// size of bb. Short instructions are paired with the next short one;
// those left alone take their long form.
func sizeBlock(targ ir.Target, pt ir.ProgramType, bb *ir.BasicBlock) error {
	var single *ir.Instruction
	size := 0
	widen := func() {
		if single != nil {
			single.EncSize = 8
			size += 4
			single = nil
		}
	}
	for i := bb.First(); i != nil; i = i.Next() {
		if i.IsPseudo() && i.Op != ir.OpNop {
			return errors.Wrapf(errdefs.ErrInvalidArgument, "operation should have been eliminated: %s", i)
		}
		n := targ.MinEncodingSize(pt, i)
		if n == 0 {
			return errors.Wrapf(errdefs.ErrNotImplemented, "no encoding for %s", i)
		}
		i.EncSize = uint8(n)
		size += n
		switch {
		case n != 4:
			widen()
		case single != nil:
			single = nil
		default:
			single = i
		}
	}
	widen()
	bb.BinSize = size
	return nil
}

// writer accumulates the encoded words of a program.
type writer struct {
	prog *ir.Program
	targ ir.Target
	f    *ir.EncodingFields

	code  []uint32
	pos   int
	limit int
	count int
}

func (w *writer) emitInstruction(i *ir.Instruction) error {
	if i.IsPseudo() && i.Op != ir.OpNop {
		return errors.Wrapf(errdefs.ErrInvalidArgument, "operation should have been eliminated: %s", i)
	}
	size := int(i.EncSize)
	if size == 0 {
		return errors.Wrapf(errdefs.ErrNotImplemented, "skipping unencodable instruction %s", i)
	}
	if w.pos+size > w.limit {
		return errors.Wrapf(errdefs.ErrOutOfRange, "code exceeds %d bytes at %s", w.limit, i)
	}
	enc, ok := w.targ.OpEncoding(i)
	if !ok {
		return errors.Wrapf(errdefs.ErrNotImplemented, "operation should have been lowered: %s", i)
	}

	p := &packer{w: w, i: i, enc: enc, f: w.f}
	if size == 4 {
		p.form = formShort
	}
	if err := p.pack(); err != nil {
		return errors.Wrapf(err, "%s", i)
	}
	if p.form != formShort {
		switch {
		case i.Join || i.Op == ir.OpJoin:
			p.c.or(w.f.Join)
		case i.Exit:
			p.c.or(w.f.Exit)
		}
	}

	words := p.c.words()
	w.code = append(w.code, words[:size/4]...)
	w.pos += size
	w.count++
	return nil
}
