// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package lower

import (
	"github.com/gogpu/gpucc/ir"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// PostRA cleans up after register allocation: it removes no-ops, moves
// zero sources to the zero register, splits 64 bit operations and
// simplifies loop and join flow.
func PostRA(prog *ir.Program) error {
	p := &postRA{prog: prog, targ: prog.Target, bld: ir.NewBuilder(prog)}
	if err := ir.Run(prog, p, true, false); err != nil {
		return errors.Wrap(err, "post-RA lowering")
	}
	return nil
}

type postRA struct {
	ir.BasePass

	prog *ir.Program
	targ ir.Target
	bld  *ir.Builder
	fn   *ir.Function

	zero  *ir.Value
	carry *ir.Value
}

func (p *postRA) VisitFunction(fn *ir.Function) error {
	p.fn = fn
	p.bld.SetFunction(fn)
	if p.targ.NeedsZeroRegister() {
		p.zero = fn.NewLValue(ir.FileGPR)
		p.zero.Reg.ID = int32(p.targ.FileSize(ir.FileGPR))
	} else {
		p.zero = p.bld.MkImm(0)
	}
	p.carry = fn.NewLValue(ir.FileFlags)
	p.carry.Reg.ID = 0
	return nil
}

func (p *postRA) VisitBlock(bb *ir.BasicBlock) error {
	removed, split := 0, 0
	var next *ir.Instruction
	for i := bb.First(); i != nil; i = next {
		next = i.Next()

		if i.Op == ir.OpEmit || i.Op == ir.OpRestart {
			if i.DefExists(0) && i.GetDef(0).RefCount() == 0 {
				i.SetDef(0, nil)
			}
			if i.SrcExists(0) && i.GetSrc(0).IsImm() {
				i.SetSrc(0, p.zero)
			}
		}

		if i.IsNop() {
			p.fn.DeleteInstruction(i)
			removed++
			continue
		}

		if i.DType.Size() == 8 && !p.targ.IsOpSupported(i.Op, opType(i)) {
			if hi := p.bld.Split64BitOpPostRA(i, p.zero, p.carry); hi != nil {
				next = hi
				split++
			}
		}

		if i.Op != ir.OpMov && i.Op != ir.OpPfetch {
			p.replaceZero(i)
		}
	}
	if removed > 0 || split > 0 {
		p.prog.Log.WithFields(logrus.Fields{
			"phase":   "post-ra",
			"func":    p.fn.Name,
			"bb":      bb.ID,
			"removed": removed,
			"split":   split,
		}).Debug("block cleaned")
	}

	if !p.tryReplaceContWithBra(bb) {
		p.propagateJoin(bb)
	}
	return ir.SkipChildren
}

// replaceZero substitutes the zero register for immediate zero sources.
func (p *postRA) replaceZero(i *ir.Instruction) {
	if !p.targ.NeedsZeroRegister() {
		return
	}
	for s := 0; i.SrcExists(s); s++ {
		if v := i.GetSrc(s); v.IsImm() && v.IsZero() {
			i.SetSrc(s, p.zero)
		}
	}
}

// tryReplaceContWithBra turns the CONT closing a loop into a plain branch
// when the loop header has no other continue path, and drops the matching
// PRECONT.
func (p *postRA) tryReplaceContWithBra(bb *ir.BasicBlock) bool {
	in := bb.InEdges()
	if len(in) != 2 {
		return false
	}
	entry := bb.Entry()
	if entry == nil || entry.Op != ir.OpPrecont {
		return false
	}
	for _, e := range in {
		if e.Type != ir.EdgeBack {
			continue
		}
		insn := e.From.Exit()
		if insn == nil || insn.Op != ir.OpCont || insn.Predicate() != nil {
			return false
		}
		insn.Op = ir.OpBra
		p.fn.DeleteInstruction(entry)
		return true
	}
	return false
}

// propagateJoin moves the JOIN starting bb into its predecessors, turning
// their branches into joins.
func (p *postRA) propagateJoin(bb *ir.BasicBlock) {
	entry := bb.Entry()
	if entry == nil || entry.Op != ir.OpJoin {
		return
	}
	if f := entry.AsFlow(); f == nil || f.Limit {
		return
	}
	for _, pred := range bb.Preds() {
		exit := pred.Exit()
		if exit == nil {
			p.prog.Log.WithFields(logrus.Fields{
				"phase": "post-ra",
				"func":  p.fn.Name,
				"bb":    pred.ID,
			}).Warn("empty predecessor of join target")
			p.bld.SetPosition(pred, true)
			j := p.bld.MkFlow(ir.OpJoin, nil, ir.CCTrue, nil)
			j.Fixed = true
			j.AsFlow().Limit = true
			continue
		}
		if exit.Op == ir.OpBra {
			exit.Op = ir.OpJoin
			exit.AsFlow().Limit = true
		}
	}
	p.fn.DeleteInstruction(entry)
}
