// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package regalloc

import (
	"github.com/gogpu/gpucc/ir"
	"github.com/sirupsen/logrus"
)

// needNewElseBlock reports whether the copies for the edge from p into b
// need a block of their own: b is a join point and p branches two ways.
func needNewElseBlock(b, p *ir.BasicBlock) bool {
	if len(b.InEdges()) <= 1 {
		return false
	}
	n := 0
	for _, e := range p.OutEdges() {
		if e.Type == ir.EdgeTree || e.Type == ir.EdgeForward {
			n++
		}
	}
	return n == 2
}

// InsertPhiMoves rewrites every phi operand of fn into the result of a MOV
// placed at the end of the corresponding predecessor. Predecessors without
// a terminator get an explicit branch, and predecessors that branch two
// ways into a join point get a new block holding the copies.
func InsertPhiMoves(fn *ir.Function) {
	fn.ClassifyEdges()
	bld := ir.NewBuilder(fn.Program())
	bld.SetFunction(fn)
	log := fn.Program().Log.WithFields(logrus.Fields{"phase": "regalloc", "func": fn.Name})

	for _, bb := range append([]*ir.BasicBlock(nil), fn.ReversePostorder()...) {
		if bb.Phi() == nil {
			continue
		}
		for _, pb := range bb.Preds() {
			if !needNewElseBlock(bb, pb) {
				continue
			}
			pn := fn.NewBlock()
			bb.ReplacePred(pb, pn)
			pn.OutEdges()[0].Type = ir.EdgeForward
			pb.Attach(pn, ir.EdgeTree)
			if exit := pb.Exit(); exit != nil {
				if f := exit.AsFlow(); f != nil && f.TargetBB == bb {
					f.TargetBB = pn
				}
			}
			log.WithFields(logrus.Fields{"bb": bb.ID, "pred": pb.ID, "new": pn.ID}).
				Debug("inserted block for phi moves")
		}

		for j, pb := range bb.Preds() {
			if !pb.IsTerminated() {
				bld.SetPosition(pb, true)
				bld.MkFlow(ir.OpBra, bb, ir.CCTrue, nil)
			}
			for phi := bb.Phi(); phi != nil && phi.Op == ir.OpPhi; phi = phi.Next() {
				if !phi.SrcExists(j) {
					continue
				}
				def := phi.GetDef(0)
				mov := fn.NewInstruction(ir.OpMov, ir.TypeOfSize(int(def.Reg.Size), false, false))
				mov.SetSrc(0, phi.GetSrc(j))
				mov.SetDef(0, def.Clone(fn))
				phi.SetSrc(j, mov.GetDef(0))
				pb.InsertBefore(pb.Exit(), mov)
			}
		}
	}
}
