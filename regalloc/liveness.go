// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package regalloc

import (
	"github.com/bits-and-blooms/bitset"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gogpu/gpucc/ir"
)

// BuildLiveSets computes the live-in set of every block reachable from the
// entry of fn. Each round is one depth first walk over the CFG; loop
// back edges see the sets of the previous round, so LoopNestingBound+1
// rounds reach the fixed point.
func BuildLiveSets(fn *ir.Function) {
	fn.ClassifyEdges()
	for _, bb := range fn.Blocks() {
		bb.LiveSet = nil
	}
	if fn.Entry == nil {
		return
	}
	for round := 0; round <= fn.LoopNestingBound; round++ {
		visited := mapset.NewThreadUnsafeSet[*ir.BasicBlock]()
		visited.Add(fn.Entry)
		buildLiveSet(fn, fn.Entry, visited)
	}
}

func buildLiveSet(fn *ir.Function, bb *ir.BasicBlock, visited mapset.Set[*ir.BasicBlock]) {
	live := bitset.New(uint(len(fn.LValues())))
	for _, e := range bb.OutEdges() {
		succ := e.To
		if succ == bb {
			continue
		}
		if visited.Add(succ) {
			buildLiveSet(fn, succ, visited)
		}
		if succ.LiveSet != nil {
			live.InPlaceUnion(succ.LiveSet)
		}
	}

	entry := bb.Entry()
	for i := bb.Exit(); i != nil && entry != nil && i != entry.Prev(); i = i.Prev() {
		for d := 0; i.DefExists(d); d++ {
			if v := i.GetDef(d); isLocal(fn, v) {
				live.Clear(uint(v.Index))
			}
		}
		for s := 0; i.SrcExists(s); s++ {
			if v := i.GetSrc(s); isLocal(fn, v) {
				live.Set(uint(v.Index))
			}
		}
	}
	for phi := bb.Phi(); phi != nil && phi.Op == ir.OpPhi; phi = phi.Next() {
		if v := phi.GetDef(0); isLocal(fn, v) {
			live.Clear(uint(v.Index))
		}
	}
	bb.LiveSet = live
}

func isLocal(fn *ir.Function, v *ir.Value) bool {
	return v != nil && v.IsLValue() && v.Function() == fn
}

// entrySerial is the first non-phi position of bb.
func entrySerial(bb *ir.BasicBlock) int {
	if e := bb.Entry(); e != nil {
		return e.Serial
	}
	return bb.LastSerial() + 1
}

// addLiveRange makes v live in bb from its nearest definition preceding
// end, or from the block entry if v is live-in, up to end.
func addLiveRange(v *ir.Value, bb *ir.BasicBlock, end int) {
	if len(v.Defs()) == 0 {
		return
	}
	first := entrySerial(bb)
	begin := first
	for _, d := range v.Defs() {
		insn := d.Insn()
		if insn.BB() != bb || insn.Serial < first || insn.Serial >= end {
			continue
		}
		if insn.Serial > begin {
			begin = insn.Serial
		}
	}
	// empty ranges are only added as hazards for fixed registers
	if begin != end {
		v.Live.Extend(begin, end)
	}
}

// BuildIntervals turns the live sets of fn into a live interval for every
// virtual register. OrderInstructions must have numbered fn after its live
// sets were built.
func BuildIntervals(fn *ir.Function) {
	for _, v := range fn.LValues() {
		v.Live.Clear()
	}
	lvalues := fn.LValues()
	for _, bb := range fn.BBArray {
		live := liveOut(fn, bb)

		// a phi operand is live out only along the edge it arrives by; phi
		// results are already absent from the live-in set of their block
		for _, e := range bb.OutEdges() {
			for phi := e.To.Phi(); phi != nil && phi.Op == ir.OpPhi; phi = phi.Next() {
				for s := 0; phi.SrcExists(s); s++ {
					v := phi.GetSrc(s)
					if !isLocal(fn, v) {
						continue
					}
					if insn := v.UniqueInsn(); insn != nil && insn.BB() == bb {
						live.Set(uint(v.Index))
					} else {
						live.Clear(uint(v.Index))
					}
				}
			}
		}

		if exit := bb.Exit(); exit != nil {
			for j, ok := live.NextSet(0); ok; j, ok = live.NextSet(j + 1) {
				addLiveRange(lvalues[j], bb, exit.Serial+1)
			}
		}

		for i := bb.Exit(); i != nil && i.Op != ir.OpPhi; i = i.Prev() {
			for d := 0; i.DefExists(d); d++ {
				v := i.GetDef(d)
				if !isLocal(fn, v) {
					continue
				}
				live.Clear(uint(v.Index))
				if v.IsFixed() {
					v.Live.Extend(i.Serial, i.Serial)
				}
			}
			// constraint sources are read after its results are written
			end := i.Serial
			if i.Op == ir.OpConstraint {
				end++
			}
			for s := 0; i.SrcExists(s); s++ {
				v := i.GetSrc(s)
				if !isLocal(fn, v) || live.Test(uint(v.Index)) {
					continue
				}
				live.Set(uint(v.Index))
				addLiveRange(v, bb, end)
			}
		}
	}
}

// liveOut returns the union of the live-in sets of the successors of bb.
func liveOut(fn *ir.Function, bb *ir.BasicBlock) *bitset.BitSet {
	live := bitset.New(uint(len(fn.LValues())))
	for _, e := range bb.OutEdges() {
		if e.Type == ir.EdgeDummy || e.To.LiveSet == nil {
			continue
		}
		live.InPlaceUnion(e.To.LiveSet)
	}
	return live
}
