package ir

import mapset "github.com/deckarep/golang-set/v2"

// EdgeType classifies a CFG edge with respect to a depth first search from
// the entry block.
type EdgeType uint8

const (
	EdgeUnknown EdgeType = iota
	EdgeTree
	EdgeForward
	EdgeBack
	EdgeCross
	// EdgeDummy edges keep otherwise unreachable blocks attached and are
	// never reclassified.
	EdgeDummy
)

var edgeTypeNames = [...]string{"unknown", "tree", "forward", "back", "cross", "dummy"}

func (t EdgeType) String() string { return edgeTypeNames[t] }

// Edge is a directed CFG edge.
type Edge struct {
	From, To *BasicBlock
	Type     EdgeType
}

// Attach adds an edge from bb to succ.
func (bb *BasicBlock) Attach(succ *BasicBlock, t EdgeType) *Edge {
	e := &Edge{From: bb, To: succ, Type: t}
	bb.out = append(bb.out, e)
	succ.in = append(succ.in, e)
	return e
}

// Detach removes the edge from bb to succ.
func (bb *BasicBlock) Detach(succ *BasicBlock) {
	for k, e := range bb.out {
		if e.To == succ {
			bb.out = append(bb.out[:k], bb.out[k+1:]...)
			break
		}
	}
	for k, e := range succ.in {
		if e.From == bb {
			succ.in = append(succ.in[:k], succ.in[k+1:]...)
			break
		}
	}
}

// OutEdges returns the outgoing edges in insertion order.
func (bb *BasicBlock) OutEdges() []*Edge { return bb.out }

// InEdges returns the incoming edges in insertion order. The position of a
// predecessor in this list is the phi operand slot it supplies.
func (bb *BasicBlock) InEdges() []*Edge { return bb.in }

// Succs returns the successor blocks.
func (bb *BasicBlock) Succs() []*BasicBlock {
	s := make([]*BasicBlock, len(bb.out))
	for k, e := range bb.out {
		s[k] = e.To
	}
	return s
}

// Preds returns the predecessor blocks, in phi operand order.
func (bb *BasicBlock) Preds() []*BasicBlock {
	p := make([]*BasicBlock, len(bb.in))
	for k, e := range bb.in {
		p[k] = e.From
	}
	return p
}

// PredIndex returns the phi operand slot supplied by pred, or -1.
func (bb *BasicBlock) PredIndex(pred *BasicBlock) int {
	for k, e := range bb.in {
		if e.From == pred {
			return k
		}
	}
	return -1
}

// ReplacePred makes the edge from old into bb come from nb instead, keeping
// its phi operand slot.
func (bb *BasicBlock) ReplacePred(old, nb *BasicBlock) {
	for _, e := range bb.in {
		if e.From != old {
			continue
		}
		for k, oe := range old.out {
			if oe == e {
				old.out = append(old.out[:k], old.out[k+1:]...)
				break
			}
		}
		e.From = nb
		nb.out = append(nb.out, e)
		return
	}
}

// ClassifyEdges runs a depth first search from the entry block, types every
// non-dummy edge, records the reverse postorder and sets LoopNestingBound.
func (fn *Function) ClassifyEdges() {
	if fn.Entry == nil {
		return
	}
	var (
		pre, post = map[*BasicBlock]int{}, map[*BasicBlock]int{}
		onStack   = mapset.NewThreadUnsafeSet[*BasicBlock]()
		order     []*BasicBlock
		clock     int
		backEdges int
	)
	var dfs func(bb *BasicBlock)
	dfs = func(bb *BasicBlock) {
		pre[bb] = clock
		clock++
		onStack.Add(bb)
		for _, e := range bb.out {
			if e.Type == EdgeDummy {
				continue
			}
			if _, seen := pre[e.To]; !seen {
				e.Type = EdgeTree
				dfs(e.To)
				continue
			}
			switch {
			case onStack.Contains(e.To):
				e.Type = EdgeBack
				backEdges++
			case pre[e.To] > pre[bb]:
				e.Type = EdgeForward
			default:
				e.Type = EdgeCross
			}
		}
		onStack.Remove(bb)
		post[bb] = clock
		clock++
		order = append(order, bb)
	}
	dfs(fn.Entry)

	for k := 0; k < len(order)/2; k++ {
		order[k], order[len(order)-1-k] = order[len(order)-1-k], order[k]
	}
	for k, bb := range order {
		bb.rpo = k
	}
	fn.rpo = order
	fn.LoopNestingBound = backEdges
}

// ReversePostorder returns the blocks reachable from the entry in reverse
// postorder, as computed by the last ClassifyEdges.
func (fn *Function) ReversePostorder() []*BasicBlock {
	if fn.rpo == nil {
		fn.ClassifyEdges()
	}
	return fn.rpo
}

// BuildDominatorTree computes immediate dominators with the iterative
// algorithm of Cooper, Harvey and Kennedy and links the dominator tree.
func (fn *Function) BuildDominatorTree() {
	fn.ClassifyEdges()
	order := fn.rpo
	for _, bb := range fn.blocks {
		bb.idom = nil
		bb.dominated = nil
	}
	if len(order) == 0 {
		return
	}
	entry := order[0]
	doms := make([]*BasicBlock, len(order))
	doms[0] = entry

	intersect := func(a, b *BasicBlock) *BasicBlock {
		for a != b {
			for a.rpo > b.rpo {
				a = doms[a.rpo]
			}
			for b.rpo > a.rpo {
				b = doms[b.rpo]
			}
		}
		return a
	}

	for changed := true; changed; {
		changed = false
		for _, bb := range order[1:] {
			var idom *BasicBlock
			for _, e := range bb.in {
				p := e.From
				if !fn.reachable(p) || doms[p.rpo] == nil {
					continue
				}
				if idom == nil {
					idom = p
				} else {
					idom = intersect(p, idom)
				}
			}
			if idom != nil && doms[bb.rpo] != idom {
				doms[bb.rpo] = idom
				changed = true
			}
		}
	}

	for _, bb := range order[1:] {
		bb.idom = doms[bb.rpo]
		bb.idom.dominated = append(bb.idom.dominated, bb)
	}

	clock := 0
	var number func(bb *BasicBlock)
	number = func(bb *BasicBlock) {
		bb.domPre = clock
		clock++
		for _, c := range bb.dominated {
			number(c)
		}
		bb.domPost = clock
		clock++
	}
	number(entry)
}

func (fn *Function) reachable(bb *BasicBlock) bool {
	return bb.rpo < len(fn.rpo) && fn.rpo[bb.rpo] == bb
}
