package ir

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"
)

// BasicBlock is a straight-line sequence of instructions: an optional run
// of phi nodes, a body and a terminator. It is also a node of the control
// flow graph and of the dominator tree.
type BasicBlock struct {
	ID int

	head, tail *Instruction
	numInsns   int

	in, out []*Edge

	idom      *BasicBlock
	dominated []*BasicBlock
	domPre    int
	domPost   int

	// LiveSet holds the indices of the LValues live at block entry.
	LiveSet *bitset.BitSet

	// BinPos and BinSize are the byte position and size of the block in
	// the program binary.
	BinPos  int
	BinSize int

	// JoinAt is the instruction setting the reconvergence point for this
	// block, if any.
	JoinAt *Instruction

	firstSerial int
	lastSerial  int
	rpo         int
	visit       int

	fn *Function
}

// Function returns the function owning bb.
func (bb *BasicBlock) Function() *Function { return bb.fn }

// First returns the first instruction, including phi nodes.
func (bb *BasicBlock) First() *Instruction { return bb.head }

// Phi returns the first phi node, or nil.
func (bb *BasicBlock) Phi() *Instruction {
	if bb.head != nil && bb.head.Op == OpPhi {
		return bb.head
	}
	return nil
}

// Entry returns the first instruction that is not a phi node, or nil.
func (bb *BasicBlock) Entry() *Instruction {
	i := bb.head
	for i != nil && i.Op == OpPhi {
		i = i.next
	}
	return i
}

// Exit returns the last instruction, or nil.
func (bb *BasicBlock) Exit() *Instruction { return bb.tail }

// InsnCount returns the number of instructions in bb.
func (bb *BasicBlock) InsnCount() int { return bb.numInsns }

// Instructions returns the instructions of bb in order.
func (bb *BasicBlock) Instructions() []*Instruction {
	insns := make([]*Instruction, 0, bb.numInsns)
	for i := bb.head; i != nil; i = i.next {
		insns = append(insns, i)
	}
	return insns
}

func (bb *BasicBlock) link(i, prev, next *Instruction) {
	i.bb = bb
	i.prev = prev
	i.next = next
	if prev != nil {
		prev.next = i
	} else {
		bb.head = i
	}
	if next != nil {
		next.prev = i
	} else {
		bb.tail = i
	}
	bb.numInsns++
}

// InsertHead inserts i at the start of bb. Phi nodes go before everything,
// other instructions after the phi nodes.
func (bb *BasicBlock) InsertHead(i *Instruction) {
	if i.Op == OpPhi {
		bb.link(i, nil, bb.head)
		return
	}
	entry := bb.Entry()
	if entry == nil {
		bb.link(i, bb.tail, nil)
		return
	}
	bb.link(i, entry.prev, entry)
}

// InsertTail appends i to bb. Phi nodes go after the last phi node.
func (bb *BasicBlock) InsertTail(i *Instruction) {
	if i.Op == OpPhi {
		entry := bb.Entry()
		if entry != nil {
			bb.link(i, entry.prev, entry)
			return
		}
	}
	bb.link(i, bb.tail, nil)
}

// InsertBefore inserts p immediately before q.
func (bb *BasicBlock) InsertBefore(q, p *Instruction) {
	bb.link(p, q.prev, q)
}

// InsertAfter inserts p immediately after q.
func (bb *BasicBlock) InsertAfter(q, p *Instruction) {
	bb.link(p, q, q.next)
}

// Remove unlinks i from bb. Its operands are left untouched.
func (bb *BasicBlock) Remove(i *Instruction) {
	if i.bb != bb {
		return
	}
	if i.prev != nil {
		i.prev.next = i.next
	} else {
		bb.head = i.next
	}
	if i.next != nil {
		i.next.prev = i.prev
	} else {
		bb.tail = i.prev
	}
	i.prev, i.next, i.bb = nil, nil, nil
	bb.numInsns--
}

// Permute swaps two adjacent instructions a and b, where b follows a.
func (bb *BasicBlock) Permute(a, b *Instruction) {
	bb.Remove(b)
	bb.InsertBefore(a, b)
}

// SplitBefore moves i and all following instructions into a new block,
// which takes over the outgoing edges of bb.
func (bb *BasicBlock) SplitBefore(i *Instruction) *BasicBlock {
	nb := bb.fn.NewBlock()
	for i != nil {
		next := i.next
		bb.Remove(i)
		nb.link(i, nb.tail, nil)
		i = next
	}
	for len(bb.out) > 0 {
		e := bb.out[0]
		bb.Detach(e.To)
		nb.Attach(e.To, e.Type)
	}
	return nb
}

// Idom returns the immediate dominator, or nil for the entry block.
func (bb *BasicBlock) Idom() *BasicBlock { return bb.idom }

// Dominated returns the children of bb in the dominator tree.
func (bb *BasicBlock) Dominated() []*BasicBlock { return bb.dominated }

// Dominates reports whether bb dominates other. Every block dominates itself.
func (bb *BasicBlock) Dominates(other *BasicBlock) bool {
	return bb.domPre <= other.domPre && other.domPost <= bb.domPost
}

// FirstSerial is the serial of the first position in the block.
func (bb *BasicBlock) FirstSerial() int { return bb.firstSerial }

// LastSerial is the serial of the last instruction, or FirstSerial-1 for an
// empty block.
func (bb *BasicBlock) LastSerial() int { return bb.lastSerial }

// IsTerminated reports whether the block ends in a terminator.
func (bb *BasicBlock) IsTerminated() bool {
	return bb.tail != nil && bb.tail.Terminator
}

func (bb *BasicBlock) String() string {
	return fmt.Sprintf("bb%d", bb.ID)
}
