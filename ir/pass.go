package ir

import "github.com/pkg/errors"

// SkipChildren is returned by a Visitor to skip the blocks of a function or
// the instructions of a block. It is not reported as an error.
var SkipChildren = errors.New("skip children")

// Visitor is a pass over the IR. Visiting a function precedes its blocks,
// visiting a block precedes its instructions. Any error other than
// SkipChildren stops the walk.
type Visitor interface {
	VisitFunction(fn *Function) error
	VisitBlock(bb *BasicBlock) error
	VisitInstruction(i *Instruction) error
}

// BasePass implements Visitor with methods that do nothing, for embedding.
type BasePass struct{}

func (BasePass) VisitFunction(*Function) error      { return nil }
func (BasePass) VisitBlock(*BasicBlock) error       { return nil }
func (BasePass) VisitInstruction(*Instruction) error { return nil }

// Run walks every function of prog. With ordered set the blocks are visited
// in reverse postorder, otherwise in creation order. With skipPhi set the
// phi nodes of each block are not visited.
//
// Instructions may be removed or inserted after the visited one while the
// walk is in progress.
func Run(prog *Program, v Visitor, ordered, skipPhi bool) error {
	for _, fn := range prog.funcs {
		if err := RunFunction(fn, v, ordered, skipPhi); err != nil {
			return err
		}
	}
	return nil
}

// RunFunction walks a single function.
func RunFunction(fn *Function, v Visitor, ordered, skipPhi bool) error {
	if err := v.VisitFunction(fn); err != nil {
		if err == SkipChildren {
			return nil
		}
		return err
	}
	blocks := fn.blocks
	if ordered {
		fn.ClassifyEdges()
		blocks = append([]*BasicBlock(nil), fn.rpo...)
	} else {
		blocks = append([]*BasicBlock(nil), blocks...)
	}
	for _, bb := range blocks {
		if err := v.VisitBlock(bb); err != nil {
			if err == SkipChildren {
				continue
			}
			return err
		}
		i := bb.head
		if skipPhi {
			i = bb.Entry()
		}
		for i != nil {
			next := i.next
			if err := v.VisitInstruction(i); err != nil {
				if err == SkipChildren {
					break
				}
				return err
			}
			i = next
		}
	}
	return nil
}
