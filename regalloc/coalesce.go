// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package regalloc

import (
	"github.com/containerd/errdefs"
	"github.com/gogpu/gpucc/ir"
	"github.com/pkg/errors"
)

// JoinMask selects the instructions whose operands Coalesce merges.
type JoinMask uint8

const (
	// JoinPhi merges phi operands with the phi result. Failure is fatal.
	JoinPhi JoinMask = 1 << iota
	// JoinUnion merges the sources of a UNION with its result.
	JoinUnion
	// JoinMov merges the result of a plain copy with its source.
	JoinMov
	// JoinTex merges texture results with the coordinates at the same slot.
	JoinTex
	// JoinConstraint merges the results of a CONSTRAINT with its sources.
	JoinConstraint
)

// Coalesce merges the values connected by the instructions selected by
// mask. Everything but phi operands is merged on a best effort basis.
func Coalesce(fn *ir.Function, mask JoinMask) error {
	for _, bb := range fn.BBArray {
		for i := bb.First(); i != nil; i = i.Next() {
			if err := coalesceInsn(i, mask); err != nil {
				return err
			}
		}
	}
	return nil
}

func coalesceInsn(i *ir.Instruction, mask JoinMask) error {
	switch {
	case i.Op == ir.OpPhi:
		if mask&JoinPhi == 0 {
			return nil
		}
		for s := 0; i.SrcExists(s); s++ {
			if !i.GetDef(0).Coalesce(i.GetSrc(s), false) {
				return errors.Wrapf(errdefs.ErrFailedPrecondition,
					"coalescing phi operand %d of %s in %s", s, i, i.BB())
			}
		}
	case i.Op == ir.OpUnion:
		if mask&JoinUnion == 0 {
			return nil
		}
		for s := 0; i.SrcExists(s); s++ {
			i.GetDef(0).Coalesce(i.GetSrc(s), true)
		}
	case i.Op == ir.OpConstraint:
		if mask&JoinConstraint == 0 {
			return nil
		}
		for c := 0; c < ir.MaxDefs && i.SrcExists(c) && i.DefExists(c); c++ {
			i.GetDef(c).Coalesce(i.GetSrc(c), true)
		}
	case i.Op == ir.OpMov:
		if mask&JoinMov == 0 || i.PredSrc >= 0 || !i.SrcExists(0) || !i.DefExists(0) {
			return nil
		}
		// a constraint copy has a single use
		if uses := i.GetDef(0).Uses(); len(uses) > 0 && uses[0].Insn().Op == ir.OpConstraint {
			return nil
		}
		if defi := i.GetSrc(0).UniqueInsn(); defi != nil && !defi.ConstrainedDefs() {
			i.GetDef(0).Coalesce(i.GetSrc(0), false)
		}
	case i.Op.IsTexture():
		if mask&JoinTex == 0 {
			return nil
		}
		for c := 0; c < ir.MaxDefs && i.SrcExists(c) && i.DefExists(c); c++ {
			src := i.GetSrc(c)
			defi := src.UniqueInsn()
			i.GetDef(c).Coalesce(src, defi != nil && defi.Op == ir.OpConstraint)
		}
	}
	return nil
}
