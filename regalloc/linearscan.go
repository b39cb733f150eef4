// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package regalloc

import (
	"slices"

	"github.com/containerd/errdefs"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gogpu/gpucc/ir"
	"github.com/pkg/errors"
)

// collectValues returns the coalescing representatives defined in fn that
// have a live interval, ordered by interval start. With assignedOnly set
// only values already bound to a register are returned.
func collectValues(fn *ir.Function, assignedOnly bool) []*ir.Value {
	seen := mapset.NewThreadUnsafeSet[*ir.Value]()
	var vals []*ir.Value
	for _, bb := range fn.BBArray {
		for i := bb.First(); i != nil; i = i.Next() {
			for d := 0; i.DefExists(d); d++ {
				v := i.Def(d).Rep()
				if !v.IsLValue() || v.Live.IsEmpty() || (assignedOnly && !v.IsFixed()) {
					continue
				}
				if seen.Add(v) {
					vals = append(vals, v)
				}
			}
		}
	}
	slices.SortStableFunc(vals, func(a, b *ir.Value) int {
		return a.Live.Begin() - b.Live.Begin()
	})
	return vals
}

// laneMask is the 32 unit pattern of the registers lane c of a group may
// use, for lanes of w units and groups spanning s units.
func laneMask(c, w, s int) uint32 {
	var m uint32
	for p := 0; p < 32; p++ {
		if (p%s)/w == c {
			m |= 1 << p
		}
	}
	return m
}

// allocateConstrainedValues assigns consecutive registers to the results
// of every instruction with several definitions. For each lane c, the
// registers occupied by assigned values overlapping that lane are limited
// to the class lane c may use within an aligned group; the union of these
// sets leaves free only the bases that suit every lane.
func (a *allocator) allocateConstrainedValues() error {
	regVals := collectValues(a.fn, true)
	sets := make([]*RegisterSet, ir.MaxDefs)
	for c := range sets {
		sets[c] = NewRegisterSet(a.targ)
	}

	for _, bb := range a.fn.BBArray {
		for i := bb.First(); i != nil; i = i.Next() {
			n := i.DefCount()
			if n < 2 {
				continue
			}
			defs := make([]*ir.Value, n)
			for c := range defs {
				defs[c] = i.Def(c).Rep()
			}
			file := defs[0].Reg.File
			if slices.ContainsFunc(defs, func(v *ir.Value) bool {
				return v.Reg.File != file || v.Reg.Size != defs[0].Reg.Size
			}) {
				continue
			}
			if defs[0].IsFixed() {
				if err := a.completeGroup(i, defs, regVals); err != nil {
					return err
				}
				continue
			}

			w := max(int(defs[0].Reg.Size)>>a.targ.FileUnit(file), 1)
			span := n
			if span == 3 {
				span = 4
			}
			for c := 0; c < n; c++ {
				rs := sets[c]
				rs.Reset()
				for _, rv := range regVals {
					if rv.IsFixed() && rv.Live.Overlaps(&defs[c].Live) {
						rs.Occupy(rv)
					}
				}
				rs.PeriodicMask(file, 0, ^laneMask(c, w, span*w))
				if !defs[c].Live.IsEmpty() {
					regVals = append(regVals, defs[c])
				}
			}
			for c := 1; c < n; c++ {
				sets[0].Intersect(file, sets[c])
			}
			if !sets[0].Assign(defs) {
				return errors.Wrapf(errdefs.ErrResourceExhausted,
					"out of %s registers for the %d results of %s", file, n, i)
			}
			a.groups++
		}
	}
	for _, rs := range sets {
		a.maxGPR = max(a.maxGPR, rs.MaxAssigned(ir.FileGPR))
	}
	return nil
}

// completeGroup places the unassigned results of a group whose first
// result already has a register right after it.
func (a *allocator) completeGroup(i *ir.Instruction, defs []*ir.Value, regVals []*ir.Value) error {
	file := defs[0].Reg.File
	step := max(int(defs[0].Reg.Size)>>a.targ.FileUnit(file), 1)
	for c, v := range defs[1:] {
		if v.IsFixed() || v.Live.IsEmpty() {
			continue
		}
		id := int(defs[0].Reg.ID) + (c+1)*step
		if id+step > a.targ.FileSize(file) {
			return errors.Wrapf(errdefs.ErrResourceExhausted,
				"result %d of %s would need %s%d, past the end of the file", c+1, i, file, id)
		}
		v.Reg.ID = int32(id)
		for _, rv := range regVals {
			if rv != v && rv.IsFixed() && rv.Interferes(v) && rv.Live.Overlaps(&v.Live) {
				return errors.Wrapf(errdefs.ErrResourceExhausted,
					"register %s%d required by result %d of %s is in use", v.Reg.File, v.Reg.ID, c+1, i)
			}
		}
	}
	return nil
}

// linearScan assigns a register to every remaining value in order of
// interval start. Active values hold their register at the current
// position, inactive ones are in a lifetime hole and hold it again later.
func (a *allocator) linearScan() error {
	unhandled := collectValues(a.fn, false)
	var active, inactive []*ir.Value
	free := NewRegisterSet(a.targ)
	f := NewRegisterSet(a.targ)

	for len(unhandled) > 0 {
		cur := unhandled[0]
		unhandled = unhandled[1:]
		begin := cur.Live.Begin()

		k := 0
		for _, v := range active {
			switch {
			case v.Live.End() <= begin:
				free.Release(v)
			case !v.Live.Contains(begin):
				free.Release(v)
				inactive = append(inactive, v)
			default:
				active[k] = v
				k++
			}
		}
		active = active[:k]

		k = 0
		for _, v := range inactive {
			switch {
			case v.Live.End() <= begin:
			case v.Live.Contains(begin):
				free.Occupy(v)
				active = append(active, v)
			default:
				inactive[k] = v
				k++
			}
		}
		inactive = inactive[:k]

		f.CopyFrom(free)
		for _, v := range inactive {
			if v.Live.Overlaps(&cur.Live) {
				f.Occupy(v)
			}
		}
		for _, v := range unhandled {
			if v.IsFixed() && v.Live.Overlaps(&cur.Live) {
				f.Occupy(v)
			}
		}

		if !cur.IsFixed() {
			if !f.Assign([]*ir.Value{cur}) {
				return errors.Wrapf(errdefs.ErrResourceExhausted,
					"out of %s registers allocating %s live over %s", cur.Reg.File, cur, &cur.Live)
			}
			a.assigned++
		}
		free.Occupy(cur)
		active = append(active, cur)
		a.maxGPR = max(a.maxGPR, f.MaxAssigned(ir.FileGPR), free.MaxAssigned(ir.FileGPR))
	}
	return nil
}
