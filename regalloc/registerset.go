// Copyright 2025 The GoGPU Authors
// SPDX-License-Identifier: MIT

package regalloc

import (
	"fmt"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"github.com/gogpu/gpucc/ir"
)

// RegisterSet tracks the occupied allocation units of every register file.
//
// A unit is 1<<FileUnit bytes: a 64 bit value in the GPR file of a target
// with 4 byte units occupies two consecutive units. Register ids count units.
type RegisterSet struct {
	bits [ir.NumFiles]*bitset.BitSet
	unit [ir.NumFiles]int
	last [ir.NumFiles]int
	fill [ir.NumFiles]int
}

// NewRegisterSet returns an empty register set sized for targ.
func NewRegisterSet(targ ir.Target) *RegisterSet {
	rs := &RegisterSet{}
	for f := ir.DataFile(0); int(f) < ir.NumFiles; f++ {
		rs.last[f] = -1
		rs.fill[f] = -1
		if !f.IsRegister() {
			continue
		}
		rs.last[f] = targ.FileSize(f) - 1
		rs.unit[f] = targ.FileUnit(f)
		rs.bits[f] = bitset.New(uint(max(targ.FileSize(f), 0)))
	}
	return rs
}

// Reset frees every register. The highest assigned ids are kept.
func (rs *RegisterSet) Reset() {
	for _, b := range rs.bits {
		if b != nil {
			b.ClearAll()
		}
	}
}

// Clone returns an independent copy of rs.
func (rs *RegisterSet) Clone() *RegisterSet {
	c := *rs
	for f, b := range rs.bits {
		if b != nil {
			c.bits[f] = b.Clone()
		}
	}
	return &c
}

// CopyFrom makes rs equal to other without allocating.
func (rs *RegisterSet) CopyFrom(other *RegisterSet) {
	for f, b := range other.bits {
		if b != nil {
			b.CopyFull(rs.bits[f])
		}
	}
	rs.fill = other.fill
}

// PeriodicMask applies a 32 unit pattern to the whole file: units whose
// bit is set in lock become occupied, then units whose bit is set in
// unlock become free.
func (rs *RegisterSet) PeriodicMask(f ir.DataFile, lock, unlock uint32) {
	b := rs.bits[f]
	if b == nil {
		return
	}
	for r := 0; r <= rs.last[f]; r++ {
		bit := uint32(1) << (r % 32)
		if lock&bit != 0 {
			b.Set(uint(r))
		}
		if unlock&bit != 0 {
			b.Clear(uint(r))
		}
	}
}

// Intersect restricts the free units of f to those also free in other.
func (rs *RegisterSet) Intersect(f ir.DataFile, other *RegisterSet) {
	if rs.bits[f] == nil || other.bits[f] == nil {
		return
	}
	rs.bits[f].InPlaceUnion(other.bits[f])
}

// Assign gives the values in defs consecutive registers at the lowest free
// base aligned to the size of the whole group. A group of three is
// allocated like a group of four. Values with an empty live interval keep
// their slot in the group but no register. It reports false if the file
// has no room left.
func (rs *RegisterSet) Assign(defs []*ir.Value) bool {
	f := defs[0].Reg.File
	b := rs.bits[f]
	if b == nil {
		return false
	}
	n := len(defs)
	if n == 3 {
		n = 4
	}
	s := (n * int(defs[0].Reg.Size)) >> rs.unit[f]
	if s < 1 {
		s = 1
	}

	id := -1
	for base := 0; base+s-1 <= rs.last[f]; base += s {
		if rs.free(f, base, s) {
			id = base
			break
		}
	}
	if id < 0 {
		return false
	}
	for r := id; r < id+s; r++ {
		b.Set(uint(r))
	}
	if id+s-1 > rs.fill[f] {
		rs.fill[f] = id + s - 1
	}

	step := max(int(defs[0].Reg.Size)>>rs.unit[f], 1)
	for _, v := range defs {
		if !v.Live.IsEmpty() {
			v.Reg.ID = int32(id)
		}
		id += step
	}
	return true
}

func (rs *RegisterSet) free(f ir.DataFile, base, n int) bool {
	for r := base; r < base+n; r++ {
		if rs.bits[f].Test(uint(r)) {
			return false
		}
	}
	return true
}

func (rs *RegisterSet) units(v *ir.Value) int {
	return max(int(v.Reg.Size)>>rs.unit[v.Reg.File], 1)
}

// Occupy marks the registers of an assigned value as used.
func (rs *RegisterSet) Occupy(v *ir.Value) {
	b := rs.bits[v.Reg.File]
	if v.Reg.ID < 0 || b == nil {
		return
	}
	id, n := int(v.Reg.ID), rs.units(v)
	for r := id; r < id+n; r++ {
		b.Set(uint(r))
	}
	if id+n-1 > rs.fill[v.Reg.File] && id+n-1 <= rs.last[v.Reg.File] {
		rs.fill[v.Reg.File] = id + n - 1
	}
}

// Release marks the registers of an assigned value as free.
func (rs *RegisterSet) Release(v *ir.Value) {
	b := rs.bits[v.Reg.File]
	if v.Reg.ID < 0 || b == nil {
		return
	}
	id := int(v.Reg.ID)
	for r := id; r < id+rs.units(v); r++ {
		b.Clear(uint(r))
	}
}

// IsOccupied reports whether unit id of f is in use.
func (rs *RegisterSet) IsOccupied(f ir.DataFile, id int) bool {
	b := rs.bits[f]
	return b != nil && id >= 0 && b.Test(uint(id))
}

// MaxAssigned returns the highest unit of f ever assigned or occupied, or -1.
func (rs *RegisterSet) MaxAssigned(f ir.DataFile) int { return rs.fill[f] }

func (rs *RegisterSet) String() string {
	var sb strings.Builder
	for f, b := range rs.bits {
		if b == nil || rs.last[f] < 0 {
			continue
		}
		fmt.Fprintf(&sb, "%s:", ir.DataFile(f))
		for r := 0; r <= rs.last[f]; r++ {
			if r%32 == 0 {
				sb.WriteByte(' ')
			}
			if b.Test(uint(r)) {
				sb.WriteByte('x')
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
