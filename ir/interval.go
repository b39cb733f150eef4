package ir

import (
	"fmt"
	"strings"
)

// Range is a half-open span [Begin, End) of instruction serials.
type Range struct {
	Begin, End int
}

// Interval is the live range of a value: a sorted list of disjoint ranges.
//
// A range with Begin == End is kept. It records a hazard at a single
// position, used for definitions bound to fixed registers.
type Interval struct {
	ranges []Range
}

// Extend adds [a, b) to the interval, merging with touching ranges.
func (iv *Interval) Extend(a, b int) {
	if b < a {
		a, b = b, a
	}
	i := 0
	for i < len(iv.ranges) && iv.ranges[i].End < a {
		i++
	}
	j := i
	for j < len(iv.ranges) && iv.ranges[j].Begin <= b {
		if iv.ranges[j].Begin < a {
			a = iv.ranges[j].Begin
		}
		if iv.ranges[j].End > b {
			b = iv.ranges[j].End
		}
		j++
	}
	merged := Range{Begin: a, End: b}
	switch {
	case i == j:
		iv.ranges = append(iv.ranges, Range{})
		copy(iv.ranges[i+1:], iv.ranges[i:])
		iv.ranges[i] = merged
	default:
		iv.ranges[i] = merged
		iv.ranges = append(iv.ranges[:i+1], iv.ranges[j:]...)
	}
}

// Unify merges all ranges of other into iv.
func (iv *Interval) Unify(other *Interval) {
	for _, r := range other.ranges {
		iv.Extend(r.Begin, r.End)
	}
}

// Overlaps reports whether some position is live in both intervals.
func (iv *Interval) Overlaps(other *Interval) bool {
	a, b := iv.ranges, other.ranges
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].Begin < b[j].End && b[j].Begin < a[i].End {
			return true
		}
		if a[i].End <= b[j].End {
			i++
		} else {
			j++
		}
	}
	return false
}

// Contains reports whether pos lies inside one of the ranges.
func (iv *Interval) Contains(pos int) bool {
	for _, r := range iv.ranges {
		if r.Begin > pos {
			return false
		}
		if pos < r.End {
			return true
		}
	}
	return false
}

// Begin returns the first live position, or 0 for an empty interval.
func (iv *Interval) Begin() int {
	if len(iv.ranges) == 0 {
		return 0
	}
	return iv.ranges[0].Begin
}

// End returns the end of the last range, or 0 for an empty interval.
func (iv *Interval) End() int {
	if len(iv.ranges) == 0 {
		return 0
	}
	return iv.ranges[len(iv.ranges)-1].End
}

// IsEmpty reports whether the interval has no ranges.
func (iv *Interval) IsEmpty() bool { return len(iv.ranges) == 0 }

// Clear removes all ranges.
func (iv *Interval) Clear() { iv.ranges = iv.ranges[:0] }

// Ranges returns the ranges of the interval. The slice must not be modified.
func (iv *Interval) Ranges() []Range { return iv.ranges }

func (iv *Interval) String() string {
	var sb strings.Builder
	for i, r := range iv.ranges {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "[%d, %d)", r.Begin, r.End)
	}
	return sb.String()
}
