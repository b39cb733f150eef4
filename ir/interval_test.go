package ir

import (
	"testing"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestInterval_Extend(t *testing.T) {
	tests := []struct {
		name   string
		extend [][2]int
		want   []Range
	}{
		{"single", [][2]int{{2, 5}}, []Range{{2, 5}}},
		{"disjoint sorted", [][2]int{{8, 9}, {2, 5}}, []Range{{2, 5}, {8, 9}}},
		{"touching merges", [][2]int{{2, 5}, {5, 7}}, []Range{{2, 7}}},
		{"overlap merges", [][2]int{{2, 5}, {4, 9}}, []Range{{2, 9}}},
		{"bridge merges three", [][2]int{{1, 2}, {5, 6}, {9, 10}, {2, 9}}, []Range{{1, 10}}},
		{"contained", [][2]int{{1, 10}, {3, 4}}, []Range{{1, 10}}},
		{"reversed bounds", [][2]int{{7, 3}}, []Range{{3, 7}}},
		{"zero width kept", [][2]int{{4, 4}}, []Range{{4, 4}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var iv Interval
			for _, e := range tt.extend {
				iv.Extend(e[0], e[1])
			}
			assert.Check(t, is.DeepEqual(iv.Ranges(), tt.want))
		})
	}
}

func TestInterval_Overlaps(t *testing.T) {
	mk := func(rs ...Range) *Interval {
		var iv Interval
		for _, r := range rs {
			iv.Extend(r.Begin, r.End)
		}
		return &iv
	}
	tests := []struct {
		name string
		a, b *Interval
		want bool
	}{
		{"adjacent", mk(Range{1, 3}), mk(Range{3, 5}), false},
		{"nested", mk(Range{1, 10}), mk(Range{4, 5}), true},
		{"interleaved", mk(Range{1, 2}, Range{5, 6}), mk(Range{2, 5}, Range{6, 8}), false},
		{"late hit", mk(Range{1, 2}, Range{7, 9}), mk(Range{3, 4}, Range{8, 12}), true},
		{"hazard inside", mk(Range{5, 5}), mk(Range{3, 8}), true},
		{"hazard at begin", mk(Range{5, 5}), mk(Range{5, 8}), false},
		{"empty", mk(), mk(Range{0, 100}), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Check(t, is.Equal(tt.a.Overlaps(tt.b), tt.want))
			assert.Check(t, is.Equal(tt.b.Overlaps(tt.a), tt.want))
		})
	}
}

func TestInterval_Contains(t *testing.T) {
	var iv Interval
	iv.Extend(2, 4)
	iv.Extend(8, 10)

	assert.Check(t, !iv.Contains(1))
	assert.Check(t, iv.Contains(2))
	assert.Check(t, iv.Contains(3))
	assert.Check(t, !iv.Contains(4))
	assert.Check(t, iv.Contains(9))
	assert.Check(t, !iv.Contains(10))
	assert.Check(t, is.Equal(iv.Begin(), 2))
	assert.Check(t, is.Equal(iv.End(), 10))
	assert.Check(t, is.Equal(iv.String(), "[2, 4) [8, 10)"))

	iv.Clear()
	assert.Check(t, iv.IsEmpty())
}
