package rangeset

import "sort"

// List is a canonical, begin-sorted, non-overlapping set of Ranges. Any two
// adjacent entries are never merge-eligible in a List: the invariant is
// that for consecutive entries r[i], r[i+1], r[i].End+1 < r[i+1].Begin.
//
// The zero value is an empty List ready to use.
type List struct {
	ranges []Range
}

// NewList builds a List out of already-disjoint ranges, for use in tests
// and decoders. Overlapping/adjacent input ranges are merged via Insert.
func NewList(rs ...Range) *List {
	l := &List{}
	for _, r := range rs {
		l.Insert(r)
	}
	return l
}

// Len returns the number of disjoint ranges currently stored.
func (l *List) Len() int {
	return len(l.ranges)
}

// Ranges returns a copy of the canonical range slice, begin-sorted.
func (l *List) Ranges() []Range {
	out := make([]Range, len(l.ranges))
	copy(out, l.ranges)
	return out
}

// search returns the index of the first stored range whose End+1 is >=
// begin - i.e. the first range that could possibly overlap or merge
// with a range starting at begin.
func (l *List) search(begin uint64) int {
	return sort.Search(len(l.ranges), func(i int) bool {
		return l.ranges[i].End+1 >= begin
	})
}

// Insert merges r into the list, absorbing any existing range that
// overlaps or is adjacent to it.
func (l *List) Insert(r Range) {
	i := l.search(r.Begin)
	merged := r
	j := i
	for j < len(l.ranges) && merged.adjacentOrOverlapping(l.ranges[j]) {
		if l.ranges[j].Begin < merged.Begin {
			merged.Begin = l.ranges[j].Begin
		}
		if l.ranges[j].End > merged.End {
			merged.End = l.ranges[j].End
		}
		j++
	}
	tail := append([]Range{}, l.ranges[j:]...)
	l.ranges = append(append(l.ranges[:i], merged), tail...)
}

// Erase removes r from the list, splitting any range that straddles one of
// r's edges. After Erase, no stored range overlaps r.
func (l *List) Erase(r Range) {
	var out []Range
	for _, existing := range l.ranges {
		if !existing.Overlaps(r) {
			out = append(out, existing)
			continue
		}
		if existing.Begin < r.Begin {
			out = append(out, Range{existing.Begin, r.Begin - 1})
		}
		if existing.End > r.End {
			out = append(out, Range{r.End + 1, existing.End})
		}
	}
	l.ranges = out
}

// Contains reports whether r intersects any stored range.
func (l *List) Contains(r Range) bool {
	for _, existing := range l.ranges {
		if existing.Overlaps(r) {
			return true
		}
	}
	return false
}

// ContainsFull reports whether some single stored range is a superset of r.
func (l *List) ContainsFull(r Range) bool {
	for _, existing := range l.ranges {
		if existing.ContainsFull(r) {
			return true
		}
	}
	return false
}

// ContainsOffset reports whether offset lies in some stored range.
func (l *List) ContainsOffset(offset uint64) bool {
	for _, existing := range l.ranges {
		if existing.ContainsOffset(offset) {
			return true
		}
		if existing.Begin > offset {
			break
		}
	}
	return false
}

// Subtract returns the ranges in l that are not covered by other.
func (l *List) Subtract(other *List) []Range {
	var out []Range
	for _, r := range l.ranges {
		remaining := []Range{r}
		for _, o := range other.ranges {
			if !o.Overlaps(r) {
				continue
			}
			var next []Range
			for _, rem := range remaining {
				if !rem.Overlaps(o) {
					next = append(next, rem)
					continue
				}
				if rem.Begin < o.Begin {
					next = append(next, Range{rem.Begin, o.Begin - 1})
				}
				if rem.End > o.End {
					next = append(next, Range{o.End + 1, rem.End})
				}
			}
			remaining = next
		}
		out = append(out, remaining...)
	}
	return out
}

// TotalLength sums the length of every stored range.
func (l *List) TotalLength() uint64 {
	var total uint64
	for _, r := range l.ranges {
		total += r.Length()
	}
	return total
}

// Clone returns an independent copy of l.
func (l *List) Clone() *List {
	clone := &List{ranges: make([]Range, len(l.ranges))}
	copy(clone.ranges, l.ranges)
	return clone
}
