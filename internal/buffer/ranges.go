// Package buffer models how much playable content is contiguously
// available ahead of the playback cursor and classifies buffer health.
package buffer

import (
	"fmt"
	"sort"
)

// Range is a half-open [Start,End) interval of playback seconds.
type Range struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Len returns the range length in seconds.
func (r Range) Len() float64 {
	return r.End - r.Start
}

// Contains reports whether t lies inside the range.
func (r Range) Contains(t float64) bool {
	return t >= r.Start && t < r.End
}

func (r Range) String() string {
	return fmt.Sprintf("[%.3f,%.3f)", r.Start, r.End)
}

// touches reports whether the two ranges overlap or are adjacent, so that
// merging them produces one contiguous range.
func (r Range) touches(other Range) bool {
	return r.Start <= other.End && other.Start <= r.End
}

// RangeSet is an ordered set of disjoint ranges. Adding ranges coalesces
// adjacent and overlapping intervals, so insertion order does not matter
// and re-adding a covered range is a no-op.
type RangeSet struct {
	ranges []Range
}

// Add merges r into the set, coalescing with any touching ranges.
func (s *RangeSet) Add(r Range) {
	if r.End <= r.Start {
		return
	}

	merged := r
	out := s.ranges[:0]
	for _, existing := range s.ranges {
		if existing.touches(merged) {
			if existing.Start < merged.Start {
				merged.Start = existing.Start
			}
			if existing.End > merged.End {
				merged.End = existing.End
			}
			continue
		}
		out = append(out, existing)
	}
	out = append(out, merged)
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	s.ranges = out
}

// AddAll merges every range into the set.
func (s *RangeSet) AddAll(ranges []Range) {
	for _, r := range ranges {
		s.Add(r)
	}
}

// Contains reports whether t lies inside any range.
func (s *RangeSet) Contains(t float64) bool {
	_, ok := s.at(t)
	return ok
}

// at returns the range containing t.
func (s *RangeSet) at(t float64) (Range, bool) {
	for _, r := range s.ranges {
		if r.Contains(t) {
			return r, true
		}
	}
	return Range{}, false
}

// Ahead returns the seconds of contiguous content between cursor and the
// end of the range containing it, or 0 when the cursor is in a gap.
func (s *RangeSet) Ahead(cursor float64) float64 {
	r, ok := s.at(cursor)
	if !ok {
		return 0
	}
	return r.End - cursor
}

// Next returns the first range starting at or after t.
func (s *RangeSet) Next(t float64) (Range, bool) {
	for _, r := range s.ranges {
		if r.Start >= t {
			return r, true
		}
	}
	return Range{}, false
}

// Covered returns how many seconds of r are already present in the set.
func (s *RangeSet) Covered(r Range) float64 {
	var covered float64
	for _, existing := range s.ranges {
		start := max(existing.Start, r.Start)
		end := min(existing.End, r.End)
		if end > start {
			covered += end - start
		}
	}
	return covered
}

// Ranges returns a copy of the set in ascending order.
func (s *RangeSet) Ranges() []Range {
	out := make([]Range, len(s.ranges))
	copy(out, s.ranges)
	return out
}

// Len returns the number of disjoint ranges.
func (s *RangeSet) Len() int {
	return len(s.ranges)
}

// TotalSeconds returns the summed length of all ranges.
func (s *RangeSet) TotalSeconds() float64 {
	var total float64
	for _, r := range s.ranges {
		total += r.Len()
	}
	return total
}
