package summary

import (
	"cmp"
	"math"
	"slices"

	"github.com/hivdb/susc-match/internal/susc"
)

// MaxNumMiss is the largest difference count a profile may have and still
// be shown.
const MaxNumMiss = 100

// Priority is the display priority of a ranked profile.
type Priority int

const (
	Hidden    Priority = -1 // Never shown
	Default   Priority = 0  // Shown by default
	Collapsed Priority = 1  // Available but collapsed
)

func (p Priority) String() string {
	switch p {
	case Default:
		return "default"
	case Collapsed:
		return "collapsed"
	}
	return "hidden"
}

// DisplayOrder returns 0 or 1, and false for hidden profiles.
func (p Priority) DisplayOrder() (int, bool) {
	if p == Hidden {
		return 0, false
	}
	return int(p), true
}

// RankedProfile is a profile group with its display priority.
type RankedProfile struct {
	*ProfileGroup
	Priority Priority
	numDiff  int
	typ      susc.MatchType
}

// rankState carries what the prioritize pass observed into later passes.
type rankState struct {
	defaultType susc.MatchType
	subsetMin   int
	subsetMax   int
	overlapMin  int
	hasOverlap  bool
}

// RankProfiles decides which profile groups are shown by default, collapsed
// or hidden, and sorts them. The result depends only on the set of groups,
// not their input order. The passes run in a fixed order; each later pass
// corrects the one before.
func RankProfiles(groups []*ProfileGroup) []*RankedProfile {
	if len(groups) == 0 {
		return nil
	}
	ranked := orderProfiles(groups)
	ranked, st := prioritize(ranked)
	ranked, st = rebalance(ranked, st)
	ranked = tighten(ranked, st)
	return sortRanked(ranked)
}

// orderProfiles fixes the input order by match type, difference count,
// displayed mutations and variant. Every group starts hidden.
func orderProfiles(groups []*ProfileGroup) []*RankedProfile {
	out := make([]*RankedProfile, len(groups))
	for i, g := range groups {
		out[i] = &RankedProfile{ProfileGroup: g, Priority: Hidden, numDiff: g.NumDiff(), typ: g.MatchType()}
	}
	slices.SortStableFunc(out, func(a, b *RankedProfile) int {
		if c := cmp.Compare(a.typ, b.typ); c != 0 {
			return c
		}
		if c := cmp.Compare(a.numDiff, b.numDiff); c != 0 {
			return c
		}
		if c := a.Mutations.Compare(b.Mutations); c != 0 {
			return c
		}
		if c := a.Comparable.Compare(b.Comparable); c != 0 {
			return c
		}
		return cmp.Compare(a.variantName(), b.variantName())
	})
	return out
}

func copyRanked(in []*RankedProfile) []*RankedProfile {
	out := make([]*RankedProfile, len(in))
	for i, r := range in {
		c := *r
		out[i] = &c
	}
	return out
}

// prioritize gives the first surviving match type priority 0 and the next
// two priority 1. An overlap is hidden unless it differs less than the worst
// subset seen before it.
func prioritize(in []*RankedProfile) ([]*RankedProfile, rankState) {
	out := copyRanked(in)

	var types []susc.MatchType
	for _, r := range out {
		if r.numDiff <= MaxNumMiss && !slices.Contains(types, r.typ) {
			types = append(types, r.typ)
		}
	}
	st := rankState{subsetMin: math.MaxInt, overlapMin: math.MaxInt}
	if len(types) == 0 {
		return out, st
	}
	st.defaultType = types[0]
	expandable := types[1:min(len(types), 3)]

	for _, r := range out {
		if r.numDiff > MaxNumMiss {
			continue
		}
		if r.typ == susc.Subset {
			st.subsetMax = max(st.subsetMax, r.numDiff)
			st.subsetMin = min(st.subsetMin, r.numDiff)
		}
		p := Hidden
		switch {
		case r.typ == st.defaultType:
			p = Default
		case slices.Contains(expandable, r.typ):
			p = Collapsed
		}
		if p != Hidden && r.typ == susc.Overlap {
			if r.numDiff >= st.subsetMax {
				p = Hidden
			} else {
				st.hasOverlap = true
				st.overlapMin = min(st.overlapMin, r.numDiff)
			}
		}
		r.Priority = p
	}
	return out, st
}

// rebalance makes overlaps the default when the best overlap differs less
// than the best subset. Collapsed groups close to the best overlap are
// promoted and every default group is collapsed.
func rebalance(in []*RankedProfile, st rankState) ([]*RankedProfile, rankState) {
	if !st.hasOverlap || st.defaultType != susc.Subset || st.overlapMin >= st.subsetMin {
		return in, st
	}
	out := copyRanked(in)
	for _, r := range out {
		switch {
		case r.Priority == Collapsed &&
			r.numDiff < st.subsetMin &&
			r.numDiff-st.overlapMin < st.subsetMin-r.numDiff:
			r.Priority = Default
		case r.Priority == Default:
			r.Priority = Collapsed
		}
	}
	st.defaultType = susc.Overlap
	return out, st
}

// tighten collapses imperfect subsets when the best subset is close to equal
// and the subsets spread widely.
func tighten(in []*RankedProfile, st rankState) []*RankedProfile {
	if st.defaultType != susc.Subset || st.subsetMax-st.subsetMin <= 3 || st.subsetMin >= 4 {
		return in
	}
	out := copyRanked(in)
	for _, r := range out {
		if r.typ != susc.Subset || r.numDiff > MaxNumMiss {
			continue
		}
		if r.numDiff > st.subsetMin {
			r.Priority = Collapsed
		} else {
			r.Priority = Default
		}
	}
	return out
}

// sortRanked puts hidden groups last, then orders by priority, difference
// count and displayed mutations.
func sortRanked(in []*RankedProfile) []*RankedProfile {
	out := slices.Clone(in)
	slices.SortStableFunc(out, func(a, b *RankedProfile) int {
		if (a.Priority == Hidden) != (b.Priority == Hidden) {
			if a.Priority == Hidden {
				return 1
			}
			return -1
		}
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		if c := cmp.Compare(a.numDiff, b.numDiff); c != 0 {
			return c
		}
		return a.Mutations.Compare(b.Mutations)
	})
	return out
}
