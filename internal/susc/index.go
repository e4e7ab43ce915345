package susc

import (
	"slices"

	"github.com/hivdb/susc-match/internal/mutation"
)

// profile is one distinct comparable mutation set and the results sharing it.
type profile struct {
	mutations mutation.Set
	splitLen  int
	results   []*Result
}

// Index maps split mutations to the profiles containing them. It is built
// once and never modified, so concurrent queries need no locking.
type Index struct {
	normalizer *Normalizer
	profiles   []*profile
	postings   map[mutation.Key][]int32
	numResults int
}

// BuildIndex creates an index over results. Profiles keep first-seen order.
func BuildIndex(results []*Result, n *Normalizer) *Index {
	ix := &Index{
		normalizer: n,
		postings:   make(map[mutation.Key][]int32),
		numResults: len(results),
	}
	byKey := make(map[string]int)
	for _, r := range results {
		key := r.comparable.Key()
		pi, ok := byKey[key]
		if !ok {
			pi = len(ix.profiles)
			byKey[key] = pi
			ix.profiles = append(ix.profiles, &profile{
				mutations: r.comparable,
				splitLen:  r.comparable.SplitLen(),
			})
			for _, m := range r.comparable.Splitted() {
				k := m.Key()
				ix.postings[k] = append(ix.postings[k], int32(pi))
			}
		}
		ix.profiles[pi].results = append(ix.profiles[pi].results, r)
	}
	return ix
}

// Len returns the number of indexed results.
func (ix *Index) Len() int { return ix.numResults }

// NumProfiles returns the number of distinct comparable mutation sets.
func (ix *Index) NumProfiles() int { return len(ix.profiles) }

// Normalizer returns the normalizer the index was built with.
func (ix *Index) Normalizer() *Normalizer { return ix.normalizer }

// Query returns every result sharing at least one comparable mutation with
// query. Results are grouped by profile in first-seen order, load order
// within a profile. Profiles sharing nothing are never visited.
func (ix *Index) Query(query mutation.Set) []*Match {
	q := ix.normalizer.Comparable(query)
	qLen := q.SplitLen()

	shared := make(map[int32]int)
	var order []int32
	for _, m := range q.Splitted() {
		for _, pi := range ix.postings[m.Key()] {
			if shared[pi] == 0 {
				order = append(order, pi)
			}
			shared[pi]++
		}
	}
	slices.Sort(order)

	var matches []*Match
	for _, pi := range order {
		p := ix.profiles[pi]
		n := shared[pi]
		t := Classify(n, qLen, p.splitLen)
		if t == Mismatch {
			continue
		}
		for _, r := range p.results {
			matches = append(matches, &Match{
				Type:           t,
				NumIsolateOnly: p.splitLen - n,
				NumQueryOnly:   qLen - n,
				Result:         r,
			})
		}
	}
	return matches
}
