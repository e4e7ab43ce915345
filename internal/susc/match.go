package susc

import "github.com/hivdb/susc-match/internal/mutation"

// MatchType describes how an isolate's mutations relate to the query.
type MatchType int

// Match types in rank order. Superset means the isolate carries every query
// mutation and more; Subset means the query carries every isolate mutation
// and more.
const (
	Equal MatchType = iota
	Superset
	Subset
	Overlap
	Mismatch
)

var matchTypeNames = [...]string{"EQUAL", "SUPERSET", "SUBSET", "OVERLAP", "MISMATCH"}

func (t MatchType) String() string {
	if t < 0 || int(t) >= len(matchTypeNames) {
		return "UNKNOWN"
	}
	return matchTypeNames[t]
}

// ParseMatchType is the inverse of MatchType.String.
func ParseMatchType(s string) (MatchType, bool) {
	for i, name := range matchTypeNames {
		if name == s {
			return MatchType(i), true
		}
	}
	return 0, false
}

// Classify derives the match type from split mutation counts.
func Classify(shared, queryLen, isolateLen int) MatchType {
	if shared == 0 {
		return Mismatch
	}
	isoOnly := isolateLen - shared
	queryOnly := queryLen - shared
	switch {
	case isoOnly == 0 && queryOnly == 0:
		return Equal
	case isoOnly > 0 && queryOnly == 0:
		return Superset
	case isoOnly == 0 && queryOnly > 0:
		return Subset
	}
	return Overlap
}

// Compare classifies two comparable mutation sets directly.
func Compare(query, isolate mutation.Set) (t MatchType, isoOnly, queryOnly int) {
	shared := query.Intersect(isolate).SplitLen()
	isoOnly = isolate.SplitLen() - shared
	queryOnly = query.SplitLen() - shared
	return Classify(shared, query.SplitLen(), isolate.SplitLen()), isoOnly, queryOnly
}

// Match is a result bound to one query.
type Match struct {
	Type           MatchType
	NumIsolateOnly int
	NumQueryOnly   int
	*Result
}

// NumDiff returns the total number of differing split mutations.
func (m *Match) NumDiff() int {
	return m.NumIsolateOnly + m.NumQueryOnly
}
