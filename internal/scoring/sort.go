package scoring

import (
	"cmp"
	"fmt"
	"slices"
)

// Comparator orders two scored candidates; negative means a ranks first.
type Comparator func(a, b ScoredCandidate) int

// Strategy names a re-sort applied to an already scored set.
type Strategy string

const (
	Balanced       Strategy = "balanced"
	PreferUntapped Strategy = "prefer-untapped"
	PreferTrending Strategy = "prefer-trending"
)

// ByScore orders by total score descending, then key ascending.
func ByScore(a, b ScoredCandidate) int {
	if c := cmp.Compare(b.Score, a.Score); c != 0 {
		return c
	}
	return cmp.Compare(a.Key, b.Key)
}

// ByFactor orders by one factor's contribution, then falls back to ByScore.
func ByFactor(name string) Comparator {
	return func(a, b ScoredCandidate) int {
		fa, _ := a.Factor(name)
		fb, _ := b.Factor(name)
		if c := cmp.Compare(fb.Contribution, fa.Contribution); c != 0 {
			return c
		}
		return ByScore(a, b)
	}
}

// ComparatorFor resolves a strategy name.
func ComparatorFor(s Strategy) (Comparator, error) {
	switch s {
	case "", Balanced:
		return ByScore, nil
	case PreferUntapped:
		return ByFactor(FactorUntapped), nil
	case PreferTrending:
		return ByFactor(FactorTrend), nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownStrategy, s)
}

// Sort returns a copy of scored ordered by c with Rank set to 1..N. Factors
// are not recomputed.
func Sort(scored []ScoredCandidate, c Comparator) []ScoredCandidate {
	out := slices.Clone(scored)
	slices.SortStableFunc(out, c)
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

// Select returns the top n of an already sorted set.
func Select(sorted []ScoredCandidate, n int) []ScoredCandidate {
	if n <= 0 || n >= len(sorted) {
		return slices.Clone(sorted)
	}
	return slices.Clone(sorted[:n])
}
