package beamsearch

import (
	"cmp"
	"slices"
)

// compareBeams orders by PTotal descending, then by label so equal masses
// rank the same way on every run.
func compareBeams(a, b *Beam) int {
	if c := cmp.Compare(b.PTotal, a.PTotal); c != 0 {
		return c
	}
	return comparePrefixes(a.label, b.label)
}

// sortBeams returns the registry contents ranked best first.
func sortBeams(r registry) []*Beam {
	beams := make([]*Beam, 0, len(r))
	for _, b := range r {
		beams = append(beams, b)
	}
	slices.SortFunc(beams, compareBeams)
	return beams
}

// selectTop returns at most k beams of r, ranked best first.
func selectTop(r registry, k int) []*Beam {
	beams := sortBeams(r)
	if k < len(beams) {
		beams = beams[:k]
	}
	return beams
}
