package beamsearch

import (
	"fmt"
	"slices"
	"strings"
)

// Alphabet is the ordered symbol list of a model. The blank symbol is implicit
// at index len(Alphabet).
type Alphabet []string

// Blank returns the index of the blank symbol.
func (a Alphabet) Blank() int { return len(a) }

// Classes returns the expected probability frame length.
func (a Alphabet) Classes() int { return len(a) + 1 }

// Constraints restricts which symbols may extend a label: entry k lists the
// symbols allowed when the label currently has length k. A nil or empty list
// leaves decoding unconstrained, as do empty entries and positions past the end.
type Constraints [][]string

// ContainmentConstraints builds Constraints from per-position strings: a symbol
// is allowed at position k when entries[k] contains it. This is the "charset"
// form where "0123456789" permits any digit. Every rune of an entry must be
// covered by some symbol.
func ContainmentConstraints(alphabet Alphabet, entries []string) (Constraints, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make(Constraints, len(entries))
	for k, entry := range entries {
		if entry == "" {
			continue
		}
		covered := make([]bool, len(entry))
		allowed := make([]string, 0, len(entry))
		for _, sym := range alphabet {
			if sym == "" || !strings.Contains(entry, sym) {
				continue
			}
			allowed = append(allowed, sym)
			markCovered(covered, entry, sym)
		}
		for i, r := range entry {
			if !covered[i] {
				return nil, fmt.Errorf("position %d %q: %q: %w", k, entry, r, ErrUnknownConstraintSymbol)
			}
		}
		out[k] = allowed
	}
	return out, nil
}

// markCovered flags the bytes of every occurrence of sym in entry.
func markCovered(covered []bool, entry, sym string) {
	for off := 0; off < len(entry); {
		i := strings.Index(entry[off:], sym)
		if i < 0 {
			return
		}
		start := off + i
		for j := start; j < start+len(sym); j++ {
			covered[j] = true
		}
		off = start + 1
	}
}

// candidateSet is Constraints resolved to symbol indices. A nil position
// means every alphabet index is a candidate.
type candidateSet struct {
	all       []int
	positions [][]int
}

func resolveConstraints(index map[string]int, size int, c Constraints) (candidateSet, error) {
	set := candidateSet{all: make([]int, size)}
	for i := range size {
		set.all[i] = i
	}
	if len(c) == 0 {
		return set, nil
	}
	set.positions = make([][]int, len(c))
	for k, symbols := range c {
		if len(symbols) == 0 {
			continue
		}
		seen := make(map[int]bool, len(symbols))
		idxs := make([]int, 0, len(symbols))
		for _, sym := range symbols {
			i, ok := index[sym]
			if !ok {
				return candidateSet{}, fmt.Errorf("position %d %q: %w", k, sym, ErrUnknownConstraintSymbol)
			}
			if !seen[i] {
				seen[i] = true
				idxs = append(idxs, i)
			}
		}
		slices.Sort(idxs)
		set.positions[k] = idxs
	}
	return set, nil
}

// at returns the candidate indices for a label of length k.
func (s candidateSet) at(k int) []int {
	if k < len(s.positions) && s.positions[k] != nil {
		return s.positions[k]
	}
	return s.all
}
