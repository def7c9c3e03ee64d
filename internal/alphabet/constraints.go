package alphabet

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MeKo-Tech/ctcbeam/internal/beamsearch"
)

// Constraints converts per-position entries into beam search constraints.
//
// With an empty sep, a symbol is allowed at position k when entries[k]
// contains it, so "0123456789" allows any digit. Otherwise entries[k] is split
// on sep and every part must be a symbol of c. Empty entries leave their
// position unconstrained.
func (c *Charset) Constraints(entries []string, sep string) (beamsearch.Constraints, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	normalized := make([]string, len(entries))
	for i, e := range entries {
		normalized[i] = Normalize(e)
	}
	if sep == "" {
		return beamsearch.ContainmentConstraints(c.Alphabet(), normalized)
	}

	out := make(beamsearch.Constraints, len(normalized))
	for k, entry := range normalized {
		for _, part := range strings.Split(entry, sep) {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if c.LookupIndex(part) < 0 {
				return nil, fmt.Errorf("position %d %q: %w", k, part, beamsearch.ErrUnknownConstraintSymbol)
			}
			out[k] = append(out[k], part)
		}
	}
	return out, nil
}

// LoadConstraints reads one constraint entry per line. Empty lines are kept
// and mean "any symbol" at that position.
func LoadConstraints(path string) ([]string, error) {
	if path == "" {
		return nil, errors.New("constraint path cannot be empty")
	}
	lines, err := readFileLines(path, true)
	if err != nil {
		return nil, fmt.Errorf("failed to read constraints: %w", err)
	}
	return lines, nil
}
