// Package alphabet loads decoder alphabets from dictionary files and turns
// user supplied constraint strings into beam search constraints.
package alphabet

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/MeKo-Tech/ctcbeam/internal/beamsearch"
)

// Charset is an ordered, duplicate-free list of symbols. Symbols can be single
// Unicode characters or multi-codepoint strings.
type Charset struct {
	Tokens []string
	index  map[string]int
}

// Normalize returns s in Unicode NFC form.
func Normalize(s string) string {
	return norm.NFC.String(s)
}

// removeBOM removes UTF-8 BOM if present from the first line.
func removeBOM(line string, isFirstLine bool) string {
	if isFirstLine {
		return strings.TrimPrefix(line, "\uFEFF")
	}
	return line
}

// New builds a Charset from tokens. Tokens are NFC normalised; empty or
// duplicate tokens are rejected.
func New(tokens []string) (*Charset, error) {
	if len(tokens) == 0 {
		return nil, beamsearch.ErrEmptyAlphabet
	}
	cs := &Charset{
		Tokens: make([]string, 0, len(tokens)),
		index:  make(map[string]int, len(tokens)),
	}
	for i, t := range tokens {
		t = Normalize(t)
		if t == "" {
			return nil, fmt.Errorf("%w: token %d is empty", beamsearch.ErrInvalidArgument, i)
		}
		if prev, dup := cs.index[t]; dup {
			return nil, fmt.Errorf("%w: %q at %d and %d", beamsearch.ErrDuplicateSymbol, t, prev, i)
		}
		cs.index[t] = len(cs.Tokens)
		cs.Tokens = append(cs.Tokens, t)
	}
	return cs, nil
}

// FromString builds a Charset with one symbol per rune of s.
func FromString(s string) (*Charset, error) {
	runes := []rune(Normalize(s))
	tokens := make([]string, len(runes))
	for i, r := range runes {
		tokens[i] = string(r)
	}
	return New(tokens)
}

// readLines returns the trimmed lines of r with the BOM removed from the first line.
// Empty lines are kept when keepEmpty is set.
func readLines(r io.Reader, keepEmpty bool) ([]string, error) {
	scanner := bufio.NewScanner(r)
	lines := make([]string, 0, 128)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := removeBOM(strings.TrimSpace(scanner.Text()), lineNum == 1)
		if line == "" && !keepEmpty {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func readFileLines(path string, keepEmpty bool) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // G304: user-provided dictionary path
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing %s: %v\n", path, err)
		}
	}()
	return readLines(f, keepEmpty)
}

// Read parses a dictionary where each non-empty line is a symbol.
func Read(r io.Reader) (*Charset, error) {
	tokens, err := readLines(r, false)
	if err != nil {
		return nil, fmt.Errorf("failed reading dictionary: %w", err)
	}
	return New(tokens)
}

// Load loads a dictionary file where each non-empty line is a symbol.
// Leading/trailing whitespace is trimmed. UTF-8 BOM is removed if present.
func Load(path string) (*Charset, error) {
	if path == "" {
		return nil, errors.New("dictionary path cannot be empty")
	}
	tokens, err := readFileLines(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read dictionary: %w", err)
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: dictionary %s has no symbols", beamsearch.ErrEmptyAlphabet, path)
	}
	cs, err := New(tokens)
	if err != nil {
		return nil, fmt.Errorf("dictionary %s: %w", path, err)
	}
	return cs, nil
}

// LoadMerged merges multiple dictionary files into a single Charset.
// Symbols are appended in file order; the first occurrence wins.
func LoadMerged(paths []string) (*Charset, error) {
	if len(paths) == 0 {
		return nil, errors.New("no dictionary paths provided")
	}
	seen := make(map[string]struct{}, 256)
	tokens := make([]string, 0, 256)
	for _, p := range paths {
		if p == "" {
			continue
		}
		cs, err := Load(p)
		if err != nil {
			return nil, err
		}
		for _, t := range cs.Tokens {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			tokens = append(tokens, t)
		}
	}
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: merged dictionary is empty", beamsearch.ErrEmptyAlphabet)
	}
	return New(tokens)
}

// WithSpace returns a copy of c with a trailing " " symbol, which dictionary
// files cannot express because lines are trimmed.
func (c *Charset) WithSpace() *Charset {
	if _, ok := c.index[" "]; ok {
		return c
	}
	tokens := append(append([]string(nil), c.Tokens...), " ")
	idx := make(map[string]int, len(tokens))
	for i, t := range tokens {
		idx[t] = i
	}
	return &Charset{Tokens: tokens, index: idx}
}

// Size returns the number of symbols, excluding the implicit blank.
func (c *Charset) Size() int { return len(c.Tokens) }

// Alphabet returns the symbols in decoder order.
func (c *Charset) Alphabet() beamsearch.Alphabet {
	return append(beamsearch.Alphabet(nil), c.Tokens...)
}

// LookupIndex returns the index of a symbol, or -1 if not present.
func (c *Charset) LookupIndex(token string) int {
	if c == nil {
		return -1
	}
	if idx, ok := c.index[token]; ok {
		return idx
	}
	return -1
}

// LookupToken returns the symbol for an index, or empty string if missing.
func (c *Charset) LookupToken(index int) string {
	if c == nil || index < 0 || index >= len(c.Tokens) {
		return ""
	}
	return c.Tokens[index]
}
