package beamsearch

import (
	"cmp"
	"strings"
)

// prefix is a node in the label trie of a single decode call. Every distinct
// label has exactly one node, so node identity is label equality and extending
// a label never copies the indices that precede it.
type prefix struct {
	parent   *prefix
	index    int
	depth    int
	children map[int]*prefix
}

func newRoot() *prefix {
	return &prefix{index: -1}
}

// last returns the final symbol index of the label, or -1 for the empty label.
func (p *prefix) last() int {
	if p.depth == 0 {
		return -1
	}
	return p.index
}

// extend returns the node for the label with i appended.
func (p *prefix) extend(i int) *prefix {
	if child, ok := p.children[i]; ok {
		return child
	}
	if p.children == nil {
		p.children = make(map[int]*prefix, 4)
	}
	child := &prefix{parent: p, index: i, depth: p.depth + 1}
	p.children[i] = child
	return child
}

// indices materialises the label in emission order.
func (p *prefix) indices() []int {
	out := make([]int, p.depth)
	for n := p; n.depth > 0; n = n.parent {
		out[n.depth-1] = n.index
	}
	return out
}

// comparePrefixes orders labels lexicographically by index; a proper prefix
// sorts first. Both nodes must belong to the same trie.
func comparePrefixes(a, b *prefix) int {
	if a == b {
		return 0
	}
	x, y := a, b
	for x.depth > y.depth {
		x = x.parent
	}
	for y.depth > x.depth {
		y = y.parent
	}
	if x == y {
		// The shorter label is a prefix of the longer one.
		return cmp.Compare(a.depth, b.depth)
	}
	for x.parent != y.parent {
		x, y = x.parent, y.parent
	}
	return cmp.Compare(x.index, y.index)
}

// Beam is a candidate label with its probability mass split by the last
// emitted symbol. PTotal always equals PBlank + PNonBlank.
type Beam struct {
	PBlank    float64
	PNonBlank float64
	PTotal    float64

	label *prefix
}

// Label returns the collapsed symbol indices of the beam.
func (b *Beam) Label() []int {
	return b.label.indices()
}

// Len returns the label length.
func (b *Beam) Len() int {
	return b.label.depth
}

func (b *Beam) add(pBlank, pNonBlank float64) {
	b.PBlank += pBlank
	b.PNonBlank += pNonBlank
	b.PTotal += pBlank + pNonBlank
}

// text concatenates the alphabet strings of the label.
func (b *Beam) text(alphabet Alphabet) string {
	var sb strings.Builder
	for _, i := range b.label.indices() {
		sb.WriteString(alphabet[i])
	}
	return sb.String()
}

// registry holds the single beam of every distinct label for one timestep.
type registry map[*prefix]*Beam

// entry returns the beam for label, creating an empty one on first use.
func (r registry) entry(label *prefix) *Beam {
	b, ok := r[label]
	if !ok {
		b = &Beam{label: label}
		r[label] = b
	}
	return b
}

// rootRegistry is the state before any timestep: certainty of having emitted nothing.
func rootRegistry() registry {
	root := newRoot()
	return registry{root: {PBlank: 1, PNonBlank: 0, PTotal: 1, label: root}}
}
