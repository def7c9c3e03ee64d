// Package ctc holds the greedy (best path) CTC decoder and the row-level
// helpers shared by the beam search host layers.
package ctc

import (
	"math"
	"strings"
)

// DecodedSequence holds greedy-decoded indices and per-timestep probabilities.
type DecodedSequence struct {
	Indices       []int
	Probs         []float64
	Collapsed     []int
	CollapsedProb []float64
	// PathProb is the probability of the single best alignment path.
	PathProb float64
}

// Text concatenates the alphabet strings of the collapsed label.
func (s DecodedSequence) Text(alphabet []string) string {
	var sb strings.Builder
	for _, i := range s.Collapsed {
		if i >= 0 && i < len(alphabet) {
			sb.WriteString(alphabet[i])
		}
	}
	return sb.String()
}

// Argmax returns index of max value and the value.
func Argmax(v []float32) (int, float32) {
	if len(v) == 0 {
		return -1, 0
	}
	idx := 0
	maxVal := v[0]
	for i := 1; i < len(v); i++ {
		if v[i] > maxVal {
			maxVal = v[i]
			idx = i
		}
	}
	return idx, maxVal
}

// LooksLikeProbabilities reports whether v sums to ~1 with every value in [0,1].
func LooksLikeProbabilities(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	var sum float64
	for _, x := range v {
		if x < 0 || x > 1 || math.IsNaN(float64(x)) {
			return false
		}
		sum += float64(x)
	}
	return sum > 0.99 && sum < 1.01
}

// ProbOfIndex computes the softmax probability of v[idx] among v.
// If values already look like probabilities, returns v[idx].
func ProbOfIndex(v []float32, idx int) float64 {
	if len(v) == 0 || idx < 0 || idx >= len(v) {
		return 0
	}
	if LooksLikeProbabilities(v) {
		return float64(v[idx])
	}
	m := maxOf(v)
	var denom float64
	for _, x := range v {
		denom += math.Exp(float64(x - m))
	}
	if denom == 0 {
		return 0
	}
	return math.Exp(float64(v[idx]-m)) / denom
}

// Softmax returns the numerically stable softmax of v as a new slice.
func Softmax(v []float32) []float32 {
	out := make([]float32, len(v))
	if len(v) == 0 {
		return out
	}
	m := maxOf(v)
	var denom float64
	for i, x := range v {
		e := math.Exp(float64(x - m))
		out[i] = float32(e)
		denom += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / denom)
	}
	return out
}

// NormalizeRows applies Softmax to every timestep of logits.
func NormalizeRows(logits [][]float32) [][]float32 {
	out := make([][]float32, len(logits))
	for t, row := range logits {
		out[t] = Softmax(row)
	}
	return out
}

func maxOf(v []float32) float32 {
	m := v[0]
	for _, x := range v[1:] {
		if x > m {
			m = x
		}
	}
	return m
}

// Collapse removes repeated consecutive indices and blanks, returning collapsed sequence and probs.
func Collapse(indices []int, probs []float64, blank int) ([]int, []float64) {
	outIdx := make([]int, 0, len(indices))
	outProb := make([]float64, 0, len(indices))
	prev := -1
	for i, idx := range indices {
		if idx == blank {
			prev = idx
			continue
		}
		if idx == prev {
			continue
		}
		outIdx = append(outIdx, idx)
		if i < len(probs) {
			outProb = append(outProb, probs[i])
		} else {
			outProb = append(outProb, 0)
		}
		prev = idx
	}
	return outIdx, outProb
}

// Greedy decodes timestep-major frames by taking the best class at every step.
func Greedy(frames [][]float32, blank int) DecodedSequence {
	indices := make([]int, len(frames))
	probs := make([]float64, len(frames))
	pathProb := 1.0
	for t, row := range frames {
		idx, _ := Argmax(row)
		indices[t] = idx
		probs[t] = ProbOfIndex(row, idx)
		pathProb *= probs[t]
	}
	collIdx, collProb := Collapse(indices, probs, blank)
	return DecodedSequence{
		Indices:       indices,
		Probs:         probs,
		Collapsed:     collIdx,
		CollapsedProb: collProb,
		PathProb:      pathProb,
	}
}

// GreedyBatch runs Greedy over every sequence of batch.
func GreedyBatch(batch [][][]float32, blank int) []DecodedSequence {
	out := make([]DecodedSequence, len(batch))
	for i, frames := range batch {
		out[i] = Greedy(frames, blank)
	}
	return out
}
