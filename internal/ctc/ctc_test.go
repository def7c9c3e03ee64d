package ctc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollapse(t *testing.T) {
	// Blank is 0: 1,1,0,2,2,2,3,0,3 -> 1,2,3,3
	idx := []int{1, 1, 0, 2, 2, 2, 3, 0, 3}
	pr := []float64{.8, .7, .1, .9, .85, .8, .6, .1, .5}
	outIdx, outPr := Collapse(idx, pr, 0)
	assert.Equal(t, []int{1, 2, 3, 3}, outIdx)
	assert.Equal(t, []float64{.8, .9, .6, .5}, outPr)
}

func TestCollapse_MissingProbs(t *testing.T) {
	outIdx, outPr := Collapse([]int{2, 1}, []float64{.5}, 0)
	assert.Equal(t, []int{2, 1}, outIdx)
	assert.Equal(t, []float64{.5, 0}, outPr)
}

func TestGreedy_Probabilities(t *testing.T) {
	// Alphabet of 3 symbols, blank at index 3.
	frames := [][]float32{
		{0.9, 0.05, 0.0, 0.05},
		{0.8, 0.1, 0.0, 0.1},
		{0.05, 0.03, 0.02, 0.9},
		{0.2, 0.7, 0.0, 0.1},
	}
	d := Greedy(frames, 3)
	assert.Equal(t, []int{0, 0, 3, 1}, d.Indices)
	assert.InDelta(t, 0.9, d.Probs[0], 1e-6)
	assert.InDelta(t, 0.9, d.Probs[2], 1e-6)
	assert.Equal(t, []int{0, 1}, d.Collapsed)
	assert.InDelta(t, 0.9*0.8*0.9*0.7, d.PathProb, 1e-6)
	assert.Equal(t, "ab", d.Text([]string{"a", "b", "c"}))
}

func TestGreedy_Logits(t *testing.T) {
	frames := [][]float32{{2, 0, -1}}
	d := Greedy(frames, 2)
	require.Equal(t, []int{0}, d.Collapsed)
	want := Softmax(frames[0])[0]
	assert.InDelta(t, float64(want), d.Probs[0], 1e-6)
}

func TestGreedy_Empty(t *testing.T) {
	d := Greedy(nil, 0)
	assert.Empty(t, d.Collapsed)
	assert.InDelta(t, 1.0, d.PathProb, 1e-12)
	assert.Equal(t, "", d.Text([]string{"a"}))
}

func TestGreedyBatch(t *testing.T) {
	batch := [][][]float32{
		{{0.9, 0.1}},
		{{0.1, 0.9}},
	}
	out := GreedyBatch(batch, 1)
	require.Len(t, out, 2)
	assert.Equal(t, []int{0}, out[0].Collapsed)
	assert.Empty(t, out[1].Collapsed)
}

func TestSoftmax(t *testing.T) {
	out := Softmax([]float32{1, 1, 1, 1})
	for _, v := range out {
		assert.InDelta(t, 0.25, v, 1e-6)
	}
	assert.Empty(t, Softmax(nil))

	// Large logits must not overflow.
	big := Softmax([]float32{1000, 0})
	assert.InDelta(t, 1.0, big[0], 1e-6)
	assert.InDelta(t, 0.0, big[1], 1e-6)
}

func TestNormalizeRows(t *testing.T) {
	rows := NormalizeRows([][]float32{{0, 0}, {3, 1, 0}})
	require.Len(t, rows, 2)
	assert.InDeltaSlice(t, []float32{0.5, 0.5}, rows[0], 1e-6)
	var sum float32
	for _, v := range rows[1] {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-5)
}

func TestLooksLikeProbabilities(t *testing.T) {
	assert.True(t, LooksLikeProbabilities([]float32{0.2, 0.8}))
	assert.False(t, LooksLikeProbabilities([]float32{0.2, 0.2}))
	assert.False(t, LooksLikeProbabilities([]float32{1.5, -0.5}))
	assert.False(t, LooksLikeProbabilities(nil))
}

func TestProbOfIndex_OutOfRange(t *testing.T) {
	assert.Zero(t, ProbOfIndex([]float32{0.5, 0.5}, 2))
	assert.Zero(t, ProbOfIndex(nil, 0))
	assert.Zero(t, ProbOfIndex([]float32{0.5, 0.5}, -1))
}

func TestArgmax(t *testing.T) {
	idx, v := Argmax([]float32{0.1, 0.7, 0.7, 0.2})
	assert.Equal(t, 1, idx)
	assert.InDelta(t, 0.7, v, 1e-6)
	idx, _ = Argmax(nil)
	assert.Equal(t, -1, idx)
}
