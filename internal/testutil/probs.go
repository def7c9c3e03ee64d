package testutil

import (
	"math/rand"
)

// TestAlphabet is the 36-symbol digit+uppercase alphabet used by benchmarks.
var TestAlphabet = []string{
	"0", "1", "2", "3", "4", "5", "6", "7", "8", "9",
	"A", "B", "C", "D", "E", "F", "G", "H", "I", "J",
	"K", "L", "M", "N", "O", "P", "Q", "R", "S", "T",
	"U", "V", "W", "X", "Y", "Z",
}

// RandomFrames returns a [T][classes] matrix whose rows are probability
// distributions drawn from rng.
func RandomFrames(rng *rand.Rand, timesteps, classes int) [][]float32 {
	frames := make([][]float32, timesteps)
	for t := range frames {
		row := make([]float32, classes)
		var sum float32
		for c := range row {
			row[c] = rng.Float32() + 1e-3
			sum += row[c]
		}
		for c := range row {
			row[c] /= sum
		}
		frames[t] = row
	}
	return frames
}

// UniformFrames returns un-normalised values in [0, 1), matching the
// random inputs of the decode benchmarks.
func UniformFrames(rng *rand.Rand, timesteps, classes int) [][]float32 {
	frames := make([][]float32, timesteps)
	for t := range frames {
		row := make([]float32, classes)
		for c := range row {
			row[c] = rng.Float32()
		}
		frames[t] = row
	}
	return frames
}

// RandomBatch returns n independent RandomFrames matrices.
func RandomBatch(rng *rand.Rand, n, timesteps, classes int) [][][]float32 {
	batch := make([][][]float32, n)
	for i := range batch {
		batch[i] = RandomFrames(rng, timesteps, classes)
	}
	return batch
}

// PeakedFrames builds frames where class path[t] carries peak probability and
// the remaining mass is spread evenly over the other classes.
func PeakedFrames(path []int, classes int, peak float32) [][]float32 {
	rest := (1 - peak) / float32(classes-1)
	frames := make([][]float32, len(path))
	for t, c := range path {
		row := make([]float32, classes)
		for i := range row {
			row[i] = rest
		}
		row[c] = peak
		frames[t] = row
	}
	return frames
}
