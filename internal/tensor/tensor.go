// Package tensor holds float32 probability tensors shaped [T, C] or
// [N, T, C] and converts them to the frame layout the decoders consume.
package tensor

import (
	"errors"
	"fmt"
	"math"
)

// ErrShape reports a tensor whose shape and data disagree or whose rank is unsupported.
var ErrShape = errors.New("invalid tensor shape")

// Tensor is a row-major float32 tensor. Rank 2 is a single sequence [T, C],
// rank 3 a batch [N, T, C].
type Tensor struct {
	Data  []float32 `json:"data" yaml:"data"`
	Shape []int64   `json:"shape" yaml:"shape"`
}

// New validates data against shape and returns the tensor.
func New(data []float32, shape []int64) (Tensor, error) {
	t := Tensor{Data: data, Shape: append([]int64(nil), shape...)}
	if err := t.Validate(); err != nil {
		return Tensor{}, err
	}
	return t, nil
}

// FromFrames builds a [1, T, C] tensor from one timestep-major sequence.
func FromFrames(frames [][]float32) (Tensor, error) {
	return FromBatch([][][]float32{frames})
}

// FromBatch stacks sequences into [N, T, C]. Every sequence must have the
// same number of timesteps and classes.
func FromBatch(batch [][][]float32) (Tensor, error) {
	if len(batch) == 0 {
		return Tensor{}, fmt.Errorf("%w: empty batch", ErrShape)
	}
	steps := len(batch[0])
	classes := 0
	if steps > 0 {
		classes = len(batch[0][0])
	}
	data := make([]float32, 0, len(batch)*steps*classes)
	for n, frames := range batch {
		if len(frames) != steps {
			return Tensor{}, fmt.Errorf("%w: sequence %d has %d timesteps, want %d", ErrShape, n, len(frames), steps)
		}
		for t, row := range frames {
			if len(row) != classes {
				return Tensor{}, fmt.Errorf("%w: sequence %d timestep %d has %d classes, want %d", ErrShape, n, t, len(row), classes)
			}
			data = append(data, row...)
		}
	}
	return Tensor{Data: data, Shape: []int64{int64(len(batch)), int64(steps), int64(classes)}}, nil
}

// MaxDimension bounds every tensor dimension.
const MaxDimension = math.MaxInt32

// MaxSequences bounds N of a batch tensor, which sizes the frame views even
// when the sequences are empty.
const MaxSequences = 1 << 20

// Validate ensures rank 2 or 3, a positive class count and a data length
// matching the shape.
func (t Tensor) Validate() error {
	if len(t.Shape) != 2 && len(t.Shape) != 3 {
		return fmt.Errorf("%w: rank %d, want 2 or 3", ErrShape, len(t.Shape))
	}
	if err := t.CheckSize(); err != nil {
		return err
	}
	n, _, classes := t.dims()
	if classes == 0 {
		return fmt.Errorf("%w: class dimension must be > 0", ErrShape)
	}
	if n > MaxSequences {
		return fmt.Errorf("%w: %d sequences exceed limit %d", ErrShape, n, MaxSequences)
	}
	return nil
}

// CheckSize ensures non-negative dimensions whose product equals len(Data).
// Unlike Validate it accepts any rank, e.g. model inputs.
func (t Tensor) CheckSize() error {
	if len(t.Shape) == 0 {
		return fmt.Errorf("%w: empty shape", ErrShape)
	}
	for i, v := range t.Shape {
		if v < 0 {
			return fmt.Errorf("%w: dimension %d must be >= 0, got %d", ErrShape, i, v)
		}
		if v > MaxDimension {
			return fmt.Errorf("%w: dimension %d exceeds %d, got %d", ErrShape, i, MaxDimension, v)
		}
	}
	if hasZero(t.Shape) {
		if len(t.Data) != 0 {
			return fmt.Errorf("%w: data length %d != expected 0 for shape %v", ErrShape, len(t.Data), t.Shape)
		}
		return nil
	}
	expected := 1
	for _, v := range t.Shape {
		// Stop once the product passes len(Data) so it never overflows.
		if expected > len(t.Data)/int(v) {
			return fmt.Errorf("%w: shape %v does not fit data length %d", ErrShape, t.Shape, len(t.Data))
		}
		expected *= int(v)
	}
	if len(t.Data) != expected {
		return fmt.Errorf("%w: data length %d != expected %d for shape %v", ErrShape, len(t.Data), expected, t.Shape)
	}
	return nil
}

func hasZero(shape []int64) bool {
	for _, v := range shape {
		if v == 0 {
			return true
		}
	}
	return false
}

// dims returns N, T, C for a valid tensor.
func (t Tensor) dims() (int, int, int) {
	if len(t.Shape) == 2 {
		return 1, int(t.Shape[0]), int(t.Shape[1])
	}
	return int(t.Shape[0]), int(t.Shape[1]), int(t.Shape[2])
}

// Sequences returns N, the number of sequences in the tensor.
func (t Tensor) Sequences() int {
	n, _, _ := t.dims()
	return n
}

// Classes returns C, the per-timestep vector length.
func (t Tensor) Classes() int {
	_, _, c := t.dims()
	return c
}

// Batch returns [N][T][C] views into Data. The rows share memory with the tensor.
func (t Tensor) Batch() ([][][]float32, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	n, steps, classes := t.dims()
	out := make([][][]float32, n)
	per := steps * classes
	for b := range n {
		frames := make([][]float32, steps)
		for s := range steps {
			off := b*per + s*classes
			frames[s] = t.Data[off : off+classes : off+classes]
		}
		out[b] = frames
	}
	return out, nil
}

// Frames returns the [T][C] view of a single-sequence tensor.
func (t Tensor) Frames() ([][]float32, error) {
	batch, err := t.Batch()
	if err != nil {
		return nil, err
	}
	if len(batch) != 1 {
		return nil, fmt.Errorf("%w: expected one sequence, got %d", ErrShape, len(batch))
	}
	return batch[0], nil
}

// Squeeze drops trailing dimensions of size 1 beyond rank 3 and a leading
// batch dimension of a rank-4 [N, 1, T, C] model output.
func (t Tensor) Squeeze() Tensor {
	dims := append([]int64(nil), t.Shape...)
	for len(dims) > 3 && dims[len(dims)-1] == 1 {
		dims = dims[:len(dims)-1]
	}
	if len(dims) == 4 && dims[1] == 1 {
		dims = []int64{dims[0], dims[2], dims[3]}
	}
	return Tensor{Data: t.Data, Shape: dims}
}

// TransposeClassesFirst converts a classes-first [N, C, T] (or [C, T]) tensor
// into the timestep-major layout.
func (t Tensor) TransposeClassesFirst() (Tensor, error) {
	if err := t.Validate(); err != nil {
		return Tensor{}, err
	}
	// In classes-first layout the middle dim is C and the last is T.
	n, classes, steps := t.dims()
	out := make([]float32, len(t.Data))
	per := classes * steps
	for b := range n {
		start := b * per
		for k := range classes {
			for s := range steps {
				out[start+s*classes+k] = t.Data[start+k*steps+s]
			}
		}
	}
	shape := []int64{int64(n), int64(steps), int64(classes)}
	if len(t.Shape) == 2 {
		shape = shape[1:]
	}
	return Tensor{Data: out, Shape: shape}, nil
}

// Stats computes simple statistics for debug output.
func Stats(data []float32) (float32, float32, float32) {
	if len(data) == 0 {
		return 0, 0, 0
	}
	minVal, maxVal := data[0], data[0]
	var sum float64
	for _, v := range data {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
		sum += float64(v)
	}
	return minVal, maxVal, float32(sum / float64(len(data)))
}
