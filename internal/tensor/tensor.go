// Package tensor provides the dense float32 tensors and vector math used by
// the representation control engine.
//
// Activations are small (sequence × hidden or pooled hidden vectors), so the
// implementation favors clarity over SIMD tricks. All operations either
// allocate a fresh result or state explicitly that they mutate in place.
package tensor

import (
	"fmt"
	"math"
	"slices"
)

// Dense is a row-major dense float32 tensor.
//
// Supported ranks:
//   - 1-D: pooled activation (hidden)
//   - 2-D: token activations (sequence × hidden)
//
// The zero value is not usable; construct with New or Zeros.
type Dense struct {
	shape []int
	data  []float32
}

// New creates a Dense wrapping data with the given shape.
// The data slice is NOT copied; callers that need isolation should Clone.
func New(shape []int, data []float32) (*Dense, error) {
	n := 1
	for _, d := range shape {
		if d <= 0 {
			return nil, fmt.Errorf("invalid dimension %d in shape %v", d, shape)
		}
		n *= d
	}
	if n != len(data) {
		return nil, fmt.Errorf("shape %v requires %d elements, got %d", shape, n, len(data))
	}
	return &Dense{shape: slices.Clone(shape), data: data}, nil
}

// MustNew is like New but panics on error. Use for fixed-shape literals.
func MustNew(shape []int, data []float32) *Dense {
	d, err := New(shape, data)
	if err != nil {
		panic(err)
	}
	return d
}

// Zeros creates a zero-filled Dense with the given shape.
func Zeros(shape ...int) *Dense {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Dense{shape: slices.Clone(shape), data: make([]float32, n)}
}

// Shape returns a copy of the tensor's shape.
func (t *Dense) Shape() []int {
	return slices.Clone(t.shape)
}

// Rank returns the number of dimensions.
func (t *Dense) Rank() int {
	return len(t.shape)
}

// Data returns the backing slice. Mutations are visible to the tensor.
func (t *Dense) Data() []float32 {
	return t.data
}

// Len returns the total number of elements.
func (t *Dense) Len() int {
	return len(t.data)
}

// Clone returns a deep copy.
func (t *Dense) Clone() *Dense {
	return &Dense{shape: slices.Clone(t.shape), data: slices.Clone(t.data)}
}

// SameShape reports whether two tensors have identical shapes.
func (t *Dense) SameShape(o *Dense) bool {
	return slices.Equal(t.shape, o.shape)
}

// Equal reports whether two tensors are bit-identical (shape and data).
func (t *Dense) Equal(o *Dense) bool {
	return t.SameShape(o) && slices.Equal(t.data, o.data)
}

// Row returns the i-th row of a 2-D tensor as a mutable slice view.
// For a 1-D tensor, Row(0) returns the whole vector.
func (t *Dense) Row(i int) []float32 {
	switch len(t.shape) {
	case 1:
		if i != 0 {
			panic(fmt.Sprintf("row %d out of range for 1-D tensor", i))
		}
		return t.data
	case 2:
		w := t.shape[1]
		return t.data[i*w : (i+1)*w]
	default:
		panic(fmt.Sprintf("Row unsupported for rank-%d tensor", len(t.shape)))
	}
}

// Rows returns the number of rows (1 for a 1-D tensor).
func (t *Dense) Rows() int {
	if len(t.shape) == 1 {
		return 1
	}
	return t.shape[0]
}

// Width returns the trailing (hidden) dimension.
func (t *Dense) Width() int {
	return t.shape[len(t.shape)-1]
}

// MeanRows returns the column-wise mean of a 1-D or 2-D tensor.
func (t *Dense) MeanRows() []float32 {
	w := t.Width()
	out := make([]float32, w)
	rows := t.Rows()
	for i := 0; i < rows; i++ {
		row := t.Row(i)
		for j, v := range row {
			out[j] += v
		}
	}
	inv := float32(1) / float32(rows)
	for j := range out {
		out[j] *= inv
	}
	return out
}

// LastRow returns a copy of the final row (the last-token activation).
func (t *Dense) LastRow() []float32 {
	return slices.Clone(t.Row(t.Rows() - 1))
}

// MaxAbsDiff returns the largest absolute element-wise difference between
// two same-shaped tensors.
func MaxAbsDiff(a, b *Dense) float64 {
	var m float64
	for i := range a.data {
		d := math.Abs(float64(a.data[i]) - float64(b.data[i]))
		if d > m {
			m = d
		}
	}
	return m
}
