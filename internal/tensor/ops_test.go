package tensor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDot(t *testing.T) {
	assert.InDelta(t, 32.0, Dot([]float32{1, 2, 3}, []float32{4, 5, 6}), 1e-9)
	assert.InDelta(t, 0.0, Dot([]float32{1, 0}, []float32{0, 1}), 1e-9)
}

func TestNorm(t *testing.T) {
	assert.InDelta(t, 5.0, Norm([]float32{3, 4}), 1e-9)
	assert.InDelta(t, 0.0, Norm([]float32{0, 0, 0}), 1e-9)
}

func TestUnit_Normalizes(t *testing.T) {
	u, ok := Unit([]float32{3, 4})
	require.True(t, ok)
	assert.InDelta(t, 1.0, Norm(u), 1e-6)
	assert.InDelta(t, 0.6, float64(u[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(u[1]), 1e-6)
}

func TestUnit_NearZeroReturnsZeroVector(t *testing.T) {
	u, ok := Unit([]float32{0, 0, 0})
	assert.False(t, ok)
	assert.Equal(t, []float32{0, 0, 0}, u)

	// Must never produce NaN, even for denormal-scale input.
	u, ok = Unit([]float32{1e-20, -1e-20})
	assert.False(t, ok)
	for _, v := range u {
		assert.False(t, math.IsNaN(float64(v)))
	}
}

func TestMean(t *testing.T) {
	m := Mean([][]float32{{1, 2}, {3, 4}})
	assert.Equal(t, []float32{2, 3}, m)
	assert.Nil(t, Mean(nil))
}

func TestPrincipalComponent_RecoversDominantDirection(t *testing.T) {
	// Rows clustered along (1, 1)/sqrt(2) with small orthogonal noise.
	rows := [][]float32{
		{1.0, 1.1},
		{0.9, 1.0},
		{2.0, 1.9},
		{1.5, 1.6},
	}

	pc, ok := PrincipalComponent(rows)
	require.True(t, ok)
	assert.InDelta(t, 1.0, Norm(pc), 1e-5)

	want := []float32{float32(1 / math.Sqrt2), float32(1 / math.Sqrt2)}
	assert.InDelta(t, 1.0, CosineSim(pc, want), 1e-3)
}

func TestPrincipalComponent_ZeroRows(t *testing.T) {
	pc, ok := PrincipalComponent([][]float32{{0, 0}, {0, 0}})
	assert.False(t, ok)
	assert.Equal(t, []float32{0, 0}, pc)

	_, ok = PrincipalComponent(nil)
	assert.False(t, ok)
}

func TestPrincipalComponent_SignAlignedWithMean(t *testing.T) {
	rows := [][]float32{{-1, 0}, {-2, 0}, {-1.5, 0}}
	pc, ok := PrincipalComponent(rows)
	require.True(t, ok)
	assert.Less(t, float64(pc[0]), 0.0, "component must point along the mean of the rows")
}

func TestSoftmax_SumsToOne(t *testing.T) {
	p := Softmax([]float32{1, 2, 3})
	var sum float64
	for _, v := range p {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Greater(t, p[2], p[1])
	assert.Greater(t, p[1], p[0])
}

func TestSoftmax_LargeLogitsStable(t *testing.T) {
	p := Softmax([]float32{1000, 1000})
	assert.InDelta(t, 0.5, p[0], 1e-9)
	assert.False(t, math.IsNaN(p[0]))
}

func TestKLDiv(t *testing.T) {
	p := []float64{0.5, 0.5}
	assert.InDelta(t, 0.0, KLDiv(p, p), 1e-12)

	q := []float64{0.9, 0.1}
	assert.Greater(t, KLDiv(p, q), 0.0)
}

func TestArgMax(t *testing.T) {
	assert.Equal(t, 2, ArgMax([]float32{1, 5, 7, 2}))
	assert.Equal(t, 0, ArgMax([]float32{3}))
	assert.Equal(t, -1, ArgMax(nil))
}

func TestDense_RowAndPooling(t *testing.T) {
	d := MustNew([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})

	assert.Equal(t, []float32{1, 2, 3}, d.Row(0))
	assert.Equal(t, []float32{4, 5, 6}, d.Row(1))
	assert.Equal(t, []float32{4, 5, 6}, d.LastRow())
	assert.Equal(t, []float32{2.5, 3.5, 4.5}, d.MeanRows())
	assert.Equal(t, 3, d.Width())
	assert.Equal(t, 2, d.Rows())
}

func TestDense_CloneIsolated(t *testing.T) {
	d := MustNew([]int{2}, []float32{1, 2})
	c := d.Clone()
	c.Data()[0] = 99

	assert.Equal(t, float32(1), d.Data()[0])
	assert.True(t, d.SameShape(c))
	assert.False(t, d.Equal(c))
}

func TestNew_ShapeValidation(t *testing.T) {
	_, err := New([]int{2, 2}, []float32{1, 2, 3})
	require.Error(t, err)

	_, err = New([]int{0}, nil)
	require.Error(t, err)
}
