package tensor

import "math"

// UnitEpsilon is the magnitude floor below which normalization refuses to
// divide. Vectors shorter than this normalize to the zero vector.
const UnitEpsilon = 1e-8

// Dot returns the inner product of two equal-length vectors.
// Accumulates in float64 to limit cancellation error.
func Dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Norm returns the Euclidean norm of a vector.
func Norm(v []float32) float64 {
	return math.Sqrt(Dot(v, v))
}

// Scale multiplies v by alpha in place.
func Scale(alpha float32, v []float32) {
	for i := range v {
		v[i] *= alpha
	}
}

// AXPY computes y += alpha * x in place.
func AXPY(alpha float32, x, y []float32) {
	for i := range y {
		y[i] += alpha * x[i]
	}
}

// Sub returns a - b as a fresh vector.
func Sub(a, b []float32) []float32 {
	out := make([]float32, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}

// Mean returns the element-wise mean of equal-length vectors.
// Returns nil for an empty input.
func Mean(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	out := make([]float32, len(vecs[0]))
	for _, v := range vecs {
		for i := range v {
			out[i] += v[i]
		}
	}
	inv := float32(1) / float32(len(vecs))
	Scale(inv, out)
	return out
}

// Unit normalizes v to unit length, returning the normalized vector and
// true. If the magnitude is below UnitEpsilon it returns a zero vector and
// false instead of producing NaN - callers surface this as a low-confidence
// result rather than an error.
func Unit(v []float32) ([]float32, bool) {
	n := Norm(v)
	out := make([]float32, len(v))
	if n < UnitEpsilon {
		return out, false
	}
	inv := float32(1 / n)
	for i := range v {
		out[i] = v[i] * inv
	}
	return out, true
}

// CosineSim returns the cosine similarity of two vectors, or 0 when either
// is below the normalization floor.
func CosineSim(a, b []float32) float64 {
	na, nb := Norm(a), Norm(b)
	if na < UnitEpsilon || nb < UnitEpsilon {
		return 0
	}
	return Dot(a, b) / (na * nb)
}

// PowerIterationSteps is the fixed iteration count for PrincipalComponent.
// The deflation-free single-component problem converges quickly for the
// small stacks of difference vectors seen here.
const PowerIterationSteps = 50

// PrincipalComponent returns the top principal component of the row vectors,
// computed by power iteration on the (uncentered) covariance X^T X without
// materializing it. Returns the component and true, or a zero vector and
// false when the rows carry no usable signal.
//
// The sign is aligned with the mean of the rows so repeated runs agree.
func PrincipalComponent(rows [][]float32) ([]float32, bool) {
	if len(rows) == 0 {
		return nil, false
	}
	dim := len(rows[0])

	// Seed with the mean; fall back to a basis vector if the mean vanishes.
	v := Mean(rows)
	if _, ok := Unit(v); !ok {
		v = make([]float32, dim)
		v[0] = 1
	}
	v, _ = Unit(v)

	for iter := 0; iter < PowerIterationSteps; iter++ {
		// w = X^T (X v)
		w := make([]float32, dim)
		for _, row := range rows {
			proj := float32(Dot(row, v))
			AXPY(proj, row, w)
		}
		next, ok := Unit(w)
		if !ok {
			return make([]float32, dim), false
		}
		v = next
	}

	// Sign convention: point along the mean difference.
	if m := Mean(rows); Dot(v, m) < 0 {
		Scale(-1, v)
	}
	return v, true
}

// Softmax returns the softmax distribution of logits, computed with the
// max-subtraction trick for stability.
func Softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxv := logits[0]
	for _, v := range logits[1:] {
		if v > maxv {
			maxv = v
		}
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v - maxv))
		out[i] = e
		sum += e
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// KLDiv returns the Kullback-Leibler divergence KL(p || q) in nats.
// Zero entries in p contribute nothing; zero entries in q under nonzero p
// are floored to avoid infinities in reporting.
func KLDiv(p, q []float64) float64 {
	const floor = 1e-12
	var kl float64
	for i := range p {
		if p[i] <= 0 {
			continue
		}
		qi := q[i]
		if qi < floor {
			qi = floor
		}
		kl += p[i] * math.Log(p[i]/qi)
	}
	return kl
}

// ArgMax returns the index of the largest element, -1 for an empty slice.
func ArgMax(v []float32) int {
	if len(v) == 0 {
		return -1
	}
	best := 0
	for i, x := range v[1:] {
		if x > v[best] {
			best = i + 1
		}
	}
	return best
}

// L2Dist returns the Euclidean distance between two equal-length vectors.
func L2Dist(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
