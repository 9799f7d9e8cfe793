package embedding

import (
	"fmt"
	"math"
)

// normTolerance bounds |‖v‖-1| after normalization.
const normTolerance = 1e-3

// Normalize scales v to unit length in place and returns it.
// A zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	n := l2norm(v)
	if n == 0 {
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}
	return v
}

func l2norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Validate checks a vector returned by a provider and normalizes it.
// dims <= 0 skips the dimension check.
func Validate(v []float32, dims int) ([]float32, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("%w: empty vector", ErrInvalidVector)
	}
	if dims > 0 && len(v) != dims {
		return nil, fmt.Errorf("%w: got %d dimensions, want %d", ErrInvalidVector, len(v), dims)
	}
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: non-finite value at index %d", ErrInvalidVector, i)
		}
	}
	if l2norm(v) == 0 {
		return nil, fmt.Errorf("%w: zero norm", ErrInvalidVector)
	}
	out := Normalize(append([]float32(nil), v...))
	if n := l2norm(out); math.Abs(n-1) > normTolerance {
		return nil, fmt.Errorf("%w: norm %.6f after normalization", ErrInvalidVector, n)
	}
	return out, nil
}

// Mean averages vectors element-wise and re-normalizes the result.
// All vectors must share one dimension.
func Mean(vectors [][]float32) ([]float32, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("%w: nothing to average", ErrInvalidVector)
	}
	if len(vectors) == 1 {
		return vectors[0], nil
	}
	dims := len(vectors[0])
	sum := make([]float64, dims)
	for _, v := range vectors {
		if len(v) != dims {
			return nil, fmt.Errorf("%w: mixed dimensions %d and %d", ErrInvalidVector, dims, len(v))
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
	}
	out := make([]float32, dims)
	for i, s := range sum {
		out[i] = float32(s / float64(len(vectors)))
	}
	if l2norm(out) == 0 {
		return nil, fmt.Errorf("%w: chunk vectors cancel out", ErrInvalidVector)
	}
	return Normalize(out), nil
}

// CosineSimilarity computes the cosine similarity between two vectors.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
