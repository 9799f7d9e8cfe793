package embedding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	v, err := Validate([]float32{3, 4}, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	nan := float32(math.NaN())
	inf := float32(math.Inf(1))
	for name, tc := range map[string]struct {
		v    []float32
		dims int
	}{
		"empty":      {nil, 0},
		"wrong dims": {[]float32{1, 2, 3}, 2},
		"nan":        {[]float32{1, nan}, 2},
		"inf":        {[]float32{inf, 1}, 2},
		"zero norm":  {[]float32{0, 0}, 2},
	} {
		_, err := Validate(tc.v, tc.dims)
		assert.ErrorIs(t, err, ErrInvalidVector, name)
	}
}

func TestValidate_DoesNotMutateInput(t *testing.T) {
	in := []float32{3, 4}
	_, err := Validate(in, 0)
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 4}, in)
}

func TestMean(t *testing.T) {
	v, err := Mean([][]float32{{1, 0}, {0, 1}})
	require.NoError(t, err)
	assert.InDelta(t, math.Sqrt2/2, v[0], 1e-6)
	assert.InDelta(t, 1.0, l2norm(v), 1e-6)

	_, err = Mean([][]float32{{1, 0}, {-1, 0}})
	assert.ErrorIs(t, err, ErrInvalidVector)

	_, err = Mean([][]float32{{1, 0}, {1, 0, 0}})
	assert.ErrorIs(t, err, ErrInvalidVector)

	_, err = Mean(nil)
	assert.ErrorIs(t, err, ErrInvalidVector)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, CosineSimilarity([]float32{0, 0}, []float32{1, 2}))
}
