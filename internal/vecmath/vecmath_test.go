package vecmath

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilarityIdentical(t *testing.T) {
	v := []float32{1, 2, 3}
	assert.InDelta(t, 1.0, CosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 0.0, CosineSimilarity(a, b), 1e-9)
}

func TestCosineSimilarityOpposite(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{-1, 0}
	assert.InDelta(t, -1.0, CosineSimilarity(a, b), 1e-9)
}

func TestCosineDistance(t *testing.T) {
	v := []float32{3, 4}
	assert.InDelta(t, 0.0, CosineDistance(v, v), 1e-9)
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4, 0}
	out := Normalize(v)
	require.Len(t, out, 3)
	assert.InDelta(t, 0.6, out[0], 1e-5)
	assert.InDelta(t, 0.8, out[1], 1e-5)
	// original untouched
	assert.Equal(t, float32(3), v[0])
}

func TestNormalizeInPlaceZeroVector(t *testing.T) {
	v := []float32{0, 0, 0}
	NormalizeInPlace(v)
	assert.Equal(t, []float32{0, 0, 0}, v)
}

func TestCentroid(t *testing.T) {
	vecs := [][]float32{{1, 1}, {3, 3}}
	c := Centroid(vecs)
	assert.Equal(t, []float32{2, 2}, c)
}

func TestCentroidEmpty(t *testing.T) {
	assert.Nil(t, Centroid(nil))
}
