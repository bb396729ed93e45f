package testutil

import (
	"testing"

	"github.com/hupe1980/flatvec/distance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniformVectors(t *testing.T) {
	rng := NewRNG(4711)

	v := rng.UniformVectors(8, 32)

	assert.Equal(t, 8, len(v))
	assert.Equal(t, 32, len(v[0]))
	for _, vec := range v {
		for _, x := range vec {
			assert.GreaterOrEqual(t, x, 0.0)
			assert.Less(t, x, 1.0)
		}
	}
}

func TestUnitVectors(t *testing.T) {
	rng := NewRNG(4711)

	v := rng.UnitVectors(8, 32)

	assert.Equal(t, 8, len(v))
	for _, vec := range v {
		assert.InDelta(t, 1.0, distance.Norm(vec), 1e-9)
	}
}

func TestClusteredVectors(t *testing.T) {
	rng := NewRNG(4711)

	v := rng.ClusteredVectors(100, 32, 5, 0.1)

	assert.Equal(t, 100, len(v))
	assert.Equal(t, 32, len(v[0]))
}

func TestReset(t *testing.T) {
	rng := NewRNG(4711)
	v1 := rng.UniformVectors(1, 10)
	rng.Reset()
	v2 := rng.UniformVectors(1, 10)
	assert.Equal(t, v1, v2)
	assert.Equal(t, int64(4711), rng.Seed())
}

func TestZipfBuckets(t *testing.T) {
	rng := NewRNG(1)
	buckets := rng.ZipfBuckets(1000, 10, 1.5)
	require.Len(t, buckets, 1000)

	counts := make(map[int64]int)
	for _, b := range buckets {
		require.GreaterOrEqual(t, b, int64(0))
		require.Less(t, b, int64(10))
		counts[b]++
	}
	assert.Greater(t, counts[0], counts[9])
}

func TestExactTopK(t *testing.T) {
	vecs := [][]float64{{0, 0}, {3, 4}, {1, 1}, {1, 1}}
	ids := []int64{10, 20, 40, 30}

	got := ExactTopK([]float64{0, 0}, ids, vecs, 3, distance.Euclidean)
	require.Len(t, got, 3)
	assert.Equal(t, int64(10), got[0].ID)
	assert.Equal(t, int64(30), got[1].ID)
	assert.Equal(t, int64(40), got[2].ID)

	assert.Len(t, ExactTopK([]float64{0, 0}, ids, vecs, 10, distance.Euclidean), 4)
}

func TestComputeRecall(t *testing.T) {
	truth := []SearchResult{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 4}}
	assert.Equal(t, 1.0, ComputeRecall(truth, truth))
	assert.Equal(t, 0.5, ComputeRecall(truth, []SearchResult{{ID: 1}, {ID: 9}, {ID: 3}, {ID: 8}}))
	assert.Equal(t, 1.0, ComputeRecall(nil, nil))
	assert.Equal(t, 0.0, ComputeRecall(truth, nil))
}
