package distance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEuclidean(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float64
		expected float64
	}{
		{"Same", []float64{1, 2}, []float64{1, 2}, 0},
		{"345", []float64{0, 0}, []float64{3, 4}, 5},
		{"Diagonal", []float64{0, 0}, []float64{1, 1}, math.Sqrt2},
		{"Empty", []float64{}, []float64{}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Euclidean(tt.a, tt.b), 1e-12)
		})
	}
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float64
		expected float64
	}{
		{"Identical", []float64{1, 0}, []float64{2, 0}, 0},
		{"Orthogonal", []float64{1, 0}, []float64{0, 1}, 1},
		{"Opposite", []float64{1, 0}, []float64{-1, 0}, 2},
		{"ZeroQuery", []float64{0, 0}, []float64{1, 1}, 1},
		{"ZeroBoth", []float64{0, 0}, []float64{0, 0}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Cosine(tt.a, tt.b)
			assert.False(t, math.IsNaN(got))
			assert.InDelta(t, tt.expected, got, 1e-12)
		})
	}
}

func TestNegativeDot(t *testing.T) {
	assert.InDelta(t, -32.0, NegativeDot([]float64{1, 2, 3}, []float64{4, 5, 6}), 1e-12)
	assert.InDelta(t, 4.0, NegativeDot([]float64{1, -1, 2}, []float64{1, 1, -2}), 1e-12)
}

func TestProvider(t *testing.T) {
	for _, m := range []Metric{MetricCosine, MetricEuclidean, MetricDot} {
		fn, err := Provider(m)
		require.NoError(t, err)
		assert.NotNil(t, fn)
	}

	_, err := Provider(Metric(42))
	assert.ErrorIs(t, err, ErrUnknownMetric)
}

func TestParse(t *testing.T) {
	tests := map[string]Metric{
		"cosine":    MetricCosine,
		"COSINE":    MetricCosine,
		"l2":        MetricEuclidean,
		"euclidean": MetricEuclidean,
		"dot":       MetricDot,
		"ip":        MetricDot,
	}
	for in, want := range tests {
		got, err := Parse(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := Parse("hamming")
	assert.ErrorIs(t, err, ErrUnknownMetric)
}

func TestMetricText(t *testing.T) {
	b, err := MetricDot.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "dot", string(b))

	var m Metric
	require.NoError(t, m.UnmarshalText([]byte("euclidean")))
	assert.Equal(t, MetricEuclidean, m)

	_, err = Metric(0).MarshalText()
	assert.Error(t, err)
}
