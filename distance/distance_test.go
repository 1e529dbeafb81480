package distance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetric(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Metric
		wantErr bool
	}{
		{name: "cosine", input: "cosine", want: MetricCosine},
		{name: "euclidean", input: "euclidean", want: MetricEuclidean},
		{name: "l2 alias", input: "l2", want: MetricEuclidean},
		{name: "unknown", input: "manhattan", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMetric(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSquaredL2(t *testing.T) {
	a := []float32{1, 2, 3}
	b := []float32{4, 6, 3}
	assert.InDelta(t, 25.0, SquaredL2(a, b), 1e-6)
	assert.Zero(t, SquaredL2(a, a))
}

func TestCosineDistance(t *testing.T) {
	fn, err := Provider(MetricCosine)
	require.NoError(t, err)

	a, ok := NormalizeL2Copy([]float32{1, 0, 0, 0})
	require.True(t, ok)
	b, ok := NormalizeL2Copy([]float32{0, 1, 0, 0})
	require.True(t, ok)

	// Identical direction: distance 0. Orthogonal: distance 1.
	assert.InDelta(t, 0.0, fn(a, a), 1e-6)
	assert.InDelta(t, 1.0, fn(a, b), 1e-6)
}

func TestNormalizeL2(t *testing.T) {
	t.Run("InPlace", func(t *testing.T) {
		v := []float32{3, 4}
		require.True(t, NormalizeL2InPlace(v))
		assert.InDelta(t, 1.0, Magnitude(v), 1e-6)
	})

	t.Run("ZeroVector", func(t *testing.T) {
		assert.False(t, NormalizeL2InPlace([]float32{0, 0, 0}))
		_, ok := NormalizeL2Copy([]float32{0, 0})
		assert.False(t, ok)
	})

	t.Run("CopyDoesNotMutate", func(t *testing.T) {
		src := []float32{2, 0}
		dst, ok := NormalizeL2Copy(src)
		require.True(t, ok)
		assert.Equal(t, float32(2), src[0])
		assert.InDelta(t, 1.0, dst[0], 1e-6)
	})
}
