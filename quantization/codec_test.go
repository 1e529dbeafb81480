package quantization

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNoopCodec(t *testing.T) {
	c := NewNoopCodec(4)

	v := []float32{0.1, -2.5, 3.25, 0}
	qv, err := c.Encode(v)
	require.NoError(t, err)
	assert.Equal(t, v, c.Decode(qv))
	assert.Equal(t, 0, c.Bits())

	_, err = c.Encode([]float32{1, 2})
	var lm *ErrLengthMismatch
	require.ErrorAs(t, err, &lm)
	assert.Equal(t, 4, lm.Expected)
}

func TestScalarCodec(t *testing.T) {
	t.Run("InvalidBits", func(t *testing.T) {
		_, err := NewScalarCodec(8, 6)
		assert.Error(t, err)
	})

	t.Run("RejectsNonFinite", func(t *testing.T) {
		c, err := NewScalarCodec(3, 8)
		require.NoError(t, err)

		_, err = c.Encode([]float32{1, float32(math.NaN()), 2})
		var nf *ErrNonFinite
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, 1, nf.Index)

		_, err = c.Encode([]float32{1, 2, float32(math.Inf(1))})
		assert.Error(t, err)
	})

	t.Run("ErrorBound8Bit", func(t *testing.T) {
		c, err := NewScalarCodec(64, 8)
		require.NoError(t, err)

		rng := rand.New(rand.NewSource(42))
		v := make([]float32, 64)
		for i := range v {
			v[i] = rng.Float32()*10 - 5
		}

		qv, err := c.Encode(v)
		require.NoError(t, err)
		dec := c.Decode(qv)

		bound := qv.Scale / 2
		for i := range v {
			assert.InDelta(t, v[i], dec[i], float64(bound)+1e-6)
		}
	})

	t.Run("ErrorBound4Bit", func(t *testing.T) {
		c, err := NewScalarCodec(33, 4) // odd dim exercises nibble packing
		require.NoError(t, err)

		rng := rand.New(rand.NewSource(7))
		v := make([]float32, 33)
		for i := range v {
			v[i] = rng.Float32()
		}

		qv, err := c.Encode(v)
		require.NoError(t, err)
		assert.Len(t, qv.Codes, 17)

		dec := c.Decode(qv)
		bound := qv.Scale / 2
		for i := range v {
			assert.InDelta(t, v[i], dec[i], float64(bound)+1e-6)
		}
	})

	t.Run("UnitRangeReconstruction", func(t *testing.T) {
		// Vector spanning [0,1] with a 0.5 midpoint must reconstruct the
		// midpoint within 1/255.
		c, err := NewScalarCodec(4, 8)
		require.NoError(t, err)

		v := []float32{0, 0.5, 0.5, 1}
		qv, err := c.Encode(v)
		require.NoError(t, err)
		dec := c.Decode(qv)
		for i := range v {
			assert.InDelta(t, v[i], dec[i], 1.0/255+1e-6)
		}
	})

	t.Run("ConstantVector", func(t *testing.T) {
		c, err := NewScalarCodec(5, 8)
		require.NoError(t, err)

		v := []float32{0.25, 0.25, 0.25, 0.25, 0.25}
		qv, err := c.Encode(v)
		require.NoError(t, err)
		assert.Zero(t, qv.Scale)
		assert.Equal(t, v, c.Decode(qv))
	})
}
