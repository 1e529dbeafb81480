package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qLeviathan/agentdb/quantization"
)

func TestDenseStore(t *testing.T) {
	s := NewDenseStore(3)

	require.NoError(t, s.Set(0, []float32{1, 2, 3}))
	require.NoError(t, s.Set(5, []float32{4, 5, 6}))

	assert.Equal(t, []float32{1, 2, 3}, s.Get(0))
	assert.Equal(t, []float32{4, 5, 6}, s.Get(5))
	assert.Nil(t, s.Get(3))
	assert.Nil(t, s.Get(100))

	s.Delete(0)
	assert.Nil(t, s.Get(0))

	var dimErr *ErrDimensionMismatch
	err := s.Set(1, []float32{1, 2})
	require.ErrorAs(t, err, &dimErr)
	assert.Equal(t, 3, dimErr.Expected)
}

func TestDenseStoreGobRoundTrip(t *testing.T) {
	s := NewDenseStore(2)
	require.NoError(t, s.Set(0, []float32{1, 2}))
	require.NoError(t, s.Set(2, []float32{3, 4}))
	s.Delete(0)

	data, err := s.GobEncode()
	require.NoError(t, err)

	restored := NewDenseStore(0)
	require.NoError(t, restored.GobDecode(data))

	assert.Equal(t, 2, restored.Dimension())
	assert.Nil(t, restored.Get(0))
	assert.Equal(t, []float32{3, 4}, restored.Get(2))
}

func TestQuantizedStore(t *testing.T) {
	codec, err := quantization.NewScalarCodec(4, 8)
	require.NoError(t, err)
	s := NewQuantizedStore(4, codec)

	orig := []float32{0.1, 0.9, -0.5, 0.3}
	require.NoError(t, s.Set(0, orig))

	got := s.Get(0)
	require.Len(t, got, 4)
	for i := range orig {
		assert.InDelta(t, orig[i], got[i], 0.01)
	}

	s.Delete(0)
	assert.Nil(t, s.Get(0))
}

func TestValidateK(t *testing.T) {
	assert.ErrorIs(t, ValidateK(0), ErrInvalidK)
	assert.ErrorIs(t, ValidateK(-3), ErrInvalidK)
	assert.NoError(t, ValidateK(1))
}

func TestSearchOptionsAccept(t *testing.T) {
	var o SearchOptions
	assert.True(t, o.Accept(7))

	o.Filter = func(id uint32) bool { return id%2 == 0 }
	assert.True(t, o.Accept(4))
	assert.False(t, o.Accept(5))
}
