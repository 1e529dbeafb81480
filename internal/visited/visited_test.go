package visited

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	s := New(8)

	assert.False(t, s.Visited(3))
	s.Visit(3)
	assert.True(t, s.Visited(3))

	// Growth past the initial capacity.
	s.Visit(5000)
	assert.True(t, s.Visited(5000))
	assert.False(t, s.Visited(4999))

	s.Reset()
	assert.False(t, s.Visited(3))
	assert.False(t, s.Visited(5000))

	// Reusable after reset.
	s.Visit(3)
	assert.True(t, s.Visited(3))
}
