package worklist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorklist(t *testing.T) {
	w := New[int]()
	assert.True(t, w.Empty())

	assert.True(t, w.Push(1))
	assert.False(t, w.Empty())
	assert.Equal(t, w.Pop(), 1)
	assert.True(t, w.Empty())

	w.Push(2)
	w.Push(3)

	assert.Equal(t, w.Pop(), 2)
	assert.Equal(t, w.Pop(), 3)
	assert.True(t, w.Empty())

	assert.Panics(t, func() { w.Pop() })
}

func TestWorklistDedup(t *testing.T) {
	w := New[string]()
	assert.True(t, w.Push("a"))
	assert.False(t, w.Push("a"))
	assert.Equal(t, w.Len(), 1)

	assert.Equal(t, w.Pop(), "a")

	// Popped elements may be queued again.
	assert.True(t, w.Push("a"))
	assert.Equal(t, w.Pop(), "a")
}
