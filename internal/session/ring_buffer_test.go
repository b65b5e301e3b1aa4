package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRingBufferBelowCapacity(t *testing.T) {
	rb := newRingBuffer(5)
	rb.Append("a")
	rb.Append("b")

	assert.Equal(t, 2, rb.Len())
	assert.Equal(t, []string{"a", "b"}, rb.Snapshot())
}

func TestRingBufferEviction(t *testing.T) {
	rb := newRingBuffer(3)
	for i := 1; i <= 5; i++ {
		rb.Append(fmt.Sprintf("line-%d", i))
	}

	assert.Equal(t, 3, rb.Len())
	assert.Equal(t, []string{"line-3", "line-4", "line-5"}, rb.Snapshot())
}

func TestRingBufferExactCapacity(t *testing.T) {
	rb := newRingBuffer(3)
	rb.Append("a")
	rb.Append("b")
	rb.Append("c")

	assert.Equal(t, 3, rb.Len())
	assert.Equal(t, []string{"a", "b", "c"}, rb.Snapshot())
}

func TestRingBufferEmpty(t *testing.T) {
	rb := newRingBuffer(3)
	assert.Equal(t, 0, rb.Len())
	assert.Empty(t, rb.Snapshot())
}

func TestRingBufferDefaultCapacity(t *testing.T) {
	rb := newRingBuffer(0)
	assert.Equal(t, defaultBufferLines, rb.capacity)
}
