package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue(t *testing.T) {
	q := NewInMemoryQueue(2)

	require.NoError(t, q.Enqueue("a"))
	require.NoError(t, q.Enqueue("b"))
	assert.Error(t, q.Enqueue("c"), "queue should reject items past capacity")
	assert.Equal(t, 2, q.Size())

	item, err := q.Dequeue()
	require.NoError(t, err)
	assert.Equal(t, "a", item)

	messages, err := q.ReadAllMessages()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"b"}, messages)
	assert.Equal(t, 0, q.Size())

	require.NoError(t, q.Enqueue("d"))
	require.NoError(t, q.ClearQueue())
	assert.Equal(t, 0, q.Size())
}
