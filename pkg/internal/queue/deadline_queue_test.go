package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(sec int) time.Time {
	return base.Add(time.Duration(sec) * time.Second)
}

func TestDeadlineQueue_Order(t *testing.T) {
	q := New[string]()
	q.Push("c", at(3))
	q.Push("a", at(1))
	q.Push("b", at(2))

	require.Equal(t, 3, q.Len())
	assert.Equal(t, "a", q.Peek().Value)

	var got []string
	for item := q.Pop(); item != nil; item = q.Pop() {
		got = append(got, item.Value)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Nil(t, q.Peek())
}

func TestDeadlineQueue_TiesKeepPushOrder(t *testing.T) {
	q := New[int]()
	for i := 0; i < 5; i++ {
		q.Push(i, base)
	}
	for i := 0; i < 5; i++ {
		assert.Equal(t, i, q.Pop().Value)
	}
}

func TestDeadlineQueue_Update(t *testing.T) {
	q := New[string]()
	a := q.Push("a", at(1))
	q.Push("b", at(2))

	q.Update(a, at(5))
	assert.Equal(t, "b", q.Peek().Value)
	assert.Equal(t, at(5), a.At)
}

func TestDeadlineQueue_Remove(t *testing.T) {
	q := New[string]()
	a := q.Push("a", at(1))
	b := q.Push("b", at(2))

	q.Remove(a)
	assert.False(t, a.Queued())
	assert.True(t, b.Queued())
	assert.Equal(t, 1, q.Len())

	// Second remove and update of a dead handle are ignored
	q.Remove(a)
	q.Update(a, at(0))
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, "b", q.Peek().Value)
}

func TestDeadlineQueue_Clear(t *testing.T) {
	q := New[string]()
	a := q.Push("a", at(1))
	q.Push("b", at(2))

	q.Clear()
	assert.Equal(t, 0, q.Len())
	assert.False(t, a.Queued())

	q.Push("c", at(3))
	assert.Equal(t, "c", q.Pop().Value)
}
