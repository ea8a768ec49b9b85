package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filledFrame(length int, value float32) []float32 {
	frame := make([]float32, length)
	for i := range frame {
		frame[i] = value
	}
	return frame
}

func TestFrameQueueOrder(t *testing.T) {
	q := NewFrameQueue(8, 4)

	for i := 0; i < 3; i++ {
		require.True(t, q.Push(i, filledFrame(8, float32(i))))
	}
	assert.Equal(t, 3, q.Len())

	dst := make([]float32, 8)
	for i := 0; i < 3; i++ {
		channel, ok := q.Pop(dst)
		require.True(t, ok)
		assert.Equal(t, i, channel)
		assert.Equal(t, filledFrame(8, float32(i)), dst)
	}

	_, ok := q.Pop(dst)
	assert.False(t, ok)
	assert.Equal(t, 0, q.Len())
}

func TestFrameQueueDropsWhenFull(t *testing.T) {
	q := NewFrameQueue(4, 2)

	assert.True(t, q.Push(0, filledFrame(4, 1)))
	assert.True(t, q.Push(0, filledFrame(4, 2)))
	assert.False(t, q.Push(0, filledFrame(4, 3)))
	assert.Equal(t, uint64(1), q.Dropped())
	assert.Equal(t, 2, q.Capacity())

	// The oldest frames survive, the newest was dropped.
	dst := make([]float32, 4)
	_, ok := q.Pop(dst)
	require.True(t, ok)
	assert.Equal(t, float32(1), dst[0])

	// Space freed by the consumer is usable again.
	assert.True(t, q.Push(0, filledFrame(4, 4)))
	_, ok = q.Pop(dst)
	require.True(t, ok)
	assert.Equal(t, float32(2), dst[0])
	_, ok = q.Pop(dst)
	require.True(t, ok)
	assert.Equal(t, float32(4), dst[0])
}

func TestFrameQueueRejectsWrongLength(t *testing.T) {
	q := NewFrameQueue(4, 2)

	assert.False(t, q.Push(0, make([]float32, 3)))
	assert.Equal(t, uint64(1), q.Dropped())
	assert.Equal(t, 0, q.Len())
}

func TestFrameQueueNotify(t *testing.T) {
	q := NewFrameQueue(4, 4)

	select {
	case <-q.Notify():
		t.Fatal("notified before any push")
	default:
	}

	q.Push(0, filledFrame(4, 1))
	q.Push(0, filledFrame(4, 2))

	// Notifications coalesce into one pending signal.
	select {
	case <-q.Notify():
	default:
		t.Fatal("expected a notification after push")
	}
	select {
	case <-q.Notify():
		t.Fatal("expected notifications to coalesce")
	default:
	}
}

func TestFrameQueueReset(t *testing.T) {
	q := NewFrameQueue(4, 2)
	q.Push(1, filledFrame(4, 1))
	q.Reset()

	assert.Equal(t, 0, q.Len())
	_, ok := q.Pop(make([]float32, 4))
	assert.False(t, ok)
}
