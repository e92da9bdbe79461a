package mqtt

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(topic string, retained bool) Message {
	return Message{Topic: topic, Payload: []byte("x"), Retained: retained, QoS: 1}
}

func TestQueue_FIFO(t *testing.T) {
	q := newMessageQueue(8)
	q.Push(msg("a", true))
	q.Push(msg("b", false))
	q.Push(msg("c", true))

	m, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, "a", m.Topic)
	m, _ = q.Pop()
	assert.Equal(t, "b", m.Topic)
	m, _ = q.Pop()
	assert.Equal(t, "c", m.Topic)
	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueue_OverflowDropsOldestNonRetained(t *testing.T) {
	q := newMessageQueue(3)
	q.Push(msg("keep1", true))
	q.Push(msg("drop-me", false))
	q.Push(msg("keep2", true))
	q.Push(msg("keep3", true)) // overflow: drop-me goes

	var topics []string
	for {
		m, ok := q.Pop()
		if !ok {
			break
		}
		topics = append(topics, m.Topic)
	}
	assert.Equal(t, []string{"keep1", "keep2", "keep3"}, topics)
}

func TestQueue_OverflowAllRetainedDropsOldest(t *testing.T) {
	q := newMessageQueue(2)
	q.Push(msg("oldest", true))
	q.Push(msg("middle", true))
	q.Push(msg("newest", true))

	m, _ := q.Pop()
	assert.Equal(t, "middle", m.Topic)
	m, _ = q.Pop()
	assert.Equal(t, "newest", m.Topic)
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestQueue_PushFrontPreservesReplayOrder(t *testing.T) {
	q := newMessageQueue(8)
	q.Push(msg("first", true))
	q.Push(msg("second", true))

	m, _ := q.Pop()
	require.Equal(t, "first", m.Topic)
	// Publish failed: requeue at the front.
	q.PushFront(m)

	m, _ = q.Pop()
	assert.Equal(t, "first", m.Topic)
	m, _ = q.Pop()
	assert.Equal(t, "second", m.Topic)
}

func TestQueue_WaitSignalsOnPush(t *testing.T) {
	q := newMessageQueue(8)
	select {
	case <-q.Wait():
		t.Fatal("no signal expected on empty queue")
	default:
	}

	q.Push(msg("a", false))
	select {
	case <-q.Wait():
	default:
		t.Fatal("expected a signal after push")
	}
}

func TestQueue_CapacityEnforced(t *testing.T) {
	q := newMessageQueue(4)
	for i := 0; i < 100; i++ {
		q.Push(msg(fmt.Sprintf("t%d", i), i%2 == 0))
	}
	assert.Equal(t, 4, q.Len())
}
