package mqtt

import (
	"log"
	"sync"

	"github.com/technosupport/ts-hikbridge/internal/metrics"
)

// Message is one pending publication.
type Message struct {
	Topic    string
	Payload  []byte
	Retained bool
	QoS      byte
}

// messageQueue is the bounded FIFO between producers and the broker writer.
// On overflow the oldest non-retained message is evicted first; retained
// states, discoveries and availability survive. When everything queued is
// retained, the oldest retained message is dropped with a diagnostic (the
// newest retained value is the one consumers need).
type messageQueue struct {
	mu       sync.Mutex
	items    []Message
	capacity int
	notify   chan struct{}
}

func newMessageQueue(capacity int) *messageQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &messageQueue{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

func (q *messageQueue) Push(m Message) {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.evictLocked()
	}
	q.items = append(q.items, m)
	depth := len(q.items)
	q.mu.Unlock()

	metrics.MQTTQueueDepth.Set(float64(depth))
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// PushFront requeues a message whose publish failed, preserving FIFO order
// for the reconnect replay.
func (q *messageQueue) PushFront(m Message) {
	q.mu.Lock()
	if len(q.items) >= q.capacity {
		q.evictLocked()
	}
	q.items = append([]Message{m}, q.items...)
	depth := len(q.items)
	q.mu.Unlock()

	metrics.MQTTQueueDepth.Set(float64(depth))
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *messageQueue) evictLocked() {
	for i, m := range q.items {
		if !m.Retained {
			log.Printf("[WARN] MQTT: queue full, dropping oldest non-retained message on %s", m.Topic)
			metrics.MQTTDroppedTotal.WithLabelValues("non_retained").Inc()
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
	dropped := q.items[0]
	log.Printf("[ERROR] MQTT: queue full of retained messages, dropping oldest on %s (%d bytes)",
		dropped.Topic, len(dropped.Payload))
	metrics.MQTTDroppedTotal.WithLabelValues("retained").Inc()
	q.items = q.items[1:]
}

// Pop removes and returns the head message.
func (q *messageQueue) Pop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Message{}, false
	}
	m := q.items[0]
	q.items = q.items[1:]
	metrics.MQTTQueueDepth.Set(float64(len(q.items)))
	return m, true
}

func (q *messageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wait returns a channel that signals when new messages may be available.
func (q *messageQueue) Wait() <-chan struct{} {
	return q.notify
}
