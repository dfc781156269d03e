package session

import (
	"sync"

	"github.com/ember-project/ember/internal/protocol"
)

// Queue is a FIFO of decoded packets with any number of producers and a
// single consumer. Once closed it drops everything pushed to it.
type Queue struct {
	mu      sync.Mutex
	packets []*protocol.Packet
	closed  bool
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{packets: make([]*protocol.Packet, 0, 16)}
}

// Push appends a packet. It reports false if the queue is closed.
func (q *Queue) Push(p *protocol.Packet) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.packets = append(q.packets, p)
	return true
}

// Drain removes and returns every queued packet in arrival order.
func (q *Queue) Drain() []*protocol.Packet {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.packets) == 0 {
		return nil
	}
	out := q.packets
	q.packets = make([]*protocol.Packet, 0, cap(out))
	return out
}

// Len returns the number of queued packets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.packets)
}

// Close discards queued packets and refuses new ones.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.packets = nil
}
