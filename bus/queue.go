package bus

import (
	"context"
	"sync"
)

// Queue is an unbounded FIFO of messages with a context-aware blocking pop.
// It is safe for concurrent use by multiple producers and consumers.
type Queue struct {
	mu     sync.Mutex
	items  []Message
	ready  chan struct{}
	done   chan struct{}
	closed bool
}

// NewQueue creates an empty, open queue.
func NewQueue() *Queue {
	return &Queue{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Push appends msg. It returns false if the queue is closed.
func (q *Queue) Push(msg Message) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()
	q.signal()
	return true
}

// Pop removes and returns the oldest message, blocking until one is
// available, ctx is done, or the queue is closed.
func (q *Queue) Pop(ctx context.Context) (Message, error) {
	for {
		msg, ok, err := q.take()
		if err != nil || ok {
			return msg, err
		}
		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// TryPop removes and returns the oldest message without blocking.
func (q *Queue) TryPop() (Message, bool) {
	msg, ok, _ := q.take()
	return msg, ok
}

func (q *Queue) take() (Message, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Message{}, false, ErrQueueClosed
	}
	if len(q.items) == 0 {
		return Message{}, false, nil
	}
	msg := q.items[0]
	q.items[0] = Message{}
	q.items = q.items[1:]
	if len(q.items) > 0 {
		q.signal()
	}
	return msg, true, nil
}

// signal wakes one waiting consumer. A pending signal is never doubled.
func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot returns a copy of the queued messages, oldest first.
func (q *Queue) Snapshot() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Message, len(q.items))
	copy(out, q.items)
	return out
}

// Close discards queued messages and releases blocked consumers.
// It is safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.items = nil
	close(q.done)
}

// IsClosed reports whether Close has been called.
func (q *Queue) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
