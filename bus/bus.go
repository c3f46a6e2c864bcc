package bus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultTimeout bounds SendAndAwait when the caller passes a zero timeout.
const DefaultTimeout = 30 * time.Second

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the bus logger. A nil logger keeps the default.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics records bus traffic on m.
func WithMetrics(m *Metrics) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

type waiterKey struct {
	receiver      string
	correlationID string
}

// Bus routes messages between the stages of one session.
//
// A single mutex guards the queues, the waiters and the history, so a
// message's history entry and its delivery happen atomically and history
// order is publish order.
type Bus struct {
	sessionID string
	logger    *slog.Logger
	metrics   *Metrics

	mu      sync.Mutex
	queues  map[string]*Queue
	history []Message
	waiters map[waiterKey]chan Message
	closed  bool
	done    chan struct{}
}

// NewBus creates an open bus for sessionID.
func NewBus(sessionID string, opts ...Option) *Bus {
	b := &Bus{
		sessionID: sessionID,
		queues:    make(map[string]*Queue),
		waiters:   make(map[waiterKey]chan Message),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("component", "bus", "session", sessionID)
	b.metrics.busOpened()
	return b
}

// SessionID returns the session the bus belongs to.
func (b *Bus) SessionID() string {
	return b.sessionID
}

// Subscribe returns the inbound queue for stage, creating it on first use.
// Every call for the same stage returns the same queue. Subscribing on a
// closed bus returns an already closed queue.
func (b *Bus) Subscribe(stage string) *Queue {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		q := NewQueue()
		q.Close()
		return q
	}
	q, ok := b.queues[stage]
	if !ok {
		q = NewQueue()
		b.queues[stage] = q
		b.logger.Debug("stage subscribed", "stage", stage)
	}
	return q
}

// Publish records msg in the history and delivers it. A response whose
// requester is waiting in SendAndAwait goes straight to that waiter;
// anything else is appended to the receiver's queue. Publish returns false
// when the receiver has no queue or the bus is closed.
func (b *Bus) Publish(msg Message) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		b.logger.Warn("publish on closed bus", "sender", msg.Sender, "receiver", msg.Receiver, "kind", msg.Kind())
		return false
	}

	b.history = append(b.history, msg)

	if msg.Kind().IsResponse() {
		key := waiterKey{receiver: msg.Receiver, correlationID: msg.CorrelationID}
		if ch, ok := b.waiters[key]; ok {
			delete(b.waiters, key)
			ch <- msg
			b.metrics.observePublish(msg.Kind(), true)
			return true
		}
	}

	if q, ok := b.queues[msg.Receiver]; ok {
		q.Push(msg)
		b.metrics.observePublish(msg.Kind(), true)
		return true
	}

	b.logger.Warn("no queue for receiver",
		"sender", msg.Sender,
		"receiver", msg.Receiver,
		"kind", msg.Kind(),
		"correlation_id", msg.CorrelationID)
	b.metrics.observePublish(msg.Kind(), false)
	return false
}

// SendAndAwait publishes msg and blocks until the response carrying the
// same correlation id and addressed to msg.Sender arrives. It returns
// ErrResponseTimeout after timeout (DefaultTimeout when zero), ErrBusClosed
// if the bus closes first, or ctx's error if ctx is done first.
//
// A publish that finds no receiver queue is not an error here; the call
// still waits and times out.
//
// The published request carries the earlier of ctx's deadline and the
// timeout in its metadata (see Message.Deadline), so the receiver can stop
// work nobody is waiting for. Cancelling ctx without a deadline is not
// propagated.
func (b *Bus) SendAndAwait(ctx context.Context, msg Message, timeout time.Duration) (Message, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	msg = msg.WithDeadline(deadline)
	b.Subscribe(msg.Sender)

	key := waiterKey{receiver: msg.Sender, correlationID: msg.CorrelationID}
	ch := make(chan Message, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Message{}, ErrBusClosed
	}
	if _, exists := b.waiters[key]; exists {
		b.mu.Unlock()
		return Message{}, fmt.Errorf("%w: %s", ErrDuplicateWaiter, msg.CorrelationID)
	}
	b.waiters[key] = ch
	b.mu.Unlock()

	defer b.dropWaiter(key, ch)

	if !b.Publish(msg) {
		b.logger.Debug("request not delivered, waiting anyway", "receiver", msg.Receiver, "correlation_id", msg.CorrelationID)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		b.metrics.observeTimeout()
		b.logger.Warn("response timeout",
			"receiver", msg.Receiver,
			"kind", msg.Kind(),
			"correlation_id", msg.CorrelationID,
			"timeout", timeout)
		return Message{}, fmt.Errorf("%w: %s after %s (correlation id %s)",
			ErrResponseTimeout, msg.Receiver, timeout, msg.CorrelationID)
	case <-b.done:
		return Message{}, ErrBusClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (b *Bus) dropWaiter(key waiterKey, ch chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.waiters[key]; ok && cur == ch {
		delete(b.waiters, key)
	}
}

// History returns a copy of every published message in publish order, or
// only those carrying correlationID when it is non-empty.
func (b *Bus) History(correlationID string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	if correlationID == "" {
		out := make([]Message, len(b.history))
		copy(out, b.history)
		return out
	}
	var out []Message
	for _, m := range b.history {
		if m.CorrelationID == correlationID {
			out = append(out, m)
		}
	}
	return out
}

// IsClosed reports whether Close has been called.
func (b *Bus) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close discards queued messages and history, and releases blocked pops
// and pending waiters. It is safe to call more than once.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
	for _, q := range b.queues {
		q.Close()
	}
	b.queues = nil
	b.waiters = nil
	b.history = nil
	b.metrics.busClosed()
	b.logger.Debug("bus closed")
}
