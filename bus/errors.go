package bus

import "errors"

var (
	// ErrResponseTimeout is returned when no correlated response arrives in time.
	ErrResponseTimeout = errors.New("timed out waiting for response")

	// ErrBusClosed is returned when the bus is closed while a caller waits.
	ErrBusClosed = errors.New("bus closed")

	// ErrQueueClosed is returned by Pop once the queue has been closed.
	ErrQueueClosed = errors.New("queue closed")

	// ErrDuplicateWaiter is returned when a second wait is registered for the
	// same requester and correlation id.
	ErrDuplicateWaiter = errors.New("a wait for this correlation id is already in progress")

	// ErrUnknownKind is returned when decoding a message kind name fails.
	ErrUnknownKind = errors.New("unknown message kind")
)
