package stage

import "errors"

var (
	// ErrCapabilityRequired is returned when a service is built without its capability.
	ErrCapabilityRequired = errors.New("stage capability required")

	// ErrBusRequired is returned when a service is built without a bus.
	ErrBusRequired = errors.New("bus required")

	// ErrUnexpectedKind is reported when a service receives a request it does not serve.
	ErrUnexpectedKind = errors.New("unexpected message kind")

	// ErrPanic is reported when a capability panics while handling a request.
	ErrPanic = errors.New("stage panicked")
)
