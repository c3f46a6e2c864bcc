package coordinator

import "errors"

var (
	// ErrInvalidInput is returned for a turn with nothing to do. No message is sent.
	ErrInvalidInput = errors.New("invalid input: a query or a document is required")

	// ErrStageFailure is returned when a stage answers with an ERROR message
	// or with a response of the wrong kind.
	ErrStageFailure = errors.New("stage failed")

	// ErrClosed is returned by ProcessTurn after Close.
	ErrClosed = errors.New("coordinator closed")

	// ErrStageRequired is returned when a stage capability is missing.
	ErrStageRequired = errors.New("stage capability required")
)
