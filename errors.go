package docqa

import "errors"

var (
	// ErrUnknownSession is returned for a session id that was never created or has ended.
	ErrUnknownSession = errors.New("unknown session")

	// ErrAssistantClosed is returned after Close.
	ErrAssistantClosed = errors.New("assistant closed")

	// ErrDataDirRequired is returned when NewAssistant gets an empty data directory.
	ErrDataDirRequired = errors.New("data directory required")
)
