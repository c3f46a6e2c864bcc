package answer

import "errors"

var (
	// ErrCompleterRequired is returned when a completer is not provided.
	ErrCompleterRequired = errors.New("completer required")

	// ErrEmptyAnswer is returned when the model produces only whitespace.
	ErrEmptyAnswer = errors.New("model returned an empty answer")
)
