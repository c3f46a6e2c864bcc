package mock

import (
	"context"
	"fmt"
	"sync/atomic"
)

// MockCompleter is a test double for ai.Completer.
type MockCompleter struct {
	// CompleteFunc is called by Complete if set.
	CompleteFunc func(ctx context.Context, system, prompt string) (string, error)

	callCount atomic.Int64
}

// NewMockCompleter creates a mock completer that echoes its prompt.
func NewMockCompleter() *MockCompleter {
	return &MockCompleter{}
}

// WithCompleteFunc sets the completion behavior and returns the mock.
func (m *MockCompleter) WithCompleteFunc(fn func(ctx context.Context, system, prompt string) (string, error)) *MockCompleter {
	m.CompleteFunc = fn
	return m
}

// Complete returns "answer: <prompt>" unless CompleteFunc is set.
func (m *MockCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	m.callCount.Add(1)

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, system, prompt)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("answer: %s", prompt), nil
}

// CallCount returns the number of times Complete was called.
func (m *MockCompleter) CallCount() int {
	return int(m.callCount.Load())
}

// Reset clears the call count and custom behavior.
func (m *MockCompleter) Reset() {
	m.callCount.Store(0)
	m.CompleteFunc = nil
}
