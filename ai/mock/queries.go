package mock

import (
	"context"
	"fmt"
	"sync/atomic"
)

// MockQueryGenerator is a test double for ai.QueryGenerator.
type MockQueryGenerator struct {
	// GenerateQueriesFunc is called by GenerateQueries if set.
	GenerateQueriesFunc func(ctx context.Context, question string, n int) ([]string, error)

	callCount atomic.Int64
}

// NewMockQueryGenerator creates a mock generator returning numbered variants.
func NewMockQueryGenerator() *MockQueryGenerator {
	return &MockQueryGenerator{}
}

// WithGenerateQueriesFunc sets the generation behavior and returns the mock.
func (m *MockQueryGenerator) WithGenerateQueriesFunc(fn func(ctx context.Context, question string, n int) ([]string, error)) *MockQueryGenerator {
	m.GenerateQueriesFunc = fn
	return m
}

// GenerateQueries returns "<question> (variant i)" for i in 1..n.
func (m *MockQueryGenerator) GenerateQueries(ctx context.Context, question string, n int) ([]string, error) {
	m.callCount.Add(1)

	if m.GenerateQueriesFunc != nil {
		return m.GenerateQueriesFunc(ctx, question, n)
	}
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s (variant %d)", question, i+1)
	}
	return out, nil
}

// CallCount returns the number of times GenerateQueries was called.
func (m *MockQueryGenerator) CallCount() int {
	return int(m.callCount.Load())
}

// Reset clears the call count and custom behavior.
func (m *MockQueryGenerator) Reset() {
	m.callCount.Store(0)
	m.GenerateQueriesFunc = nil
}
