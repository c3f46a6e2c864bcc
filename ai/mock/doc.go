// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder, ai.Completer,
// ai.QueryGenerator and ai.AIProvider for use in unit tests. The mocks allow
// tests to run without external AI service dependencies and enable
// controlled, deterministic behavior. Call counters are atomic so the mocks
// can be shared by concurrently running stages.
//
// # Usage in Tests
//
//	mockProvider := mock.NewMockProvider()
//	vec, err := mockProvider.Embedder().EmbedText(ctx, "test")
//
//	// Custom behavior injection
//	completer := mock.NewMockCompleter().
//	    WithCompleteFunc(func(ctx context.Context, system, prompt string) (string, error) {
//	        return "42", nil
//	    })
//
//	// Check call counts
//	count := completer.CallCount()
//
// # Default Behavior
//
//   - MockEmbedder: Returns deterministic unit vectors based on text hash
//   - MockCompleter: Echoes the prompt prefixed with "answer: "
//   - MockQueryGenerator: Returns numbered variants of the question
//   - MockProvider: Aggregates the three mocks
package mock
