package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// The returned vector represents the semantic meaning of the text.
	// Returns an error if the embedding generation fails.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// Batch processing is more efficient than calling EmbedText multiple times.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Completer produces a single text completion from a chat model.
// Implementations must be thread-safe for concurrent use.
type Completer interface {
	// Complete sends an optional system prompt and one user prompt and
	// returns the model's reply. An empty system prompt is omitted.
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// QueryGenerator rewrites a question into diversified search queries.
// Implementations must be thread-safe for concurrent use.
type QueryGenerator interface {
	// GenerateQueries returns up to n search queries for the question.
	// Returns an empty slice if the model produced none.
	GenerateQueries(ctx context.Context, question string, n int) ([]string, error)
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
// A provider creates and manages the embedder, completer and query generator,
// ensuring they share configuration and resources appropriately.
type AIProvider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Completer returns the chat completion service.
	Completer() Completer

	// QueryGenerator returns the query expansion service.
	QueryGenerator() QueryGenerator

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
