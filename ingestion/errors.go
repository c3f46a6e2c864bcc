package ingestion

import "errors"

var (
	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrStoreCacheRequired is returned when Ingest is called on a pipeline built without a store cache.
	ErrStoreCacheRequired = errors.New("store cache required")

	// ErrDocumentNotFound is returned when the document path does not exist.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrUnsupportedFormat is returned for file extensions with no loader.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrEmptyDocument is returned when a document yields no text chunks.
	ErrEmptyDocument = errors.New("document has no text content")

	// ErrEmbeddingMismatch is returned when the embedder returns a different number of vectors than texts.
	ErrEmbeddingMismatch = errors.New("embedding count mismatch")

	// ErrInvalidMaxAttempts is returned when retry is configured with fewer than one attempt.
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")
)
