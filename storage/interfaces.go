package storage

import (
	"context"

	"github.com/poiesic/docqa/core"
)

// PassageStore is a vector index over document passages.
// Implementations must be thread-safe and support concurrent access.
type PassageStore interface {
	// AddPassages stores one or more passages. Passages are keyed by their
	// content ID, so re-adding identical content overwrites rather than duplicates.
	// Sets InsertedAt if not already set. Every passage must pass core.ValidatePassage.
	AddPassages(ctx context.Context, passages ...*core.Passage) error

	// GetPassage retrieves a single passage by ID.
	// Returns ErrNotFound if the passage doesn't exist.
	GetPassage(ctx context.Context, id core.ID) (*core.Passage, error)

	// FindSimilar returns up to limit passages ordered by similarity to
	// vector, highest first. Passages scoring below minSimilarity are dropped.
	FindSimilar(ctx context.Context, vector []float32, minSimilarity float32, limit int) ([]*core.ScoredPassage, error)

	// Count returns the number of stored passages.
	Count(ctx context.Context) (int, error)

	// Close closes the store and releases resources.
	Close() error
}

// StoreCache hands out shared PassageStore handles keyed by an index cache key.
// A store directory is opened at most once per key; callers must not Close
// the returned store themselves.
type StoreCache interface {
	Acquire(key, path string) (PassageStore, error)
}
