package badger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
)

// PassageStore implements storage.PassageStore for BadgerDB.
// It owns its backend and closes it on Close.
type PassageStore struct {
	backend *Backend
}

var _ storage.PassageStore = (*PassageStore)(nil)

// NewPassageStore opens (or creates) a passage store in the directory at path.
//
// Returns storage.PassageStore interface to enforce abstraction.
func NewPassageStore(path string) (storage.PassageStore, error) {
	backend, err := OpenBackend(path, false)
	if err != nil {
		return nil, err
	}
	return newPassageStore(backend), nil
}

func newPassageStore(backend *Backend) *PassageStore {
	return &PassageStore{backend: backend}
}

// Close closes the underlying database.
func (s *PassageStore) Close() error {
	return s.backend.Close()
}

// AddPassages stores passages keyed by content ID in a single transaction.
// Large batches are split across transactions when badger reports ErrTxnTooBig.
func (s *PassageStore) AddPassages(ctx context.Context, passages ...*core.Passage) error {
	for _, p := range passages {
		if err := core.ValidatePassage(p); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	pending := passages
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		written := 0
		err := s.backend.WithTx(func(tx *badger.Txn) error {
			for _, p := range pending {
				if p.InsertedAt.IsZero() {
					p.InsertedAt = now
				}
				err := tx.Set(makePassageKey(p.Id), storage.MarshalPassage(p))
				if errors.Is(err, badger.ErrTxnTooBig) && written > 0 {
					break
				}
				if err != nil {
					return err
				}
				written++
			}
			return tx.Commit()
		}, true)
		if err != nil {
			return err
		}
		pending = pending[written:]
	}
	return nil
}

// GetPassage retrieves a single passage by ID.
func (s *PassageStore) GetPassage(ctx context.Context, id core.ID) (*core.Passage, error) {
	var passage *core.Passage
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makePassageKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("passage %d: %w", id, storage.ErrNotFound)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var err error
			passage, err = storage.UnmarshalPassage(val)
			return err
		})
	}, false)
	return passage, err
}

// FindSimilar scans every stored passage and ranks them by dot product
// with vector. Stored vectors are unit length, so this is cosine similarity
// when vector is normalized too.
func (s *PassageStore) FindSimilar(ctx context.Context, vector []float32, minSimilarity float32, limit int) ([]*core.ScoredPassage, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", storage.ErrInvalidQuery, limit)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", storage.ErrInvalidQuery)
	}

	var results []*core.ScoredPassage
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(passagePrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var passage *core.Passage
			err := iter.Item().Value(func(val []byte) error {
				var err error
				passage, err = storage.UnmarshalPassage(val)
				return err
			})
			if err != nil {
				return err
			}
			if len(passage.Vector) == 0 {
				continue
			}

			score := core.DotProduct(vector, passage.Vector)
			if score >= minSimilarity {
				results = append(results, &core.ScoredPassage{Passage: passage, Score: score})
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	// Stable so equal scores keep key order
	slices.SortStableFunc(results, func(a, b *core.ScoredPassage) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Count returns the number of stored passages using a key-only iteration.
func (s *PassageStore) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(passagePrefix)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	}, false)
	return count, err
}
