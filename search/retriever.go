package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
)

const (
	// DefaultTopK is the number of passages fetched per sub-query.
	DefaultTopK = 4
	// DefaultQueryCount is the number of generated sub-queries.
	DefaultQueryCount = 3
	// DefaultMinSimilarity keeps every hit; ranking alone decides.
	DefaultMinSimilarity float32 = -1
)

// Retriever runs multi-query similarity search over passage stores.
type Retriever struct {
	stores        storage.StoreCache
	embedder      ai.Embedder
	queries       ai.QueryGenerator
	pool          *ants.Pool
	queryCount    int
	topK          int
	minSimilarity float32
	storeExists   func(path string) bool
	monitor       RetrievalMonitor
	logger        *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever) error

// WithPoolSize sets the worker pool size for concurrent sub-queries.
// Default is runtime.NumCPU(), with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(r *Retriever) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if r.pool != nil {
			r.pool.Release()
		}
		r.pool = pool
		return nil
	}
}

// WithQueryCount sets how many sub-queries are generated per question.
// Zero disables query expansion.
func WithQueryCount(n int) Option {
	return func(r *Retriever) error {
		if n < 0 {
			return fmt.Errorf("query count must not be negative, got %d", n)
		}
		r.queryCount = n
		return nil
	}
}

// WithTopK sets the number of passages fetched per sub-query.
// Default is 4.
func WithTopK(k int) Option {
	return func(r *Retriever) error {
		if k < 1 {
			return fmt.Errorf("top k must be positive, got %d", k)
		}
		r.topK = k
		return nil
	}
}

// WithMinSimilarity drops hits scoring below threshold.
func WithMinSimilarity(threshold float32) Option {
	return func(r *Retriever) error {
		r.minSimilarity = threshold
		return nil
	}
}

// WithStoreCheck replaces the on-disk store existence check.
func WithStoreCheck(exists func(path string) bool) Option {
	return func(r *Retriever) error {
		if exists != nil {
			r.storeExists = exists
		}
		return nil
	}
}

// WithMonitor sets a monitor that observes every retrieval.
func WithMonitor(monitor RetrievalMonitor) Option {
	return func(r *Retriever) error {
		if monitor == nil {
			monitor = &noopMonitor{}
		}
		r.monitor = monitor
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger.With("component", "retriever")
		return nil
	}
}

// NewRetriever creates a retriever that opens stores through stores and
// uses the provider's embedder and query generator.
func NewRetriever(stores storage.StoreCache, provider ai.AIProvider, opts ...Option) (*Retriever, error) {
	if stores == nil {
		return nil, ErrStoreCacheRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	pool, err := ants.NewPool(max(runtime.NumCPU(), 1))
	if err != nil {
		return nil, err
	}

	r := &Retriever{
		stores:        stores,
		embedder:      provider.Embedder(),
		queries:       provider.QueryGenerator(),
		pool:          pool,
		queryCount:    DefaultQueryCount,
		topK:          DefaultTopK,
		minSimilarity: DefaultMinSimilarity,
		storeExists:   storeDirExists,
		monitor:       &noopMonitor{},
		logger:        slog.Default().With("component", "retriever"),
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			r.Release()
			return nil, err
		}
	}
	return r, nil
}

// storeDirExists reports whether path is a non-empty directory.
func storeDirExists(path string) bool {
	entries, err := os.ReadDir(path)
	return err == nil && len(entries) > 0
}

// Retrieve searches the store at storePath for passages relevant to query.
// A store that does not exist or holds no passages yields an empty result.
// Sub-query failures are logged and skipped; the call fails only when every
// sub-query fails.
func (r *Retriever) Retrieve(ctx context.Context, query, storePath, cacheKey string) (core.Retrieval, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return core.Retrieval{}, ErrEmptyQuery
	}
	r.monitor.Start(query)
	logger := r.logger.With("store", storePath)

	if !r.storeExists(storePath) {
		logger.Warn("store not found or empty")
		result := core.Retrieval{Queries: []string{query}}
		r.monitor.Finish(result)
		return result, nil
	}

	store, err := r.stores.Acquire(cacheKey, storePath)
	if err != nil {
		return core.Retrieval{}, fmt.Errorf("opening store %s: %w", storePath, err)
	}
	count, err := store.Count(ctx)
	if err != nil {
		return core.Retrieval{}, err
	}
	if count == 0 {
		logger.Warn("store holds no passages")
		result := core.Retrieval{Queries: []string{query}}
		r.monitor.Finish(result)
		return result, nil
	}

	queries := r.expand(ctx, query)
	r.monitor.AfterQueryGeneration(queries)

	hits, err := r.searchAll(ctx, store, queries)
	if err != nil {
		return core.Retrieval{}, err
	}

	result := merge(queries, hits)
	logger.Debug("retrieval complete",
		"queries", len(queries),
		"candidates", result.Candidates,
		"passages", len(result.Passages))
	r.monitor.Finish(result)
	return result, nil
}

// expand returns the original query followed by the generated ones.
// Generation failure falls back to the original query alone.
func (r *Retriever) expand(ctx context.Context, query string) []string {
	queries := []string{query}
	if r.queryCount == 0 {
		return queries
	}

	generated, err := r.queries.GenerateQueries(ctx, query, r.queryCount)
	if err != nil {
		r.logger.Warn("query generation failed, using original query only", "err", err)
		return queries
	}
	for _, q := range generated {
		q = strings.TrimSpace(q)
		if q != "" && q != query {
			queries = append(queries, q)
		}
	}
	return queries
}

// searchAll runs one similarity search per query on the pool. Results are
// indexed by query position so merge order is deterministic.
func (r *Retriever) searchAll(ctx context.Context, store storage.PassageStore, queries []string) ([][]*core.ScoredPassage, error) {
	hits := make([][]*core.ScoredPassage, len(queries))
	errs := make([]error, len(queries))

	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		err := r.pool.Submit(func() {
			defer wg.Done()
			hits[i], errs[i] = r.searchOne(ctx, store, q)
			r.monitor.SubQueryDone(q, len(hits[i]), errs[i])
		})
		if err != nil {
			wg.Done()
			errs[i] = err
		}
	}
	wg.Wait()

	failed := 0
	for i, err := range errs {
		if err != nil {
			failed++
			r.logger.Warn("sub-query failed", "query", queries[i], "err", err)
		}
	}
	if failed == len(queries) {
		return nil, fmt.Errorf("all %d sub-queries failed: %w", failed, errors.Join(errs...))
	}
	return hits, nil
}

func (r *Retriever) searchOne(ctx context.Context, store storage.PassageStore, query string) ([]*core.ScoredPassage, error) {
	vec, err := r.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, err
	}
	return store.FindSimilar(ctx, core.NormalizeVector(vec), r.minSimilarity, r.topK)
}

// merge flattens per-query hits, keeping the first occurrence of each passage.
func merge(queries []string, hits [][]*core.ScoredPassage) core.Retrieval {
	result := core.Retrieval{Queries: queries}
	seen := make(map[core.ID]struct{})
	for _, perQuery := range hits {
		result.Candidates += len(perQuery)
		for _, hit := range perQuery {
			if _, dup := seen[hit.Passage.Id]; dup {
				continue
			}
			seen[hit.Passage.Id] = struct{}{}
			result.Passages = append(result.Passages, hit.Passage)
		}
	}
	return result
}

// Release releases the worker pool.
// The retriever should not be used after calling Release.
func (r *Retriever) Release() {
	if r.pool != nil {
		r.pool.Release()
	}
}
