package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/poiesic/docqa/ai/mock"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
	"github.com/poiesic/docqa/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedCache always returns the same store.
type fixedCache struct {
	store storage.PassageStore
}

func (c *fixedCache) Acquire(key, path string) (storage.PassageStore, error) {
	return c.store, nil
}

// recordingMonitor captures monitor callbacks.
type recordingMonitor struct {
	mu        sync.Mutex
	started   string
	generated []string
	subs      map[string]int
	finished  *core.Retrieval
}

func (m *recordingMonitor) Start(query string) { m.started = query }
func (m *recordingMonitor) AfterQueryGeneration(queries []string) {
	m.generated = queries
}
func (m *recordingMonitor) SubQueryDone(query string, hits int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subs == nil {
		m.subs = map[string]int{}
	}
	m.subs[query] = hits
}
func (m *recordingMonitor) Finish(result core.Retrieval) { m.finished = &result }

func always(string) bool { return true }

// seedStore stores passages whose vectors equal the mock embedding of the
// given query text, so searching for that text ranks the passage first.
func seedStore(t *testing.T, byQuery map[string]string) storage.PassageStore {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	for query, content := range byQuery {
		p := core.NewPassage(content, "/docs/doc.txt", nil)
		p.Vector = mock.DeterministicVector(query)
		require.NoError(t, store.AddPassages(context.Background(), p))
	}
	return store
}

func newTestRetriever(t *testing.T, store storage.PassageStore, provider *mock.MockProvider, opts ...Option) *Retriever {
	t.Helper()
	opts = append([]Option{WithStoreCheck(always)}, opts...)
	r, err := NewRetriever(&fixedCache{store: store}, provider, opts...)
	require.NoError(t, err)
	t.Cleanup(r.Release)
	return r
}

func TestNewRetriever_Validation(t *testing.T) {
	_, err := NewRetriever(nil, mock.NewMockProvider())
	assert.ErrorIs(t, err, ErrStoreCacheRequired)

	_, err = NewRetriever(&fixedCache{}, nil)
	assert.ErrorIs(t, err, ErrAIProviderRequired)

	_, err = NewRetriever(&fixedCache{}, mock.NewMockProvider(), WithTopK(0))
	assert.Error(t, err)

	_, err = NewRetriever(&fixedCache{}, mock.NewMockProvider(), WithQueryCount(-1))
	assert.Error(t, err)
}

func TestRetrieve_ExpandsAndDeduplicates(t *testing.T) {
	store := seedStore(t, map[string]string{
		"capital of France":             "Paris is the capital of France.",
		"capital of France (variant 1)": "France is in Europe.",
		"capital of France (variant 2)": "The Seine flows through Paris.",
	})
	provider := mock.NewMockProvider().(*mock.MockProvider)
	monitor := &recordingMonitor{}
	r := newTestRetriever(t, store, provider, WithTopK(2), WithMonitor(monitor))

	result, err := r.Retrieve(context.Background(), "capital of France", "/unused", "k")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"capital of France",
		"capital of France (variant 1)",
		"capital of France (variant 2)",
		"capital of France (variant 3)",
	}, result.Queries)
	assert.Equal(t, 8, result.Candidates, "4 queries x top 2")
	assert.Len(t, result.Passages, 3, "duplicates across sub-queries collapse")
	assert.Equal(t, "Paris is the capital of France.", result.Passages[0].Content,
		"the original query's best hit comes first")

	ids := map[core.ID]bool{}
	for _, p := range result.Passages {
		assert.False(t, ids[p.Id])
		ids[p.Id] = true
	}

	assert.Equal(t, "capital of France", monitor.started)
	assert.Len(t, monitor.generated, 4)
	assert.Len(t, monitor.subs, 4)
	require.NotNil(t, monitor.finished)
	assert.Equal(t, result.Candidates, monitor.finished.Candidates)

	assert.Equal(t, 1, provider.GetMockQueryGenerator().CallCount())
	assert.Equal(t, 4, provider.GetMockEmbedder().CallCount())
}

func TestRetrieve_GenerationFailureFallsBack(t *testing.T) {
	store := seedStore(t, map[string]string{"q": "answer passage"})
	provider := mock.NewMockProvider().(*mock.MockProvider)
	provider.GetMockQueryGenerator().WithGenerateQueriesFunc(func(context.Context, string, int) ([]string, error) {
		return nil, errors.New("bad json")
	})
	r := newTestRetriever(t, store, provider)

	result, err := r.Retrieve(context.Background(), "q", "/unused", "k")
	require.NoError(t, err)
	assert.Equal(t, []string{"q"}, result.Queries)
	require.Len(t, result.Passages, 1)
	assert.Equal(t, "answer passage", result.Passages[0].Content)
}

func TestRetrieve_GeneratedDuplicatesOfOriginalDropped(t *testing.T) {
	store := seedStore(t, map[string]string{"q": "p"})
	provider := mock.NewMockProvider().(*mock.MockProvider)
	provider.GetMockQueryGenerator().WithGenerateQueriesFunc(func(context.Context, string, int) ([]string, error) {
		return []string{"q", " ", "other"}, nil
	})
	r := newTestRetriever(t, store, provider)

	result, err := r.Retrieve(context.Background(), "q", "/unused", "k")
	require.NoError(t, err)
	assert.Equal(t, []string{"q", "other"}, result.Queries)
}

func TestRetrieve_NoExpansion(t *testing.T) {
	store := seedStore(t, map[string]string{"q": "p"})
	provider := mock.NewMockProvider().(*mock.MockProvider)
	r := newTestRetriever(t, store, provider, WithQueryCount(0))

	result, err := r.Retrieve(context.Background(), "q", "/unused", "k")
	require.NoError(t, err)
	assert.Equal(t, []string{"q"}, result.Queries)
	assert.Zero(t, provider.GetMockQueryGenerator().CallCount())
}

func TestRetrieve_PartialSubQueryFailure(t *testing.T) {
	store := seedStore(t, map[string]string{"q": "p"})
	provider := mock.NewMockProvider().(*mock.MockProvider)
	provider.GetMockEmbedder().EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		if text != "q" {
			return nil, errors.New("embedding failed")
		}
		return mock.DeterministicVector(text), nil
	}
	r := newTestRetriever(t, store, provider)

	result, err := r.Retrieve(context.Background(), "q", "/unused", "k")
	require.NoError(t, err)
	assert.Len(t, result.Passages, 1)
}

func TestRetrieve_AllSubQueriesFail(t *testing.T) {
	store := seedStore(t, map[string]string{"q": "p"})
	provider := mock.NewMockProvider().(*mock.MockProvider)
	boom := errors.New("embedding service down")
	provider.GetMockEmbedder().EmbedTextFunc = func(context.Context, string) ([]float32, error) {
		return nil, boom
	}
	r := newTestRetriever(t, store, provider)

	_, err := r.Retrieve(context.Background(), "q", "/unused", "k")
	assert.ErrorIs(t, err, boom)
}

func TestRetrieve_MissingStore(t *testing.T) {
	provider := mock.NewMockProvider().(*mock.MockProvider)
	var acquired atomic.Bool
	r, err := NewRetriever(storeCacheFunc(func(key, path string) (storage.PassageStore, error) {
		acquired.Store(true)
		return nil, fmt.Errorf("unexpected acquire")
	}), provider)
	require.NoError(t, err)
	defer r.Release()

	result, err := r.Retrieve(context.Background(), "q", t.TempDir()+"/absent", "k")
	require.NoError(t, err)
	assert.Empty(t, result.Passages)
	assert.False(t, acquired.Load(), "a missing store is never opened")
	assert.Zero(t, provider.GetMockEmbedder().CallCount())
}

func TestRetrieve_EmptyStore(t *testing.T) {
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	defer store.Close()
	provider := mock.NewMockProvider().(*mock.MockProvider)
	r := newTestRetriever(t, store, provider)

	result, err := r.Retrieve(context.Background(), "q", "/unused", "k")
	require.NoError(t, err)
	assert.Empty(t, result.Passages)
	assert.Zero(t, provider.GetMockQueryGenerator().CallCount())
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	r := newTestRetriever(t, nil, mock.NewMockProvider().(*mock.MockProvider))

	_, err := r.Retrieve(context.Background(), "   ", "/unused", "k")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

type storeCacheFunc func(key, path string) (storage.PassageStore, error)

func (f storeCacheFunc) Acquire(key, path string) (storage.PassageStore, error) { return f(key, path) }
