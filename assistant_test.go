package docqa

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/poiesic/docqa/ai/mock"
	"github.com/poiesic/docqa/bus"
	"github.com/poiesic/docqa/coordinator"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const towerText = `The Eiffel Tower is a wrought-iron lattice tower in Paris.
It is 330 metres tall and was completed in 1889 for the World's Fair.`

func newTestAssistant(t *testing.T, opts ...AssistantOption) (*Assistant, string) {
	t.Helper()
	dataDir := filepath.Join(t.TempDir(), "data")
	opts = append([]AssistantOption{
		WithProvider(mock.NewMockProvider()),
		WithTimeout(5 * time.Second),
	}, opts...)
	a, err := NewAssistant(dataDir, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a, dataDir
}

func writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewAssistant(t *testing.T) {
	t.Run("requires data dir", func(t *testing.T) {
		a, err := NewAssistant("", WithProvider(mock.NewMockProvider()))
		assert.ErrorIs(t, err, ErrDataDirRequired)
		assert.Nil(t, a)
	})

	t.Run("error with file as data dir", func(t *testing.T) {
		tmpFile := filepath.Join(t.TempDir(), "not_a_dir")
		require.NoError(t, os.WriteFile(tmpFile, []byte("test"), 0644))

		a, err := NewAssistant(filepath.Join(tmpFile, "data"), WithProvider(mock.NewMockProvider()))
		assert.Error(t, err)
		assert.Nil(t, a)
	})

	t.Run("creates data dir", func(t *testing.T) {
		_, dataDir := newTestAssistant(t)
		info, err := os.Stat(dataDir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
}

func TestAssistantDocumentFlow(t *testing.T) {
	a, dataDir := newTestAssistant(t)
	doc := writeDoc(t, "tower.txt", towerText)
	ctx := context.Background()

	id, err := a.CreateSession()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dataDir, "store_"+id), a.StorePath(id))

	res, err := a.ProcessTurn(ctx, id, doc, coordinator.EmbedOnly)
	require.NoError(t, err)
	require.NoError(t, res.Err, res.Error)
	assert.True(t, res.StoreReady)
	assert.Equal(t, a.StorePath(id), res.StorePath)
	assert.Contains(t, res.Message, "tower.txt")

	res, err = a.ProcessTurn(ctx, id, doc, "How tall is the Eiffel Tower?")
	require.NoError(t, err)
	require.NoError(t, res.Err, res.Error)
	assert.Equal(t, coordinator.OutcomeDocumentAnswer, res.Outcome)
	assert.Contains(t, res.Context, "330 metres tall")
	assert.True(t, strings.HasPrefix(res.Context, "<documents>"))
	assert.NotEmpty(t, res.Answer)

	history, err := a.History(id, res.CorrelationID)
	require.NoError(t, err)
	assert.Len(t, history, 4)

	all, err := a.History(id, "")
	require.NoError(t, err)
	assert.Len(t, all, 6)
}

func TestAssistantGeneralQuestion(t *testing.T) {
	a, _ := newTestAssistant(t)
	id, err := a.CreateSession()
	require.NoError(t, err)

	res, err := a.ProcessTurn(context.Background(), id, "", "What is 2+2?")
	require.NoError(t, err)
	require.NoError(t, res.Err, res.Error)
	assert.Equal(t, coordinator.OutcomeGeneralAnswer, res.Outcome)
	assert.Equal(t, "answer: What is 2+2?", res.Answer)
}

func TestAssistantSessionsAreIsolated(t *testing.T) {
	a, _ := newTestAssistant(t)
	doc := writeDoc(t, "tower.txt", towerText)
	ctx := context.Background()

	first, err := a.CreateSession()
	require.NoError(t, err)
	second, err := a.CreateSession()
	require.NoError(t, err)
	require.NotEqual(t, first, second)
	assert.Len(t, a.Sessions(), 2)

	res, err := a.ProcessTurn(ctx, first, doc, coordinator.EmbedOnly)
	require.NoError(t, err)
	require.True(t, res.StoreReady, res.Error)

	// The second session never ingested the document, so it sees no passages.
	res, err = a.ProcessTurn(ctx, second, doc, "How tall is the Eiffel Tower?")
	require.NoError(t, err)
	require.NoError(t, res.Err, res.Error)
	assert.Equal(t, "<documents></documents>", res.Context)

	secondHistory, err := a.History(second, "")
	require.NoError(t, err)
	for _, m := range secondHistory {
		assert.NotEqual(t, bus.KindIngestionRequest, m.Kind())
	}
}

func TestAssistantMissingDocument(t *testing.T) {
	a, _ := newTestAssistant(t)
	id, err := a.CreateSession()
	require.NoError(t, err)

	res, err := a.ProcessTurn(context.Background(), id, filepath.Join(t.TempDir(), "missing.txt"), coordinator.EmbedOnly)
	require.NoError(t, err)
	require.NoError(t, res.Err)
	assert.False(t, res.StoreReady)
	assert.Contains(t, res.Message, "document not found")
	_, statErr := os.Stat(a.StorePath(id))
	assert.True(t, os.IsNotExist(statErr), "a missing document must not create a store")
}

func TestAssistantEndSession(t *testing.T) {
	t.Run("unknown session", func(t *testing.T) {
		a, _ := newTestAssistant(t)
		assert.ErrorIs(t, a.EndSession("nope"), ErrUnknownSession)
		_, err := a.ProcessTurn(context.Background(), "nope", "", "hi")
		assert.ErrorIs(t, err, ErrUnknownSession)
		_, err = a.History("nope", "")
		assert.ErrorIs(t, err, ErrUnknownSession)
	})

	t.Run("ended session is forgotten but its store stays", func(t *testing.T) {
		a, _ := newTestAssistant(t)
		doc := writeDoc(t, "tower.txt", towerText)
		id, err := a.CreateSession()
		require.NoError(t, err)
		res, err := a.ProcessTurn(context.Background(), id, doc, coordinator.EmbedOnly)
		require.NoError(t, err)
		require.True(t, res.StoreReady, res.Error)

		require.NoError(t, a.EndSession(id))
		assert.ErrorIs(t, a.EndSession(id), ErrUnknownSession)
		_, err = a.ProcessTurn(context.Background(), id, "", "hi")
		assert.ErrorIs(t, err, ErrUnknownSession)
		assert.Empty(t, a.Sessions())

		_, statErr := os.Stat(a.StorePath(id))
		assert.NoError(t, statErr)
	})

	t.Run("store removed on end when asked", func(t *testing.T) {
		a, _ := newTestAssistant(t, WithRemoveStoreOnEnd(true))
		doc := writeDoc(t, "tower.txt", towerText)
		id, err := a.CreateSession()
		require.NoError(t, err)
		res, err := a.ProcessTurn(context.Background(), id, doc, coordinator.EmbedOnly)
		require.NoError(t, err)
		require.True(t, res.StoreReady, res.Error)

		require.NoError(t, a.EndSession(id))
		_, statErr := os.Stat(a.StorePath(id))
		assert.True(t, os.IsNotExist(statErr))
	})
}

func TestAssistantClose(t *testing.T) {
	m, err := bus.NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)
	a, _ := newTestAssistant(t, WithMetrics(m))
	_, err = a.CreateSession()
	require.NoError(t, err)
	_, err = a.CreateSession()
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Empty(t, a.Sessions())

	_, err = a.CreateSession()
	assert.ErrorIs(t, err, ErrAssistantClosed)
}
