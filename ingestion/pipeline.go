package ingestion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
	"github.com/tmc/langchaingo/textsplitter"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultChunkSize is the target chunk length in characters.
	DefaultChunkSize = 1000
	// DefaultChunkOverlap is the number of characters shared by adjacent chunks.
	DefaultChunkOverlap = 200
	// DefaultBatchSize is the number of chunks sent per embedding request.
	DefaultBatchSize = 32
)

// Pipeline loads, chunks, embeds and stores documents.
type Pipeline struct {
	embedder       ai.Embedder
	stores         storage.StoreCache
	splitter       textsplitter.TextSplitter
	batchSize      int
	concurrency    int
	maxRetries     int
	retryBaseDelay time.Duration
	progress       io.Writer
	logger         *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithChunking sets chunk size and overlap for the recursive character splitter.
// Default is 1000 characters with 200 overlap.
func WithChunking(size, overlap int) Option {
	return func(p *Pipeline) error {
		if size < 1 || overlap < 0 || overlap >= size {
			return fmt.Errorf("invalid chunking: size=%d overlap=%d", size, overlap)
		}
		p.splitter = newSplitter(size, overlap)
		return nil
	}
}

// WithBatchSize sets how many chunks are embedded per request.
// Default is 32.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		p.batchSize = size
		return nil
	}
}

// WithConcurrency sets the number of embedding batches in flight.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			n = 1
		}
		p.concurrency = n
		return nil
	}
}

// WithRetry sets the attempts and base backoff delay per embedding batch.
// Default is 3 attempts starting at 500ms.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(p *Pipeline) error {
		if maxAttempts < 1 {
			return ErrInvalidMaxAttempts
		}
		p.maxRetries = maxAttempts
		p.retryBaseDelay = baseDelay
		return nil
	}
}

// WithStoreCache sets the store cache Ingest writes through.
func WithStoreCache(stores storage.StoreCache) Option {
	return func(p *Pipeline) error {
		p.stores = stores
		return nil
	}
}

// WithProgress enables progress reporting to w.
func WithProgress(w io.Writer) Option {
	return func(p *Pipeline) error {
		p.progress = w
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger.With("component", "ingestion")
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(embedder ai.Embedder, opts ...Option) (*Pipeline, error) {
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	p := &Pipeline{
		embedder:       embedder,
		splitter:       newSplitter(DefaultChunkSize, DefaultChunkOverlap),
		batchSize:      DefaultBatchSize,
		concurrency:    max(runtime.NumCPU()/2, 1),
		maxRetries:     3,
		retryBaseDelay: 500 * time.Millisecond,
		logger:         slog.Default().With("component", "ingestion"),
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func newSplitter(size, overlap int) textsplitter.TextSplitter {
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
	)
}

// Ingest embeds the document into the store at storePath, opened through the
// pipeline's store cache under cacheKey. Returns the number of passages written.
func (p *Pipeline) Ingest(ctx context.Context, documentPath, storePath, cacheKey string) (int, error) {
	if p.stores == nil {
		return 0, ErrStoreCacheRequired
	}
	// Check before opening so a bad path or format never creates an empty store
	if _, err := checkDocument(documentPath); err != nil {
		return 0, err
	}
	store, err := p.stores.Acquire(cacheKey, storePath)
	if err != nil {
		return 0, fmt.Errorf("opening store %s: %w", storePath, err)
	}
	return p.IngestInto(ctx, documentPath, store)
}

// IngestInto embeds the document into an already open store.
// Chunks with identical content are embedded once.
func (p *Pipeline) IngestInto(ctx context.Context, documentPath string, store storage.PassageStore) (int, error) {
	start := time.Now()
	logger := p.logger.With("document", documentPath)

	docs, err := loadAndSplit(ctx, documentPath, p.splitter)
	if err != nil {
		return 0, err
	}

	source, _ := filepath.Abs(documentPath)
	passages := make([]*core.Passage, 0, len(docs))
	seen := make(map[core.ID]struct{}, len(docs))
	for _, doc := range docs {
		if doc.PageContent == "" {
			continue
		}
		passage := core.NewPassage(doc.PageContent, source, flattenMetadata(source, doc.Metadata))
		if _, dup := seen[passage.Id]; dup {
			continue
		}
		seen[passage.Id] = struct{}{}
		passages = append(passages, passage)
	}
	if len(passages) == 0 {
		return 0, fmt.Errorf("%w: %s", ErrEmptyDocument, documentPath)
	}
	logger.Debug("document split", "chunks", len(passages))

	if err := p.embed(ctx, filepath.Base(documentPath), passages); err != nil {
		return 0, err
	}

	if err := store.AddPassages(ctx, passages...); err != nil {
		return 0, fmt.Errorf("storing passages: %w", err)
	}

	logger.Info("document ingested", "passages", len(passages), "elapsed", time.Since(start))
	return len(passages), nil
}

// embed fills in passage vectors, running up to p.concurrency batches at once.
// Each batch writes only its own slice of passages.
func (p *Pipeline) embed(ctx context.Context, label string, passages []*core.Passage) error {
	var tracker *ProgressTracker
	if p.progress != nil {
		tracker = NewProgressTracker(p.progress, label, len(passages), p.batchSize)
		defer tracker.Finish()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for start := 0; start < len(passages); start += p.batchSize {
		batch := passages[start:min(start+p.batchSize, len(passages))]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, passage := range batch {
				texts[i] = passage.Content
			}

			var vectors [][]float32
			err := RetryWithBackoff(gctx, p.logger, func() error {
				var err error
				vectors, err = p.embedder.EmbedTexts(gctx, texts)
				return err
			}, p.maxRetries, p.retryBaseDelay)
			if err != nil {
				return fmt.Errorf("failed to generate embeddings after %d attempts: %w", p.maxRetries, err)
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("%w: expected %d, got %d", ErrEmbeddingMismatch, len(batch), len(vectors))
			}

			for i, passage := range batch {
				passage.Vector = core.NormalizeVector(vectors[i])
			}
			if tracker != nil {
				tracker.Increment(len(batch))
			}
			return nil
		})
	}

	return g.Wait()
}
