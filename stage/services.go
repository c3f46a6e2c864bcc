package stage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/poiesic/docqa/bus"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/ingestion"
)

// Ingester indexes a document into the store at storePath.
type Ingester interface {
	Ingest(ctx context.Context, documentPath, storePath, cacheKey string) (int, error)
}

// Retriever finds passages relevant to query in the store at storePath.
type Retriever interface {
	Retrieve(ctx context.Context, query, storePath, cacheKey string) (core.Retrieval, error)
}

// Answerer answers query from passages and returns the answer together with
// the context block it was given.
type Answerer interface {
	Answer(ctx context.Context, query string, passages []*core.Passage) (string, string, error)
}

// GeneralAnswerer answers query without documents.
type GeneralAnswerer interface {
	AnswerGeneral(ctx context.Context, query string) (string, error)
}

// Ingestion serves INGESTION_REQUEST.
type Ingestion struct {
	*base
	ingester Ingester
}

// NewIngestion attaches ingester to b as the ingestion stage.
func NewIngestion(b *bus.Bus, ingester Ingester, opts ...Option) (*Ingestion, error) {
	if ingester == nil {
		return nil, fmt.Errorf("%w: ingester", ErrCapabilityRequired)
	}
	s := &Ingestion{ingester: ingester}
	common, err := newBase(IngestionName, bus.KindIngestionRequest, b, s.process, opts)
	if err != nil {
		return nil, err
	}
	s.base = common
	return s, nil
}

func (s *Ingestion) process(ctx context.Context, req bus.Message) (bus.Payload, error) {
	p, ok := req.Payload.(bus.IngestionRequest)
	if !ok {
		return nil, fmt.Errorf("%w: payload %T", ErrUnexpectedKind, req.Payload)
	}
	n, err := s.ingester.Ingest(ctx, p.DocumentPath, p.TargetStorePath, p.IndexCacheKey)
	switch {
	case errors.Is(err, ingestion.ErrDocumentNotFound), errors.Is(err, ingestion.ErrEmptyDocument):
		s.logger.Info("document not indexed", "document", p.DocumentPath, "reason", err)
		return bus.IngestionResponse{
			Success:   false,
			StorePath: p.TargetStorePath,
			Message:   err.Error(),
		}, nil
	case err != nil:
		return nil, fmt.Errorf("failed to ingest %s: %w", p.DocumentPath, err)
	}
	s.logger.Info("document indexed", "document", p.DocumentPath, "chunks", n)
	return bus.IngestionResponse{
		Success:            true,
		StoreReady:         true,
		StorePath:          p.TargetStorePath,
		DocumentsProcessed: n,
		Message:            fmt.Sprintf("indexed %d chunks from %s", n, filepath.Base(p.DocumentPath)),
	}, nil
}

// Retrieval serves RETRIEVAL_REQUEST.
type Retrieval struct {
	*base
	retriever Retriever
}

// NewRetrieval attaches retriever to b as the retrieval stage.
func NewRetrieval(b *bus.Bus, retriever Retriever, opts ...Option) (*Retrieval, error) {
	if retriever == nil {
		return nil, fmt.Errorf("%w: retriever", ErrCapabilityRequired)
	}
	s := &Retrieval{retriever: retriever}
	common, err := newBase(RetrievalName, bus.KindRetrievalRequest, b, s.process, opts)
	if err != nil {
		return nil, err
	}
	s.base = common
	return s, nil
}

func (s *Retrieval) process(ctx context.Context, req bus.Message) (bus.Payload, error) {
	p, ok := req.Payload.(bus.RetrievalRequest)
	if !ok {
		return nil, fmt.Errorf("%w: payload %T", ErrUnexpectedKind, req.Payload)
	}
	result, err := s.retriever.Retrieve(ctx, p.Query, p.StorePath, p.IndexCacheKey)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve passages: %w", err)
	}
	s.logger.Debug("passages retrieved", "count", len(result.Passages), "queries", len(result.Queries))
	return bus.RetrievalResponse{
		Passages:     result.Passages,
		MatchedCount: len(result.Passages),
		Queries:      result.Queries,
	}, nil
}

// Answering serves ANSWER_REQUEST.
type Answering struct {
	*base
	answerer Answerer
}

// NewAnswering attaches answerer to b as the answering stage.
func NewAnswering(b *bus.Bus, answerer Answerer, opts ...Option) (*Answering, error) {
	if answerer == nil {
		return nil, fmt.Errorf("%w: answerer", ErrCapabilityRequired)
	}
	s := &Answering{answerer: answerer}
	common, err := newBase(AnsweringName, bus.KindAnswerRequest, b, s.process, opts)
	if err != nil {
		return nil, err
	}
	s.base = common
	return s, nil
}

func (s *Answering) process(ctx context.Context, req bus.Message) (bus.Payload, error) {
	p, ok := req.Payload.(bus.AnswerRequest)
	if !ok {
		return nil, fmt.Errorf("%w: payload %T", ErrUnexpectedKind, req.Payload)
	}
	text, formatted, err := s.answerer.Answer(ctx, p.Query, p.Passages)
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}
	return bus.AnswerResponse{AnswerText: text, FormattedContext: formatted}, nil
}

// General serves GENERAL_REQUEST.
type General struct {
	*base
	answerer GeneralAnswerer
}

// NewGeneral attaches answerer to b as the general answering stage.
func NewGeneral(b *bus.Bus, answerer GeneralAnswerer, opts ...Option) (*General, error) {
	if answerer == nil {
		return nil, fmt.Errorf("%w: general answerer", ErrCapabilityRequired)
	}
	s := &General{answerer: answerer}
	common, err := newBase(GeneralName, bus.KindGeneralRequest, b, s.process, opts)
	if err != nil {
		return nil, err
	}
	s.base = common
	return s, nil
}

func (s *General) process(ctx context.Context, req bus.Message) (bus.Payload, error) {
	p, ok := req.Payload.(bus.GeneralRequest)
	if !ok {
		return nil, fmt.Errorf("%w: payload %T", ErrUnexpectedKind, req.Payload)
	}
	text, err := s.answerer.AnswerGeneral(ctx, p.Query)
	if err != nil {
		return nil, fmt.Errorf("failed to answer: %w", err)
	}
	return bus.GeneralResponse{AnswerText: text}, nil
}
