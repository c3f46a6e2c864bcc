// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package docqa answers questions about documents, or from general
// knowledge, through a pipeline of stages that talk over a per-session
// message bus.
//
// An Assistant owns the shared resources (AI provider, index cache, stage
// capabilities) and one coordinator per session:
//
//	a, err := docqa.NewAssistant("./data")
//	id, err := a.CreateSession()
//	res, err := a.ProcessTurn(ctx, id, "report.pdf", coordinator.EmbedOnly)
//	res, err = a.ProcessTurn(ctx, id, "report.pdf", "What was revenue in Q3?")
//	err = a.EndSession(id)
package docqa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/ai/openai"
	"github.com/poiesic/docqa/answer"
	"github.com/poiesic/docqa/bus"
	"github.com/poiesic/docqa/coordinator"
	"github.com/poiesic/docqa/ingestion"
	"github.com/poiesic/docqa/search"
)

// AssistantOption configures an Assistant.
type AssistantOption func(*assistantOptions)

type assistantOptions struct {
	aiConfig         *ai.Config
	provider         ai.AIProvider
	timeout          time.Duration
	removeStoreOnEnd bool
	metrics          *bus.Metrics
	logger           *slog.Logger
	opener           search.Opener
	ingestionOpts    []ingestion.Option
	retrieverOpts    []search.Option
}

// WithAIConfig sets the configuration of the OpenAI-compatible provider.
func WithAIConfig(config *ai.Config) AssistantOption {
	return func(o *assistantOptions) {
		o.aiConfig = config
	}
}

// WithProvider uses provider instead of building one from the AI config.
// The caller keeps ownership: Close does not close it.
func WithProvider(provider ai.AIProvider) AssistantOption {
	return func(o *assistantOptions) {
		o.provider = provider
	}
}

// WithTimeout bounds every stage request. Zero means bus.DefaultTimeout.
func WithTimeout(d time.Duration) AssistantOption {
	return func(o *assistantOptions) {
		o.timeout = d
	}
}

// WithRemoveStoreOnEnd deletes a session's store directory when the session ends.
func WithRemoveStoreOnEnd(remove bool) AssistantOption {
	return func(o *assistantOptions) {
		o.removeStoreOnEnd = remove
	}
}

// WithMetrics records bus traffic of every session on m.
func WithMetrics(m *bus.Metrics) AssistantOption {
	return func(o *assistantOptions) {
		o.metrics = m
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) AssistantOption {
	return func(o *assistantOptions) {
		o.logger = logger
	}
}

// WithStoreOpener replaces how passage stores are opened.
func WithStoreOpener(open search.Opener) AssistantOption {
	return func(o *assistantOptions) {
		o.opener = open
	}
}

// WithIngestionOptions passes extra options to the ingestion pipeline.
func WithIngestionOptions(opts ...ingestion.Option) AssistantOption {
	return func(o *assistantOptions) {
		o.ingestionOpts = append(o.ingestionOpts, opts...)
	}
}

// WithRetrieverOptions passes extra options to the retriever.
func WithRetrieverOptions(opts ...search.Option) AssistantOption {
	return func(o *assistantOptions) {
		o.retrieverOpts = append(o.retrieverOpts, opts...)
	}
}

// Assistant manages sessions. Each session has its own bus, coordinator
// and store; the AI provider, index cache and stage capabilities are shared.
type Assistant struct {
	dataDir          string
	provider         ai.AIProvider
	ownsProvider     bool
	registry         *bus.Registry
	cache            *search.IndexCache
	pipeline         *ingestion.Pipeline
	retriever        *search.Retriever
	generator        *answer.Generator
	timeout          time.Duration
	removeStoreOnEnd bool
	logger           *slog.Logger

	mu       sync.Mutex
	sessions map[string]*coordinator.Coordinator
	closed   bool
}

// NewAssistant creates an assistant that keeps session stores under dataDir.
func NewAssistant(dataDir string, opts ...AssistantOption) (*Assistant, error) {
	if dataDir == "" {
		return nil, ErrDataDirRequired
	}
	options := &assistantOptions{
		aiConfig: ai.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(options)
	}
	logger := options.logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	provider, ownsProvider := options.provider, false
	if provider == nil {
		var err error
		provider, err = openai.NewProvider(options.aiConfig)
		if err != nil {
			return nil, err
		}
		ownsProvider = true
	}

	cacheOpts := []search.CacheOption{search.WithCacheLogger(logger)}
	if options.opener != nil {
		cacheOpts = append(cacheOpts, search.WithOpener(options.opener))
	}
	cache := search.NewIndexCache(cacheOpts...)

	a := &Assistant{
		dataDir:          dataDir,
		provider:         provider,
		ownsProvider:     ownsProvider,
		registry:         bus.NewRegistry(bus.WithRegistryLogger(logger), bus.WithRegistryMetrics(options.metrics)),
		cache:            cache,
		timeout:          options.timeout,
		removeStoreOnEnd: options.removeStoreOnEnd,
		logger:           logger.With("component", "assistant"),
		sessions:         make(map[string]*coordinator.Coordinator),
	}

	var err error
	pipelineOpts := append([]ingestion.Option{ingestion.WithStoreCache(cache), ingestion.WithLogger(logger)}, options.ingestionOpts...)
	if a.pipeline, err = ingestion.NewPipeline(provider.Embedder(), pipelineOpts...); err != nil {
		a.release()
		return nil, err
	}
	retrieverOpts := append([]search.Option{search.WithLogger(logger)}, options.retrieverOpts...)
	if a.retriever, err = search.NewRetriever(cache, provider, retrieverOpts...); err != nil {
		a.release()
		return nil, err
	}
	if a.generator, err = answer.NewGenerator(provider.Completer(), answer.WithLogger(logger)); err != nil {
		a.release()
		return nil, err
	}
	return a, nil
}

// StorePath returns where the session's passages are stored.
func (a *Assistant) StorePath(sessionID string) string {
	return filepath.Join(a.dataDir, "store_"+sessionID)
}

// CreateSession opens a new session and returns its id.
func (a *Assistant) CreateSession() (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return "", ErrAssistantClosed
	}

	id := uuid.NewString()
	storePath := a.StorePath(id)
	coord, err := coordinator.New(a.registry.Open(id), coordinator.Stages{
		Ingester:        a.pipeline,
		Retriever:       a.retriever,
		Answerer:        a.generator,
		GeneralAnswerer: a.generator,
	},
		coordinator.WithTimeout(a.timeout),
		coordinator.WithStore(storePath, search.CacheKey(id, storePath)),
		coordinator.WithLogger(a.logger),
	)
	if err != nil {
		a.registry.Remove(id)
		return "", err
	}
	a.sessions[id] = coord
	a.logger.Info("session created", "session", id)
	return id, nil
}

// Sessions returns the ids of the open sessions, sorted.
func (a *Assistant) Sessions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := make([]string, 0, len(a.sessions))
	for id := range a.sessions {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ProcessTurn runs one turn of the session. Turn failures are reported in
// the Result; the error is only for an unknown session.
func (a *Assistant) ProcessTurn(ctx context.Context, sessionID, documentPath, query string) (*coordinator.Result, error) {
	a.mu.Lock()
	coord, ok := a.sessions[sessionID]
	a.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return coord.ProcessTurn(ctx, documentPath, query), nil
}

// History returns the session's messages, optionally filtered by correlation id.
func (a *Assistant) History(sessionID, correlationID string) ([]bus.Message, error) {
	b, ok := a.registry.Lookup(sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return b.History(correlationID), nil
}

// EndSession stops the session's stages, drops its bus and releases its
// cached store handles.
func (a *Assistant) EndSession(sessionID string) error {
	a.mu.Lock()
	coord, ok := a.sessions[sessionID]
	delete(a.sessions, sessionID)
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
	}
	return a.endSession(sessionID, coord)
}

func (a *Assistant) endSession(sessionID string, coord *coordinator.Coordinator) error {
	coord.Close()
	a.registry.Remove(sessionID)

	var errs []error
	if err := a.cache.ReleaseSession(sessionID); err != nil {
		errs = append(errs, fmt.Errorf("failed to release session stores: %w", err))
	}
	if a.removeStoreOnEnd {
		if err := os.RemoveAll(coord.StorePath()); err != nil {
			errs = append(errs, fmt.Errorf("failed to remove session store: %w", err))
		}
	}
	a.logger.Info("session ended", "session", sessionID)
	return errors.Join(errs...)
}

// Close ends every session and releases shared resources.
func (a *Assistant) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	sessions := a.sessions
	a.sessions = make(map[string]*coordinator.Coordinator)
	a.mu.Unlock()

	var errs []error
	for id, coord := range sessions {
		if err := a.endSession(id, coord); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *Assistant) release() error {
	var errs []error
	a.registry.Close()
	if a.retriever != nil {
		a.retriever.Release()
	}
	if err := a.cache.Close(); err != nil {
		a.logger.Error("error closing index cache", "err", err)
		errs = append(errs, err)
	}
	if a.ownsProvider {
		if err := a.provider.Close(); err != nil {
			a.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
