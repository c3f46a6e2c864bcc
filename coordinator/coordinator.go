// Package coordinator sequences the stages of a session for each user turn.
//
// A turn is routed by the shape of its input alone:
//
//   - document path and the EmbedOnly sentinel: ingest the document
//   - document path and a question: retrieve passages, then answer from them
//   - question only: answer from general knowledge
//   - nothing to ask: ErrInvalidInput, and no message is sent
//
// Every message of a turn shares one correlation id, so the turn can be
// reconstructed from the bus history.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/poiesic/docqa/bus"
	"github.com/poiesic/docqa/search"
	"github.com/poiesic/docqa/stage"
)

// EmbedOnly is the reserved query that asks for ingestion without a question.
const EmbedOnly = "__EMBED_ONLY__"

// Stages holds the capabilities the coordinator attaches to its bus.
type Stages struct {
	Ingester        stage.Ingester
	Retriever       stage.Retriever
	Answerer        stage.Answerer
	GeneralAnswerer stage.GeneralAnswerer
}

// Option configures a Coordinator.
type Option func(*Coordinator) error

// WithTimeout bounds each request of a turn. Zero means bus.DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) error {
		if d < 0 {
			return fmt.Errorf("timeout must not be negative, got %s", d)
		}
		c.timeout = d
		return nil
	}
}

// WithStore sets where the session's passages live and the key the index
// cache shares them under.
func WithStore(path, cacheKey string) Option {
	return func(c *Coordinator) error {
		c.storePath = path
		c.cacheKey = cacheKey
		return nil
	}
}

// WithLogger sets the coordinator logger. A nil logger keeps the default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) error {
		if logger != nil {
			c.logger = logger
		}
		return nil
	}
}

// Coordinator owns a session's bus and one service per stage.
type Coordinator struct {
	bus       *bus.Bus
	services  []stage.Service
	timeout   time.Duration
	storePath string
	cacheKey  string
	logger    *slog.Logger

	startOnce sync.Once
	closeOnce sync.Once
	closed    atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New attaches the four stages to b. Listeners start on the first turn or
// on Start.
func New(b *bus.Bus, stages Stages, opts ...Option) (*Coordinator, error) {
	if b == nil {
		return nil, stage.ErrBusRequired
	}
	c := &Coordinator{
		bus:       b,
		storePath: "store_" + b.SessionID(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.cacheKey == "" {
		c.cacheKey = search.CacheKey(b.SessionID(), c.storePath)
	}
	c.logger = c.logger.With("component", "coordinator", "session", b.SessionID())

	stageOpts := []stage.Option{stage.WithLogger(c.logger)}
	var errs []error
	ingestion, err := stage.NewIngestion(b, stages.Ingester, stageOpts...)
	errs = append(errs, err)
	retrieval, err := stage.NewRetrieval(b, stages.Retriever, stageOpts...)
	errs = append(errs, err)
	answering, err := stage.NewAnswering(b, stages.Answerer, stageOpts...)
	errs = append(errs, err)
	general, err := stage.NewGeneral(b, stages.GeneralAnswerer, stageOpts...)
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStageRequired, err)
	}
	c.services = []stage.Service{ingestion, retrieval, answering, general}
	return c, nil
}

// SessionID returns the session the coordinator serves.
func (c *Coordinator) SessionID() string {
	return c.bus.SessionID()
}

// StorePath returns where the session's passages are stored.
func (c *Coordinator) StorePath() string {
	return c.storePath
}

// Start subscribes every stage and launches one listener goroutine per
// stage. Only the first call has an effect.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.bus.Subscribe(stage.CoordinatorName)
		for _, svc := range c.services {
			svc.Initialize()
			c.wg.Add(1)
			go func(svc stage.Service) {
				defer c.wg.Done()
				if err := stage.Listen(ctx, c.bus, svc, c.logger); err != nil {
					c.logger.Error("listener exited", "stage", svc.Name(), "error", err)
				}
			}(svc)
		}
		c.logger.Info("stage listeners started", "count", len(c.services))
	})
}

// Close stops the listeners and waits for them to return. It does not
// close the bus. Safe to call more than once.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		// Prevents a later Start from launching listeners.
		c.startOnce.Do(func() {})
		if c.cancel != nil {
			c.cancel()
		}
		c.wg.Wait()
		c.logger.Debug("coordinator closed")
	})
}

// ProcessTurn routes one user turn through the stages and returns its
// result. It never returns nil.
//
// Stages stop working on a request once its deadline passes, which is the
// earlier of ctx's deadline and the coordinator timeout. Cancelling a ctx
// that has no deadline ends the wait immediately but lets the running stage
// call finish.
func (c *Coordinator) ProcessTurn(ctx context.Context, documentPath, query string) *Result {
	start := time.Now()
	res := &Result{CorrelationID: bus.NewCorrelationID()}
	defer func() {
		res.Elapsed = time.Since(start)
	}()

	documentPath = strings.TrimSpace(documentPath)
	query = strings.TrimSpace(query)
	hasDocument := documentPath != ""

	switch {
	case c.closed.Load():
		return c.fail(res, ErrClosed, false)
	case query == "":
		return c.fail(res, ErrInvalidInput, false)
	case !hasDocument && query == EmbedOnly:
		return c.fail(res, fmt.Errorf("%w: %s needs a document", ErrInvalidInput, EmbedOnly), false)
	}

	c.Start()
	logger := c.logger.With("correlation_id", res.CorrelationID)

	var err error
	switch {
	case query == EmbedOnly:
		logger.Info("turn started", "mode", "embed_only", "document", documentPath)
		err = c.embed(ctx, res, documentPath)
	case hasDocument:
		logger.Info("turn started", "mode", "document_qa", "document", documentPath)
		err = c.answerFromDocument(ctx, res, query)
	default:
		logger.Info("turn started", "mode", "general_qa")
		err = c.answerGeneral(ctx, res, query)
	}
	if err != nil {
		logger.Error("turn failed", "error", err)
		return c.fail(res, err, true)
	}

	res.Trace = c.bus.History(res.CorrelationID)
	logger.Info("turn completed", "outcome", res.Outcome, "messages", len(res.Trace), "elapsed", time.Since(start))
	return res
}

func (c *Coordinator) embed(ctx context.Context, res *Result, documentPath string) error {
	resp, err := c.request(ctx, res.CorrelationID, stage.IngestionName, bus.IngestionRequest{
		DocumentPath:    documentPath,
		TargetStorePath: c.storePath,
		IndexCacheKey:   c.cacheKey,
	})
	if err != nil {
		return err
	}
	p, ok := resp.Payload.(bus.IngestionResponse)
	if !ok {
		return unexpected(resp)
	}
	res.Outcome = OutcomeStoreReady
	res.StoreReady = p.StoreReady
	res.StorePath = p.StorePath
	res.Message = p.Message
	return nil
}

func (c *Coordinator) answerFromDocument(ctx context.Context, res *Result, query string) error {
	resp, err := c.request(ctx, res.CorrelationID, stage.RetrievalName, bus.RetrievalRequest{
		Query:         query,
		StorePath:     c.storePath,
		IndexCacheKey: c.cacheKey,
	})
	if err != nil {
		return err
	}
	retrieved, ok := resp.Payload.(bus.RetrievalResponse)
	if !ok {
		return unexpected(resp)
	}
	c.logger.Debug("retrieval completed", "correlation_id", res.CorrelationID, "passages", retrieved.MatchedCount)

	resp, err = c.request(ctx, res.CorrelationID, stage.AnsweringName, bus.AnswerRequest{
		Query:    query,
		Passages: retrieved.Passages,
	})
	if err != nil {
		return err
	}
	answered, ok := resp.Payload.(bus.AnswerResponse)
	if !ok {
		return unexpected(resp)
	}
	res.Outcome = OutcomeDocumentAnswer
	res.Answer = answered.AnswerText
	res.Context = answered.FormattedContext
	res.Passages = retrieved.Passages
	return nil
}

func (c *Coordinator) answerGeneral(ctx context.Context, res *Result, query string) error {
	resp, err := c.request(ctx, res.CorrelationID, stage.GeneralName, bus.GeneralRequest{Query: query})
	if err != nil {
		return err
	}
	p, ok := resp.Payload.(bus.GeneralResponse)
	if !ok {
		return unexpected(resp)
	}
	res.Outcome = OutcomeGeneralAnswer
	res.Answer = p.AnswerText
	return nil
}

// request sends one request and turns ERROR replies into ErrStageFailure.
func (c *Coordinator) request(ctx context.Context, correlationID, receiver string, payload bus.Payload) (bus.Message, error) {
	req := bus.NewRequest(stage.CoordinatorName, receiver, correlationID, payload)
	resp, err := c.bus.SendAndAwait(ctx, req, c.timeout)
	if err != nil {
		return bus.Message{}, err
	}
	if p, ok := resp.Payload.(bus.ErrorPayload); ok {
		return bus.Message{}, fmt.Errorf("%w: %s: %s", ErrStageFailure, p.Stage, p.Error)
	}
	if resp.Kind() != req.Kind().Response() {
		return bus.Message{}, unexpected(resp)
	}
	return resp, nil
}

func unexpected(resp bus.Message) error {
	return fmt.Errorf("%w: unexpected %s from %s", ErrStageFailure, resp.Kind(), resp.Sender)
}

func (c *Coordinator) fail(res *Result, err error, withTrace bool) *Result {
	res.Outcome = OutcomeFailed
	res.Err = err
	res.Error = fmt.Sprintf("%v (correlation id %s)", err, res.CorrelationID)
	if withTrace {
		res.Trace = c.bus.History(res.CorrelationID)
	}
	return res
}
