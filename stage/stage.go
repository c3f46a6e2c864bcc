// Package stage turns each processing capability into an asynchronous
// service on a session bus.
//
// A service owns one inbound queue, named after the stage, and answers
// every request it pops with exactly one response message. Capability
// failures and panics become ERROR replies; they never escape Handle.
package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/poiesic/docqa/bus"
)

// Stage names used as bus receivers.
const (
	CoordinatorName = "coordinator"
	IngestionName   = "ingestion"
	RetrievalName   = "retrieval"
	AnsweringName   = "answering"
	GeneralName     = "general"
)

// Service is a stage attached to a session bus.
type Service interface {
	// Name is the stage's receiver name on the bus.
	Name() string
	// Initialize subscribes the stage and returns its inbound queue.
	// Every call returns the same queue.
	Initialize() *bus.Queue
	// Handle answers req. It always returns a response and never panics.
	// A deadline carried by req bounds ctx.
	Handle(ctx context.Context, req bus.Message) bus.Message
}

// Option configures a service.
type Option func(*base) error

// WithLogger sets the service logger. A nil logger keeps the default.
func WithLogger(logger *slog.Logger) Option {
	return func(b *base) error {
		if logger != nil {
			b.logger = logger
		}
		return nil
	}
}

type processFunc func(ctx context.Context, req bus.Message) (bus.Payload, error)

// base carries what every service shares: its name, the bus, the kind it
// accepts and a lazily subscribed queue.
type base struct {
	name    string
	accepts bus.Kind
	bus     *bus.Bus
	logger  *slog.Logger
	process processFunc

	once  sync.Once
	queue *bus.Queue
}

func newBase(name string, accepts bus.Kind, b *bus.Bus, process processFunc, opts []Option) (*base, error) {
	if b == nil {
		return nil, ErrBusRequired
	}
	s := &base{
		name:    name,
		accepts: accepts,
		bus:     b,
		process: process,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "stage", "stage", name, "session", b.SessionID())
	return s, nil
}

func (s *base) Name() string {
	return s.name
}

func (s *base) Initialize() *bus.Queue {
	s.once.Do(func() {
		s.queue = s.bus.Subscribe(s.name)
	})
	return s.queue
}

func (s *base) Handle(ctx context.Context, req bus.Message) (resp bus.Message) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			s.logger.Error("recovered panic while handling request",
				"kind", req.Kind(),
				"correlation_id", req.CorrelationID,
				"panic", r)
			resp = bus.ErrorReply(req, s.name, fmt.Errorf("%w: %v", ErrPanic, r), stack)
		}
	}()

	if req.Kind() != s.accepts {
		err := fmt.Errorf("%w: %s serves %s, got %s", ErrUnexpectedKind, s.name, s.accepts, req.Kind())
		s.logger.Warn("rejecting request", "error", err, "correlation_id", req.CorrelationID)
		return bus.ErrorReply(req, s.name, err, "")
	}

	if deadline, ok := req.Deadline(); ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	payload, err := s.process(ctx, req)
	if err != nil {
		s.logger.Warn("request failed",
			"kind", req.Kind(),
			"correlation_id", req.CorrelationID,
			"error", err)
		return bus.ErrorReply(req, s.name, err, "")
	}
	return bus.Reply(req, payload)
}

// Listen runs svc's listener loop on b: pop a request, handle it, publish
// the response. It returns nil when ctx is done or the queue is closed.
//
// Call svc.Initialize before starting Listen in a goroutine. Requests
// published before the stage's queue exists are not delivered.
func Listen(ctx context.Context, b *bus.Bus, svc Service, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "listener", "stage", svc.Name())
	queue := svc.Initialize()

	for {
		req, err := queue.Pop(ctx)
		switch {
		case errors.Is(err, bus.ErrQueueClosed), ctx.Err() != nil:
			logger.Debug("listener stopped")
			return nil
		case err != nil:
			return fmt.Errorf("%s listener: %w", svc.Name(), err)
		}

		resp, ok := serveOne(ctx, svc, req, logger)
		if !ok {
			continue
		}
		if !b.Publish(resp) {
			logger.Warn("response not delivered",
				"receiver", resp.Receiver,
				"kind", resp.Kind(),
				"correlation_id", resp.CorrelationID)
		}
	}
}

// serveOne shields the loop from services whose Handle breaks its own
// no-panic contract.
func serveOne(ctx context.Context, svc Service, req bus.Message, logger *slog.Logger) (resp bus.Message, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("listener recovered panic", "panic", r, "correlation_id", req.CorrelationID)
			ok = false
		}
	}()
	return svc.Handle(ctx, req), true
}
