// Package answer turns questions, with or without retrieved passages, into
// model-generated answers.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/core"
)

// Generator produces answers with a single completion call per question.
type Generator struct {
	completer ai.Completer
	logger    *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) error {
		if logger == nil {
			logger = slog.Default()
		}
		g.logger = logger.With("component", "answer")
		return nil
	}
}

// NewGenerator creates a generator backed by completer.
func NewGenerator(completer ai.Completer, opts ...Option) (*Generator, error) {
	if completer == nil {
		return nil, ErrCompleterRequired
	}
	g := &Generator{
		completer: completer,
		logger:    slog.Default().With("component", "answer"),
	}
	for _, opt := range opts {
		if err := opt(g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// Answer answers query from the given passages. It returns the answer text
// and the formatted context that was sent to the model. Zero passages still
// produce a call with an empty documents block.
func (g *Generator) Answer(ctx context.Context, query string, passages []*core.Passage) (string, string, error) {
	formatted := FormatPassages(passages)
	prompt := fmt.Sprintf(contextPromptTemplate, formatted, query)

	g.logger.Debug("answering from context", "passages", len(passages), "prompt_length", len(prompt))
	text, err := g.complete(ctx, "", prompt)
	if err != nil {
		return "", formatted, err
	}
	return text, formatted, nil
}

// AnswerGeneral answers query from the model's own knowledge.
func (g *Generator) AnswerGeneral(ctx context.Context, query string) (string, error) {
	g.logger.Debug("answering general query")
	return g.complete(ctx, GeneralSystemPrompt, query)
}

func (g *Generator) complete(ctx context.Context, system, prompt string) (string, error) {
	text, err := g.completer.Complete(ctx, system, prompt)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyAnswer
	}
	return text, nil
}
