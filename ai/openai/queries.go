package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/poiesic/docqa/ai"
	"github.com/tmc/langchaingo/llms"
)

// QueryGenerator implements ai.QueryGenerator using a chat model in JSON mode.
type QueryGenerator struct {
	client llms.Model
	logger *slog.Logger
}

// queryList is the wrapper structure for the model's JSON response.
type queryList struct {
	Queries []string `json:"queries"`
}

func newQueryGenerator(client llms.Model) *QueryGenerator {
	return &QueryGenerator{
		client: client,
		logger: slog.Default().With("component", "openai-queries"),
	}
}

// NewQueryGenerator creates a query generator using the provided configuration.
//
// Returns ai.QueryGenerator interface to enforce abstraction.
func NewQueryGenerator(config *ai.Config) (ai.QueryGenerator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	client, err := newChatClient(config)
	if err != nil {
		return nil, err
	}
	return newQueryGenerator(client), nil
}

// GenerateQueries asks the model for n diversified search queries.
// Malformed JSON is retried up to 3 times before giving up.
func (g *QueryGenerator) GenerateQueries(ctx context.Context, question string, n int) ([]string, error) {
	content := buildMessages(fmt.Sprintf(queryPromptTemplate, n), question)

	var result queryList
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		response, err := g.client.GenerateContent(ctx, content, llms.WithTemperature(0.0), llms.WithJSONMode())
		if err != nil {
			g.logger.Error("failed to generate queries", "attempt", attempt+1, "err", err)
			return nil, err
		}

		if len(response.Choices) < 1 {
			g.logger.Debug("no choices returned from model")
			return []string{}, nil
		}

		responseText := repairJSON(stripCodeFence(response.Choices[0].Content))
		if err := json.Unmarshal([]byte(responseText), &result); err != nil {
			lastErr = err
			g.logger.Warn("error parsing query response",
				"attempt", attempt+1,
				"response", responseText,
				"err", err)
			continue
		}

		lastErr = nil
		break
	}

	if lastErr != nil {
		g.logger.Error("failed to parse query response after retries", "err", lastErr)
		return nil, lastErr
	}

	queries := cleanQueries(result.Queries, n)
	g.logger.Debug("generated queries", "requested", n, "returned", len(queries))
	return queries, nil
}
