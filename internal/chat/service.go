// Package chat composes retrieval and generation into the NDJSON chat
// stream: token events as they are produced, then one terminal sources event.
package chat

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/efebarandurmaz/corpusd/internal/document"
	"github.com/efebarandurmaz/corpusd/internal/llm"
	"github.com/efebarandurmaz/corpusd/internal/vector"
)

// Request is one chat turn from the client.
type Request struct {
	Query       string `json:"query"`
	ChatHistory string `json:"chatHistory,omitempty"`
	Category    string `json:"category,omitempty"`
}

// Event is one NDJSON wire event.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Source cites one retrieved chunk in the terminal sources event.
type Source struct {
	FileName   string `json:"fileName"`
	Title      string `json:"title,omitempty"`
	PageNumber int    `json:"pageNumber"`
	Snippet    string `json:"snippet"`
}

// Searcher is the retrieval engine slice the orchestrator needs.
type Searcher interface {
	Search(ctx context.Context, query string, k int, category string) ([]vector.SearchResult, error)
}

// Options tune generation and retrieval.
type Options struct {
	TopK        int
	Temperature float64
	MaxTokens   int
}

// Service orchestrates one chat stream per request.
type Service struct {
	engine   Searcher
	provider llm.Provider
	opts     Options
	log      *slog.Logger
}

// NewService creates a chat orchestrator.
func NewService(engine Searcher, provider llm.Provider, opts Options, log *slog.Logger) *Service {
	if opts.TopK <= 0 {
		opts.TopK = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{engine: engine, provider: provider, opts: opts, log: log}
}

// Stream produces the event sequence for one request: retrieval happens once
// up front, its results feed the prompt and the terminal sources event. emit
// is called in wire order; token events stream as generated, and the sources
// event is omitted when retrieval found nothing.
func (s *Service) Stream(ctx context.Context, req Request, emit func(Event) error) error {
	results, err := s.engine.Search(ctx, req.Query, s.opts.TopK, req.Category)
	if err != nil {
		return fmt.Errorf("retrieving context: %w", err)
	}
	s.log.Debug("context retrieved", "results", len(results))

	chatReq := llm.ChatRequest{
		Messages:    BuildPrompt(req.Query, req.ChatHistory, results),
		Temperature: s.opts.Temperature,
		MaxTokens:   s.opts.MaxTokens,
	}
	err = s.provider.ChatStream(ctx, chatReq, func(token string) error {
		return emit(Event{Type: "token", Data: token})
	})
	if err != nil {
		return fmt.Errorf("generating: %w", err)
	}

	if len(results) == 0 {
		return nil
	}

	sources := make([]Source, len(results))
	for i, res := range results {
		sources[i] = Source{
			FileName:   document.DisplayTitle(res.Chunk.Metadata.SourceTitle),
			Title:      res.Chunk.Metadata.SourceTitle,
			PageNumber: res.Chunk.Metadata.PageNumber,
			Snippet:    res.Chunk.Text,
		}
	}
	return emit(Event{Type: "sources", Data: sources})
}
