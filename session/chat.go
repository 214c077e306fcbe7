package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/docportal/ai"
	"github.com/poiesic/docportal/core"
	"github.com/poiesic/docportal/index"
	"github.com/poiesic/docportal/metrics"
)

const (
	DefaultTopK   = 5
	DefaultBudget = 4000
)

// Retriever is the retrieval capability Chat depends on.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, filter index.Filter) (*core.RetrievalResult, error)
}

// Chat answers questions within sessions: it records the question,
// retrieves context, builds a budgeted prompt, generates and records the
// answer with its citations.
type Chat struct {
	manager   *Manager
	retriever Retriever
	generator ai.Generator
	topK      int
	budget    int
	params    ai.GenerateParams
	logger    *slog.Logger
}

// ChatOption configures a Chat.
type ChatOption func(*Chat) error

// WithTopK sets how many chunks are retrieved per question. Default is 5.
func WithTopK(k int) ChatOption {
	return func(c *Chat) error {
		if k < 1 {
			return fmt.Errorf("%w: %d", core.ErrInvalidTopK, k)
		}
		c.topK = k
		return nil
	}
}

// WithBudget sets the default prompt budget. Default is 4000.
func WithBudget(budget int) ChatOption {
	return func(c *Chat) error {
		if budget < 1 {
			return fmt.Errorf("%w: budget must be positive", core.ErrInvalidConfig)
		}
		c.budget = budget
		return nil
	}
}

// WithGenerateParams sets the default generation parameters.
func WithGenerateParams(params ai.GenerateParams) ChatOption {
	return func(c *Chat) error {
		c.params = params
		return nil
	}
}

// WithChatLogger sets a custom logger.
// Default is slog.Default().
func WithChatLogger(logger *slog.Logger) ChatOption {
	return func(c *Chat) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// NewChat creates a Chat.
func NewChat(manager *Manager, retriever Retriever, generator ai.Generator, opts ...ChatOption) (*Chat, error) {
	if manager == nil {
		return nil, ErrManagerRequired
	}
	if retriever == nil {
		return nil, ErrRetrieverRequired
	}
	if generator == nil {
		return nil, ErrGeneratorRequired
	}
	c := &Chat{
		manager:   manager,
		retriever: retriever,
		generator: generator,
		topK:      DefaultTopK,
		budget:    DefaultBudget,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With("component", "chat")
	return c, nil
}

// AskOptions overrides Chat defaults for one question.
type AskOptions struct {
	TopK   int // 0 uses the Chat default
	Budget int // 0 uses the Chat default

	// RetryGeneration allows one more generation attempt after
	// core.ErrGenerationUnavailable. Refusals are never retried.
	RetryGeneration bool
}

// Answer is the outcome of one question.
type Answer struct {
	Turn      *core.Turn
	Prompt    *Prompt
	Retrieval *core.RetrievalResult
}

// Ask answers question within session id.
// The question is recorded even when retrieval or generation fails.
func (c *Chat) Ask(ctx context.Context, id, question string, opts *AskOptions) (*Answer, error) {
	if opts == nil {
		opts = &AskOptions{}
	}
	topK, budget := c.topK, c.budget
	if opts.TopK > 0 {
		topK = opts.TopK
	}
	if opts.Budget > 0 {
		budget = opts.Budget
	}

	sess, err := c.manager.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := c.manager.AppendTurn(ctx, id, core.RoleUser, question); err != nil {
		return nil, err
	}

	result, err := c.retriever.Retrieve(ctx, question, topK, index.Filter{DocumentIDs: sess.DocumentIDs})
	if err != nil {
		return nil, err
	}
	prompt, err := c.manager.BuildPrompt(ctx, id, result, budget)
	if err != nil {
		return nil, err
	}

	text, err := c.generate(ctx, prompt.Text, opts.RetryGeneration)
	if err != nil {
		return nil, err
	}

	turn, err := c.manager.appendTurn(ctx, id, core.Turn{
		Role:      core.RoleAssistant,
		Text:      text,
		Citations: prompt.Citations,
	}, false)
	if err != nil {
		return nil, err
	}
	return &Answer{Turn: turn, Prompt: prompt, Retrieval: result}, nil
}

func (c *Chat) generate(ctx context.Context, prompt string, retryOnce bool) (string, error) {
	text, err := c.generator.Generate(ctx, prompt, c.params)
	if err != nil && retryOnce && errors.Is(err, core.ErrGenerationUnavailable) && ctx.Err() == nil {
		c.logger.Warn("generation unavailable, retrying once", "err", err)
		metrics.RetriesTotal.WithLabelValues("generate").Inc()
		text, err = c.generator.Generate(ctx, prompt, c.params)
	}
	metrics.GenerationsTotal.WithLabelValues(metrics.Status(err)).Inc()
	if err != nil {
		c.logger.Error("generation failed", "err", err)
		return "", err
	}
	return text, nil
}
