package session

import (
	"unicode/utf8"

	"github.com/tmc/langchaingo/llms"
)

// Counter measures text in the unit a generation backend budgets in.
type Counter interface {
	Count(text string) int
	Unit() string
}

// CharCounter counts Unicode code points.
type CharCounter struct{}

var _ Counter = CharCounter{}

func (CharCounter) Count(text string) int { return utf8.RuneCountInString(text) }
func (CharCounter) Unit() string          { return "chars" }

// TokenCounter counts model tokens. Models without a known tokenizer fall
// back to an approximate count.
type TokenCounter struct {
	Model string
}

var _ Counter = TokenCounter{}

func (tc TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	return llms.CountTokens(tc.Model, text)
}

func (TokenCounter) Unit() string { return "tokens" }

// ContextWindow returns the model's context size in tokens, a sensible
// default prompt budget for TokenCounter.
func (tc TokenCounter) ContextWindow() int {
	return llms.GetModelContextSize(tc.Model)
}

// NewCounter returns the counter for unit, "chars" or "tokens".
func NewCounter(unit, model string) Counter {
	if unit == "tokens" {
		return TokenCounter{Model: model}
	}
	return CharCounter{}
}
