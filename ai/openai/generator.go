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

package openai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/poiesic/docportal/ai"
	"github.com/poiesic/docportal/core"
)

// stopContentFilter is the finish reason OpenAI-compatible servers report
// when output was withheld by a content policy.
const stopContentFilter = "content_filter"

// Generator implements ai.Generator using OpenAI-compatible chat APIs.
type Generator struct {
	client llms.Model
	gate   *gate
	logger *slog.Logger
}

var _ ai.Generator = (*Generator)(nil)

func newGenerator(config *ai.Config, g *gate) (*Generator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.GenerationHost),
		openai.WithToken(config.Token),
		openai.WithModel(config.GenerationModel),
	)
	if err != nil {
		return nil, err
	}

	return &Generator{
		client: client,
		gate:   g,
		logger: slog.Default().With("component", "openai-generator"),
	}, nil
}

// NewGenerator creates a new generator using the provided configuration.
//
// Returns ai.Generator interface to enforce abstraction.
func NewGenerator(config *ai.Config) (ai.Generator, error) {
	return newGenerator(config, &gate{})
}

// Generate sends the prompt as a single human message, preceded by the
// system instruction, and returns the first choice.
func (g *Generator) Generate(ctx context.Context, prompt string, params ai.GenerateParams) (string, error) {
	if err := g.gate.enter(); err != nil {
		return "", err
	}
	defer g.gate.leave()
	content := buildMessages(prompt, params)

	response, err := g.client.GenerateContent(ctx, content, callOptions(params)...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		g.logger.Error("failed to generate content", "err", err)
		return "", fmt.Errorf("%w: %w", core.ErrGenerationUnavailable, err)
	}

	if len(response.Choices) < 1 {
		g.logger.Warn("no choices returned from model")
		return "", fmt.Errorf("%w: no choices returned", core.ErrGenerationUnavailable)
	}

	choice := response.Choices[0]
	if strings.EqualFold(choice.StopReason, stopContentFilter) {
		g.logger.Warn("generation refused by content policy")
		return "", core.ErrGenerationRefused
	}

	g.logger.Debug("generated answer", "prompt_len", len(prompt), "answer_len", len(choice.Content))
	return strings.TrimSpace(choice.Content), nil
}

func buildMessages(prompt string, params ai.GenerateParams) []llms.MessageContent {
	system := params.System
	if system == "" {
		system = defaultSystemPrompt
	}
	return []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
}

// callOptions sends only the parameters that are set, leaving the rest
// to the backend.
func callOptions(params ai.GenerateParams) []llms.CallOption {
	var opts []llms.CallOption
	if params.Temperature != 0 {
		opts = append(opts, llms.WithTemperature(params.Temperature))
	}
	if params.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(params.MaxTokens))
	}
	if len(params.Stop) > 0 {
		opts = append(opts, llms.WithStopWords(params.Stop))
	}
	return opts
}
