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
	"log/slog"

	"github.com/poiesic/docportal/ai"
)

// Provider implements ai.AIProvider using OpenAI-compatible services.
// Its embedder, generator and analyzer share one gate, so Close waits for
// calls in flight on any of them and makes later calls fail with
// ai.ErrProviderClosed.
type Provider struct {
	config    *ai.Config
	embedder  *Embedder
	generator *Generator
	analyzer  *Analyzer
	gate      *gate
	logger    *slog.Logger
}

// NewProvider creates a new AI provider with OpenAI-compatible services.
// The config is validated and normalized before use.
//
// Returns ai.AIProvider interface (not *Provider) to enforce abstraction
// and prevent coupling to OpenAI-specific implementation details.
func NewProvider(config *ai.Config) (ai.AIProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	g := &gate{}
	embedder, err := newEmbedder(config, g)
	if err != nil {
		return nil, err
	}

	generator, err := newGenerator(config, g)
	if err != nil {
		return nil, err
	}

	analyzer, err := newAnalyzer(config, g)
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("component", "openai-provider")
	logger.Debug("provider ready",
		"embedding_model", config.EmbeddingModel,
		"generation_model", config.GenerationModel)

	return &Provider{
		config:    config,
		embedder:  embedder,
		generator: generator,
		analyzer:  analyzer,
		gate:      g,
		logger:    logger,
	}, nil
}

// Embedder returns the text embedding service.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// Generator returns the text generation service.
func (p *Provider) Generator() ai.Generator {
	return p.generator
}

// Analyzer returns the document analysis service.
func (p *Provider) Analyzer() ai.Analyzer {
	return p.analyzer
}

// Close waits for in-flight embedding, generation and analysis calls to
// return, then refuses new ones. Closing twice is a no-op.
func (p *Provider) Close() error {
	if p.gate.close() {
		p.logger.Debug("closed OpenAI provider", "generation_host", p.config.GenerationHost)
	}
	return nil
}
