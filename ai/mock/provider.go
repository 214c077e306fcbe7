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


package mock

import (
	"sync/atomic"

	"github.com/poiesic/docportal/ai"
)

// MockProvider is a test double for ai.AIProvider.
// It aggregates mock embedder, generator and analyzer instances and
// records Close calls.
type MockProvider struct {
	embedder  *MockEmbedder
	generator *MockGenerator
	analyzer  *MockAnalyzer

	// CloseFunc is called by Close if set.
	CloseFunc func() error

	closeCount atomic.Int64
}

var _ ai.AIProvider = (*MockProvider)(nil)

// NewMockProvider creates a new mock provider with default mock services.
//
// Returns ai.AIProvider interface for consistency with production constructors.
// Use GetMockEmbedder()/GetMockGenerator()/GetMockAnalyzer() to access
// concrete types for test assertions.
func NewMockProvider() ai.AIProvider {
	return NewMockProviderWithServices(NewMockEmbedder(), NewMockGenerator(), NewMockAnalyzer())
}

// NewMockProviderWithServices creates a mock provider with custom mock
// services. A nil service is replaced by its default mock.
func NewMockProviderWithServices(embedder *MockEmbedder, generator *MockGenerator, analyzer *MockAnalyzer) ai.AIProvider {
	if embedder == nil {
		embedder = NewMockEmbedder()
	}
	if generator == nil {
		generator = NewMockGenerator()
	}
	if analyzer == nil {
		analyzer = NewMockAnalyzer()
	}
	return &MockProvider{
		embedder:  embedder,
		generator: generator,
		analyzer:  analyzer,
	}
}

// Embedder returns the mock embedder.
func (p *MockProvider) Embedder() ai.Embedder {
	return p.embedder
}

// Generator returns the mock generator.
func (p *MockProvider) Generator() ai.Generator {
	return p.generator
}

// Analyzer returns the mock analyzer.
func (p *MockProvider) Analyzer() ai.Analyzer {
	return p.analyzer
}

// Close records the call and returns CloseFunc's result, nil by default.
func (p *MockProvider) Close() error {
	p.closeCount.Add(1)
	if p.CloseFunc != nil {
		return p.CloseFunc()
	}
	return nil
}

// CloseCount returns the number of Close calls.
func (p *MockProvider) CloseCount() int {
	return int(p.closeCount.Load())
}

// GetMockEmbedder returns the underlying mock embedder for test assertions.
func (p *MockProvider) GetMockEmbedder() *MockEmbedder {
	return p.embedder
}

// GetMockGenerator returns the underlying mock generator for test assertions.
func (p *MockProvider) GetMockGenerator() *MockGenerator {
	return p.generator
}

// GetMockAnalyzer returns the underlying mock analyzer for test assertions.
func (p *MockProvider) GetMockAnalyzer() *MockAnalyzer {
	return p.analyzer
}
