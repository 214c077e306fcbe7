package mock

import (
	"context"
	"sync"

	"github.com/poiesic/docportal/ai"
)

// MockGenerator is a test double for ai.Generator.
type MockGenerator struct {
	// GenerateFunc is called by Generate if set.
	// If nil, Generate echoes a fixed answer.
	GenerateFunc func(ctx context.Context, prompt string, params ai.GenerateParams) (string, error)

	mu      sync.Mutex
	prompts []string
}

// DefaultAnswer is returned when no GenerateFunc is set.
const DefaultAnswer = "mock answer"

// NewMockGenerator creates a mock generator with default behavior.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// Generate records the prompt and returns the scripted answer.
func (m *MockGenerator) Generate(ctx context.Context, prompt string, params ai.GenerateParams) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt, params)
	}
	return DefaultAnswer, nil
}

// CallCount returns the number of Generate calls.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Prompts returns a copy of every prompt received, in call order.
func (m *MockGenerator) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}
