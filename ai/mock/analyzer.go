package mock

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/poiesic/docportal/ai"
)

// MockAnalyzer is a test double for ai.Analyzer.
type MockAnalyzer struct {
	// AnalyzeFunc is called by Analyze if set.
	// If nil, the title is the first line of the text and the summary the
	// first 200 bytes.
	AnalyzeFunc func(ctx context.Context, text string) (*ai.Analysis, error)

	callCount atomic.Int64
	lastText  atomic.Value
}

// NewMockAnalyzer creates a mock analyzer with default behavior.
func NewMockAnalyzer() *MockAnalyzer {
	return &MockAnalyzer{}
}

// Analyze records text and returns the scripted analysis.
func (m *MockAnalyzer) Analyze(ctx context.Context, text string) (*ai.Analysis, error) {
	m.callCount.Add(1)
	m.lastText.Store(text)

	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, text)
	}
	title, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	return &ai.Analysis{
		Title:   title,
		Summary: text[:min(len(text), 200)],
		Topics:  []string{"mock"},
	}, nil
}

// CallCount returns the number of Analyze calls.
func (m *MockAnalyzer) CallCount() int {
	return int(m.callCount.Load())
}

// LastText returns the text of the most recent Analyze call.
func (m *MockAnalyzer) LastText() string {
	s, _ := m.lastText.Load().(string)
	return s
}
