package mock

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docportal/ai"
)

func TestDeterministicVector(t *testing.T) {
	a := DeterministicVector("hello", 16)
	b := DeterministicVector("hello", 16)
	c := DeterministicVector("world", 16)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	var sum float64
	for _, v := range a {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestMockEmbedder(t *testing.T) {
	ctx := context.Background()
	m := NewMockEmbedder()

	vecs, err := m.EmbedTexts(ctx, []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Len(t, vecs[0], DefaultDimensions)

	boom := errors.New("boom")
	m.EmbedTextFunc = func(context.Context, string) ([]float32, error) { return nil, boom }
	_, err = m.EmbedText(ctx, "x")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, m.CallCount())

	m.Reset()
	assert.Equal(t, 0, m.CallCount())
	_, err = m.EmbedText(ctx, "x")
	assert.NoError(t, err)
}

func TestMockGenerator(t *testing.T) {
	ctx := context.Background()
	g := NewMockGenerator()

	answer, err := g.Generate(ctx, "p1", ai.GenerateParams{})
	require.NoError(t, err)
	assert.Equal(t, DefaultAnswer, answer)

	g.GenerateFunc = func(_ context.Context, prompt string, _ ai.GenerateParams) (string, error) {
		return "echo " + prompt, nil
	}
	answer, err = g.Generate(ctx, "p2", ai.GenerateParams{})
	require.NoError(t, err)
	assert.Equal(t, "echo p2", answer)
	assert.Equal(t, []string{"p1", "p2"}, g.Prompts())
	assert.Equal(t, 2, g.CallCount())
}

func TestMockAnalyzer(t *testing.T) {
	ctx := context.Background()
	a := NewMockAnalyzer()

	analysis, err := a.Analyze(ctx, "Quarterly Report\nRevenue grew.")
	require.NoError(t, err)
	assert.Equal(t, "Quarterly Report", analysis.Title)
	assert.Equal(t, []string{"mock"}, analysis.Topics)

	boom := errors.New("boom")
	a.AnalyzeFunc = func(context.Context, string) (*ai.Analysis, error) { return nil, boom }
	_, err = a.Analyze(ctx, "other")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, a.CallCount())
	assert.Equal(t, "other", a.LastText())
}

func TestMockProvider(t *testing.T) {
	p := NewMockProvider()
	mp := p.(*MockProvider)
	assert.Same(t, mp.GetMockEmbedder(), p.Embedder())
	assert.Same(t, mp.GetMockGenerator(), p.Generator())
	assert.Same(t, mp.GetMockAnalyzer(), p.Analyzer())

	assert.NoError(t, p.Close())
	mp.CloseFunc = func() error { return errors.New("closing") }
	assert.Error(t, p.Close())
	assert.Equal(t, 2, mp.CloseCount())
}

func TestNewMockProviderWithServices(t *testing.T) {
	g := NewMockGenerator()
	p := NewMockProviderWithServices(nil, g, nil).(*MockProvider)
	assert.Same(t, g, p.GetMockGenerator())
	assert.NotNil(t, p.GetMockEmbedder())
	assert.NotNil(t, p.GetMockAnalyzer())
}
