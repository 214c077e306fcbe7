package openai

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/poiesic/docportal/ai"
)

func TestCheckVectors(t *testing.T) {
	assert.NoError(t, checkVectors([][]float32{{1, 2}, {3, 4}}, 2))
	assert.ErrorIs(t, checkVectors([][]float32{{1, 2}}, 2), errVectorCount)
	assert.ErrorIs(t, checkVectors([][]float32{{1, 2}, {3}}, 2), errVectorDimension)
	assert.ErrorIs(t, checkVectors([][]float32{{}}, 1), errVectorDimension)
}

func TestBuildMessages(t *testing.T) {
	t.Run("default system prompt", func(t *testing.T) {
		msgs := buildMessages("question", ai.GenerateParams{})
		require.Len(t, msgs, 2)
		assert.Equal(t, llms.ChatMessageTypeSystem, msgs[0].Role)
		assert.Equal(t, llms.TextContent{Text: defaultSystemPrompt}, msgs[0].Parts[0])
		assert.Equal(t, llms.ChatMessageTypeHuman, msgs[1].Role)
		assert.Equal(t, llms.TextContent{Text: "question"}, msgs[1].Parts[0])
	})

	t.Run("custom system prompt", func(t *testing.T) {
		msgs := buildMessages("q", ai.GenerateParams{System: "be brief"})
		assert.Equal(t, llms.TextContent{Text: "be brief"}, msgs[0].Parts[0])
	})
}

func applyOptions(opts []llms.CallOption) llms.CallOptions {
	var o llms.CallOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func TestCallOptions(t *testing.T) {
	t.Run("zero values leave backend defaults", func(t *testing.T) {
		assert.Empty(t, callOptions(ai.GenerateParams{}))
	})

	t.Run("set values are sent", func(t *testing.T) {
		opts := callOptions(ai.GenerateParams{Temperature: 0.7, MaxTokens: 10, Stop: []string{"\n"}})
		assert.Len(t, opts, 3)
		applied := applyOptions(opts)
		assert.Equal(t, 0.7, applied.Temperature)
		assert.Equal(t, 10, applied.MaxTokens)
		assert.Equal(t, []string{"\n"}, applied.StopWords)
	})

	t.Run("max tokens alone sends no temperature", func(t *testing.T) {
		opts := callOptions(ai.GenerateParams{MaxTokens: 5})
		require.Len(t, opts, 1)
		assert.Zero(t, applyOptions(opts).Temperature)
	})
}

func TestNewProvider_InvalidConfig(t *testing.T) {
	_, err := NewProvider(&ai.Config{})
	assert.Error(t, err)
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(ai.NewConfig(ai.WithHost("http://localhost:1")))
	require.NoError(t, err)
	assert.NotNil(t, p.Embedder())
	assert.NotNil(t, p.Generator())
	assert.NotNil(t, p.Analyzer())
	assert.NoError(t, p.Close())
	assert.NoError(t, p.Close(), "closing twice is a no-op")
}

func TestProviderClose_RefusesNewCalls(t *testing.T) {
	p, err := NewProvider(ai.NewConfig(ai.WithHost("http://localhost:1")))
	require.NoError(t, err)
	require.NoError(t, p.Close())

	ctx := context.Background()
	_, err = p.Embedder().EmbedTexts(ctx, []string{"a"})
	assert.ErrorIs(t, err, ai.ErrProviderClosed)
	_, err = p.Embedder().EmbedText(ctx, "a")
	assert.ErrorIs(t, err, ai.ErrProviderClosed)
	_, err = p.Generator().Generate(ctx, "q", ai.GenerateParams{})
	assert.ErrorIs(t, err, ai.ErrProviderClosed)
	_, err = p.Analyzer().Analyze(ctx, "text")
	assert.ErrorIs(t, err, ai.ErrProviderClosed)
}

func TestProviderClose_WaitsForInFlightCalls(t *testing.T) {
	g := &gate{}
	entered := make(chan struct{})
	release := make(chan struct{})
	model := &fakeModel{GenerateContentFunc: func(ctx context.Context, _ []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
		close(entered)
		<-release
		return response("answer", ""), nil
	}}
	gen := &Generator{client: model, gate: g, logger: slog.Default()}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = gen.Generate(context.Background(), "q", ai.GenerateParams{})
	}()
	<-entered

	closed := make(chan struct{})
	go func() {
		g.close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("close returned while a call was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-done
	<-closed
}
