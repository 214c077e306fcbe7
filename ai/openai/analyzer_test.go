package openai

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/poiesic/docportal/ai"
	"github.com/poiesic/docportal/core"
)

// fakeModel implements llms.Model for testing.
type fakeModel struct {
	GenerateContentFunc func(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
	calls               int
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls++
	return m.GenerateContentFunc(ctx, messages, options...)
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func response(content, stop string) *llms.ContentResponse {
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: content, StopReason: stop}}}
}

func newTestAnalyzer(model llms.Model) *Analyzer {
	return &Analyzer{client: model, gate: &gate{}, logger: slog.Default()}
}

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "valid input unchanged", in: `{"title": "A", "topics": ["x", "y"]}`, want: `{"title": "A", "topics": ["x", "y"]}`},
		{name: "missing opening quote", in: `{title": "A", summary": "B"}`, want: `{"title": "A", "summary": "B"}`},
		{name: "trailing comma in object", in: `{"title": "A",}`, want: `{"title": "A"}`},
		{name: "trailing comma in array", in: `{"topics": ["x", ]}`, want: `{"topics": ["x" ]}`},
		{name: "string contents untouched", in: `{"summary": "a, b\": c,}"}`, want: `{"summary": "a, b\": c,}"}`},
		{name: "bare literal after comma", in: `{"a": 1, "b": true}`, want: `{"a": 1, "b": true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, repairJSON(tt.in))
		})
	}
}

func TestParseAnalysis(t *testing.T) {
	analysis, err := parseAnalysis("```json\n{title\": \" Supply Agreement \", \"summary\": \"Terms of supply.\", \"topics\": [\"Pricing\", \"pricing\", \"  Delivery   Terms \", \"\"],}\n```")
	require.NoError(t, err)
	assert.Equal(t, "Supply Agreement", analysis.Title)
	assert.Equal(t, "Terms of supply.", analysis.Summary)
	assert.Equal(t, []string{"pricing", "delivery terms"}, analysis.Topics)

	_, err = parseAnalysis(`{"title": "", "summary": " "}`)
	assert.ErrorIs(t, err, errEmptyAnalysis)

	_, err = parseAnalysis("not json at all")
	assert.Error(t, err)
}

func TestNormalizeTopics_Cap(t *testing.T) {
	topics := make([]string, 20)
	for i := range topics {
		topics[i] = strings.Repeat("t", i+1)
	}
	assert.Len(t, normalizeTopics(topics), maxTopics)
}

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "short", truncateText("short", 10))
	assert.Equal(t, "héé", truncateText("hééé", 6), "never splits a rune")
}

func TestAnalyze(t *testing.T) {
	var opts llms.CallOptions
	model := &fakeModel{GenerateContentFunc: func(_ context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
		for _, o := range options {
			o(&opts)
		}
		require.Len(t, messages, 2)
		assert.Equal(t, llms.TextContent{Text: "the document"}, messages[1].Parts[0])
		return response(`{"title": "T", "summary": "S", "topics": ["a"]}`, "stop"), nil
	}}

	analysis, err := newTestAnalyzer(model).Analyze(context.Background(), "the document")
	require.NoError(t, err)
	assert.Equal(t, &ai.Analysis{Title: "T", Summary: "S", Topics: []string{"a"}}, analysis)
	assert.True(t, opts.JSONMode)
}

func TestAnalyze_RegeneratesMalformedResponse(t *testing.T) {
	model := &fakeModel{}
	model.GenerateContentFunc = func(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
		if model.calls == 1 {
			return response("{broken", ""), nil
		}
		return response(`{"title": "T", "summary": "S", "topics": []}`, ""), nil
	}

	analysis, err := newTestAnalyzer(model).Analyze(context.Background(), "text")
	require.NoError(t, err)
	assert.Equal(t, "T", analysis.Title)
	assert.Equal(t, 2, model.calls)
}

func TestAnalyze_Failures(t *testing.T) {
	ctx := context.Background()

	_, err := newTestAnalyzer(&fakeModel{}).Analyze(ctx, "  ")
	assert.ErrorIs(t, err, core.ErrEmptyText)

	garbage := &fakeModel{GenerateContentFunc: func(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
		return response("nope", ""), nil
	}}
	_, err = newTestAnalyzer(garbage).Analyze(ctx, "text")
	assert.ErrorIs(t, err, core.ErrAnalysisFailed)
	assert.Equal(t, parseAttempts, garbage.calls)

	refused := &fakeModel{GenerateContentFunc: func(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
		return response("", "content_filter"), nil
	}}
	_, err = newTestAnalyzer(refused).Analyze(ctx, "text")
	assert.ErrorIs(t, err, core.ErrGenerationRefused)

	down := &fakeModel{GenerateContentFunc: func(context.Context, []llms.MessageContent, ...llms.CallOption) (*llms.ContentResponse, error) {
		return nil, errors.New("connection refused")
	}}
	_, err = newTestAnalyzer(down).Analyze(ctx, "text")
	assert.ErrorIs(t, err, core.ErrGenerationUnavailable)
	assert.True(t, core.IsRetryable(err))
}
