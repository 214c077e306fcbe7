package session

import (
	"context"
	"errors"
	"testing"

	"github.com/poiesic/docportal/ai"
	"github.com/poiesic/docportal/ai/mock"
	"github.com/poiesic/docportal/core"
	"github.com/poiesic/docportal/index"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testRetriever implements Retriever for testing
type testRetriever struct {
	RetrieveFunc func(ctx context.Context, query string, topK int, filter index.Filter) (*core.RetrievalResult, error)
	lastFilter   index.Filter
	lastTopK     int
}

func (r *testRetriever) Retrieve(ctx context.Context, query string, topK int, filter index.Filter) (*core.RetrievalResult, error) {
	r.lastFilter = filter
	r.lastTopK = topK
	if r.RetrieveFunc != nil {
		return r.RetrieveFunc(ctx, query, topK, filter)
	}
	return resultOf("c1", "c2"), nil
}

func newTestChat(t *testing.T, opts ...ChatOption) (*Chat, *Manager, *testRetriever, *mock.MockGenerator) {
	t.Helper()
	m := newTestManager(t)
	r := &testRetriever{}
	g := mock.NewMockGenerator()
	c, err := NewChat(m, r, g, opts...)
	require.NoError(t, err)
	return c, m, r, g
}

func TestNewChat(t *testing.T) {
	m := newTestManager(t)
	r := &testRetriever{}
	g := mock.NewMockGenerator()

	_, err := NewChat(nil, r, g)
	assert.Equal(t, ErrManagerRequired, err)
	_, err = NewChat(m, nil, g)
	assert.Equal(t, ErrRetrieverRequired, err)
	_, err = NewChat(m, r, nil)
	assert.Equal(t, ErrGeneratorRequired, err)
	_, err = NewChat(m, r, g, WithTopK(0))
	assert.ErrorIs(t, err, core.ErrInvalidTopK)
	_, err = NewChat(m, r, g, WithBudget(0))
	assert.ErrorIs(t, err, core.ErrInvalidConfig)
}

func TestAsk(t *testing.T) {
	c, m, r, g := newTestChat(t, WithTopK(3))
	ctx := context.Background()
	sess, err := m.Open(ctx, "doc-1")
	require.NoError(t, err)

	answer, err := c.Ask(ctx, sess.ID, "What does the contract say?", nil)
	require.NoError(t, err)

	assert.Equal(t, mock.DefaultAnswer, answer.Turn.Text)
	assert.Equal(t, core.RoleAssistant, answer.Turn.Role)
	assert.Equal(t, []string{"c1", "c2"}, answer.Turn.Citations)
	assert.Equal(t, []string{"doc-1"}, r.lastFilter.DocumentIDs, "session scope becomes the retrieval filter")
	assert.Equal(t, 3, r.lastTopK)

	prompts := g.Prompts()
	require.Len(t, prompts, 1)
	assert.Contains(t, prompts[0], "passage c1")
	assert.Contains(t, prompts[0], "User: What does the contract say?")

	got, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Turns, 2)
	assert.Equal(t, core.RoleUser, got.Turns[0].Role)
	assert.Equal(t, []string{"c1", "c2"}, got.Turns[1].Citations)
}

func TestAsk_ConsumesPendingCitations(t *testing.T) {
	c, m, _, _ := newTestChat(t)
	ctx := context.Background()
	sess, err := m.Open(ctx)
	require.NoError(t, err)

	_, err = c.Ask(ctx, sess.ID, "What does the contract say?", nil)
	require.NoError(t, err)

	got, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Empty(t, got.PendingCitations)

	// A later manual assistant turn must not inherit the answered prompt's citations.
	_, err = m.AppendTurn(ctx, sess.ID, core.RoleUser, "thanks")
	require.NoError(t, err)
	turn, err := m.AppendTurn(ctx, sess.ID, core.RoleAssistant, "you are welcome")
	require.NoError(t, err)
	assert.Empty(t, turn.Citations)
}

func TestAsk_FollowUpCarriesHistory(t *testing.T) {
	c, m, _, g := newTestChat(t)
	ctx := context.Background()
	sess, err := m.Open(ctx)
	require.NoError(t, err)

	_, err = c.Ask(ctx, sess.ID, "first question", nil)
	require.NoError(t, err)
	_, err = c.Ask(ctx, sess.ID, "second question", &AskOptions{TopK: 1})
	require.NoError(t, err)

	prompts := g.Prompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[1], "User: first question")
	assert.Contains(t, prompts[1], "Assistant: "+mock.DefaultAnswer)
	assert.Contains(t, prompts[1], "User: second question")
}

func TestAsk_GenerationRetry(t *testing.T) {
	tests := []struct {
		name      string
		failures  []error
		retry     bool
		wantErr   error
		wantCalls int
	}{
		{name: "unavailable retried once", failures: []error{core.ErrGenerationUnavailable}, retry: true, wantCalls: 2},
		{name: "unavailable without opt-in", failures: []error{core.ErrGenerationUnavailable}, retry: false, wantErr: core.ErrGenerationUnavailable, wantCalls: 1},
		{name: "refusal never retried", failures: []error{core.ErrGenerationRefused}, retry: true, wantErr: core.ErrGenerationRefused, wantCalls: 1},
		{name: "at most one retry", failures: []error{core.ErrGenerationUnavailable, core.ErrGenerationUnavailable}, retry: true, wantErr: core.ErrGenerationUnavailable, wantCalls: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, m, _, g := newTestChat(t)
			ctx := context.Background()
			sess, err := m.Open(ctx)
			require.NoError(t, err)

			calls := 0
			g.GenerateFunc = func(ctx context.Context, prompt string, params ai.GenerateParams) (string, error) {
				calls++
				if calls <= len(tt.failures) {
					return "", tt.failures[calls-1]
				}
				return "recovered", nil
			}

			answer, err := c.Ask(ctx, sess.ID, "question", &AskOptions{RetryGeneration: tt.retry})
			assert.Equal(t, tt.wantCalls, g.CallCount())
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, answer)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "recovered", answer.Turn.Text)
		})
	}
}

func TestAsk_RetrievalFailure(t *testing.T) {
	c, m, r, g := newTestChat(t)
	ctx := context.Background()
	sess, err := m.Open(ctx)
	require.NoError(t, err)

	r.RetrieveFunc = func(ctx context.Context, query string, topK int, filter index.Filter) (*core.RetrievalResult, error) {
		return nil, core.ErrRetrievalUnavailable
	}
	_, err = c.Ask(ctx, sess.ID, "question", nil)
	assert.ErrorIs(t, err, core.ErrRetrievalUnavailable)
	assert.Zero(t, g.CallCount(), "no generation without context")

	got, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, got.Turns, 1, "the question is kept")
	assert.Equal(t, core.RoleUser, got.Turns[0].Role)
}

func TestAsk_ClosedOrMissingSession(t *testing.T) {
	c, m, _, g := newTestChat(t)
	ctx := context.Background()
	sess, err := m.Open(ctx)
	require.NoError(t, err)
	require.NoError(t, m.Close(ctx, sess.ID))

	_, err = c.Ask(ctx, sess.ID, "question", nil)
	assert.ErrorIs(t, err, core.ErrSessionClosed)
	_, err = c.Ask(ctx, "missing", "question", nil)
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
	assert.Zero(t, g.CallCount())
}

func TestAsk_BudgetTooSmall(t *testing.T) {
	c, m, _, g := newTestChat(t)
	ctx := context.Background()
	sess, err := m.Open(ctx)
	require.NoError(t, err)

	_, err = c.Ask(ctx, sess.ID, "question", &AskOptions{Budget: 5})
	assert.True(t, errors.Is(err, core.ErrBudgetTooSmall))
	assert.Zero(t, g.CallCount())
}
