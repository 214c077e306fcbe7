package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTurn(t *testing.T) {
	tests := []struct {
		name    string
		turn    *Turn
		wantErr error
	}{
		{name: "valid user turn", turn: &Turn{Role: RoleUser, Text: "hello"}},
		{name: "valid assistant turn with citations", turn: &Turn{Role: RoleAssistant, Text: "hi", Citations: []string{"c1"}}},
		{name: "nil turn", turn: nil, wantErr: ErrValidation},
		{name: "unknown role", turn: &Turn{Role: "system", Text: "x"}, wantErr: ErrInvalidRole},
		{name: "blank text", turn: &Turn{Role: RoleUser, Text: "  \n"}, wantErr: ErrEmptyText},
		{name: "user citations", turn: &Turn{Role: RoleUser, Text: "x", Citations: []string{"c1"}}, wantErr: ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTurn(tt.turn)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			assert.True(t, errors.Is(err, ErrValidation))
		})
	}
}

func TestValidateDocumentIDs(t *testing.T) {
	ids, err := ValidateDocumentIDs([]string{"a", "b", "a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	_, err = ValidateDocumentIDs([]string{"a", "a"})
	assert.ErrorIs(t, err, ErrTooFewDocuments)

	_, err = ValidateDocumentIDs(nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ValidateDocumentIDs([]string{"a", ""})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(ErrEmbeddingUnavailable))
	assert.True(t, IsRetryable(ErrIndexUnavailable))
	assert.True(t, IsRetryable(errors.Join(errors.New("dial tcp"), ErrGenerationUnavailable)))
	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(ErrUnsupportedFormat))
	assert.False(t, IsRetryable(ErrGenerationRefused))
	assert.False(t, IsRetryable(errors.New("boom")))
}

func TestCharSpanOverlap(t *testing.T) {
	a := CharSpan{Start: 0, End: 10}
	assert.Equal(t, 10, a.Len())
	assert.Equal(t, 4, a.Overlap(CharSpan{Start: 6, End: 20}))
	assert.Equal(t, 0, a.Overlap(CharSpan{Start: 10, End: 20}))
	assert.Equal(t, 0, CharSpan{Start: 5, End: 2}.Len())
}
