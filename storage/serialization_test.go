package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docportal/core"
)

func TestMarshalUnmarshalSession(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	session := &core.Session{
		ID:          "s1",
		State:       core.SessionActive,
		DocumentIDs: []string{"d1"},
		Turns: []core.Turn{
			{Role: core.RoleUser, Text: "What is X?", CreatedAt: now},
			{Role: core.RoleAssistant, Text: "X is Y [1].", Citations: []string{"c1"}, CreatedAt: now},
		},
		Ledger:    core.Ledger{Prompts: 1, TotalUnits: 120, Last: core.BudgetUsage{Budget: 200, Total: 120}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	decoded, err := UnmarshalSession(MarshalSession(session))
	require.NoError(t, err)
	assert.Equal(t, session, decoded)
}

func TestMarshalUnmarshalDocument(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	doc := &core.Document{
		ID:         "abc",
		SourceURI:  "file:///a.txt",
		Format:     "text",
		Status:     core.StatusReady,
		ChunkCount: 3,
		Metadata:   map[string]string{"title": "A"},
		IngestedAt: now,
		UpdatedAt:  now,
	}

	decoded, err := UnmarshalDocument(MarshalDocument(doc))
	require.NoError(t, err)
	assert.Equal(t, doc, decoded)
}

func TestMarshalUnmarshalChunk(t *testing.T) {
	chunk := &core.Chunk{
		ID:         "c1",
		DocumentID: "abc",
		Text:       "Résumé of section one.",
		Position:   4,
		Span:       core.CharSpan{Start: 120, End: 143},
		Degraded:   true,
	}

	decoded, err := UnmarshalChunk(MarshalChunk(chunk))
	require.NoError(t, err)
	assert.Equal(t, chunk, decoded)
}

func TestUnmarshal_Truncated(t *testing.T) {
	data := MarshalDocument(&core.Document{ID: "abc", SourceURI: "file:///a.txt", Metadata: map[string]string{"k": "v"}})

	for _, cut := range []int{1, len(data) / 2, len(data) - 1} {
		_, err := UnmarshalDocument(data[:cut])
		assert.ErrorIs(t, err, ErrSerializationFailed, "cut at %d", cut)
	}
}

func TestUnmarshal_Invalid(t *testing.T) {
	_, err := UnmarshalChunk([]byte{0xff})
	assert.ErrorIs(t, err, ErrSerializationFailed)

	_, err = UnmarshalDocument(nil)
	assert.ErrorIs(t, err, ErrSerializationFailed)
}
