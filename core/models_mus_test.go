package core

import (
	"testing"
	"time"

	"github.com/mus-format/mus-go/varint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionMUS(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 26, 53, 589793000, time.UTC)
	session := Session{
		ID:               "s1",
		State:            SessionClosed,
		DocumentIDs:      []string{"d1", "d2"},
		Turns:            []Turn{{Role: RoleUser, Text: "hi", CreatedAt: now}},
		PendingCitations: []string{"c1", "c2"},
		Ledger: Ledger{
			Prompts:    2,
			TotalUnits: 300,
			Last:       BudgetUsage{Budget: 200, Scaffold: 20, History: 30, Context: 100, Total: 150, DroppedTurns: 1, DroppedChunks: 2},
		},
		CreatedAt: now,
		UpdatedAt: now,
		ClosedAt:  now,
	}

	buf := make([]byte, SessionMUS.Size(session))
	n := SessionMUS.Marshal(session, buf)
	assert.Equal(t, len(buf), n)

	decoded, n, err := SessionMUS.Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, session, decoded)

	n, err = SessionMUS.Skip(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
}

func TestDocumentMUS_Skip(t *testing.T) {
	doc := Document{ID: "d", Status: StatusFailed, Error: "boom", Metadata: map[string]string{"b": "2", "a": "1"}}
	buf := make([]byte, DocumentMUS.Size(doc))
	DocumentMUS.Marshal(doc, buf)

	n, err := DocumentMUS.Skip(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
}

func TestStringMapMUS_Deterministic(t *testing.T) {
	m := map[string]string{"z": "1", "a": "2", "m": "3"}
	first := make([]byte, StringMapMUS.Size(m))
	StringMapMUS.Marshal(m, first)
	for range 10 {
		again := make([]byte, StringMapMUS.Size(m))
		StringMapMUS.Marshal(m, again)
		assert.Equal(t, first, again)
	}
}

func TestTimeMUS_Zero(t *testing.T) {
	buf := make([]byte, TimeMUS.Size(time.Time{}))
	TimeMUS.Marshal(time.Time{}, buf)

	decoded, _, err := TimeMUS.Unmarshal(buf)
	require.NoError(t, err)
	assert.True(t, decoded.IsZero())
}

func TestFloat32SliceMUS(t *testing.T) {
	vec := []float32{0.25, -1.5, 3}
	buf := make([]byte, Float32SliceMUS.Size(vec))
	Float32SliceMUS.Marshal(vec, buf)

	decoded, _, err := Float32SliceMUS.Unmarshal(buf)
	require.NoError(t, err)
	assert.Equal(t, vec, decoded)
}

func TestStringSliceMUS_MalformedLength(t *testing.T) {
	for _, length := range []int{-1, 1000} {
		buf := make([]byte, varint.Int.Size(length))
		varint.Int.Marshal(length, buf)

		_, _, err := StringSliceMUS.Unmarshal(buf)
		assert.ErrorIs(t, err, ErrMalformedRecord, "length %d", length)
	}
}
