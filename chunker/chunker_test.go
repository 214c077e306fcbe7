package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/poiesic/docportal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChunker(t *testing.T, maxChars int, overlap float64, boundary Boundary) *Chunker {
	t.Helper()
	c, err := New(Config{MaxChunkChars: maxChars, OverlapFraction: overlap, Boundary: boundary})
	require.NoError(t, err)
	return c
}

func texts(chunks []core.Chunk) []string {
	out := make([]string, len(chunks))
	for i, ch := range chunks {
		out[i] = ch.Text
	}
	return out
}

func assertWellFormed(t *testing.T, text string, chunks []core.Chunk, maxChars int) {
	t.Helper()
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Position)
		assert.Equal(t, text[ch.Span.Start:ch.Span.End], ch.Text, "span must address the chunk text")
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), maxChars)
		assert.Equal(t, core.ChunkID(ch.DocumentID, ch.Text, ch.Position), ch.ID)
	}
}

func TestChunk_SentenceOverlap(t *testing.T) {
	text := "Aaaa. Bbbb. Cccc. Dddd. Eeee."
	c := newTestChunker(t, 12, 0.5, BoundarySentence)

	chunks := c.Chunk("doc", text)

	assert.Equal(t, []string{
		"Aaaa. Bbbb.",
		"Bbbb. Cccc.",
		"Cccc. Dddd.",
		"Dddd. Eeee.",
	}, texts(chunks))
	assert.Equal(t, core.CharSpan{Start: 6, End: 17}, chunks[1].Span)
	assertWellFormed(t, text, chunks, 12)
}

func TestChunk_NoOverlap(t *testing.T) {
	text := "Aaaa. Bbbb. Cccc. Dddd. Eeee."
	c := newTestChunker(t, 12, 0, BoundarySentence)

	chunks := c.Chunk("doc", text)

	assert.Equal(t, []string{"Aaaa. Bbbb.", "Cccc. Dddd.", "Eeee."}, texts(chunks))
	assertWellFormed(t, text, chunks, 12)
}

func TestChunk_OverlapNeverSplitsUnits(t *testing.T) {
	// Budget is 3 chars, smaller than any sentence, so nothing is carried over.
	text := "Aaaa. Bbbb. Cccc."
	c := newTestChunker(t, 12, 0.25, BoundarySentence)

	chunks := c.Chunk("doc", text)

	assert.Equal(t, []string{"Aaaa. Bbbb.", "Cccc."}, texts(chunks))
}

func TestChunk_ForceSplit(t *testing.T) {
	text := "abcdefghij"
	c := newTestChunker(t, 4, 0.5, BoundarySentence)

	chunks := c.Chunk("doc", text)

	assert.Equal(t, []string{"abcd", "efgh", "ij"}, texts(chunks))
	for _, ch := range chunks {
		assert.True(t, ch.Degraded)
	}
	assertWellFormed(t, text, chunks, 4)
}

func TestChunk_ForceSplitMultibyte(t *testing.T) {
	text := "ééééééé"
	c := newTestChunker(t, 3, 0, BoundarySentence)

	chunks := c.Chunk("doc", text)

	assert.Equal(t, []string{"ééé", "ééé", "é"}, texts(chunks))
	assertWellFormed(t, text, chunks, 3)
}

func TestChunk_Paragraphs(t *testing.T) {
	text := "Para one.\n\nPara two is here.\n\nThree."
	c := newTestChunker(t, 30, 0, BoundaryParagraph)

	chunks := c.Chunk("doc", text)

	assert.Equal(t, []string{"Para one.\n\nPara two is here.", "Three."}, texts(chunks))
	assertWellFormed(t, text, chunks, 30)
}

func TestChunk_LongParagraphFallsBackToSentences(t *testing.T) {
	text := "One two. Three four. Five six."
	c := newTestChunker(t, 12, 0, BoundaryParagraph)

	chunks := c.Chunk("doc", text)

	for _, ch := range chunks {
		assert.False(t, ch.Degraded, "sentences fit, no force split expected")
	}
	assert.Equal(t, []string{"One two.", "Three four.", "Five six."}, texts(chunks))
	assertWellFormed(t, text, chunks, 12)
}

func TestChunk_Empty(t *testing.T) {
	c := newTestChunker(t, 100, 0.2, BoundarySentence)
	assert.Empty(t, c.Chunk("doc", ""))
	assert.Empty(t, c.Chunk("doc", "  \n\t "))
}

func TestChunk_LeadingWhitespace(t *testing.T) {
	text := "\n\n  First sentence. Second one."
	c := newTestChunker(t, 100, 0, BoundarySentence)

	chunks := c.Chunk("doc", text)

	require.Len(t, chunks, 1)
	assert.Equal(t, "First sentence. Second one.", chunks[0].Text)
	assertWellFormed(t, text, chunks, 100)
}

func TestChunk_Deterministic(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 50)
	c := newTestChunker(t, 200, 0.2, BoundarySentence)

	first := c.Chunk("doc", text)
	second := c.Chunk("doc", text)

	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
	assertWellFormed(t, text, first, 200)
}

func TestChunk_IDsDependOnDocument(t *testing.T) {
	c := newTestChunker(t, 100, 0, BoundarySentence)
	a := c.Chunk("doc-a", "Same text.")
	b := c.Chunk("doc-b", "Same text.")
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.NotEqual(t, a[0].ID, b[0].ID)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		valid  bool
	}{
		{name: "default", config: DefaultConfig(), valid: true},
		{name: "zero size", config: Config{MaxChunkChars: 0}, valid: false},
		{name: "overlap one", config: Config{MaxChunkChars: 10, OverlapFraction: 1}, valid: false},
		{name: "negative overlap", config: Config{MaxChunkChars: 10, OverlapFraction: -0.1}, valid: false},
		{name: "bad boundary", config: Config{MaxChunkChars: 10, Boundary: Boundary(7)}, valid: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, core.ErrInvalidConfig)
			}
		})
	}
}

func TestParseBoundary(t *testing.T) {
	b, err := ParseBoundary("paragraph")
	require.NoError(t, err)
	assert.Equal(t, BoundaryParagraph, b)

	b, err = ParseBoundary("")
	require.NoError(t, err)
	assert.Equal(t, BoundarySentence, b)

	_, err = ParseBoundary("word")
	assert.Error(t, err)
}
