package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDocumentID(t *testing.T) {
	tests := []struct {
		name string
		a, b []byte
		same bool
	}{
		{name: "identical bytes", a: []byte("hello"), b: []byte("hello"), same: true},
		{name: "empty input", a: nil, b: []byte{}, same: true},
		{name: "different bytes", a: []byte("hello"), b: []byte("hellO"), same: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := DocumentID(tt.a)
			b := DocumentID(tt.b)
			assert.Len(t, a, 64)
			if tt.same {
				assert.Equal(t, a, b)
			} else {
				assert.NotEqual(t, a, b)
			}
		})
	}
}

func TestChunkID(t *testing.T) {
	doc := DocumentID([]byte("doc"))

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, ChunkID(doc, "some text", 3), ChunkID(doc, "some text", 3))
	})

	t.Run("every field contributes", func(t *testing.T) {
		base := ChunkID(doc, "some text", 3)
		assert.NotEqual(t, base, ChunkID(DocumentID([]byte("other")), "some text", 3))
		assert.NotEqual(t, base, ChunkID(doc, "some text!", 3))
		assert.NotEqual(t, base, ChunkID(doc, "some text", 4))
	})

	t.Run("fields are length prefixed", func(t *testing.T) {
		// Shifting bytes between fields must not collide.
		assert.NotEqual(t, ChunkID("ab", "c", 0), ChunkID("a", "bc", 0))
	})
}
