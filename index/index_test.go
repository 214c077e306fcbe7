package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{2, 0}), 1e-6)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.Equal(t, float32(0), Cosine([]float32{1}, []float32{1, 2}))
	assert.Equal(t, float32(0), Cosine([]float32{0, 0}, []float32{1, 2}))
}

func TestFilterAllows(t *testing.T) {
	assert.True(t, Filter{}.Allows("a"))
	f := Filter{DocumentIDs: []string{"a", "b"}}
	assert.True(t, f.Allows("b"))
	assert.False(t, f.Allows("c"))
}

func TestSortMatches(t *testing.T) {
	m := []Match{{ID: "b", Score: 0.5}, {ID: "c", Score: 0.9}, {ID: "a", Score: 0.5}}
	SortMatches(m)
	assert.Equal(t, []string{"c", "a", "b"}, []string{m[0].ID, m[1].ID, m[2].ID})
}
