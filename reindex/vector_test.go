package reindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeVector(t *testing.T) {
	tests := []struct {
		name  string
		input []float32
		want  []float32
	}{
		{name: "3-4-5", input: []float32{3, 4}, want: []float32{0.6, 0.8}},
		{name: "already unit", input: []float32{0, 1, 0}, want: []float32{0, 1, 0}},
		{name: "zero vector", input: []float32{0, 0}, want: []float32{0, 0}},
		{name: "empty", input: []float32{}, want: []float32{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeVector(tt.input)
			assert.InDeltaSlice(t, tt.want, got, 1e-6)
		})
	}
}

func TestNormalizeVector_DoesNotModifyInput(t *testing.T) {
	input := []float32{3, 4}
	NormalizeVector(input)
	assert.Equal(t, []float32{3, 4}, input)
}
