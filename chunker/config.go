package chunker

import (
	"fmt"

	"github.com/poiesic/docportal/core"
)

// Boundary selects the preferred split points.
type Boundary int

const (
	// BoundarySentence splits at sentence ends (and paragraph breaks).
	BoundarySentence Boundary = iota
	// BoundaryParagraph splits at blank lines, falling back to sentences for
	// paragraphs longer than MaxChunkChars.
	BoundaryParagraph
)

// ParseBoundary converts a configuration string to a Boundary.
func ParseBoundary(s string) (Boundary, error) {
	switch s {
	case "", "sentence":
		return BoundarySentence, nil
	case "paragraph":
		return BoundaryParagraph, nil
	}
	return 0, fmt.Errorf("%w: unknown boundary %q", core.ErrInvalidConfig, s)
}

func (b Boundary) String() string {
	if b == BoundaryParagraph {
		return "paragraph"
	}
	return "sentence"
}

const (
	DefaultMaxChunkChars   = 1000
	DefaultOverlapFraction = 0.2
)

// Config controls chunk size and overlap.
type Config struct {
	// MaxChunkChars is the hard upper bound on chunk length in code points.
	MaxChunkChars int
	// OverlapFraction is the fraction of MaxChunkChars repeated at the start
	// of the next chunk, measured in whole boundary units. 0 <= f < 1.
	OverlapFraction float64
	// Boundary selects the preferred split points.
	Boundary Boundary
}

// DefaultConfig returns 1000-character sentence chunks with 20% overlap.
func DefaultConfig() Config {
	return Config{
		MaxChunkChars:   DefaultMaxChunkChars,
		OverlapFraction: DefaultOverlapFraction,
		Boundary:        BoundarySentence,
	}
}

// Validate checks the configuration bounds.
func (c Config) Validate() error {
	if c.MaxChunkChars <= 0 {
		return fmt.Errorf("%w: max chunk chars must be positive", core.ErrInvalidConfig)
	}
	if c.OverlapFraction < 0 || c.OverlapFraction >= 1 {
		return fmt.Errorf("%w: overlap fraction must be in [0, 1)", core.ErrInvalidConfig)
	}
	if c.Boundary != BoundarySentence && c.Boundary != BoundaryParagraph {
		return fmt.Errorf("%w: unknown boundary %d", core.ErrInvalidConfig, c.Boundary)
	}
	return nil
}
