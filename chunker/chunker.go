// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package chunker

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/poiesic/docportal/core"
)

// Chunker splits normalized document text into overlapping chunks.
// It is safe for concurrent use; Chunk is a pure function of its inputs.
type Chunker struct {
	config Config
	logger *slog.Logger
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chunker) {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
	}
}

// New creates a chunker for the given configuration.
func New(config Config, opts ...Option) (*Chunker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	c := &Chunker{
		config: config,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "chunker")
	return c, nil
}

// Config returns the chunker's configuration.
func (c *Chunker) Config() Config {
	return c.config
}

var (
	paragraphBreak = regexp.MustCompile(`\n[ \t]*\n\s*`)
	sentenceEnd    = regexp.MustCompile(`[.!?]+["')\]]*\s+`)
)

// unit is a boundary unit: a half-open byte range of the source text plus its
// length in code points. Units tile the text, trailing whitespace included.
type unit struct {
	start, end int
	runes      int
	forced     bool
}

// Chunk splits text into chunks owned by documentID.
// Identical (documentID, text, config) always yield identical chunks and ids.
// Empty or whitespace-only text yields no chunks.
func (c *Chunker) Chunk(documentID, text string) []core.Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	units := c.units(text)
	maxChars := c.config.MaxChunkChars
	overlapBudget := int(float64(maxChars) * c.config.OverlapFraction)

	var chunks []core.Chunk
	var cur []unit
	curLen, fresh := 0, 0

	for i := 0; i < len(units); {
		u := units[i]
		if len(cur) > 0 && curLen+u.runes > maxChars {
			chunks = c.appendChunk(chunks, documentID, text, cur)

			carry := trailing(cur, overlapBudget)
			for len(carry) > 0 && sumRunes(carry)+u.runes > maxChars {
				carry = carry[1:]
			}
			cur = append([]unit(nil), carry...)
			curLen, fresh = sumRunes(cur), 0
			continue
		}
		cur = append(cur, u)
		curLen += u.runes
		fresh++
		i++
	}
	if fresh > 0 {
		chunks = c.appendChunk(chunks, documentID, text, cur)
	}
	return chunks
}

func (c *Chunker) appendChunk(chunks []core.Chunk, documentID, text string, units []unit) []core.Chunk {
	start, end := units[0].start, units[len(units)-1].end
	raw := text[start:end]

	trimmedLeft := strings.TrimLeft(raw, " \t\r\n")
	start += len(raw) - len(trimmedLeft)
	body := strings.TrimRight(trimmedLeft, " \t\r\n")
	end = start + len(body)

	degraded := false
	for _, u := range units {
		degraded = degraded || u.forced
	}

	position := len(chunks)
	return append(chunks, core.Chunk{
		ID:         core.ChunkID(documentID, body, position),
		DocumentID: documentID,
		Text:       body,
		Position:   position,
		Span:       core.CharSpan{Start: start, End: end},
		Degraded:   degraded,
	})
}

// units tiles text into boundary units no longer than MaxChunkChars.
// Paragraphs that are too long fall back to sentences; sentences that are
// still too long are force-split at the character limit.
func (c *Chunker) units(text string) []unit {
	var coarse []unit
	switch c.config.Boundary {
	case BoundaryParagraph:
		coarse = splitParagraphs(text, 0, len(text))
	default:
		for _, p := range splitParagraphs(text, 0, len(text)) {
			coarse = append(coarse, splitSentences(text, p.start, p.end)...)
		}
	}

	maxChars := c.config.MaxChunkChars
	units := make([]unit, 0, len(coarse))
	for _, u := range coarse {
		if u.runes <= maxChars {
			units = append(units, u)
			continue
		}
		if c.config.Boundary == BoundaryParagraph {
			for _, s := range splitSentences(text, u.start, u.end) {
				if s.runes <= maxChars {
					units = append(units, s)
					continue
				}
				units = append(units, c.forceSplit(text, s)...)
			}
			continue
		}
		units = append(units, c.forceSplit(text, u)...)
	}
	return mergeBlank(text, units)
}

func (c *Chunker) forceSplit(text string, u unit) []unit {
	c.logger.Warn("boundary unit exceeds max chunk size, force-splitting",
		"offset", u.start,
		"chars", u.runes,
		"maxChunkChars", c.config.MaxChunkChars)

	maxChars := c.config.MaxChunkChars
	var pieces []unit
	start, n := u.start, 0
	for i := u.start; i < u.end; {
		_, size := utf8.DecodeRuneInString(text[i:u.end])
		if n == maxChars {
			pieces = append(pieces, unit{start: start, end: i, runes: n, forced: true})
			start, n = i, 0
		}
		i += size
		n++
	}
	if n > 0 {
		pieces = append(pieces, unit{start: start, end: u.end, runes: n, forced: true})
	}
	return pieces
}

func newUnit(text string, start, end int) unit {
	return unit{start: start, end: end, runes: utf8.RuneCountInString(text[start:end])}
}

// splitParagraphs splits text[from:to] at blank lines.
func splitParagraphs(text string, from, to int) []unit {
	var units []unit
	start := from
	for _, loc := range paragraphBreak.FindAllStringIndex(text[from:to], -1) {
		end := from + loc[1]
		units = append(units, newUnit(text, start, end))
		start = end
	}
	if start < to {
		units = append(units, newUnit(text, start, to))
	}
	return units
}

// splitSentences splits text[from:to] after terminal punctuation followed by whitespace.
func splitSentences(text string, from, to int) []unit {
	var units []unit
	start := from
	for _, loc := range sentenceEnd.FindAllStringIndex(text[from:to], -1) {
		end := from + loc[1]
		units = append(units, newUnit(text, start, end))
		start = end
	}
	if start < to {
		units = append(units, newUnit(text, start, to))
	}
	return units
}

// mergeBlank folds whitespace-only units into their predecessor so no chunk
// consists of whitespace alone.
func mergeBlank(text string, units []unit) []unit {
	merged := make([]unit, 0, len(units))
	for _, u := range units {
		if strings.TrimSpace(text[u.start:u.end]) == "" && len(merged) > 0 {
			last := &merged[len(merged)-1]
			last.end = u.end
			last.runes += u.runes
			continue
		}
		merged = append(merged, u)
	}
	if len(merged) > 0 && strings.TrimSpace(text[merged[0].start:merged[0].end]) == "" {
		merged = merged[1:]
	}
	return merged
}

// trailing returns the longest suffix of units whose total length is within
// budget, always leaving at least one unit behind so chunking advances.
func trailing(units []unit, budget int) []unit {
	total, i := 0, len(units)
	for i > 1 && total+units[i-1].runes <= budget {
		total += units[i-1].runes
		i--
	}
	return units[i:]
}

func sumRunes(units []unit) int {
	n := 0
	for _, u := range units {
		n += u.runes
	}
	return n
}
